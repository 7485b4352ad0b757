// Package wasmtest builds the small guest modules used by tests across the
// module. The guest mimics the shape of a threaded wasm-bindgen build: it
// imports its shared memory from "env" and the abort helper from "wbg".
package wasmtest

import (
	"slices"

	"github.com/wippyai/wasm-threads/internal/wasm"
)

// Addresses the guest reads and writes.
const (
	// ReceiverAddr is where the worker entry stores the receiver it was
	// started with.
	ReceiverAddr = 16
	// StartedAddr is set to 1 by the guest's __wbindgen_start.
	StartedAddr = 8
	// AbortMessageAddr holds the 4-byte message passed to throw_str when
	// the worker entry is started with receiver 0.
	AbortMessageAddr = 32
	AbortMessageLen  = 4
)

// Limits of the guest's imported memory.
var Limits = wasm.Limits{Min: 1, Max: wasm.Max(4), Shared: true}

// Options tweak the generated guest.
type Options struct {
	// MemoryModule overrides the import module of the memory ("env").
	MemoryModule string
	// Limits overrides the memory limits.
	Limits *wasm.Limits
	// NoEntry omits the worker entry export.
	NoEntry bool
	// EntryName overrides the worker entry export name.
	EntryName string
}

// Guest returns the default guest.
func Guest() []byte {
	return Build(Options{})
}

// Build returns a guest with the given options. Exports:
//
//	wbg_rayon_start_worker(receiver i32)  stores receiver at ReceiverAddr;
//	                                      receiver 0 aborts via throw_str
//	__wbindgen_start()                    stores 1 at StartedAddr
//	store(addr, value i32)
//	load(addr i32) i32
//	add(a, b i32) i32
//	trap()                                executes unreachable
func Build(opts Options) []byte {
	memModule := opts.MemoryModule
	if memModule == "" {
		memModule = "env"
	}
	limits := Limits
	if opts.Limits != nil {
		limits = *opts.Limits
	}
	entry := opts.EntryName
	if entry == "" {
		entry = "wbg_rayon_start_worker"
	}

	i32 := wasm.ValI32
	m := &wasm.Module{}
	throwStrType := m.AddType(wasm.FuncType{Params: []wasm.ValType{i32, i32}})
	m.Imports = []wasm.Import{
		{Module: memModule, Name: "memory", Desc: wasm.ImportDesc{
			Kind:   wasm.KindMemory,
			Memory: &wasm.MemoryType{Limits: limits},
		}},
		{Module: "wbg", Name: "throw_str", Desc: wasm.ImportDesc{
			Kind:    wasm.KindFunc,
			TypeIdx: throwStrType,
		}},
	}
	const throwStr = 0

	startWorker := m.AddFunc(wasm.FuncType{Params: []wasm.ValType{i32}}, body(
		i32Const(ReceiverAddr), localGet(0), i32Store(),
		localGet(0), []byte{wasm.OpI32Eqz, wasm.OpIf, wasm.BlockTypeVoid},
		i32Const(AbortMessageAddr), i32Const(AbortMessageLen), call(throwStr),
		[]byte{wasm.OpEnd},
	))
	wbindgenStart := m.AddFunc(wasm.FuncType{}, body(
		i32Const(StartedAddr), i32Const(1), i32Store(),
	))
	store := m.AddFunc(wasm.FuncType{Params: []wasm.ValType{i32, i32}}, body(
		localGet(0), localGet(1), i32Store(),
	))
	load := m.AddFunc(wasm.FuncType{Params: []wasm.ValType{i32}, Results: []wasm.ValType{i32}}, body(
		localGet(0), i32Load(),
	))
	add := m.AddFunc(wasm.FuncType{Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i32}}, body(
		localGet(0), localGet(1), []byte{wasm.OpI32Add},
	))
	trap := m.AddFunc(wasm.FuncType{}, body([]byte{wasm.OpUnreachable}))

	if !opts.NoEntry {
		m.Exports = append(m.Exports, funcExport(entry, startWorker))
	}
	m.Exports = append(m.Exports,
		funcExport("__wbindgen_start", wbindgenStart),
		funcExport("store", store),
		funcExport("load", load),
		funcExport("add", add),
		funcExport("trap", trap),
	)
	return m.Encode()
}

func funcExport(name string, idx uint32) wasm.Export {
	return wasm.Export{Name: name, Kind: wasm.KindFunc, Idx: idx}
}

func body(instrs ...[]byte) wasm.FuncBody {
	return wasm.FuncBody{Code: append(slices.Concat(instrs...), wasm.OpEnd)}
}

func i32Const(v int32) []byte {
	return append([]byte{wasm.OpI32Const}, wasm.EncodeS32(v)...)
}

func localGet(idx uint32) []byte {
	return append([]byte{wasm.OpLocalGet}, wasm.EncodeU32(idx)...)
}

func call(idx uint32) []byte {
	return append([]byte{wasm.OpCall}, wasm.EncodeU32(idx)...)
}

// i32Store and i32Load use 4-byte alignment and no offset.
func i32Store() []byte {
	return []byte{wasm.OpI32Store, 0x02, 0x00}
}

func i32Load() []byte {
	return []byte{wasm.OpI32Load, 0x02, 0x00}
}
