// Package wasm decodes and encodes the subset of the WebAssembly binary
// format that threaded guests use: the 2.0 core sections plus shared
// memories. The runtime uses it to read the shared flag of a guest's memory
// import, which wazero does not report, and to generate the provider module
// that owns the memory.
//
//	imports, err := wasm.ParseMemoryImports(guest)
//	provider := wasm.MemoryProvider("memory", wasm.Limits{Min: 17, Max: wasm.Max(16384), Shared: true})
//
// Modules can also be assembled directly and encoded:
//
//	m := &wasm.Module{}
//	add := m.AddFunc(wasm.FuncType{
//		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
//		Results: []wasm.ValType{wasm.ValI32},
//	}, wasm.FuncBody{Code: []byte{wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpI32Add, wasm.OpEnd}})
//	m.Exports = append(m.Exports, wasm.Export{Name: "add", Kind: wasm.KindFunc, Idx: add})
//	data := m.Encode()
package wasm
