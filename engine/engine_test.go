package engine

import (
	"context"
	stderrors "errors"
	"slices"
	"strings"
	"testing"

	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/internal/wasm"
	"github.com/wippyai/wasm-threads/internal/wasmtest"
)

func newTestEngine(t *testing.T, cfg *Config) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { e.Close(ctx) })
	return e
}

// setup compiles guest and creates its shared memory.
func setup(t *testing.T, e *Engine, guest []byte) (*Module, *Memory) {
	t.Helper()
	ctx := context.Background()
	mod, err := e.Compile(ctx, guest)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	mem, err := e.NewMemory(ctx, mod)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	return mod, mem
}

func wantKind(t *testing.T, err error, phase errors.Phase, kind errors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s/%s error, got nil", phase, kind)
	}
	if !stderrors.Is(err, &errors.Error{Phase: phase, Kind: kind}) {
		t.Fatalf("err = %v, want %s/%s", err, phase, kind)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{CloseOnContextDone: true}, "close on context done"},
		{&Config{EntryPoint: "start", InitFunctions: []string{}}, "custom entry"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t, tc.cfg)
			if e.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
			if e.runtime.Module(HostModule) == nil {
				t.Errorf("host module %q not instantiated", HostModule)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	e := newTestEngine(t, nil)
	if e.EntryPoint() != DefaultEntryPoint {
		t.Errorf("EntryPoint() = %q, want %q", e.EntryPoint(), DefaultEntryPoint)
	}
	if !slices.Equal(e.init, []string{DefaultInitFunction}) {
		t.Errorf("init = %v, want [%s]", e.init, DefaultInitFunction)
	}
}

func TestCompile_Guest(t *testing.T) {
	e := newTestEngine(t, nil)
	mod, err := e.Compile(context.Background(), wasmtest.Guest())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if ns, name := mod.MemoryImport(); ns != "env" || name != "memory" {
		t.Errorf("MemoryImport() = %s.%s, want env.memory", ns, name)
	}
	if lo, hi := mod.MemoryPages(); uint64(lo) != wasmtest.Limits.Min || uint64(hi) != *wasmtest.Limits.Max {
		t.Errorf("MemoryPages() = %d, %d", lo, hi)
	}
	if !strings.HasPrefix(mod.Name(), "module-") {
		t.Errorf("Name() = %q, want generated name", mod.Name())
	}

	want := []string{"__wbindgen_start", "add", "load", "store", "trap", "wbg_rayon_start_worker"}
	if got := mod.Exports(); !slices.Equal(got, want) {
		t.Errorf("Exports() = %v, want %v", got, want)
	}
}

func TestCompile_Rejects(t *testing.T) {
	unshared := wasm.Limits{Min: 1, Max: wasm.Max(1)}
	noMax := wasm.Limits{Min: 1, Shared: true}

	tests := []struct {
		name  string
		input []byte
		kind  errors.Kind
	}{
		{"garbage", []byte("not wasm at all"), errors.KindInvalidData},
		{"no memory import", wasm.MemoryProvider("memory", wasmtest.Limits), errors.KindInvalidInput},
		{"memory in host namespace", wasmtest.Build(wasmtest.Options{MemoryModule: HostModule}), errors.KindInvalidInput},
		{"unshared memory", wasmtest.Build(wasmtest.Options{Limits: &unshared}), errors.KindUnsupported},
		{"memory without maximum", wasmtest.Build(wasmtest.Options{Limits: &noMax}), errors.KindUnsupported},
	}

	e := newTestEngine(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Compile(context.Background(), tt.input)
			wantKind(t, err, errors.PhaseCompile, tt.kind)
		})
	}
}

func TestCompile_Closed(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(ctx); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	_, err = e.Compile(ctx, wasmtest.Guest())
	wantKind(t, err, errors.PhaseCompile, errors.KindClosed)
}

func TestMemory_SharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	mod, mem := setup(t, e, wasmtest.Guest())

	a, err := e.Instantiate(ctx, mod, mem, "")
	if err != nil {
		t.Fatalf("Instantiate a: %v", err)
	}
	b, err := e.Instantiate(ctx, mod, mem, "")
	if err != nil {
		t.Fatalf("Instantiate b: %v", err)
	}
	if a.Name() == b.Name() {
		t.Errorf("instances share name %q", a.Name())
	}

	if _, err := a.Call(ctx, "store", 100, 42); err != nil {
		t.Fatalf("store: %v", err)
	}
	res, err := b.Call(ctx, "load", 100)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(res) != 1 || res[0] != 42 {
		t.Errorf("load via second instance = %v, want [42]", res)
	}

	v, err := mem.ReadU32(100)
	if err != nil || v != 42 {
		t.Errorf("host view = %d, %v, want 42", v, err)
	}
	if a.Memory() != mem || a.Module() != mod {
		t.Error("instance does not report its module and memory")
	}
}

func TestMemory_ReadWrite(t *testing.T) {
	e := newTestEngine(t, nil)
	_, mem := setup(t, e, wasmtest.Guest())

	if got := uint64(mem.Size()); got != wasmtest.Limits.Min*65536 {
		t.Errorf("Size() = %d, want %d", got, wasmtest.Limits.Min*65536)
	}
	if err := mem.WriteU64(200, 0x0102030405060708); err != nil {
		t.Fatal(err)
	}
	v, err := mem.ReadU64(200)
	if err != nil || v != 0x0102030405060708 {
		t.Errorf("ReadU64 = %x, %v", v, err)
	}
	if err := mem.Write(300, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	data, err := mem.Read(300, 3)
	if err != nil || string(data) != "abc" {
		t.Errorf("Read = %q, %v", data, err)
	}
	if ns, name := mem.Import(); ns != "env" || name != "memory" {
		t.Errorf("Import() = %s.%s", ns, name)
	}
}

func TestMemory_OutOfBounds(t *testing.T) {
	e := newTestEngine(t, nil)
	_, mem := setup(t, e, wasmtest.Guest())
	size := mem.Size()

	checks := []struct {
		name string
		err  error
	}{
		{"read", func() error { _, err := mem.Read(size, 1); return err }()},
		{"write", mem.Write(size-1, []byte{1, 2})},
		{"read u32", func() error { _, err := mem.ReadU32(size - 2); return err }()},
		{"read u64", func() error { _, err := mem.ReadU64(size); return err }()},
		{"write u32", mem.WriteU32(size, 1)},
		{"write u64", mem.WriteU64(size-4, 1)},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			wantKind(t, c.err, errors.PhaseRun, errors.KindOutOfBounds)
		})
	}
}

func TestNewMemory_OnePerNamespace(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	mod, mem := setup(t, e, wasmtest.Guest())

	_, err := e.NewMemory(ctx, mod)
	wantKind(t, err, errors.PhaseLoad, errors.KindUnsupported)

	if err := mem.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = e.Instantiate(ctx, mod, mem, "")
	wantKind(t, err, errors.PhaseLoad, errors.KindClosed)

	again, err := e.NewMemory(ctx, mod)
	if err != nil {
		t.Fatalf("NewMemory after Close: %v", err)
	}
	if again == mem {
		t.Error("expected a fresh memory")
	}
}

func TestInstantiate_Foreign(t *testing.T) {
	ctx := context.Background()
	a := newTestEngine(t, nil)
	b := newTestEngine(t, nil)
	modA, memA := setup(t, a, wasmtest.Guest())
	modB, memB := setup(t, b, wasmtest.Guest())

	_, err := a.Instantiate(ctx, modB, memA, "")
	wantKind(t, err, errors.PhaseLoad, errors.KindForeign)

	_, err = a.Instantiate(ctx, modA, memB, "")
	wantKind(t, err, errors.PhaseLoad, errors.KindForeign)

	_, err = a.NewMemory(ctx, modB)
	wantKind(t, err, errors.PhaseLoad, errors.KindForeign)
}

func TestInstantiate_MismatchedMemory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	_, shared := setup(t, e, wasmtest.Guest())
	other, _ := setup(t, e, wasmtest.Build(wasmtest.Options{MemoryModule: "js"}))

	_, err := e.Instantiate(ctx, other, shared, "")
	wantKind(t, err, errors.PhaseLoad, errors.KindInvalidInput)
}

func TestInstantiate_InitFunctions(t *testing.T) {
	tests := []struct {
		name string
		init []string
		want uint32
	}{
		{"default runs __wbindgen_start", nil, 1},
		{"disabled", []string{}, 0},
		{"missing export skipped", []string{"__missing"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, &Config{InitFunctions: tt.init})
			mod, mem := setup(t, e, wasmtest.Guest())
			if _, err := e.Instantiate(context.Background(), mod, mem, ""); err != nil {
				t.Fatalf("Instantiate: %v", err)
			}
			got, _ := mem.ReadU32(wasmtest.StartedAddr)
			if got != tt.want {
				t.Errorf("started flag = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInstantiate_InitFunctionTraps(t *testing.T) {
	e := newTestEngine(t, &Config{InitFunctions: []string{"trap"}})
	mod, mem := setup(t, e, wasmtest.Guest())
	_, err := e.Instantiate(context.Background(), mod, mem, "")
	wantKind(t, err, errors.PhaseLoad, errors.KindInstantiation)
}

func TestStartWorker_StoresReceiver(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	mod, mem := setup(t, e, wasmtest.Guest())
	inst, err := e.Instantiate(ctx, mod, mem, "worker-1")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Name() != "worker-1" {
		t.Errorf("Name() = %q", inst.Name())
	}

	if err := inst.StartWorker(ctx, 7); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	if got, _ := mem.ReadU32(wasmtest.ReceiverAddr); got != 7 {
		t.Errorf("receiver seen by guest = %d, want 7", got)
	}
}

func TestStartWorker_Abort(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	mod, mem := setup(t, e, wasmtest.Guest())
	inst, err := e.Instantiate(ctx, mod, mem, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.Write(wasmtest.AbortMessageAddr, []byte("boom")); err != nil {
		t.Fatal(err)
	}

	err = inst.StartWorker(ctx, 0)
	var abort *errors.AbortError
	if !stderrors.As(err, &abort) {
		t.Fatalf("err = %v, want AbortError", err)
	}
	if abort.Message != "boom" {
		t.Errorf("abort message = %q, want boom", abort.Message)
	}
	if got := errors.Describe(err); got != "Error: boom" {
		t.Errorf("Describe = %q, want %q", got, "Error: boom")
	}
}

func TestStartWorker_Entry(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		e := newTestEngine(t, nil)
		mod, mem := setup(t, e, wasmtest.Build(wasmtest.Options{NoEntry: true}))
		inst, err := e.Instantiate(ctx, mod, mem, "")
		if err != nil {
			t.Fatal(err)
		}
		wantKind(t, inst.StartWorker(ctx, 1), errors.PhaseRun, errors.KindNotFound)
	})

	t.Run("custom name", func(t *testing.T) {
		e := newTestEngine(t, &Config{EntryPoint: "start"})
		mod, mem := setup(t, e, wasmtest.Build(wasmtest.Options{EntryName: "start"}))
		inst, err := e.Instantiate(ctx, mod, mem, "")
		if err != nil {
			t.Fatal(err)
		}
		if err := inst.StartWorker(ctx, 3); err != nil {
			t.Fatalf("StartWorker: %v", err)
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		e := newTestEngine(t, &Config{EntryPoint: "add"})
		mod, mem := setup(t, e, wasmtest.Guest())
		inst, err := e.Instantiate(ctx, mod, mem, "")
		if err != nil {
			t.Fatal(err)
		}
		wantKind(t, inst.StartWorker(ctx, 1), errors.PhaseLoad, errors.KindInvalidInput)
	})
}

func TestCall_Errors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	mod, mem := setup(t, e, wasmtest.Guest())
	inst, err := e.Instantiate(ctx, mod, mem, "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = inst.Call(ctx, "missing")
	wantKind(t, err, errors.PhaseRun, errors.KindNotFound)

	_, err = inst.Call(ctx, "trap")
	wantKind(t, err, errors.PhaseRun, errors.KindTrap)
	if !strings.Contains(errors.Describe(err), "unreachable") {
		t.Errorf("Describe = %q, want it to mention unreachable", errors.Describe(err))
	}

	res, err := inst.Call(ctx, "add", 2, 3)
	if err != nil || len(res) != 1 || res[0] != 5 {
		t.Errorf("add = %v, %v", res, err)
	}

	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	_, err = inst.Call(ctx, "add", 1, 1)
	wantKind(t, err, errors.PhaseRun, errors.KindClosed)
	wantKind(t, inst.StartWorker(ctx, 1), errors.PhaseRun, errors.KindClosed)
}
