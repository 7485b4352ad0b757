package engine

import (
	"context"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/internal/wasm"
)

// Module is a compiled guest module. It is immutable and safe to share
// across workers.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
	exports  map[string]api.FunctionDefinition
	name     string
	memory   wasm.MemoryImport
}

var _ wasmthreads.Module = (*Module)(nil)

// Name returns the module name from its name section, or a generated one.
func (m *Module) Name() string {
	return m.name
}

// MemoryImport returns the namespace and name of the imported memory.
func (m *Module) MemoryImport() (string, string) {
	return m.memory.Module, m.memory.Name
}

// MemoryPages returns the declared minimum and maximum of the imported
// memory, in 64KiB pages. Compile guarantees the maximum is declared.
func (m *Module) MemoryPages() (minPages, maxPages uint32) {
	l := m.memory.Limits
	if l.Max != nil {
		maxPages = uint32(*l.Max)
	}
	return uint32(l.Min), maxPages
}

// Exports returns the exported function names in sorted order.
func (m *Module) Exports() []string {
	names := make([]string, 0, len(m.exports))
	for name := range m.exports {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Signature describes an exported function in WIT terms. Core i32 and i64
// map to s32 and s64.
func (m *Module) Signature(export string) (Signature, bool) {
	def, ok := m.exports[export]
	if !ok {
		return Signature{}, false
	}
	sig := InferSignature(def)
	sig.Name = export
	return sig, true
}

// CheckSignature reports whether sig describes an export of m with a
// matching core type. It lets callers declare u32 or char where the
// binary only says i32.
func (m *Module) CheckSignature(sig Signature) error {
	def, ok := m.exports[sig.Name]
	if !ok {
		return errors.NotFound(errors.PhaseLoad, "export", sig.Name)
	}
	return sig.Check(def)
}

// Close releases the compiled code. Instances already created keep working.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
