package wasm

// MemoryImport is a memory import together with its declared limits.
type MemoryImport struct {
	Module string
	Name   string
	Limits Limits
}

// ParseMemoryImports decodes a core module and returns its memory imports.
// Unlike wazero's import definitions it reports the shared flag.
func ParseMemoryImports(data []byte) ([]MemoryImport, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	return m.MemoryImports(), nil
}

// MemoryImports returns the module's memory imports in declaration order.
func (m *Module) MemoryImports() []MemoryImport {
	var out []MemoryImport
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory {
			out = append(out, MemoryImport{Module: imp.Module, Name: imp.Name, Limits: imp.Desc.Memory.Limits})
		}
	}
	return out
}

// MemoryProvider returns a module that defines one memory with limits and
// exports it under name.
func MemoryProvider(name string, limits Limits) []byte {
	m := &Module{
		Memories: []MemoryType{{Limits: limits}},
		Exports:  []Export{{Name: name, Kind: KindMemory}},
	}
	return m.Encode()
}
