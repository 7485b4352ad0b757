package wasmthreads

// Module is a compiled WebAssembly module shared by the coordinator and
// every worker of a pool. Workers instantiate it locally; they never
// recompile it.
type Module interface {
	// Name returns the module name recorded in the binary, or a fallback.
	Name() string

	// MemoryImport returns the import pair under which the module expects
	// its shared linear memory, e.g. ("env", "memory").
	MemoryImport() (module, name string)
}

// Memory represents shared WASM linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of WASM linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}
