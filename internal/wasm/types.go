package wasm

import "slices"

// Module is a decoded core module. Function bodies, constant expressions
// and segment contents are kept as raw bytes.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type index of each local function
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount is set when the module carries a data count section, which
	// bulk memory instructions require.
	DataCount *uint32

	CustomSections []CustomSection
}

// ValType is a value type encoding.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

func (v ValType) valid() bool {
	return v.String() != "unknown"
}

func (v ValType) isRef() bool {
	return v == ValFuncRef || v == ValExtern
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is an imported function, table, memory or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an import. Exactly one of the pointers is set for
// non-function kinds; functions use TypeIdx.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType is a table of references.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType is a linear memory.
type MemoryType struct {
	Limits Limits
}

// Limits bound a table or memory. Memory limits count 64KiB pages.
type Limits struct {
	Max    *uint64
	Min    uint64
	Shared bool
}

// HasMax reports whether the limits declare a maximum.
func (l Limits) HasMax() bool {
	return l.Max != nil
}

// Max returns a pointer to n for use as Limits.Max.
func Max(n uint64) *uint64 {
	return &n
}

// GlobalType is a global's value type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a global definition with its raw init expression.
type Global struct {
	Type GlobalType
	Init []byte
}

// Export is an exported definition.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element is an element segment. Flags select the layout:
//   - 0: active, table 0, offset, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, table, offset, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4: active, table 0, offset, vec(expr)
//   - 5: passive, reftype, vec(expr)
//   - 6: active, table, offset, reftype, vec(expr)
//   - 7: declarative, reftype, vec(expr)
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	Type     ValType
}

// FuncBody is a function's local declarations and code, including the
// final end opcode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment is a data segment. Flags select the layout:
//   - 0: active, memory 0, offset, bytes
//   - 1: passive, bytes
//   - 2: active, memory, offset, bytes
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// CustomSection is a named custom section.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions, which precede
// local functions in the function index space.
func (m *Module) NumImportedFuncs() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			count++
		}
	}
	return count
}

// AddType adds a function type and returns its index, reusing an equal
// existing type.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if slices.Equal(t.Params, ft.Params) && slices.Equal(t.Results, ft.Results) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// AddFunc adds a local function and returns its function index. Function
// imports must be added first.
func (m *Module) AddFunc(ft FuncType, body FuncBody) uint32 {
	m.Funcs = append(m.Funcs, m.AddType(ft))
	m.Code = append(m.Code, body)
	return uint32(m.NumImportedFuncs() + len(m.Funcs) - 1)
}
