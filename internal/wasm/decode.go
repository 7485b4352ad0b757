package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-threads/internal/wasm/internal/binary"
)

// Errors returned by ParseModule, usually wrapped in a *ParseError.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrSectionOrder   = errors.New("section out of order")
	ErrTrailingBytes  = errors.New("section has trailing bytes")
	ErrUnsupported    = errors.New("unsupported encoding")
)

// ParseError locates a decoding failure.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wasm: %s at offset %d: %v", e.Section, e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type sectionDecoder struct {
	parse func(*binary.Reader, *Module) error
	name  string
	order int
}

// Decoders by section ID. order is the position a section must take
// relative to the others; custom sections may appear anywhere.
var sectionDecoders = map[byte]sectionDecoder{
	SectionCustom:    {parseCustomSection, "custom section", 0},
	SectionType:      {parseTypeSection, "type section", 1},
	SectionImport:    {parseImportSection, "import section", 2},
	SectionFunction:  {parseFunctionSection, "function section", 3},
	SectionTable:     {parseTableSection, "table section", 4},
	SectionMemory:    {parseMemorySection, "memory section", 5},
	SectionGlobal:    {parseGlobalSection, "global section", 6},
	SectionExport:    {parseExportSection, "export section", 7},
	SectionStart:     {parseStartSection, "start section", 8},
	SectionElement:   {parseElementSection, "element section", 9},
	SectionDataCount: {parseDataCountSection, "data count section", 10},
	SectionCode:      {parseCodeSection, "code section", 11},
	SectionData:      {parseDataSection, "data section", 12},
}

// ParseModule decodes a core module. It covers the 2.0 binary format plus
// shared memories; GC types, exception tags and 64-bit memories are
// rejected with ErrUnsupported. Byte slices in the result alias data.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, wrapError(r, "header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, wrapError(r, "header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	last := 0
	for r.Len() > 0 {
		id, _ := r.ReadByte()
		dec, ok := sectionDecoders[id]
		if !ok {
			if id == SectionTag {
				return nil, wrapError(r, "tag section", ErrUnsupported)
			}
			return nil, wrapError(r, "section header", fmt.Errorf("unknown section id 0x%02x", id))
		}
		if id != SectionCustom {
			if dec.order <= last {
				return nil, wrapError(r, dec.name, ErrSectionOrder)
			}
			last = dec.order
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, wrapError(r, dec.name, err)
		}
		sr, err := r.Sub(int(size))
		if err != nil {
			return nil, wrapError(r, dec.name, err)
		}
		if err := dec.parse(sr, m); err != nil {
			return nil, wrapError(sr, dec.name, err)
		}
		if sr.Len() != 0 {
			return nil, wrapError(sr, dec.name, ErrTrailingBytes)
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("wasm: %d functions declared but %d bodies defined", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

func wrapError(r *binary.Reader, section string, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ParseError{Err: err, Section: section, Position: r.Position()}
}

// readVec reads a count followed by count elements.
func readVec[T any](r *binary.Reader, read func(*binary.Reader) (T, error)) ([]T, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	// Each element takes at least one byte.
	if int(count) > r.Len() {
		return nil, fmt.Errorf("vector of %d elements exceeds %d remaining bytes", count, r.Len())
	}
	out := make([]T, count)
	for i := range out {
		if out[i], err = read(r); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return out, nil
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: r.ReadRemaining()})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) (err error) {
	m.Types, err = readVec(r, readFuncType)
	return err
}

func readFuncType(r *binary.Reader) (FuncType, error) {
	form, err := r.ReadByte()
	if err != nil {
		return FuncType{}, err
	}
	if form != FuncTypeByte {
		return FuncType{}, fmt.Errorf("%w: type form 0x%02x", ErrUnsupported, form)
	}
	params, err := readVec(r, readValType)
	if err != nil {
		return FuncType{}, err
	}
	results, err := readVec(r, readValType)
	if err != nil {
		return FuncType{}, err
	}
	return FuncType{Params: params, Results: results}, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if v := ValType(b); v.valid() {
		return v, nil
	}
	return 0, fmt.Errorf("%w: value type 0x%02x", ErrUnsupported, b)
}

func parseImportSection(r *binary.Reader, m *Module) (err error) {
	m.Imports, err = readVec(r, readImport)
	return err
}

func readImport(r *binary.Reader) (Import, error) {
	module, err := r.ReadName()
	if err != nil {
		return Import{}, err
	}
	name, err := r.ReadName()
	if err != nil {
		return Import{}, err
	}
	kind, err := r.ReadByte()
	if err != nil {
		return Import{}, err
	}

	imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}
	switch kind {
	case KindFunc:
		imp.Desc.TypeIdx, err = r.ReadU32()
	case KindTable:
		var table TableType
		table, err = readTableType(r)
		imp.Desc.Table = &table
	case KindMemory:
		var memory MemoryType
		memory, err = readMemoryType(r)
		imp.Desc.Memory = &memory
	case KindGlobal:
		var global GlobalType
		global, err = readGlobalType(r)
		imp.Desc.Global = &global
	case KindTag:
		err = fmt.Errorf("%w: tag import %s.%s", ErrUnsupported, module, name)
	default:
		err = fmt.Errorf("unknown import kind 0x%02x", kind)
	}
	return imp, err
}

func parseFunctionSection(r *binary.Reader, m *Module) (err error) {
	m.Funcs, err = readVec(r, (*binary.Reader).ReadU32)
	return err
}

func parseTableSection(r *binary.Reader, m *Module) (err error) {
	m.Tables, err = readVec(r, readTableType)
	return err
}

func parseMemorySection(r *binary.Reader, m *Module) (err error) {
	m.Memories, err = readVec(r, readMemoryType)
	return err
}

func parseGlobalSection(r *binary.Reader, m *Module) (err error) {
	m.Globals, err = readVec(r, func(r *binary.Reader) (Global, error) {
		gt, err := readGlobalType(r)
		if err != nil {
			return Global{}, err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return Global{}, err
		}
		return Global{Type: gt, Init: init}, nil
	})
	return err
}

func parseExportSection(r *binary.Reader, m *Module) (err error) {
	m.Exports, err = readVec(r, func(r *binary.Reader) (Export, error) {
		name, err := r.ReadName()
		if err != nil {
			return Export{}, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return Export{}, err
		}
		if kind > KindGlobal {
			return Export{}, fmt.Errorf("%w: export kind 0x%02x", ErrUnsupported, kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return Export{}, err
		}
		return Export{Name: name, Kind: kind, Idx: idx}, nil
	})
	return err
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) (err error) {
	m.Elements, err = readVec(r, readElement)
	return err
}

func readElement(r *binary.Reader) (Element, error) {
	flags, err := r.ReadU32()
	if err != nil {
		return Element{}, err
	}
	if flags > 7 {
		return Element{}, fmt.Errorf("invalid element segment flags %d", flags)
	}

	elem := Element{Flags: flags}
	passive := flags&0x01 != 0
	explicitTable := flags&0x02 != 0
	usesExprs := flags&0x04 != 0

	if explicitTable && !passive {
		if elem.TableIdx, err = r.ReadU32(); err != nil {
			return Element{}, err
		}
	}
	if !passive {
		if elem.Offset, err = readInitExpr(r); err != nil {
			return Element{}, err
		}
	}
	if flags&0x03 != 0 {
		if usesExprs {
			if elem.Type, err = readValType(r); err != nil {
				return Element{}, err
			}
			if !elem.Type.isRef() {
				return Element{}, fmt.Errorf("element type %s is not a reference", elem.Type)
			}
		} else if elem.ElemKind, err = r.ReadByte(); err != nil {
			return Element{}, err
		}
	}

	if usesExprs {
		elem.Exprs, err = readVec(r, readInitExpr)
	} else {
		elem.FuncIdxs, err = readVec(r, (*binary.Reader).ReadU32)
	}
	return elem, err
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) (err error) {
	m.Code, err = readVec(r, readFuncBody)
	return err
}

func readFuncBody(r *binary.Reader) (FuncBody, error) {
	size, err := r.ReadU32()
	if err != nil {
		return FuncBody{}, err
	}
	br, err := r.Sub(int(size))
	if err != nil {
		return FuncBody{}, err
	}
	locals, err := readVec(br, func(r *binary.Reader) (LocalEntry, error) {
		n, err := r.ReadU32()
		if err != nil {
			return LocalEntry{}, err
		}
		t, err := readValType(r)
		return LocalEntry{Count: n, ValType: t}, err
	})
	if err != nil {
		return FuncBody{}, err
	}
	code := br.ReadRemaining()
	if len(code) == 0 || code[len(code)-1] != OpEnd {
		return FuncBody{}, errors.New("function body does not end with end opcode")
	}
	return FuncBody{Locals: locals, Code: code}, nil
}

func parseDataSection(r *binary.Reader, m *Module) (err error) {
	m.Data, err = readVec(r, readDataSegment)
	return err
}

func readDataSegment(r *binary.Reader) (DataSegment, error) {
	flags, err := r.ReadU32()
	if err != nil {
		return DataSegment{}, err
	}
	if flags > 2 {
		return DataSegment{}, fmt.Errorf("invalid data segment flags %d", flags)
	}

	seg := DataSegment{Flags: flags}
	if flags == 2 {
		if seg.MemIdx, err = r.ReadU32(); err != nil {
			return DataSegment{}, err
		}
	}
	if flags != 1 {
		if seg.Offset, err = readInitExpr(r); err != nil {
			return DataSegment{}, err
		}
	}
	n, err := r.ReadU32()
	if err != nil {
		return DataSegment{}, err
	}
	seg.Init, err = r.ReadBytes(int(n))
	return seg, err
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsMemory64 != 0 {
		return Limits{}, fmt.Errorf("%w: 64-bit limits", ErrUnsupported)
	}
	if flags&^(LimitsHasMax|LimitsShared) != 0 {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}

	l := Limits{Shared: flags&LimitsShared != 0}
	minVal, err := r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	l.Min = uint64(minVal)
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		l.Max = Max(uint64(maxVal))
	}

	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elemType, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	if !elemType.isRef() {
		return TableType{}, fmt.Errorf("table element type %s is not a reference", elemType)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	if limits.Shared {
		return TableType{}, errors.New("tables cannot be shared")
	}
	return TableType{ElemType: elemType, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// readInitExpr copies a constant expression up to and including its end
// opcode.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	var expr []byte
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		expr = append(expr, op)
		switch op {
		case OpEnd:
			return expr, nil
		case OpI32Const, OpI64Const, OpGlobalGet, OpRefNull, OpRefFunc:
			expr, err = r.CopyLEB128(expr)
		case OpF32Const:
			expr, err = copyBytes(r, expr, 4)
		case OpF64Const:
			expr, err = copyBytes(r, expr, 8)
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		default:
			return nil, fmt.Errorf("%w: opcode 0x%02x in constant expression", ErrUnsupported, op)
		}
		if err != nil {
			return nil, err
		}
	}
}

func copyBytes(r *binary.Reader, dst []byte, n int) ([]byte, error) {
	data, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return append(dst, data...), nil
}
