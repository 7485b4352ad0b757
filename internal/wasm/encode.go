package wasm

import (
	"github.com/wippyai/wasm-threads/internal/wasm/internal/binary"
)

// Encode writes the module in binary format. Sections are emitted in
// canonical order with custom sections last; empty sections are omitted.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	writeVecSection(w, SectionType, m.Types, func(sec *binary.Writer, ft FuncType) {
		sec.Byte(FuncTypeByte)
		writeValTypes(sec, ft.Params)
		writeValTypes(sec, ft.Results)
	})
	writeVecSection(w, SectionImport, m.Imports, writeImport)
	writeVecSection(w, SectionFunction, m.Funcs, (*binary.Writer).WriteU32)
	writeVecSection(w, SectionTable, m.Tables, writeTableType)
	writeVecSection(w, SectionMemory, m.Memories, func(sec *binary.Writer, mt MemoryType) {
		writeLimits(sec, mt.Limits)
	})
	writeVecSection(w, SectionGlobal, m.Globals, func(sec *binary.Writer, g Global) {
		writeGlobalType(sec, g.Type)
		sec.WriteBytes(g.Init)
	})
	writeVecSection(w, SectionExport, m.Exports, func(sec *binary.Writer, e Export) {
		sec.WriteName(e.Name)
		sec.Byte(e.Kind)
		sec.WriteU32(e.Idx)
	})
	if m.Start != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.Start)
		writeSection(w, SectionStart, sec.Bytes())
	}
	writeVecSection(w, SectionElement, m.Elements, writeElement)
	if m.DataCount != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.DataCount)
		writeSection(w, SectionDataCount, sec.Bytes())
	}
	writeVecSection(w, SectionCode, m.Code, writeFuncBody)
	writeVecSection(w, SectionData, m.Data, writeDataSegment)

	for _, cs := range m.CustomSections {
		sec := binary.NewWriter()
		sec.WriteName(cs.Name)
		sec.WriteBytes(cs.Data)
		writeSection(w, SectionCustom, sec.Bytes())
	}
	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

func writeVecSection[T any](w *binary.Writer, id byte, items []T, write func(*binary.Writer, T)) {
	if len(items) == 0 {
		return
	}
	sec := binary.NewWriter()
	sec.WriteU32(uint32(len(items)))
	for _, item := range items {
		write(sec, item)
	}
	writeSection(w, id, sec.Bytes())
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeImport(w *binary.Writer, imp Import) {
	w.WriteName(imp.Module)
	w.WriteName(imp.Name)
	w.Byte(imp.Desc.Kind)
	switch imp.Desc.Kind {
	case KindFunc:
		w.WriteU32(imp.Desc.TypeIdx)
	case KindTable:
		writeTableType(w, *imp.Desc.Table)
	case KindMemory:
		writeLimits(w, imp.Desc.Memory.Limits)
	case KindGlobal:
		writeGlobalType(w, *imp.Desc.Global)
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	w.Byte(flags)
	w.WriteU32(uint32(l.Min))
	if l.Max != nil {
		w.WriteU32(uint32(*l.Max))
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

func writeElement(w *binary.Writer, elem Element) {
	w.WriteU32(elem.Flags)
	passive := elem.Flags&0x01 != 0
	usesExprs := elem.Flags&0x04 != 0

	if elem.Flags&0x02 != 0 && !passive {
		w.WriteU32(elem.TableIdx)
	}
	if !passive {
		w.WriteBytes(elem.Offset)
	}
	if elem.Flags&0x03 != 0 {
		if usesExprs {
			w.Byte(byte(elem.Type))
		} else {
			w.Byte(elem.ElemKind)
		}
	}

	if usesExprs {
		w.WriteU32(uint32(len(elem.Exprs)))
		for _, expr := range elem.Exprs {
			w.WriteBytes(expr)
		}
		return
	}
	w.WriteU32(uint32(len(elem.FuncIdxs)))
	for _, idx := range elem.FuncIdxs {
		w.WriteU32(idx)
	}
}

func writeFuncBody(w *binary.Writer, body FuncBody) {
	bw := binary.NewWriter()
	bw.WriteU32(uint32(len(body.Locals)))
	for _, local := range body.Locals {
		bw.WriteU32(local.Count)
		bw.Byte(byte(local.ValType))
	}
	bw.WriteBytes(body.Code)
	w.WriteU32(uint32(bw.Len()))
	w.WriteBytes(bw.Bytes())
}

func writeDataSegment(w *binary.Writer, d DataSegment) {
	w.WriteU32(d.Flags)
	if d.Flags == 2 {
		w.WriteU32(d.MemIdx)
	}
	if d.Flags != 1 {
		w.WriteBytes(d.Offset)
	}
	w.WriteU32(uint32(len(d.Init)))
	w.WriteBytes(d.Init)
}

// EncodeU32 returns v as unsigned LEB128, for immediates in hand-built code.
func EncodeU32(v uint32) []byte {
	w := binary.NewWriter()
	w.WriteU32(v)
	return w.Bytes()
}

// EncodeS32 returns v as signed LEB128, for immediates in hand-built code.
func EncodeS32(v int32) []byte {
	w := binary.NewWriter()
	w.WriteS32(v)
	return w.Bytes()
}
