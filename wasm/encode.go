package wasm

// Encode encodes the module to WebAssembly binary format.
func (m *Module) Encode() []byte {
	w := NewWriter()

	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, SectionType, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(imp.Kind)
			switch imp.Kind {
			case KindFunc:
				sec.WriteU32(imp.TypeIdx)
			case KindGlobal:
				writeGlobalType(sec, *imp.Global)
			}
		}
		writeSection(w, SectionImport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.WriteU32(typeIdx)
		}
		writeSection(w, SectionFunction, sec.Bytes())
	}

	if len(m.Tables) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			sec.Byte(byte(ValFuncRef))
			writeLimits(sec, t.Limits)
		}
		writeSection(w, SectionTable, sec.Bytes())
	}

	if len(m.Memories) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(sec, mem.Limits)
		}
		writeSection(w, SectionMemory, sec.Bytes())
	}

	if len(m.Globals) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			sec.WriteBytes(g.Init)
			sec.Byte(OpEnd)
		}
		writeSection(w, SectionGlobal, sec.Bytes())
	}

	if len(m.Exports) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, e := range m.Exports {
			sec.WriteName(e.Name)
			sec.Byte(e.Kind)
			sec.WriteU32(e.Idx)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	if len(m.Elements) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Elements)))
		for _, e := range m.Elements {
			sec.WriteU32(0) // active, table 0, funcidx vector
			sec.Byte(OpI32Const)
			sec.WriteS32(int32(e.Offset))
			sec.Byte(OpEnd)
			sec.WriteU32(uint32(len(e.FuncIndices)))
			for _, fi := range e.FuncIndices {
				sec.WriteU32(fi)
			}
		}
		writeSection(w, SectionElement, sec.Bytes())
	}

	if len(m.Code) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Code)))
		for _, body := range m.Code {
			entry := NewWriter()
			entry.WriteU32(uint32(len(body.Locals)))
			for _, local := range body.Locals {
				entry.WriteU32(local.Count)
				entry.Byte(byte(local.Type))
			}
			entry.WriteBytes(body.Body)
			sec.WriteU32(uint32(entry.Len()))
			sec.WriteBytes(entry.Bytes())
		}
		writeSection(w, SectionCode, sec.Bytes())
	}

	if len(m.Data) > 0 {
		sec := NewWriter()
		sec.WriteU32(uint32(len(m.Data)))
		for _, d := range m.Data {
			sec.WriteU32(0) // active, memory 0
			sec.Byte(OpI32Const)
			sec.WriteS32(int32(d.Offset))
			sec.Byte(OpEnd)
			sec.WriteU32(uint32(len(d.Bytes)))
			sec.WriteBytes(d.Bytes)
		}
		writeSection(w, SectionData, sec.Bytes())
	}

	if len(m.Names) > 0 {
		writeSection(w, SectionCustom, m.encodeNameSection())
	}

	return w.Bytes()
}

func writeSection(w *Writer, id byte, contents []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(contents)))
	w.WriteBytes(contents)
}

func writeValTypes(w *Writer, valTypes []ValType) {
	w.WriteU32(uint32(len(valTypes)))
	for _, vt := range valTypes {
		w.Byte(byte(vt))
	}
}

func writeLimits(w *Writer, limits Limits) {
	if limits.Max != nil {
		w.Byte(0x01)
		w.WriteU32(limits.Min)
		w.WriteU32(*limits.Max)
	} else {
		w.Byte(0x00)
		w.WriteU32(limits.Min)
	}
}

func writeGlobalType(w *Writer, gt GlobalType) {
	w.Byte(byte(gt.ValType))
	if gt.Mutable {
		w.Byte(0x01)
	} else {
		w.Byte(0x00)
	}
}

// encodeNameSection builds the "name" custom section's function-name
// subsection from m.Names, sorted by function index.
func (m *Module) encodeNameSection() []byte {
	indices := make([]uint32, 0, len(m.Names))
	for idx := range m.Names {
		indices = append(indices, idx)
	}
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0 && indices[j-1] > indices[j]; j-- {
			indices[j-1], indices[j] = indices[j], indices[j-1]
		}
	}

	namemap := NewWriter()
	namemap.WriteU32(uint32(len(indices)))
	for _, idx := range indices {
		namemap.WriteU32(idx)
		namemap.WriteName(m.Names[idx])
	}

	sec := NewWriter()
	sec.WriteName("name")
	sec.Byte(0x01) // function names subsection
	sec.WriteU32(uint32(namemap.Len()))
	sec.WriteBytes(namemap.Bytes())
	return sec.Bytes()
}
