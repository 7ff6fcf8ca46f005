package btf

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// ExtFuncInfo associates one instruction offset with the BTF type id of
// the function prototype covering it (kernel struct bpf_func_info).
type ExtFuncInfo struct {
	InsnOff uint32
	TypeID  TypeID
}

// ExtLineInfo is one kernel struct bpf_line_info record, with the
// packed line_col field already split into line number and column.
type ExtLineInfo struct {
	InsnOff     uint32
	FileNameOff uint32
	LineOff     uint32
	LineNum     uint32
	ColNum      uint32
}

// CoreReloKind mirrors the kernel's BPF_CORE_* relocation kinds.
type CoreReloKind uint32

const (
	CoreFieldByteOffset CoreReloKind = iota
	CoreFieldByteSize
	CoreFieldExists
	CoreFieldSigned
	CoreFieldLShiftU64
	CoreFieldRShiftU64
	CoreTypeIDLocal
	CoreTypeIDTarget
	CoreTypeExists
	CoreTypeSize
	CoreEnumvalExists
	CoreEnumvalValue
	CoreTypeMatches
)

func (k CoreReloKind) String() string {
	switch k {
	case CoreFieldByteOffset:
		return "FIELD_BYTE_OFFSET"
	case CoreFieldByteSize:
		return "FIELD_BYTE_SIZE"
	case CoreFieldExists:
		return "FIELD_EXISTS"
	case CoreFieldSigned:
		return "FIELD_SIGNED"
	case CoreFieldLShiftU64:
		return "FIELD_LSHIFT_U64"
	case CoreFieldRShiftU64:
		return "FIELD_RSHIFT_U64"
	case CoreTypeIDLocal:
		return "TYPE_ID_LOCAL"
	case CoreTypeIDTarget:
		return "TYPE_ID_TARGET"
	case CoreTypeExists:
		return "TYPE_EXISTS"
	case CoreTypeSize:
		return "TYPE_SIZE"
	case CoreEnumvalExists:
		return "ENUMVAL_EXISTS"
	case CoreEnumvalValue:
		return "ENUMVAL_VALUE"
	case CoreTypeMatches:
		return "TYPE_MATCHES"
	default:
		return fmt.Sprintf("CORE_KIND(%d)", uint32(k))
	}
}

// ExtCoreRelo is one kernel struct bpf_core_relo record. Applying it to
// source is explicitly out of scope (§4.9); it is decoded only far
// enough to dump it symbolically.
type ExtCoreRelo struct {
	InsnOff      uint32
	TypeID       TypeID
	AccessStrOff uint32
	Kind         CoreReloKind
}

// FuncInfoProgram, LineInfoProgram and CoreRelocProgram group the
// per-instruction records of one sub-section by the ELF section they
// describe (the §4.9 "per-program entries").
type FuncInfoProgram struct {
	Section string
	Records []ExtFuncInfo
}

type LineInfoProgram struct {
	Section string
	Records []ExtLineInfo
}

type CoreRelocProgram struct {
	Section string
	Records []ExtCoreRelo
}

// ExtData is the decoded .BTF.ext payload.
type ExtData struct {
	FuncInfo   []FuncInfoProgram
	LineInfo   []LineInfoProgram
	CoreRelocs []CoreRelocProgram
}

type extSpan struct {
	name       string
	start, end int
}

func extSubsectionSpan(totalLen int, hdrLen, off, length uint32, name string) (extSpan, error) {
	start := int(hdrLen) + int(off)
	end := start + int(length)
	if off > 1<<30 || length > 1<<30 || start < 0 || end < start || end > totalLen {
		return extSpan{}, fmt.Errorf("%s at [%d,%d) of %d bytes: %w", name, start, end, totalLen, ErrBadExtLayout)
	}
	return extSpan{name: name, start: start, end: end}, nil
}

// ParseExt decodes a .BTF.ext blob (§4.9). u supplies the string table
// the sub-sections' name offsets resolve against (the same one the
// paired .BTF blob was parsed with).
func ParseExt(extBytes []byte, u *Universe) (*ExtData, error) {
	bo, err := detectByteOrder(extBytes)
	if err != nil {
		return nil, err
	}

	r := newReader(extBytes, bo)
	hdr, err := parseBTFExtHeader(r)
	if err != nil {
		return nil, err
	}

	funcSpan, err := extSubsectionSpan(len(extBytes), hdr.HdrLen, hdr.FuncInfoOff, hdr.FuncInfoLen, "func_info")
	if err != nil {
		return nil, err
	}
	lineSpan, err := extSubsectionSpan(len(extBytes), hdr.HdrLen, hdr.LineInfoOff, hdr.LineInfoLen, "line_info")
	if err != nil {
		return nil, err
	}
	spans := []extSpan{funcSpan, lineSpan}

	var coreSpan extSpan
	if hdr.hasCoreRelo {
		coreSpan, err = extSubsectionSpan(len(extBytes), hdr.HdrLen, hdr.CoreReloOff, hdr.CoreReloLen, "core_relocs")
		if err != nil {
			return nil, err
		}
		spans = append(spans, coreSpan)
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return nil, fmt.Errorf("%s overlaps %s: %w", spans[i].name, spans[i-1].name, ErrBadExtLayout)
		}
	}

	ext := &ExtData{}
	if ext.FuncInfo, err = decodeFuncInfoSection(extBytes[funcSpan.start:funcSpan.end], bo, u); err != nil {
		return nil, err
	}
	if ext.LineInfo, err = decodeLineInfoSection(extBytes[lineSpan.start:lineSpan.end], bo, u); err != nil {
		return nil, err
	}
	if hdr.hasCoreRelo {
		if ext.CoreRelocs, err = decodeCoreRelocSection(extBytes[coreSpan.start:coreSpan.end], bo, u); err != nil {
			return nil, err
		}
	}
	return ext, nil
}

func decodeFuncInfoSection(b []byte, bo binary.ByteOrder, u *Universe) ([]FuncInfoProgram, error) {
	r := newReader(b, bo)
	recSize, err := r.readU32("func_info record size")
	if err != nil {
		return nil, err
	}
	if recSize < 8 {
		return nil, fmt.Errorf("func_info record size %d: %w", recSize, ErrBadExtLayout)
	}

	var progs []FuncInfoProgram
	for r.remaining() > 0 {
		secOff, err := r.readU32("func_info section name offset")
		if err != nil {
			return nil, err
		}
		numInfo, err := r.readU32("func_info num_info")
		if err != nil {
			return nil, err
		}
		name, err := u.lookupString(secOff)
		if err != nil {
			return nil, err
		}

		recs := make([]ExtFuncInfo, numInfo)
		for i := range recs {
			raw, err := r.readN("func_info record", int(recSize))
			if err != nil {
				return nil, err
			}
			recs[i] = ExtFuncInfo{
				InsnOff: bo.Uint32(raw[0:4]),
				TypeID:  TypeID(bo.Uint32(raw[4:8])),
			}
		}
		progs = append(progs, FuncInfoProgram{Section: name, Records: recs})
	}
	return progs, nil
}

func decodeLineInfoSection(b []byte, bo binary.ByteOrder, u *Universe) ([]LineInfoProgram, error) {
	r := newReader(b, bo)
	recSize, err := r.readU32("line_info record size")
	if err != nil {
		return nil, err
	}
	if recSize < 16 {
		return nil, fmt.Errorf("line_info record size %d: %w", recSize, ErrBadExtLayout)
	}

	var progs []LineInfoProgram
	for r.remaining() > 0 {
		secOff, err := r.readU32("line_info section name offset")
		if err != nil {
			return nil, err
		}
		numInfo, err := r.readU32("line_info num_info")
		if err != nil {
			return nil, err
		}
		name, err := u.lookupString(secOff)
		if err != nil {
			return nil, err
		}

		recs := make([]ExtLineInfo, numInfo)
		for i := range recs {
			raw, err := r.readN("line_info record", int(recSize))
			if err != nil {
				return nil, err
			}
			lineCol := bo.Uint32(raw[12:16])
			recs[i] = ExtLineInfo{
				InsnOff:     bo.Uint32(raw[0:4]),
				FileNameOff: bo.Uint32(raw[4:8]),
				LineOff:     bo.Uint32(raw[8:12]),
				LineNum:     readBits(lineCol, 22, 10),
				ColNum:      readBits(lineCol, 10, 0),
			}
		}
		progs = append(progs, LineInfoProgram{Section: name, Records: recs})
	}
	return progs, nil
}

func decodeCoreRelocSection(b []byte, bo binary.ByteOrder, u *Universe) ([]CoreRelocProgram, error) {
	r := newReader(b, bo)
	recSize, err := r.readU32("core_relocs record size")
	if err != nil {
		return nil, err
	}
	if recSize < 16 {
		return nil, fmt.Errorf("core_relocs record size %d: %w", recSize, ErrBadExtLayout)
	}

	var progs []CoreRelocProgram
	for r.remaining() > 0 {
		secOff, err := r.readU32("core_relocs section name offset")
		if err != nil {
			return nil, err
		}
		numInfo, err := r.readU32("core_relocs num_info")
		if err != nil {
			return nil, err
		}
		name, err := u.lookupString(secOff)
		if err != nil {
			return nil, err
		}

		recs := make([]ExtCoreRelo, numInfo)
		for i := range recs {
			raw, err := r.readN("core_relocs record", int(recSize))
			if err != nil {
				return nil, err
			}
			recs[i] = ExtCoreRelo{
				InsnOff:      bo.Uint32(raw[0:4]),
				TypeID:       TypeID(bo.Uint32(raw[4:8])),
				AccessStrOff: bo.Uint32(raw[8:12]),
				Kind:         CoreReloKind(bo.Uint32(raw[12:16])),
			}
		}
		progs = append(progs, CoreRelocProgram{Section: name, Records: recs})
	}
	return progs, nil
}

// Dump writes a human-readable listing of the decoded .BTF.ext data.
// Type ids are printed as numbers; core_relocs targets are additionally
// resolved to their names through u.
func (ext *ExtData) Dump(w interface{ Write([]byte) (int, error) }, u *Universe) {
	for _, prog := range ext.FuncInfo {
		fmt.Fprintf(w, "func_info: section %q\n", prog.Section)
		for _, rec := range prog.Records {
			fmt.Fprintf(w, "\tinsn_off=%d type_id=%d\n", rec.InsnOff, rec.TypeID)
		}
	}
	for _, prog := range ext.LineInfo {
		fmt.Fprintf(w, "line_info: section %q\n", prog.Section)
		for _, rec := range prog.Records {
			fmt.Fprintf(w, "\tinsn_off=%d line=%d col=%d\n", rec.InsnOff, rec.LineNum, rec.ColNum)
		}
	}
	for _, prog := range ext.CoreRelocs {
		fmt.Fprintf(w, "core_relocs: section %q\n", prog.Section)
		for _, rec := range prog.Records {
			fmt.Fprintf(w, "\tinsn_off=%d type_id=%d type=%s kind=%s\n", rec.InsnOff, rec.TypeID, u.targetTypeName(rec.TypeID), rec.Kind)
		}
	}
}

// targetTypeName resolves a CO-RE relocation's target type id to the
// name a human would recognize it by. Duplicate-flavor names
// (essentialName) are not resolved here — the id is already concrete,
// so no name-to-id search is needed, unlike FindByEssentialName's use
// case of looking a relocation's target up by name in the first place.
func (u *Universe) targetTypeName(id TypeID) string {
	if int(id) > u.NumTypes() {
		return "<unknown>"
	}
	name := u.Get(id).TypeName()
	if name == "" {
		return "<anon>"
	}
	return name
}

func (u *Universe) lookupString(off uint32) (string, error) {
	return u.strs.lookup(off)
}
