package btf

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildExtBlob assembles a minimal .BTF.ext blob (no core-reloc
// sub-section) with one func_info and one line_info program, both
// against the section name already registered at secNameOff.
func buildExtBlob(secNameOff uint32) []byte {
	var funcInfo []byte
	funcInfo = binary.LittleEndian.AppendUint32(funcInfo, 8) // record size
	funcInfo = binary.LittleEndian.AppendUint32(funcInfo, secNameOff)
	funcInfo = binary.LittleEndian.AppendUint32(funcInfo, 1) // num_info
	funcInfo = binary.LittleEndian.AppendUint32(funcInfo, 0) // insn_off
	funcInfo = binary.LittleEndian.AppendUint32(funcInfo, 5) // type_id

	var lineInfo []byte
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, 16) // record size
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, secNameOff)
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, 1) // num_info
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, 0) // insn_off
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, 0) // file_name_off
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, 0) // line_off
	lineCol := uint32(12)<<10 | uint32(3) // line 12, col 3
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, lineCol)

	const hdrLen = extHeaderLenNoRelo
	buf := make([]byte, 0, hdrLen+len(funcInfo)+len(lineInfo))
	buf = binary.LittleEndian.AppendUint16(buf, btfMagic)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint32(buf, hdrLen)
	buf = binary.LittleEndian.AppendUint32(buf, 0)                   // func_info_off
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(funcInfo))) // func_info_len
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(funcInfo))) // line_info_off
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(lineInfo))) // line_info_len
	buf = append(buf, funcInfo...)
	buf = append(buf, lineInfo...)
	return buf
}

// buildExtBlobWithCoreReloc is buildExtBlob plus a core_relocs
// sub-section with one record pointing at targetTypeID.
func buildExtBlobWithCoreReloc(secNameOff, accessStrOff uint32, targetTypeID TypeID) []byte {
	var funcInfo []byte
	funcInfo = binary.LittleEndian.AppendUint32(funcInfo, 8) // record size
	funcInfo = binary.LittleEndian.AppendUint32(funcInfo, secNameOff)
	funcInfo = binary.LittleEndian.AppendUint32(funcInfo, 1) // num_info
	funcInfo = binary.LittleEndian.AppendUint32(funcInfo, 0) // insn_off
	funcInfo = binary.LittleEndian.AppendUint32(funcInfo, 5) // type_id

	var lineInfo []byte
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, 16) // record size
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, secNameOff)
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, 1) // num_info
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, 0) // insn_off
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, 0) // file_name_off
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, 0) // line_off
	lineCol := uint32(12)<<10 | uint32(3)
	lineInfo = binary.LittleEndian.AppendUint32(lineInfo, lineCol)

	var coreRelocs []byte
	coreRelocs = binary.LittleEndian.AppendUint32(coreRelocs, 16) // record size
	coreRelocs = binary.LittleEndian.AppendUint32(coreRelocs, secNameOff)
	coreRelocs = binary.LittleEndian.AppendUint32(coreRelocs, 1) // num_info
	coreRelocs = binary.LittleEndian.AppendUint32(coreRelocs, 0) // insn_off
	coreRelocs = binary.LittleEndian.AppendUint32(coreRelocs, uint32(targetTypeID))
	coreRelocs = binary.LittleEndian.AppendUint32(coreRelocs, accessStrOff)
	coreRelocs = binary.LittleEndian.AppendUint32(coreRelocs, uint32(CoreFieldByteOffset))

	const hdrLen = extHeaderLenNoRelo + 8 // +core_relocs off/len pair
	buf := make([]byte, 0, hdrLen+len(funcInfo)+len(lineInfo)+len(coreRelocs))
	buf = binary.LittleEndian.AppendUint16(buf, btfMagic)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint32(buf, hdrLen)
	buf = binary.LittleEndian.AppendUint32(buf, 0)                      // func_info_off
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(funcInfo)))  // func_info_len
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(funcInfo)))  // line_info_off
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(lineInfo)))  // line_info_len
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(funcInfo)+len(lineInfo))) // core_relocs_off
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(coreRelocs)))             // core_relocs_len
	buf = append(buf, funcInfo...)
	buf = append(buf, lineInfo...)
	buf = append(buf, coreRelocs...)
	return buf
}

func TestParseExtFuncAndLineInfo(t *testing.T) {
	b := newBTFBuilder()
	secOff := b.str("prog")
	b.addInt("int", 4, IntSigned, 32)
	u := b.mustParse()

	ext, err := ParseExt(buildExtBlob(secOff), u)
	require.NoError(t, err)

	require.Len(t, ext.FuncInfo, 1)
	require.Equal(t, "prog", ext.FuncInfo[0].Section)
	require.Equal(t, []ExtFuncInfo{{InsnOff: 0, TypeID: 5}}, ext.FuncInfo[0].Records)

	require.Len(t, ext.LineInfo, 1)
	require.Equal(t, "prog", ext.LineInfo[0].Section)
	require.Equal(t, uint32(12), ext.LineInfo[0].Records[0].LineNum)
	require.Equal(t, uint32(3), ext.LineInfo[0].Records[0].ColNum)
}

func TestParseExtTruncatedSpanRejected(t *testing.T) {
	b := newBTFBuilder()
	secOff := b.str("prog")
	b.addInt("int", 4, IntSigned, 32)
	u := b.mustParse()

	blob := buildExtBlob(secOff)
	truncated := blob[:len(blob)-4] // chop off the tail of line_info

	_, err := ParseExt(truncated, u)
	require.ErrorIs(t, err, ErrBadExtLayout)
}

func TestCoreReloKindString(t *testing.T) {
	require.Equal(t, "FIELD_BYTE_OFFSET", CoreFieldByteOffset.String())
	require.Equal(t, "TYPE_MATCHES", CoreTypeMatches.String())
	require.Contains(t, CoreReloKind(99).String(), "CORE_KIND")
}

func TestExtDataDumpResolvesCoreRelocTargetName(t *testing.T) {
	b := newBTFBuilder()
	secOff := b.str("prog")
	accessOff := b.str("0:1")
	targetID := b.addComposite("Target", KindStruct, 4, false, []memberSpec{
		{Name: "x", Type: b.addInt("int", 4, IntSigned, 32), BitOffset: 0},
	})
	u := b.mustParse()

	ext, err := ParseExt(buildExtBlobWithCoreReloc(secOff, accessOff, targetID), u)
	require.NoError(t, err)
	require.Len(t, ext.CoreRelocs, 1)
	require.Equal(t, targetID, ext.CoreRelocs[0].Records[0].TypeID)

	var out strings.Builder
	ext.Dump(&out, u)
	require.Contains(t, out.String(), "type=Target")
	require.Contains(t, out.String(), "kind=FIELD_BYTE_OFFSET")
}

func TestExtDataDumpUnknownCoreRelocTargetID(t *testing.T) {
	b := newBTFBuilder()
	secOff := b.str("prog")
	accessOff := b.str("0:1")
	u := b.mustParse()

	ext, err := ParseExt(buildExtBlobWithCoreReloc(secOff, accessOff, TypeID(999)), u)
	require.NoError(t, err)

	var out strings.Builder
	ext.Dump(&out, u)
	require.Contains(t, out.String(), "type=<unknown>")
}
