package btf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario D: struct { char a; int b; } declared at size 5 (no inserted
// padding) instead of the natural size 8.
func TestScenarioD_PackedStruct(t *testing.T) {
	b := newBTFBuilder()
	charID := b.addInt("char", 1, IntChar, 8)
	intID := b.addInt("int", 4, IntSigned, 32)
	structID := b.addComposite("Packed", KindStruct, 5, false, []memberSpec{
		{Name: "a", Type: charID, BitOffset: 0},
		{Name: "b", Type: intID, BitOffset: 8},
	})

	u := b.mustParse()
	l, err := u.Layout(structID)
	require.NoError(t, err)
	require.Equal(t, uint32(5), l.Size)
	require.Equal(t, uint32(1), l.Align)
	require.True(t, l.Packed)
}

func TestNaturalStructIsNotPacked(t *testing.T) {
	b := newBTFBuilder()
	charID := b.addInt("char", 1, IntChar, 8)
	intID := b.addInt("int", 4, IntSigned, 32)
	structID := b.addComposite("Natural", KindStruct, 8, false, []memberSpec{
		{Name: "a", Type: charID, BitOffset: 0},
		{Name: "b", Type: intID, BitOffset: 32},
	})

	u := b.mustParse()
	l, err := u.Layout(structID)
	require.NoError(t, err)
	require.Equal(t, uint32(8), l.Size)
	require.Equal(t, uint32(4), l.Align)
	require.False(t, l.Packed)
}

func TestUnreconcilableSizeIsBadSize(t *testing.T) {
	b := newBTFBuilder()
	intID := b.addInt("int", 4, IntSigned, 32)
	structID := b.addComposite("Bad", KindStruct, 99, false, []memberSpec{
		{Name: "a", Type: intID, BitOffset: 0},
	})

	u := b.mustParse()
	_, err := u.Layout(structID)
	require.ErrorIs(t, err, ErrBadSize)
}

func TestUnionNaturalVsPacked(t *testing.T) {
	b := newBTFBuilder()
	charID := b.addInt("char", 1, IntChar, 8)
	intID := b.addInt("int", 4, IntSigned, 32)
	unionID := b.addComposite("U", KindUnion, 4, false, []memberSpec{
		{Name: "a", Type: charID, BitOffset: 0},
		{Name: "b", Type: intID, BitOffset: 0},
	})

	u := b.mustParse()
	l, err := u.Layout(unionID)
	require.NoError(t, err)
	require.Equal(t, uint32(4), l.Size)
	require.Equal(t, uint32(4), l.Align)
	require.False(t, l.Packed)
}

// Scenario F: struct { int a:4; long c; } with c aligned to the next
// 8-byte boundary.
func TestScenarioF_Bitfields(t *testing.T) {
	b := newBTFBuilder()
	intID := b.addInt("int", 4, IntSigned, 32)
	longID := b.addInt("long", 8, IntSigned, 64)
	structID := b.addComposite("Bits", KindStruct, 16, true, []memberSpec{
		{Name: "a", Type: intID, BitOffset: 0, BitWidth: 4},
		{Name: "c", Type: longID, BitOffset: 64, BitWidth: 0},
	})

	u := b.mustParse()
	s := u.Get(structID).(*Struct)
	require.Equal(t, uint32(0), s.Members[0].BitOffset)
	require.Equal(t, uint32(4), s.Members[0].BitWidth)
	require.Equal(t, uint32(64), s.Members[1].BitOffset)

	l, err := u.Layout(structID)
	require.NoError(t, err)
	require.Equal(t, uint32(16), l.Size)
	require.Equal(t, uint32(8), l.Align)
	require.False(t, l.Packed)
}

func TestPtrLayoutUsesConfiguredPointerSize(t *testing.T) {
	b := newBTFBuilder()
	intID := b.addInt("int", 4, IntSigned, 32)
	ptrID := b.addPtr("", intID)

	u, err := Parse(b.build(), WithPointerSize(4))
	require.NoError(t, err)
	l, err := u.Layout(ptrID)
	require.NoError(t, err)
	require.Equal(t, uint32(4), l.Size)
	require.Equal(t, uint32(4), l.Align)
}

func TestArrayLayoutMultipliesElementSize(t *testing.T) {
	b := newBTFBuilder()
	intID := b.addInt("int", 4, IntSigned, 32)
	arrID := b.addArray("", intID, intID, 10)

	u := b.mustParse()
	l, err := u.Layout(arrID)
	require.NoError(t, err)
	require.Equal(t, uint32(40), l.Size)
	require.Equal(t, uint32(4), l.Align)
}

// A naturally-aligned outer struct can embed a packed inner struct
// without itself becoming packed: each composite's Layout is computed
// independently, so the outer only cares about the inner's overall
// Size/Align, not how the inner got there (spec.md §9's "nested
// packed/unpacked mixes").
func TestNestedLayout_PackedInnerInsideNaturalOuter(t *testing.T) {
	b := newBTFBuilder()
	charID := b.addInt("char", 1, IntChar, 8)
	intID := b.addInt("int", 4, IntSigned, 32)
	innerID := b.addComposite("PackedInner", KindStruct, 5, false, []memberSpec{
		{Name: "a", Type: charID, BitOffset: 0},
		{Name: "b", Type: intID, BitOffset: 8},
	})
	outerID := b.addComposite("Outer", KindStruct, 12, false, []memberSpec{
		{Name: "x", Type: intID, BitOffset: 0},
		{Name: "inner", Type: innerID, BitOffset: 32},
	})

	u := b.mustParse()

	inner, err := u.Layout(innerID)
	require.NoError(t, err)
	require.Equal(t, uint32(5), inner.Size)
	require.True(t, inner.Packed)

	outer, err := u.Layout(outerID)
	require.NoError(t, err)
	require.Equal(t, uint32(12), outer.Size)
	require.Equal(t, uint32(4), outer.Align)
	require.False(t, outer.Packed)
}

// A packed outer struct can embed a naturally-aligned inner struct: the
// outer's own declared offsets skip the padding the inner's natural
// layout would otherwise want, so the outer is packed even though the
// inner, looked at on its own, is not.
func TestNestedLayout_NaturalInnerInsidePackedOuter(t *testing.T) {
	b := newBTFBuilder()
	charID := b.addInt("char", 1, IntChar, 8)
	intID := b.addInt("int", 4, IntSigned, 32)
	innerID := b.addComposite("NaturalInner", KindStruct, 8, false, []memberSpec{
		{Name: "a", Type: charID, BitOffset: 0},
		{Name: "b", Type: intID, BitOffset: 32},
	})
	outerID := b.addComposite("Outer", KindStruct, 9, false, []memberSpec{
		{Name: "tag", Type: charID, BitOffset: 0},
		{Name: "inner", Type: innerID, BitOffset: 8},
	})

	u := b.mustParse()

	inner, err := u.Layout(innerID)
	require.NoError(t, err)
	require.Equal(t, uint32(8), inner.Size)
	require.False(t, inner.Packed)

	outer, err := u.Layout(outerID)
	require.NoError(t, err)
	require.Equal(t, uint32(9), outer.Size)
	require.Equal(t, uint32(1), outer.Align)
	require.True(t, outer.Packed)
}

// The C emitter must only attach __attribute__((packed)) to the
// composite that is actually packed, not to every composite in the
// nest.
func TestNestedLayout_CEmitsAttributeOnlyOnPackedLevel(t *testing.T) {
	b := newBTFBuilder()
	charID := b.addInt("char", 1, IntChar, 8)
	intID := b.addInt("int", 4, IntSigned, 32)
	innerID := b.addComposite("NaturalInner", KindStruct, 8, false, []memberSpec{
		{Name: "a", Type: charID, BitOffset: 0},
		{Name: "b", Type: intID, BitOffset: 32},
	})
	b.addComposite("Outer", KindStruct, 9, false, []memberSpec{
		{Name: "tag", Type: charID, BitOffset: 0},
		{Name: "inner", Type: innerID, BitOffset: 8},
	})

	u := b.mustParse()
	var out strings.Builder
	require.NoError(t, u.Emit(&out, ModeC, Filter{}))
	text := out.String()

	require.Contains(t, text, "struct Outer {\n\tchar tag;\n\tstruct NaturalInner inner;\n} __attribute__((packed));\n")
	require.Contains(t, text, "struct NaturalInner {\n\tchar a;\n\tint b;\n};\n")
	require.Equal(t, 1, strings.Count(text, "__attribute__"))
}

func TestFwdHasNoLayout(t *testing.T) {
	b := newBTFBuilder()
	fwdID := b.addFwd("Opaque", FwdStruct)

	u := b.mustParse()
	_, err := u.Layout(fwdID)
	require.ErrorIs(t, err, ErrBadSize)
}
