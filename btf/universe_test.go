package btf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveStripsModifiersAndTypedefs(t *testing.T) {
	b := newBTFBuilder()
	intID := b.addInt("int", 4, IntSigned, 32)
	constID := b.addConst(intID)
	volID := b.addVolatile(constID)
	tdID := b.addTypedef("X", volID)

	u := b.mustParse()
	require.Equal(t, intID, u.Resolve(tdID))
}

func TestResolveArrayElemStripsArraysToo(t *testing.T) {
	b := newBTFBuilder()
	intID := b.addInt("int", 4, IntSigned, 32)
	tdID := b.addTypedef("Row", intID)
	arrID := b.addArray("Matrix", tdID, intID, 4)

	u := b.mustParse()
	require.Equal(t, intID, u.ResolveArrayElem(arrID))
}

func TestFindByNameAndEssentialName(t *testing.T) {
	b := newBTFBuilder()
	b.addComposite("sock___v2", KindStruct, 0, false, nil)

	u := b.mustParse()
	require.Empty(t, u.FindByName("sock"))
	require.NotEmpty(t, u.FindByEssentialName("sock"))
}

func TestFindByNameFiltersByKind(t *testing.T) {
	b := newBTFBuilder()
	b.addTypedef("widget", b.addInt("int", 4, IntSigned, 32))
	b.addComposite("widget", KindStruct, 0, false, nil)

	u := b.mustParse()
	structs := u.FindByName("widget", KindStruct)
	require.Len(t, structs, 1)
	require.Equal(t, KindStruct, u.Get(structs[0]).Kind())
}

func TestPointerSizeDefaultsToEight(t *testing.T) {
	b := newBTFBuilder()
	ptrID := b.addPtr("", b.addInt("int", 4, IntSigned, 32))

	u := b.mustParse()
	require.Equal(t, uint32(8), u.PointerSize())
	l, err := u.Layout(ptrID)
	require.NoError(t, err)
	require.Equal(t, uint32(8), l.Size)
}
