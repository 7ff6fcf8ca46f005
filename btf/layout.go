package btf

import "fmt"

// Layout is the computed size/alignment (and, for composites, the
// packed inference) of a type, per §4.7. Sizes and alignments are in
// bytes; Member bit offsets stay in bits since C bit-fields are
// addressed that way regardless of packing.
type Layout struct {
	Size   uint32
	Align  uint32
	Packed bool
}

// Layout computes and caches the layout of id. Composite members are
// only ever reached through strong edges, and Layout consults Order()
// first, which rejects strong cycles, so this never recurses through a
// cycle.
func (u *Universe) Layout(id TypeID) (Layout, error) {
	if _, err := u.Order(); err != nil {
		return Layout{}, err
	}
	if u.layoutCache == nil {
		u.layoutCache = make(map[TypeID]Layout)
		u.layoutErr = make(map[TypeID]error)
	}
	if l, ok := u.layoutCache[id]; ok {
		return l, nil
	}
	if err, ok := u.layoutErr[id]; ok {
		return Layout{}, err
	}

	l, err := u.computeLayout(id)
	if err != nil {
		u.layoutErr[id] = err
		return Layout{}, err
	}
	u.layoutCache[id] = l
	return l, nil
}

// naturalAlign caps an integral/float alignment at 8 bytes, matching
// the x86-64/arm64 ABI the kernel BTF producers target (§4.7).
func naturalAlign(size uint32) uint32 {
	if size == 0 {
		return 1
	}
	return minOf(size, uint32(8))
}

func (u *Universe) computeLayout(id TypeID) (Layout, error) {
	switch t := u.Get(id).(type) {
	case Void:
		return Layout{Size: 0, Align: 1}, nil

	case *Int:
		return Layout{Size: t.Size, Align: naturalAlign(t.Size)}, nil

	case *Float:
		return Layout{Size: t.Size, Align: naturalAlign(t.Size)}, nil

	case *Enum:
		return Layout{Size: t.Size, Align: naturalAlign(t.Size)}, nil

	case *Enum64:
		return Layout{Size: t.Size, Align: naturalAlign(t.Size)}, nil

	case *Ptr:
		return Layout{Size: u.ptrSize, Align: u.ptrSize}, nil

	case *Array:
		if t.Nelems == 0 {
			elem, err := u.Layout(t.Elem)
			if err != nil {
				return Layout{}, err
			}
			return Layout{Size: 0, Align: elem.Align}, nil
		}
		elem, err := u.Layout(t.Elem)
		if err != nil {
			return Layout{}, err
		}
		return Layout{Size: elem.Size * t.Nelems, Align: elem.Align}, nil

	case *Typedef:
		return u.Layout(t.Base)
	case *Volatile:
		return u.Layout(t.Base)
	case *Const:
		return u.Layout(t.Base)
	case *Restrict:
		return u.Layout(t.Base)
	case *TypeTag:
		return u.Layout(t.Base)

	case *Var:
		return u.Layout(t.Type)

	case *Datasec:
		return Layout{Size: t.Size, Align: 1}, nil

	case *Struct:
		return u.layoutComposite(id, t.Size, t.KindFlag, t.Members, false)
	case *Union:
		return u.layoutComposite(id, t.Size, t.KindFlag, t.Members, true)

	case *Fwd:
		return Layout{}, fmt.Errorf("type id %d: forward declaration has no defined size: %w", id, ErrBadSize)

	default:
		// Func, FuncProto, DeclTag: not directly sizeable as C objects;
		// nothing in the layout computer ever needs their size, only
		// their identity, so a zero layout is harmless.
		return Layout{}, nil
	}
}

func (u *Universe) layoutComposite(id TypeID, declaredSize uint32, kindFlag bool, members []Member, isUnion bool) (Layout, error) {
	if kindFlag {
		return u.layoutBitfieldComposite(id, declaredSize, members, isUnion)
	}
	if isUnion {
		return u.layoutUnion(id, declaredSize, members)
	}
	return u.layoutStruct(id, declaredSize, members)
}

func (u *Universe) layoutUnion(id TypeID, declaredSize uint32, members []Member) (Layout, error) {
	var maxSizeBits uint32
	var maxAlign uint32 = 1
	for i, m := range members {
		ml, err := u.Layout(m.Type)
		if err != nil {
			return Layout{}, fmt.Errorf("type id %d: member %d: %w", id, i, err)
		}
		maxSizeBits = maxOf(maxSizeBits, ml.Size*8)
		maxAlign = maxOf(maxAlign, ml.Align)
	}

	naiveSize := (maxSizeBits + 7) / 8
	naturalSize := alignUp(naiveSize, maxAlign)

	switch declaredSize {
	case naturalSize:
		return Layout{Size: naturalSize, Align: maxAlign, Packed: false}, nil
	case naiveSize:
		return Layout{Size: naiveSize, Align: 1, Packed: true}, nil
	default:
		return Layout{}, fmt.Errorf("type id %d: declared size %d, computed %d (natural) or %d (packed): %w",
			id, declaredSize, naturalSize, naiveSize, ErrBadSize)
	}
}

func (u *Universe) layoutStruct(id TypeID, declaredSize uint32, members []Member) (Layout, error) {
	n := len(members)
	memberLayouts := make([]Layout, n)
	naturalOffsets := make([]uint32, n)

	var runningBits uint32
	var maxAlign uint32 = 1
	for i, m := range members {
		ml, err := u.Layout(m.Type)
		if err != nil {
			return Layout{}, fmt.Errorf("type id %d: member %d: %w", id, i, err)
		}
		memberLayouts[i] = ml
		alignBits := maxOf(ml.Align, 1) * 8
		aligned := alignUp(runningBits, alignBits)
		naturalOffsets[i] = aligned
		runningBits = aligned + ml.Size*8
		maxAlign = maxOf(maxAlign, ml.Align)
	}
	naturalSize := alignUp(runningBits, maxAlign*8) / 8

	matchesNatural := true
	for i, m := range members {
		if m.BitOffset != naturalOffsets[i] {
			matchesNatural = false
			break
		}
	}
	if matchesNatural && declaredSize == naturalSize {
		return Layout{Size: naturalSize, Align: maxAlign, Packed: false}, nil
	}

	// Packed hypothesis: trust the declared per-member offsets exactly
	// (no inserted padding) and recompute the overall size from them.
	var maxEndBits uint32
	for i, m := range members {
		end := m.BitOffset + memberLayouts[i].Size*8
		maxEndBits = maxOf(maxEndBits, end)
	}
	packedSize := (maxEndBits + 7) / 8
	if declaredSize == packedSize {
		return Layout{Size: packedSize, Align: 1, Packed: true}, nil
	}

	return Layout{}, fmt.Errorf("type id %d: declared size %d, computed %d (natural) or %d (packed): %w",
		id, declaredSize, naturalSize, packedSize, ErrBadSize)
}

// layoutBitfieldComposite handles struct/union kinds where kind_flag is
// set, so every member carries an explicit declared bit offset and bit
// width (§4.3) rather than one derived from its type's natural size.
// Those declared values are authoritative; the only thing left to
// compute is the composite's own overall size, which still must
// reconcile against the declared one exactly as for the non-bitfield
// case (§4.7's "if not, the composite is retroactively marked packed").
func (u *Universe) layoutBitfieldComposite(id TypeID, declaredSize uint32, members []Member, isUnion bool) (Layout, error) {
	var maxEndBits uint32
	var maxAlign uint32 = 1
	for i, m := range members {
		ml, err := u.Layout(m.Type)
		if err != nil {
			return Layout{}, fmt.Errorf("type id %d: member %d: %w", id, i, err)
		}
		width := m.BitWidth
		if width == 0 {
			width = ml.Size * 8
		}
		end := m.BitOffset + width
		maxEndBits = maxOf(maxEndBits, end)
		maxAlign = maxOf(maxAlign, ml.Align)
	}

	naiveSize := (maxEndBits + 7) / 8
	naturalSize := alignUp(naiveSize, maxAlign)

	switch declaredSize {
	case naturalSize:
		return Layout{Size: naturalSize, Align: maxAlign, Packed: false}, nil
	case naiveSize:
		return Layout{Size: naiveSize, Align: 1, Packed: true}, nil
	default:
		return Layout{}, fmt.Errorf("type id %d: declared size %d, computed %d (natural) or %d (packed): %w",
			id, declaredSize, naturalSize, naiveSize, ErrBadSize)
	}
}

// MemberByteOffset returns the declared byte offset of one non-bitfield
// member of a struct/union, resolving its bit offset to bytes. Bitfield
// members (BitWidth != 0 on a kind_flag composite) keep their offsets
// in Member.BitOffset/BitWidth directly; callers that need to print a
// field's storage location should branch on that before calling this.
func MemberByteOffset(m Member) uint32 {
	return m.BitOffset / 8
}
