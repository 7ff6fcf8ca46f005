package btf

import "fmt"

// wire kind numbers, per the kernel's BTF_KIND_* constants. They line up
// 1:1 with this package's Kind values (Kind(0) is the reserved/implicit
// void slot that never appears as a real record), so decoding a kind
// byte is a direct cast once range-checked.
const maxWireKind = uint32(KindEnum64)

func mask(bits uint32) uint32 { return (1 << bits) - 1 }

func readBits(value, bits, shift uint32) uint32 {
	return (value >> shift) & mask(bits)
}

// commonHeader is the 12-byte prefix shared by every btf_type record
// (§4.3): name_off, info (vlen/kind/kind_flag packed), size_or_type.
type commonHeader struct {
	NameOff    uint32
	Info       uint32
	SizeOrType uint32
}

func (c commonHeader) kind() uint32   { return readBits(c.Info, 5, 24) }
func (c commonHeader) vlen() uint32   { return readBits(c.Info, 16, 0) }
func (c commonHeader) kindFlag() bool { return readBits(c.Info, 1, 31) == 1 }

func readCommonHeader(r *reader) (commonHeader, error) {
	var c commonHeader
	var err error
	if c.NameOff, err = r.readU32("type name offset"); err != nil {
		return c, err
	}
	if c.Info, err = r.readU32("type info"); err != nil {
		return c, err
	}
	if c.SizeOrType, err = r.readU32("type size/ref"); err != nil {
		return c, err
	}
	return c, nil
}

// decodeTypes walks the type section of a .BTF blob and produces one Type
// per record, in stream order (which is id order: the first record
// decoded is id 1). strs resolves name_off fields.
func decodeTypes(r *reader, strs stringTable) ([]Type, error) {
	var types []Type
	for id := TypeID(1); r.remaining() > 0; id++ {
		ch, err := readCommonHeader(r)
		if err != nil {
			return nil, err
		}

		kindNum := ch.kind()
		if kindNum == 0 || kindNum > maxWireKind {
			return nil, fmt.Errorf("type id %d: kind %d: %w", id, kindNum, ErrBadKind)
		}
		kind := Kind(kindNum)

		name, err := strs.lookup(ch.NameOff)
		if err != nil {
			return nil, fmt.Errorf("type id %d: %w", id, err)
		}
		c := common{id: id, name: name}

		t, err := decodeOne(r, strs, id, kind, c, ch)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func decodeOne(r *reader, strs stringTable, id TypeID, kind Kind, c common, ch commonHeader) (Type, error) {
	switch kind {
	case KindInt:
		raw, err := r.readU32("int encoding")
		if err != nil {
			return nil, err
		}
		return &Int{
			common:     c,
			Size:       ch.SizeOrType,
			Encoding:   IntEncoding(readBits(raw, 4, 24)),
			OffsetBits: readBits(raw, 8, 16),
			Bits:       readBits(raw, 8, 0),
		}, nil

	case KindPtr:
		return &Ptr{common: c, Target: TypeID(ch.SizeOrType)}, nil

	case KindArray:
		elem, err := r.readU32("array elem type")
		if err != nil {
			return nil, err
		}
		index, err := r.readU32("array index type")
		if err != nil {
			return nil, err
		}
		nelems, err := r.readU32("array nelems")
		if err != nil {
			return nil, err
		}
		return &Array{common: c, Elem: TypeID(elem), Index: TypeID(index), Nelems: nelems}, nil

	case KindStruct, KindUnion:
		members, err := decodeMembers(r, strs, id, ch.vlen(), ch.kindFlag(), kind == KindUnion)
		if err != nil {
			return nil, err
		}
		if kind == KindStruct {
			return &Struct{common: c, Size: ch.SizeOrType, KindFlag: ch.kindFlag(), Members: members}, nil
		}
		return &Union{common: c, Size: ch.SizeOrType, KindFlag: ch.kindFlag(), Members: members}, nil

	case KindEnum:
		vals, err := decodeEnumValues(r, strs, ch.vlen())
		if err != nil {
			return nil, err
		}
		if err := checkEnumValues(id, ch.SizeOrType, ch.kindFlag(), vals); err != nil {
			return nil, err
		}
		return &Enum{common: c, Size: ch.SizeOrType, Signed: ch.kindFlag(), Values: vals}, nil

	case KindEnum64:
		vals, err := decodeEnum64Values(r, strs, ch.vlen())
		if err != nil {
			return nil, err
		}
		return &Enum64{common: c, Size: ch.SizeOrType, Signed: ch.kindFlag(), Values: vals}, nil

	case KindFwd:
		fk := FwdStruct
		if ch.kindFlag() {
			fk = FwdUnion
		}
		return &Fwd{common: c, FwdKind: fk}, nil

	case KindTypedef:
		return &Typedef{common: c, Base: TypeID(ch.SizeOrType)}, nil

	case KindVolatile:
		return &Volatile{common: c, Base: TypeID(ch.SizeOrType)}, nil

	case KindConst:
		return &Const{common: c, Base: TypeID(ch.SizeOrType)}, nil

	case KindRestrict:
		return &Restrict{common: c, Base: TypeID(ch.SizeOrType)}, nil

	case KindTypeTag:
		return &TypeTag{common: c, Base: TypeID(ch.SizeOrType)}, nil

	case KindFunc:
		return &Func{common: c, Proto: TypeID(ch.SizeOrType), Linkage: Linkage(ch.vlen())}, nil

	case KindFuncProto:
		params, err := decodeParams(r, strs, ch.vlen())
		if err != nil {
			return nil, err
		}
		return &FuncProto{common: c, Return: TypeID(ch.SizeOrType), Params: params}, nil

	case KindVar:
		linkage, err := r.readU32("var linkage")
		if err != nil {
			return nil, err
		}
		return &Var{common: c, Type: TypeID(ch.SizeOrType), Linkage: Linkage(linkage)}, nil

	case KindDatasec:
		vars, err := decodeDatasecVars(r, ch.vlen())
		if err != nil {
			return nil, err
		}
		return &Datasec{common: c, Size: ch.SizeOrType, Vars: vars}, nil

	case KindFloat:
		return &Float{common: c, Size: ch.SizeOrType}, nil

	case KindDeclTag:
		idx, err := r.readU32("decl_tag component index")
		if err != nil {
			return nil, err
		}
		return &DeclTag{common: c, Target: TypeID(ch.SizeOrType), ComponentIdx: int32(idx)}, nil

	default:
		return nil, fmt.Errorf("type id %d: kind %v: %w", id, kind, ErrBadKind)
	}
}

func decodeMembers(r *reader, strs stringTable, id TypeID, vlen uint32, kindFlag bool, isUnion bool) ([]Member, error) {
	members := make([]Member, vlen)
	prevOffset := int64(-1)
	for i := range members {
		nameOff, err := r.readU32("member name offset")
		if err != nil {
			return nil, err
		}
		typ, err := r.readU32("member type")
		if err != nil {
			return nil, err
		}
		offset, err := r.readU32("member offset")
		if err != nil {
			return nil, err
		}

		name, err := strs.lookup(nameOff)
		if err != nil {
			return nil, fmt.Errorf("type id %d: member %d: %w", id, i, err)
		}

		m := Member{Name: name, Type: TypeID(typ)}
		if kindFlag {
			m.BitOffset = readBits(offset, 24, 0)
			m.BitWidth = readBits(offset, 8, 24)
		} else {
			m.BitOffset = offset
		}
		members[i] = m

		// Offset invariant (§3.1) only applies to non-bitfield members;
		// bitfield-kflagged members may legally share or reorder byte
		// offsets within the same storage unit. Structs and unions
		// split from there: a struct's non-bitfield members must be
		// strictly monotonic, since each one occupies its own span;
		// a union's members all overlay the same storage, so every
		// one of them must sit at offset zero.
		if !kindFlag {
			if isUnion {
				if m.BitOffset != 0 {
					return nil, fmt.Errorf("type id %d: member %d: union member at nonzero bit offset: %w", id, i, ErrBadTypeRef)
				}
			} else {
				if int64(m.BitOffset) <= prevOffset {
					return nil, fmt.Errorf("type id %d: member %d: non-monotonic bit offset: %w", id, i, ErrBadTypeRef)
				}
				prevOffset = int64(m.BitOffset)
			}
		}
	}
	return members, nil
}

func decodeEnumValues(r *reader, strs stringTable, vlen uint32) ([]EnumValue, error) {
	vals := make([]EnumValue, vlen)
	for i := range vals {
		nameOff, err := r.readU32("enum value name offset")
		if err != nil {
			return nil, err
		}
		val, err := r.readU32("enum value")
		if err != nil {
			return nil, err
		}
		name, err := strs.lookup(nameOff)
		if err != nil {
			return nil, err
		}
		vals[i] = EnumValue{Name: name, Value: int32(val)}
	}
	return vals, nil
}

func checkEnumValues(id TypeID, size uint32, signed bool, vals []EnumValue) error {
	if size == 0 || size > 8 {
		return nil // values of an enum with an implausible size are left unchecked
	}
	bits := size * 8
	for i, v := range vals {
		if !fitsInBits(int64(v.Value), bits, signed) {
			return fmt.Errorf("type id %d: enum value %d (%q=%d) does not fit %d-bit %s: %w",
				id, i, v.Name, v.Value, bits, signWord(signed), ErrBadEnumValue)
		}
	}
	return nil
}

func fitsInBits(v int64, bits uint32, signed bool) bool {
	if bits >= 64 {
		return true
	}
	if signed {
		lim := int64(1) << (bits - 1)
		return v >= -lim && v < lim
	}
	if v < 0 {
		return false
	}
	return uint64(v) < uint64(1)<<bits
}

func signWord(signed bool) string {
	if signed {
		return "signed"
	}
	return "unsigned"
}

func decodeEnum64Values(r *reader, strs stringTable, vlen uint32) ([]Enum64Value, error) {
	vals := make([]Enum64Value, vlen)
	for i := range vals {
		nameOff, err := r.readU32("enum64 value name offset")
		if err != nil {
			return nil, err
		}
		lo, err := r.readU32("enum64 value lo")
		if err != nil {
			return nil, err
		}
		hi, err := r.readU32("enum64 value hi")
		if err != nil {
			return nil, err
		}
		name, err := strs.lookup(nameOff)
		if err != nil {
			return nil, err
		}
		vals[i] = Enum64Value{Name: name, Lo: lo, Hi: hi}
	}
	return vals, nil
}

func decodeParams(r *reader, strs stringTable, vlen uint32) ([]FuncParam, error) {
	params := make([]FuncParam, vlen)
	for i := range params {
		nameOff, err := r.readU32("param name offset")
		if err != nil {
			return nil, err
		}
		typ, err := r.readU32("param type")
		if err != nil {
			return nil, err
		}
		name, err := strs.lookup(nameOff)
		if err != nil {
			return nil, err
		}
		params[i] = FuncParam{Name: name, Type: TypeID(typ)}
	}
	return params, nil
}

func decodeDatasecVars(r *reader, vlen uint32) ([]DatasecVar, error) {
	vars := make([]DatasecVar, vlen)
	for i := range vars {
		typ, err := r.readU32("datasec var type")
		if err != nil {
			return nil, err
		}
		offset, err := r.readU32("datasec var offset")
		if err != nil {
			return nil, err
		}
		size, err := r.readU32("datasec var size")
		if err != nil {
			return nil, err
		}
		vars[i] = DatasecVar{Type: TypeID(typ), Offset: offset, Size: size}
	}
	return vars, nil
}
