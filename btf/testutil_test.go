package btf

import "encoding/binary"

// btfBuilder assembles a synthetic .BTF blob by hand, mirroring the wire
// layout decode.go expects, so tests can construct specific type graphs
// without shipping real kernel-produced fixtures.
type btfBuilder struct {
	types  []byte
	strs   []byte
	strOff map[string]uint32
	nextID TypeID
}

func newBTFBuilder() *btfBuilder {
	return &btfBuilder{
		strs:   []byte{0},
		strOff: map[string]uint32{"": 0},
		nextID: 1,
	}
}

func (b *btfBuilder) str(s string) uint32 {
	if off, ok := b.strOff[s]; ok {
		return off
	}
	off := uint32(len(b.strs))
	b.strs = append(b.strs, []byte(s)...)
	b.strs = append(b.strs, 0)
	b.strOff[s] = off
	return off
}

func (b *btfBuilder) addRaw(name string, kind Kind, vlen uint32, kindFlag bool, sizeOrType uint32, body []byte) TypeID {
	id := b.nextID
	b.nextID++

	info := uint32(kind)<<24 | (vlen & 0xffff)
	if kindFlag {
		info |= 1 << 31
	}
	b.types = binary.LittleEndian.AppendUint32(b.types, b.str(name))
	b.types = binary.LittleEndian.AppendUint32(b.types, info)
	b.types = binary.LittleEndian.AppendUint32(b.types, sizeOrType)
	b.types = append(b.types, body...)
	return id
}

func (b *btfBuilder) addInt(name string, size uint32, encoding IntEncoding, bits uint32) TypeID {
	raw := uint32(encoding)<<24 | bits
	body := binary.LittleEndian.AppendUint32(nil, raw)
	return b.addRaw(name, KindInt, 0, false, size, body)
}

func (b *btfBuilder) addPtr(name string, target TypeID) TypeID {
	return b.addRaw(name, KindPtr, 0, false, uint32(target), nil)
}

func (b *btfBuilder) addArray(name string, elem, index TypeID, nelems uint32) TypeID {
	var body []byte
	body = binary.LittleEndian.AppendUint32(body, uint32(elem))
	body = binary.LittleEndian.AppendUint32(body, uint32(index))
	body = binary.LittleEndian.AppendUint32(body, nelems)
	return b.addRaw(name, KindArray, 0, false, 0, body)
}

type memberSpec struct {
	Name      string
	Type      TypeID
	BitOffset uint32
	BitWidth  uint32
}

func (b *btfBuilder) addComposite(name string, kind Kind, size uint32, kindFlag bool, members []memberSpec) TypeID {
	var body []byte
	for _, m := range members {
		body = binary.LittleEndian.AppendUint32(body, b.str(m.Name))
		body = binary.LittleEndian.AppendUint32(body, uint32(m.Type))
		var off uint32
		if kindFlag {
			off = (m.BitWidth&0xff)<<24 | (m.BitOffset & 0xffffff)
		} else {
			off = m.BitOffset
		}
		body = binary.LittleEndian.AppendUint32(body, off)
	}
	return b.addRaw(name, kind, uint32(len(members)), kindFlag, size, body)
}

type enumValSpec struct {
	Name  string
	Value int32
}

func (b *btfBuilder) addEnum(name string, size uint32, signed bool, vals []enumValSpec) TypeID {
	var body []byte
	for _, v := range vals {
		body = binary.LittleEndian.AppendUint32(body, b.str(v.Name))
		body = binary.LittleEndian.AppendUint32(body, uint32(v.Value))
	}
	return b.addRaw(name, KindEnum, uint32(len(vals)), signed, size, body)
}

type enum64ValSpec struct {
	Name string
	Lo   uint32
	Hi   uint32
}

func (b *btfBuilder) addEnum64(name string, size uint32, signed bool, vals []enum64ValSpec) TypeID {
	var body []byte
	for _, v := range vals {
		body = binary.LittleEndian.AppendUint32(body, b.str(v.Name))
		body = binary.LittleEndian.AppendUint32(body, v.Lo)
		body = binary.LittleEndian.AppendUint32(body, v.Hi)
	}
	return b.addRaw(name, KindEnum64, uint32(len(vals)), signed, size, body)
}

func (b *btfBuilder) addFwd(name string, fwdKind FwdKind) TypeID {
	return b.addRaw(name, KindFwd, 0, fwdKind == FwdUnion, 0, nil)
}

func (b *btfBuilder) addTypedef(name string, base TypeID) TypeID {
	return b.addRaw(name, KindTypedef, 0, false, uint32(base), nil)
}

func (b *btfBuilder) addVolatile(base TypeID) TypeID {
	return b.addRaw("", KindVolatile, 0, false, uint32(base), nil)
}

func (b *btfBuilder) addConst(base TypeID) TypeID {
	return b.addRaw("", KindConst, 0, false, uint32(base), nil)
}

func (b *btfBuilder) addRestrict(base TypeID) TypeID {
	return b.addRaw("", KindRestrict, 0, false, uint32(base), nil)
}

func (b *btfBuilder) addTypeTag(name string, base TypeID) TypeID {
	return b.addRaw(name, KindTypeTag, 0, false, uint32(base), nil)
}

func (b *btfBuilder) addFunc(name string, proto TypeID, linkage Linkage) TypeID {
	return b.addRaw(name, KindFunc, uint32(linkage), false, uint32(proto), nil)
}

type paramSpec struct {
	Name string
	Type TypeID
}

func (b *btfBuilder) addFuncProto(ret TypeID, params []paramSpec) TypeID {
	var body []byte
	for _, p := range params {
		body = binary.LittleEndian.AppendUint32(body, b.str(p.Name))
		body = binary.LittleEndian.AppendUint32(body, uint32(p.Type))
	}
	return b.addRaw("", KindFuncProto, uint32(len(params)), false, uint32(ret), body)
}

func (b *btfBuilder) addVar(name string, typ TypeID, linkage Linkage) TypeID {
	body := binary.LittleEndian.AppendUint32(nil, uint32(linkage))
	return b.addRaw(name, KindVar, 0, false, uint32(typ), body)
}

type datasecVarSpec struct {
	Type   TypeID
	Offset uint32
	Size   uint32
}

func (b *btfBuilder) addDatasec(name string, size uint32, vars []datasecVarSpec) TypeID {
	var body []byte
	for _, v := range vars {
		body = binary.LittleEndian.AppendUint32(body, uint32(v.Type))
		body = binary.LittleEndian.AppendUint32(body, v.Offset)
		body = binary.LittleEndian.AppendUint32(body, v.Size)
	}
	return b.addRaw(name, KindDatasec, uint32(len(vars)), false, size, body)
}

func (b *btfBuilder) addFloat(name string, size uint32) TypeID {
	return b.addRaw(name, KindFloat, 0, false, size, nil)
}

func (b *btfBuilder) addDeclTag(name string, target TypeID, componentIdx int32) TypeID {
	body := binary.LittleEndian.AppendUint32(nil, uint32(componentIdx))
	return b.addRaw(name, KindDeclTag, 0, false, uint32(target), body)
}

// build assembles the header-prefixed .BTF blob: 24-byte header, then the
// type section, then the string section, contiguous and offset-relative
// to the end of the header, matching parseBTFHeader's expectations.
func (b *btfBuilder) build() []byte {
	const hdrLen = 24

	buf := make([]byte, 0, hdrLen+len(b.types)+len(b.strs))
	buf = binary.LittleEndian.AppendUint16(buf, btfMagic)
	buf = append(buf, 1, 0) // version, flags
	buf = binary.LittleEndian.AppendUint32(buf, hdrLen)
	buf = binary.LittleEndian.AppendUint32(buf, 0)                  // type_off
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.types))) // type_len
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.types))) // str_off
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.strs)))  // str_len
	buf = append(buf, b.types...)
	buf = append(buf, b.strs...)
	return buf
}

func (b *btfBuilder) mustParse(opts ...Option) *Universe {
	u, err := Parse(b.build(), opts...)
	if err != nil {
		panic(err)
	}
	return u
}
