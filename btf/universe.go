package btf

import (
	"encoding/binary"
	"fmt"
)

// Universe is the decoded, addressable type graph for one .BTF blob.
// Id 0 is always the synthetic Void; ids 1..len(types) are the decoded
// records in stream order. All derived results (edges, order, layout)
// are computed lazily and cached for the lifetime of the Universe, per
// §5's "computed once and cached per universe".
type Universe struct {
	types   []Type
	strs    stringTable
	bo      binary.ByteOrder
	ptrSize uint32

	byName      map[string][]TypeID
	byEssential map[string][]TypeID

	graph      [][]edge
	graphBuilt bool

	orderCache []TypeID
	orderErr   error
	orderBuilt bool

	layoutCache map[TypeID]Layout
	layoutErr   map[TypeID]error
}

// Option configures a Parse call.
type Option func(*parseOpts)

type parseOpts struct {
	ptrSize uint32
}

// WithPointerSize overrides the default 8-byte (64-bit ABI) pointer
// size/alignment used by the layout computer (§4.7).
func WithPointerSize(n uint32) Option {
	return func(o *parseOpts) { o.ptrSize = n }
}

// Parse decodes a .BTF blob into a Universe.
func Parse(btfBytes []byte, opts ...Option) (*Universe, error) {
	o := parseOpts{ptrSize: 8}
	for _, apply := range opts {
		apply(&o)
	}

	bo, err := detectByteOrder(btfBytes)
	if err != nil {
		return nil, err
	}

	r := newReader(btfBytes, bo)
	hdr, err := parseBTFHeader(r)
	if err != nil {
		return nil, err
	}

	typesStart := int(hdr.HdrLen + hdr.TypeOff)
	typesEnd := typesStart + int(hdr.TypeLen)
	strStart := int(hdr.HdrLen + hdr.StringOff)
	strEnd := strStart + int(hdr.StringLen)

	typeBytes, err := r.subslice("type section", typesStart, typesEnd-typesStart)
	if err != nil {
		return nil, err
	}
	strBytes, err := r.subslice("string section", strStart, strEnd-strStart)
	if err != nil {
		return nil, err
	}

	strs := newStringTable(strBytes)
	tr := newReader(typeBytes, bo)
	types, err := decodeTypes(tr, strs)
	if err != nil {
		return nil, err
	}

	u := &Universe{
		types:   types,
		strs:    strs,
		bo:      bo,
		ptrSize: o.ptrSize,
	}

	if err := u.validateRefs(); err != nil {
		return nil, err
	}
	if err := u.checkTypedefCycles(); err != nil {
		return nil, err
	}

	u.buildNameIndex()
	return u, nil
}

func (u *Universe) buildNameIndex() {
	u.byName = make(map[string][]TypeID, len(u.types))
	u.byEssential = make(map[string][]TypeID, len(u.types))
	for _, t := range u.types {
		name := t.TypeName()
		if name == "" {
			continue
		}
		u.byName[name] = append(u.byName[name], t.ID())
		u.byEssential[essentialName(name)] = append(u.byEssential[essentialName(name)], t.ID())
	}
}

// essentialName strips a trailing "___<flavor>" compiler-generated
// disambiguator, the same normalization cilium/ebpf's btf package uses
// (essentialName) so CO-RE-style lookups can match duplicate-named
// types across translation units.
func essentialName(name string) string {
	for i := len(name) - 1; i >= 2; i-- {
		if name[i] == '_' && name[i-1] == '_' && name[i-2] == '_' {
			return name[:i-2]
		}
	}
	return name
}

// NumTypes returns the number of decoded, non-void types (ids 1..N).
func (u *Universe) NumTypes() int { return len(u.types) }

// Get returns the type for id, or Void{} for id 0. Panics if id is out
// of range; callers that accept untrusted ids should check
// id <= NumTypes() first (validateRefs already guarantees every id
// stored inside the universe is in range).
func (u *Universe) Get(id TypeID) Type {
	if id == 0 {
		return Void{}
	}
	return u.types[id-1]
}

// ByteOrder reports the byte order the blob was decoded with.
func (u *Universe) ByteOrder() binary.ByteOrder { return u.bo }

// PointerSize reports the configured pointer size/alignment.
func (u *Universe) PointerSize() uint32 { return u.ptrSize }

// Resolve strips Const/Volatile/Restrict/Typedef/TypeTag modifiers until
// it reaches a non-modifier kind (§4.4). Cycles were already rejected at
// parse time by checkTypedefCycles, so this never loops forever.
func (u *Universe) Resolve(id TypeID) TypeID {
	for {
		switch t := u.Get(id).(type) {
		case *Typedef:
			id = t.Base
		case *Volatile:
			id = t.Base
		case *Const:
			id = t.Base
		case *Restrict:
			id = t.Base
		case *TypeTag:
			id = t.Base
		default:
			return id
		}
	}
}

// ResolveArrayElem is Resolve, additionally stripping Array wrappers, so
// e.g. "typedef int Matrix[4][4]" resolves down to plain int.
func (u *Universe) ResolveArrayElem(id TypeID) TypeID {
	for {
		id = u.Resolve(id)
		if a, ok := u.Get(id).(*Array); ok {
			id = a.Elem
			continue
		}
		return id
	}
}

// FindByName returns every type of the given kind (or any kind, if
// kinds is empty) whose exact name matches. Kind filtering happens here
// rather than in a separate "kind_class" concept because Kind already
// is the closed dispatch tag (§3.1).
func (u *Universe) FindByName(name string, kinds ...Kind) []TypeID {
	return filterByKind(u.byName[name], u, kinds)
}

// FindByEssentialName is FindByName against the flavor-stripped name
// (see essentialName).
func (u *Universe) FindByEssentialName(name string, kinds ...Kind) []TypeID {
	return filterByKind(u.byEssential[essentialName(name)], u, kinds)
}

func filterByKind(ids []TypeID, u *Universe, kinds []Kind) []TypeID {
	if len(kinds) == 0 {
		return ids
	}
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []TypeID
	for _, id := range ids {
		if want[u.Get(id).Kind()] {
			out = append(out, id)
		}
	}
	return out
}

func (u *Universe) checkRange(id TypeID) error {
	if int(id) > len(u.types) {
		return fmt.Errorf("type id %d: %w", id, ErrBadTypeRef)
	}
	return nil
}
