package btf

import "fmt"

// TypeID indexes the type universe. 0 is the implicit void type; every
// other id must name a decoded record.
type TypeID uint32

// Kind is the closed set of BTF type variants (§3.1). It is a tagged
// union at the data level: every Type implementation below reports its
// own Kind and consumers switch on it, the same closed-dispatch shape
// the teacher uses for its own typeCode/valType variants in
// isolate/types.go.
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt
	KindPtr
	KindArray
	KindStruct
	KindUnion
	KindEnum
	KindFwd
	KindTypedef
	KindVolatile
	KindConst
	KindRestrict
	KindFunc
	KindFuncProto
	KindVar
	KindDatasec
	KindFloat
	KindDeclTag
	KindTypeTag
	KindEnum64
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "VOID"
	case KindInt:
		return "INT"
	case KindPtr:
		return "PTR"
	case KindArray:
		return "ARRAY"
	case KindStruct:
		return "STRUCT"
	case KindUnion:
		return "UNION"
	case KindEnum:
		return "ENUM"
	case KindFwd:
		return "FWD"
	case KindTypedef:
		return "TYPEDEF"
	case KindVolatile:
		return "VOLATILE"
	case KindConst:
		return "CONST"
	case KindRestrict:
		return "RESTRICT"
	case KindFunc:
		return "FUNC"
	case KindFuncProto:
		return "FUNC_PROTO"
	case KindVar:
		return "VAR"
	case KindDatasec:
		return "DATASEC"
	case KindFloat:
		return "FLOAT"
	case KindDeclTag:
		return "DECL_TAG"
	case KindTypeTag:
		return "TYPE_TAG"
	case KindEnum64:
		return "ENUM64"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// Type is implemented by every decoded record plus the synthetic void
// value at id 0. It is a closed set: adding a kind means adding a struct
// below, never an open interface hierarchy (§9 "Polymorphism over
// kinds").
type Type interface {
	ID() TypeID
	Kind() Kind
	TypeName() string
}

type common struct {
	id   TypeID
	name string
}

func (c common) ID() TypeID      { return c.id }
func (c common) TypeName() string { return c.name }

// Void is the implicit id-0 type. No record is ever decoded for it; the
// universe synthesizes one value on demand.
type Void struct{}

func (Void) ID() TypeID       { return 0 }
func (Void) Kind() Kind       { return KindVoid }
func (Void) TypeName() string { return "" }

// IntEncoding is a bitmask of BTF_INT_* flags.
type IntEncoding uint8

const (
	IntSigned IntEncoding = 1 << 0
	IntChar   IntEncoding = 1 << 1
	IntBool   IntEncoding = 1 << 2
)

func (e IntEncoding) Signed() bool { return e&IntSigned != 0 }
func (e IntEncoding) Char() bool   { return e&IntChar != 0 }
func (e IntEncoding) Bool() bool   { return e&IntBool != 0 }

type Int struct {
	common
	Size       uint32
	Encoding   IntEncoding
	OffsetBits uint32
	Bits       uint32
}

func (*Int) Kind() Kind { return KindInt }

type Ptr struct {
	common
	Target TypeID
}

func (*Ptr) Kind() Kind { return KindPtr }

type Array struct {
	common
	Elem   TypeID
	Index  TypeID
	Nelems uint32
}

func (*Array) Kind() Kind { return KindArray }

// Member is one field of a Struct or Union. BitWidth is only meaningful
// when the enclosing composite is bitfield-kflagged; otherwise the
// member's own type size determines its width.
type Member struct {
	Name      string
	Type      TypeID
	BitOffset uint32
	BitWidth  uint32
}

type Struct struct {
	common
	Size     uint32
	KindFlag bool
	Members  []Member
}

func (*Struct) Kind() Kind { return KindStruct }

type Union struct {
	common
	Size     uint32
	KindFlag bool
	Members  []Member
}

func (*Union) Kind() Kind { return KindUnion }

type EnumValue struct {
	Name  string
	Value int32
}

type Enum struct {
	common
	Size   uint32
	Signed bool
	Values []EnumValue
}

func (*Enum) Kind() Kind { return KindEnum }

// Enum64Value stores the 64-bit value as the lo/hi halves BTF_KIND_ENUM64
// uses on the wire.
type Enum64Value struct {
	Name string
	Lo   uint32
	Hi   uint32
}

func (v Enum64Value) Uint64() uint64 { return uint64(v.Hi)<<32 | uint64(v.Lo) }
func (v Enum64Value) Int64() int64   { return int64(v.Uint64()) }

type Enum64 struct {
	common
	Size   uint32
	Signed bool
	Values []Enum64Value
}

func (*Enum64) Kind() Kind { return KindEnum64 }

type FwdKind uint8

const (
	FwdStruct FwdKind = iota
	FwdUnion
)

type Fwd struct {
	common
	FwdKind FwdKind
}

func (*Fwd) Kind() Kind { return KindFwd }

type Typedef struct {
	common
	Base TypeID
}

func (*Typedef) Kind() Kind { return KindTypedef }

type Volatile struct {
	common
	Base TypeID
}

func (*Volatile) Kind() Kind { return KindVolatile }

type Const struct {
	common
	Base TypeID
}

func (*Const) Kind() Kind { return KindConst }

type Restrict struct {
	common
	Base TypeID
}

func (*Restrict) Kind() Kind { return KindRestrict }

type TypeTag struct {
	common
	Base TypeID
}

func (*TypeTag) Kind() Kind { return KindTypeTag }

// Linkage mirrors BTF_FUNC_*/BTF_VAR_* linkage values, shared between
// Func and Var per the real format.
type Linkage uint8

const (
	LinkageStatic Linkage = iota
	LinkageGlobal
	LinkageExtern
)

func (l Linkage) String() string {
	switch l {
	case LinkageStatic:
		return "static"
	case LinkageGlobal:
		return "global"
	case LinkageExtern:
		return "extern"
	default:
		return fmt.Sprintf("linkage(%d)", uint8(l))
	}
}

type Func struct {
	common
	Proto   TypeID
	Linkage Linkage
}

func (*Func) Kind() Kind { return KindFunc }

// FuncParam is one parameter of a FuncProto. A zero Type with a non-empty
// implicit trailing param denotes the "..." vararg marker in real BTF;
// represented here as Type == 0 with Name == "".
type FuncParam struct {
	Name string
	Type TypeID
}

type FuncProto struct {
	common
	Return TypeID
	Params []FuncParam
}

func (*FuncProto) Kind() Kind { return KindFuncProto }

type Var struct {
	common
	Type    TypeID
	Linkage Linkage
}

func (*Var) Kind() Kind { return KindVar }

type DatasecVar struct {
	Type   TypeID
	Offset uint32
	Size   uint32
}

type Datasec struct {
	common
	Size uint32
	Vars []DatasecVar
}

func (*Datasec) Kind() Kind { return KindDatasec }

type Float struct {
	common
	Size uint32
}

func (*Float) Kind() Kind { return KindFloat }

// DeclTag attaches a compiler-generated __attribute__((btf_decl_tag(...)))
// string to a type or one of its members. ComponentIdx is -1 for "whole
// type".
type DeclTag struct {
	common
	Target       TypeID
	ComponentIdx int32
}

func (*DeclTag) Kind() Kind { return KindDeclTag }
