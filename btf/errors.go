package btf

import "errors"

// Sentinel errors making up the closed error taxonomy. Every fatal
// decode/order/layout error wraps one of these with fmt.Errorf("%w", ...)
// so callers can errors.Is against a stable tag regardless of the
// offset/id/reason text attached to it.
var (
	ErrTruncated       = errors.New("truncated")
	ErrBadMagic        = errors.New("bad magic")
	ErrBadKind         = errors.New("bad kind")
	ErrBadStrOff       = errors.New("bad string offset")
	ErrBadTypeRef      = errors.New("bad type reference")
	ErrBadTypedefCycle = errors.New("typedef cycle")
	ErrBadStrongCycle  = errors.New("strong containment cycle")
	ErrBadSize         = errors.New("size mismatch")
	ErrBadEnumValue    = errors.New("enum value out of range")
	ErrBadExtLayout    = errors.New("bad .BTF.ext layout")
	ErrEmitIO          = errors.New("emit io error")
)
