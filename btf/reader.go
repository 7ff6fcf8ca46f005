package btf

import (
	"encoding/binary"
	"fmt"
)

// reader is a positional cursor over an immutable byte slice. It mirrors
// the teacher's isolate parser: every read reports what it was trying to
// read and at what offset, wrapped around ErrTruncated, instead of a bare
// io.ErrUnexpectedEOF.
type reader struct {
	b   []byte
	cur int
	bo  binary.ByteOrder
}

func newReader(b []byte, bo binary.ByteOrder) *reader {
	return &reader{b: b, bo: bo}
}

func (r *reader) offset() int {
	return r.cur
}

func (r *reader) remaining() int {
	return len(r.b) - r.cur
}

func (r *reader) need(thing string, n int) error {
	if r.remaining() < n {
		return fmt.Errorf("%s at offset %d: %w", thing, r.cur, ErrTruncated)
	}
	return nil
}

func (r *reader) skip(thing string, n int) error {
	if err := r.need(thing, n); err != nil {
		return err
	}
	r.cur += n
	return nil
}

func (r *reader) reset(offset int) {
	r.cur = offset
}

func (r *reader) subslice(thing string, offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > len(r.b) {
		return nil, fmt.Errorf("%s at offset %d: %w", thing, offset, ErrTruncated)
	}
	return r.b[offset : offset+n], nil
}

func (r *reader) readU8(thing string) (uint8, error) {
	if err := r.need(thing, 1); err != nil {
		return 0, err
	}
	v := r.b[r.cur]
	r.cur++
	return v, nil
}

func (r *reader) readU16(thing string) (uint16, error) {
	if err := r.need(thing, 2); err != nil {
		return 0, err
	}
	v := r.bo.Uint16(r.b[r.cur : r.cur+2])
	r.cur += 2
	return v, nil
}

func (r *reader) readU32(thing string) (uint32, error) {
	if err := r.need(thing, 4); err != nil {
		return 0, err
	}
	v := r.bo.Uint32(r.b[r.cur : r.cur+4])
	r.cur += 4
	return v, nil
}

func (r *reader) readU64(thing string) (uint64, error) {
	if err := r.need(thing, 8); err != nil {
		return 0, err
	}
	v := r.bo.Uint64(r.b[r.cur : r.cur+8])
	r.cur += 8
	return v, nil
}

func (r *reader) readN(thing string, n int) ([]byte, error) {
	if err := r.need(thing, n); err != nil {
		return nil, err
	}
	b := r.b[r.cur : r.cur+n]
	r.cur += n
	return b, nil
}
