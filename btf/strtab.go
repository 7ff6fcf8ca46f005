package btf

import (
	"bytes"
	"fmt"
)

// stringTable is an offset-indexed view into the NUL-terminated name
// region of a .BTF blob. lookup(0) is always "" (BTF's canonical
// "anonymous" marker); every other offset must land on, or before, a
// NUL within the region.
type stringTable struct {
	data []byte
}

func newStringTable(data []byte) stringTable {
	return stringTable{data: data}
}

func (s stringTable) lookup(off uint32) (string, error) {
	if off == 0 {
		return "", nil
	}
	if int(off) >= len(s.data) {
		return "", fmt.Errorf("string offset %d: %w", off, ErrBadStrOff)
	}
	rest := s.data[off:]
	nul := bytes.IndexByte(rest, 0)
	if nul < 0 {
		return "", fmt.Errorf("string offset %d: unterminated: %w", off, ErrBadStrOff)
	}
	return string(rest[:nul]), nil
}
