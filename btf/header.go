package btf

import (
	"encoding/binary"
	"fmt"
)

const btfMagic = 0xeB9F

// header is the on-disk .BTF / .BTF.ext common prefix (magic, version,
// flags, header length), per §4.1/§4.3. Field layout matches
// vendor/github.com/cilium/ebpf/btf/btf.go's btfHeader, which decodes the
// same kernel-defined struct.
type header struct {
	Magic   uint16
	Version uint8
	Flags   uint8
	HdrLen  uint32
}

// detectByteOrder inspects the first two bytes of a BTF/.BTF.ext stream
// and returns the byte order implied by the magic, per §4.3: native order
// reads 0xEB9F, byte-swapped (big-endian) order reads 0x9FEB.
func detectByteOrder(b []byte) (binary.ByteOrder, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("magic at offset 0: %w", ErrTruncated)
	}
	if binary.LittleEndian.Uint16(b) == btfMagic {
		return binary.LittleEndian, nil
	}
	if binary.BigEndian.Uint16(b) == btfMagic {
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("magic %#04x: %w", binary.LittleEndian.Uint16(b), ErrBadMagic)
}

// btfHeader is the full .BTF section header (§4.3): common prefix plus
// the type- and string-section descriptors.
type btfHeader struct {
	header
	TypeOff   uint32
	TypeLen   uint32
	StringOff uint32
	StringLen uint32
}

func parseBTFHeader(r *reader) (btfHeader, error) {
	var h btfHeader
	var err error

	magic, err := r.readU16("magic")
	if err != nil {
		return h, err
	}
	if magic != btfMagic {
		return h, fmt.Errorf("magic %#04x: %w", magic, ErrBadMagic)
	}
	h.Magic = magic

	if h.Version, err = r.readU8("version"); err != nil {
		return h, err
	}
	if h.Flags, err = r.readU8("flags"); err != nil {
		return h, err
	}
	if h.HdrLen, err = r.readU32("header length"); err != nil {
		return h, err
	}
	if h.TypeOff, err = r.readU32("type section offset"); err != nil {
		return h, err
	}
	if h.TypeLen, err = r.readU32("type section length"); err != nil {
		return h, err
	}
	if h.StringOff, err = r.readU32("string section offset"); err != nil {
		return h, err
	}
	if h.StringLen, err = r.readU32("string section length"); err != nil {
		return h, err
	}
	return h, nil
}

// btfExtHeader is the .BTF.ext section header (§4.9): common prefix plus
// the three sub-section descriptors. The core-relocation descriptor only
// exists when HdrLen indicates the header carries it (older kernels emit
// a shorter header with just func/line info).
type btfExtHeader struct {
	header
	FuncInfoOff uint32
	FuncInfoLen uint32
	LineInfoOff uint32
	LineInfoLen uint32
	CoreReloOff uint32
	CoreReloLen uint32
	hasCoreRelo bool
}

const (
	extHeaderLenNoRelo = 8 + 16 // common(8) + func/line pairs(16)
	extHeaderLenRelo   = 8 + 24 // + core reloc pair(8)
)

func parseBTFExtHeader(r *reader) (btfExtHeader, error) {
	var h btfExtHeader
	var err error

	magic, err := r.readU16("ext magic")
	if err != nil {
		return h, err
	}
	if magic != btfMagic {
		return h, fmt.Errorf("ext magic %#04x: %w", magic, ErrBadMagic)
	}
	h.Magic = magic

	if h.Version, err = r.readU8("ext version"); err != nil {
		return h, err
	}
	if h.Flags, err = r.readU8("ext flags"); err != nil {
		return h, err
	}
	if h.HdrLen, err = r.readU32("ext header length"); err != nil {
		return h, err
	}
	if h.FuncInfoOff, err = r.readU32("func info offset"); err != nil {
		return h, err
	}
	if h.FuncInfoLen, err = r.readU32("func info length"); err != nil {
		return h, err
	}
	if h.LineInfoOff, err = r.readU32("line info offset"); err != nil {
		return h, err
	}
	if h.LineInfoLen, err = r.readU32("line info length"); err != nil {
		return h, err
	}

	if h.HdrLen > extHeaderLenNoRelo {
		h.hasCoreRelo = true
		if h.CoreReloOff, err = r.readU32("core reloc offset"); err != nil {
			return h, err
		}
		if h.CoreReloLen, err = r.readU32("core reloc length"); err != nil {
			return h, err
		}
	}
	return h, nil
}
