package main

import (
	"bytes"
	"debug/elf"
	"os"

	terrors "tlog.app/go/errors"
)

// readSectionOrRaw returns the bytes of an ELF section named sectionName
// from path if path is an ELF object (.o/.ko/vmlinux), or the raw file
// contents otherwise. This mirrors cilium/ebpf's LoadSpecFromReader,
// which does the same ELF-vs-raw-blob detection before handing bytes to
// its BTF parser; the core package never does ELF detection itself (§1
// Non-goals keep the ELF reader out of the core's public API).
func readSectionOrRaw(path string, sectionName string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, terrors.Wrap(err, "read %v", path)
	}
	if !bytes.HasPrefix(raw, []byte(elf.ELFMAG)) {
		return raw, nil
	}

	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, terrors.Wrap(err, "open ELF %v", path)
	}
	defer f.Close()

	sec := f.Section(sectionName)
	if sec == nil {
		return nil, terrors.New("%v: no %v section", path, sectionName)
	}
	data, err := sec.Data()
	if err != nil {
		return nil, terrors.Wrap(err, "read %v section of %v", sectionName, path)
	}
	return data, nil
}
