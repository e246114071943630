package module

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

// Relocatable modules are ELF32 objects with a vendor specific section
// carrying the module information and an export table embedded in .text.
const (
	iopmodSection = ".iopmod"
	iopmodType    = elf.SHT_LOPROC | 0x80
	irxType       = 0xff80 // e_type of a relocatable executable

	exportMagic = 0x41c0_0000
)

// Info describes a relocatable module, read from its image.
type Info struct {
	Name     string
	Version  uint16 // BCD encoded, 0x0102 is version 1.2
	Entry    uint32
	TextSize uint32
	DataSize uint32
	BSSSize  uint32

	// Libraries exported by the module.
	Libraries []Library
}

// Library is a named interface a module exports to other modules.
type Library struct {
	Name    string
	Version uint16
}

type iopmod struct {
	IDAddr   uint32
	Entry    uint32
	Unknown  uint32
	TextSize uint32
	DataSize uint32
	BSSSize  uint32
	Version  uint16
}

type export struct {
	Magic   uint32
	Next    uint32
	Version uint16
	Flags   uint16
	Name    [8]byte
}

// Identify parses a module image and returns its module information.
func Identify(data []byte) (*Info, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("module: parse image: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_MIPS {
		return nil, errors.New("module: not a 32-bit little-endian mips object")
	}
	if f.Type != irxType && f.Type != elf.ET_REL {
		return nil, fmt.Errorf("module: unexpected object type %#x", uint16(f.Type))
	}

	sec := f.Section(iopmodSection)
	if sec == nil {
		for _, s := range f.Sections {
			if s.Type == iopmodType {
				sec = s
				break
			}
		}
	}
	if sec == nil {
		return nil, errors.New("module: no module info section")
	}
	raw, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("module: read module info: %w", err)
	}

	var mod iopmod
	r := bytes.NewReader(raw)
	if err := binary.Read(r, binary.LittleEndian, &mod); err != nil {
		return nil, fmt.Errorf("module: decode module info: %w", err)
	}
	name := raw[len(raw)-r.Len():]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	info := &Info{
		Name:     string(name),
		Version:  mod.Version,
		Entry:    mod.Entry,
		TextSize: mod.TextSize,
		DataSize: mod.DataSize,
		BSSSize:  mod.BSSSize,
	}
	if text := f.Section(".text"); text != nil {
		raw, err := text.Data()
		if err != nil {
			return nil, fmt.Errorf("module: read text: %w", err)
		}
		info.Libraries = exports(raw)
	}
	return info, nil
}

// exports scans a text segment for the export tables of the libraries the
// module provides.
func exports(text []byte) (libs []Library) {
	for off := 0; off+20 <= len(text); off += 4 {
		if binary.LittleEndian.Uint32(text[off:]) != exportMagic {
			continue
		}
		var exp export
		binary.Read(bytes.NewReader(text[off:]), binary.LittleEndian, &exp)
		name := exp.Name[:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		if len(name) == 0 {
			continue
		}
		libs = append(libs, Library{Name: string(name), Version: exp.Version})
		off += 16
	}
	return libs
}

// versionCompatible reports whether a module of version have satisfies a
// request for version want.  Versions are BCD, the major number must match
// and the minor number must be at least the requested one.
func versionCompatible(have, want uint16) bool {
	return have>>8 == want>>8 && have&0xff >= want&0xff
}
