package module_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/clktmr/ps2/iop"
	"github.com/clktmr/ps2/iop/heap"
	"github.com/clktmr/ps2/iop/ioperr"
	"github.com/clktmr/ps2/iop/module"
	"github.com/clktmr/ps2/sif"
	"github.com/clktmr/ps2/siftest"
)

// buildIRX assembles a minimal relocatable module image: an ELF32 object
// with the module info section, a text section holding one library export
// and a section name table.
func buildIRX(t *testing.T, name, lib string, version uint16) []byte {
	t.Helper()
	var w bytes.Buffer
	le := binary.LittleEndian

	var iopmod bytes.Buffer
	binary.Write(&iopmod, le, [6]uint32{
		0xffff_ffff, // no module id
		0x80,        // entry
		0,
		0x100, // text size
		0x40,  // data size
		0x20,  // bss size
	})
	binary.Write(&iopmod, le, version)
	iopmod.WriteString(name)
	iopmod.WriteByte(0)

	var text bytes.Buffer
	binary.Write(&text, le, uint32(0x41c0_0000)) // export magic
	binary.Write(&text, le, uint32(0))
	binary.Write(&text, le, version)
	binary.Write(&text, le, uint16(0))
	var libName [8]byte
	copy(libName[:], lib)
	text.Write(libName[:])

	shstrtab := []byte("\x00.iopmod\x00.text\x00.shstrtab\x00")

	const ehsize, shentsize = 52, 40
	iopmodOff := uint32(ehsize)
	textOff := iopmodOff + uint32(iopmod.Len())
	strtabOff := textOff + uint32(text.Len())
	shoff := (strtabOff + uint32(len(shstrtab)) + 3) &^ 3

	// ELF header
	w.Write([]byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	binary.Write(&w, le, uint16(0xff80)) // e_type, relocatable executable
	binary.Write(&w, le, uint16(8))      // e_machine, mips
	binary.Write(&w, le, uint32(1))      // e_version
	binary.Write(&w, le, uint32(0))      // e_entry
	binary.Write(&w, le, uint32(0))      // e_phoff
	binary.Write(&w, le, shoff)          // e_shoff
	binary.Write(&w, le, uint32(0))      // e_flags
	binary.Write(&w, le, uint16(ehsize))
	binary.Write(&w, le, uint16(0)) // e_phentsize
	binary.Write(&w, le, uint16(0)) // e_phnum
	binary.Write(&w, le, uint16(shentsize))
	binary.Write(&w, le, uint16(4)) // e_shnum
	binary.Write(&w, le, uint16(3)) // e_shstrndx

	w.Write(iopmod.Bytes())
	w.Write(text.Bytes())
	w.Write(shstrtab)
	for w.Len() < int(shoff) {
		w.WriteByte(0)
	}

	shdr := func(name, typ, flags, off, size, align uint32) {
		binary.Write(&w, le, [10]uint32{name, typ, flags, 0, off, size, 0, 0, align, 0})
	}
	shdr(0, 0, 0, 0, 0, 0)
	shdr(1, 0x7000_0080, 0, iopmodOff, uint32(iopmod.Len()), 4)
	shdr(9, 1, 0x6, textOff, uint32(text.Len()), 4)
	shdr(15, 3, 0, strtabOff, uint32(len(shstrtab)), 1)

	return w.Bytes()
}

func TestIdentify(t *testing.T) {
	data := buildIRX(t, "sio2man", "sio2", 0x0102)

	info, err := module.Identify(data)
	if err != nil {
		t.Fatal("identify:", err)
	}
	if info.Name != "sio2man" || info.Version != 0x0102 {
		t.Errorf("got %q version %x", info.Name, info.Version)
	}
	if info.TextSize != 0x100 || info.DataSize != 0x40 || info.BSSSize != 0x20 {
		t.Errorf("got sizes %#x/%#x/%#x", info.TextSize, info.DataSize, info.BSSSize)
	}
	if len(info.Libraries) != 1 || info.Libraries[0].Name != "sio2" {
		t.Errorf("got libraries %v", info.Libraries)
	}
}

func TestIdentifyRejectsJunk(t *testing.T) {
	if _, err := module.Identify([]byte("not an object")); err == nil {
		t.Error("junk image accepted")
	}
}

// serveIOP registers a heap and a linker service on the fake companion.  The
// linker verifies the staged image and records linked module names.
func serveIOP(t *testing.T, rig *siftest.Rig, linked *[]string) {
	next := uint32(iop.RAMBase + 0x8_0000)
	rig.IOP.Serve(sif.SIDHeap, func(rpcID uint32, send []byte) []byte {
		var ret [4]byte
		switch rpcID {
		case 1: // alloc
			binary.LittleEndian.PutUint32(ret[:], next)
			next += (binary.LittleEndian.Uint32(send) + 15) &^ 15
		}
		return ret[:]
	})
	rig.IOP.Serve(sif.SIDLoadModule, func(rpcID uint32, send []byte) []byte {
		if rpcID != 6 {
			t.Errorf("linker got rpc %d", rpcID)
			return nil
		}
		addr := iop.PhysToBus(binary.LittleEndian.Uint32(send))
		name := send[8:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		image := rig.Bus.Slice(uint32(addr), 52)
		if image == nil || !bytes.HasPrefix(image, []byte("\x7fELF")) {
			t.Errorf("no module image staged at %#x", addr)
		}
		*linked = append(*linked, string(name))

		// zero status, arbitrary entry point return value
		var ret [8]byte
		binary.LittleEndian.PutUint32(ret[4:], 2)
		return ret[:]
	})
}

func TestRequest(t *testing.T) {
	rig := siftest.NewRig()
	rig.IOP.Start()
	var linked []string
	serveIOP(t, rig, &linked)

	s, err := sif.Init(rig.Config())
	if err != nil {
		t.Fatal("init:", err)
	}
	defer s.Close()

	h, err := heap.New(s)
	if err != nil {
		t.Fatal("heap:", err)
	}
	defer h.Close()

	firmware := fstest.MapFS{
		"sio2man.irx": {Data: buildIRX(t, "sio2man", "sio2", 0x0102)},
	}
	l, err := module.NewLinker(s, h, firmware)
	if err != nil {
		t.Fatal("linker:", err)
	}
	defer l.Close()

	m, err := l.Request("sio2man", 0x0101, "arg0 arg1")
	if err != nil {
		t.Fatal("request:", err)
	}
	if m.Name != "sio2man" {
		t.Errorf("got module %q", m.Name)
	}
	if len(linked) != 1 || linked[0] != "sio2man" {
		t.Fatalf("companion linked %v", linked)
	}

	// Requesting the exported library resolves to the linked module.
	if m2, err := l.Request("sio2", 0x0102, ""); err != nil || m2 != m {
		t.Errorf("library request got %v, %v", m2, err)
	}
	if len(linked) != 1 {
		t.Errorf("module linked twice: %v", linked)
	}

	// A newer version than shipped must be refused.
	if _, err := l.Request("sio2man", 0x0103, ""); err == nil {
		t.Error("incompatible version accepted")
	}
}

func TestRequestLinkFailed(t *testing.T) {
	rig := siftest.NewRig()
	rig.IOP.Start()
	rig.IOP.Serve(sif.SIDHeap, func(rpcID uint32, send []byte) []byte {
		var ret [4]byte
		if rpcID == 1 {
			binary.LittleEndian.PutUint32(ret[:], iop.RAMBase+0x8_0000)
		}
		return ret[:]
	})
	rig.IOP.Serve(sif.SIDLoadModule, func(rpcID uint32, send []byte) []byte {
		var ret [8]byte
		status := -int32(ioperr.Link)
		binary.LittleEndian.PutUint32(ret[:], uint32(status))
		return ret[:]
	})

	s, err := sif.Init(rig.Config())
	if err != nil {
		t.Fatal("init:", err)
	}
	defer s.Close()

	h, err := heap.New(s)
	if err != nil {
		t.Fatal("heap:", err)
	}
	defer h.Close()

	firmware := fstest.MapFS{
		"sio2man.irx": {Data: buildIRX(t, "sio2man", "sio2", 0x0102)},
	}
	l, err := module.NewLinker(s, h, firmware)
	if err != nil {
		t.Fatal("linker:", err)
	}
	defer l.Close()

	_, err = l.Request("sio2man", 0x0100, "")
	if !errors.Is(err, ioperr.Link) {
		t.Fatalf("got %v, want %v", err, ioperr.Link)
	}
}
