package rom_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/clktmr/ps2/rom"
)

// buildImage assembles a small rom image: boot code, the directory, the
// extinfo blob and one payload file.
func buildImage(t *testing.T) []byte {
	t.Helper()
	var w bytes.Buffer
	le := binary.LittleEndian

	writeEntry := func(name string, extSize uint16, size uint32) {
		var raw [16]byte
		copy(raw[:10], name)
		le.PutUint16(raw[10:], extSize)
		le.PutUint32(raw[12:], size)
		w.Write(raw[:])
	}
	pad16 := func() {
		for w.Len()%16 != 0 {
			w.WriteByte(0)
		}
	}

	// shift-jis for a japanese greeting
	comment := []byte{0x82, 0xb1, 0x82, 0xf1, 0x82, 0xc9, 0x82, 0xbf, 0x82, 0xcd, 0}

	var ext bytes.Buffer
	// RESET: date record
	binary.Write(&ext, le, [2]uint16{0, 4<<0 | 1<<8})
	binary.Write(&ext, le, uint32(0x2026_0830))
	// VERSTR: version and comment records
	binary.Write(&ext, le, [2]uint16{0x0102, 2 << 8})
	binary.Write(&ext, le, [2]uint16{0, uint16(len(comment)) | 3<<8})
	ext.Write(comment)

	// boot code, doubling as the RESET file
	w.WriteString("bootcode")
	pad16()

	// the directory itself, including its terminating entry
	writeEntry("RESET", 8, 16)
	writeEntry("ROMDIR", 0, 5*16)
	writeEntry("EXTINFO", 0, uint32(ext.Len()))
	writeEntry("VERSTR", uint16(ext.Len()-8), 5)
	writeEntry("", 0, 0)

	w.Write(ext.Bytes())
	pad16()
	w.WriteString("0.9.0")

	return w.Bytes()
}

func openImage(t *testing.T) *rom.FS {
	t.Helper()
	img := buildImage(t)
	fsys, err := rom.Read(bytes.NewReader(img), int64(len(img)))
	if err != nil {
		t.Fatal("read image:", err)
	}
	return fsys
}

func TestFS(t *testing.T) {
	fsys := openImage(t)
	err := fstest.TestFS(fsys, "RESET", "ROMDIR", "EXTINFO", "VERSTR")
	if err != nil {
		t.Error(err)
	}
}

func TestReadFile(t *testing.T) {
	fsys := openImage(t)

	data, err := fsys.ReadFile("VERSTR")
	if err != nil {
		t.Fatal("read:", err)
	}
	if string(data) != "0.9.0" {
		t.Errorf("got %q", data)
	}

	if _, err := fsys.Open("OSDSYS"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("got %v, want %v", err, fs.ErrNotExist)
	}
}

func TestExtInfo(t *testing.T) {
	fsys := openImage(t)

	info, err := fsys.ExtInfo("VERSTR")
	if err != nil {
		t.Fatal("extinfo:", err)
	}
	if info.Version != 0x0102 {
		t.Errorf("got version %x", info.Version)
	}
	if info.Comment != "こんにちは" {
		t.Errorf("got comment %q", info.Comment)
	}

	info, err = fsys.ExtInfo("RESET")
	if err != nil {
		t.Fatal("extinfo:", err)
	}
	want := time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC)
	if !info.Date.Equal(want) {
		t.Errorf("got date %v, want %v", info.Date, want)
	}
}

func TestReadRejectsJunk(t *testing.T) {
	junk := bytes.Repeat([]byte{0xff}, 4096)
	if _, err := rom.Read(bytes.NewReader(junk), int64(len(junk))); err == nil {
		t.Error("junk image accepted")
	}
}
