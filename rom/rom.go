// Package rom reads the console's read-only memory images.
//
// A rom image is a flat filesystem.  Somewhere in the image, 16-byte
// aligned, sits a directory of fixed size entries, recognizable by its first
// entry named RESET.  File data is laid out back to back in directory order,
// starting at the image's base.  The directory also lists itself (ROMDIR)
// and a blob of extended per-file metadata (EXTINFO).
package rom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"
	"time"
)

// Memory windows the boot and dvd player roms are mapped at.
const (
	Rom0Base = 0x1fc0_0000
	Rom0Size = 0x40_0000
	Rom1Base = 0x1e00_0000
	Rom1Size = 0x10_0000
)

const (
	entrySize = 16
	nameSize  = 10
)

// searchLimit bounds the directory search.  The boot code preceding the
// directory is small in all known images.
const searchLimit = 0x1_0000

type entry struct {
	name    string
	size    uint32
	off     int64 // data offset in the image
	extSize uint16
	extOff  int64 // offset into the extinfo blob
}

// FS is a rom image opened for reading.  It implements [fs.FS].
type FS struct {
	r   io.ReaderAt
	dir []entry
	ext []byte
}

// Read parses the directory of the rom image in r.
func Read(r io.ReaderAt, size int64) (*FS, error) {
	dirOff, err := findDir(r, size)
	if err != nil {
		return nil, err
	}

	fsys := &FS{r: r}
	var dataOff, extOff int64
	for off := dirOff; ; off += entrySize {
		var raw [entrySize]byte
		if _, err := r.ReadAt(raw[:], off); err != nil {
			return nil, fmt.Errorf("rom: read directory: %w", err)
		}
		name := raw[:nameSize]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		if len(name) == 0 {
			break
		}
		e := entry{
			name:    string(name),
			extSize: binary.LittleEndian.Uint16(raw[10:]),
			size:    binary.LittleEndian.Uint32(raw[12:]),
			off:     dataOff,
			extOff:  extOff,
		}
		fsys.dir = append(fsys.dir, e)
		dataOff += (int64(e.size) + 15) &^ 15
		extOff += int64(e.extSize)
	}

	if len(fsys.dir) < 3 ||
		fsys.dir[1].name != "ROMDIR" || fsys.dir[2].name != "EXTINFO" {
		return nil, errors.New("rom: malformed directory")
	}
	if int64(fsys.dir[1].size) < int64(len(fsys.dir))*entrySize {
		return nil, errors.New("rom: directory size mismatch")
	}
	if fsys.dir[1].off != dirOff {
		return nil, errors.New("rom: directory offset mismatch")
	}

	ext := fsys.dir[2]
	fsys.ext = make([]byte, ext.size)
	if _, err := r.ReadAt(fsys.ext, ext.off); err != nil {
		return nil, fmt.Errorf("rom: read extinfo: %w", err)
	}
	return fsys, nil
}

// findDir locates the directory by searching for its RESET entry at 16-byte
// boundaries.
func findDir(r io.ReaderAt, size int64) (int64, error) {
	limit := min(size, searchLimit)
	for off := int64(0); off+entrySize <= limit; off += entrySize {
		var raw [nameSize]byte
		if _, err := r.ReadAt(raw[:], off); err != nil {
			return 0, fmt.Errorf("rom: search directory: %w", err)
		}
		if bytes.Equal(raw[:], []byte("RESET\x00\x00\x00\x00\x00")) {
			return off, nil
		}
	}
	return 0, errors.New("rom: no directory found")
}

func (fsys *FS) lookup(name string) *entry {
	for i := range fsys.dir {
		if fsys.dir[i].name == name {
			return &fsys.dir[i]
		}
	}
	return nil
}

// Open opens the named file.  The rom is flat, the only directory is the
// root.
func (fsys *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return &dirFile{fsys: fsys}, nil
	}
	e := fsys.lookup(name)
	if e == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &File{
		SectionReader: io.NewSectionReader(fsys.r, e.off, int64(e.size)),
		e:             e,
	}, nil
}

// ReadFile returns the contents of the named file.
func (fsys *FS) ReadFile(name string) ([]byte, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	file, ok := f.(*File)
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrInvalid}
	}
	buf := make([]byte, file.e.size)
	_, err = io.ReadFull(file, buf)
	return buf, err
}

// ReadDir lists the root directory.
func (fsys *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	if name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	entries := make([]fs.DirEntry, 0, len(fsys.dir))
	for i := range fsys.dir {
		entries = append(entries, fileInfo{&fsys.dir[i]})
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return bytes.Compare([]byte(a.Name()), []byte(b.Name()))
	})
	return entries, nil
}

// File is a file of a rom image.  Besides [fs.File] it supports seeking and
// reading at an offset.
type File struct {
	*io.SectionReader
	e *entry
}

func (f *File) Stat() (fs.FileInfo, error) { return fileInfo{f.e}, nil }
func (f *File) Close() error               { return nil }

type fileInfo struct {
	e *entry
}

func (fi fileInfo) Name() string       { return fi.e.name }
func (fi fileInfo) Size() int64        { return int64(fi.e.size) }
func (fi fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return nil }

// fs.DirEntry
func (fi fileInfo) Type() fs.FileMode          { return 0 }
func (fi fileInfo) Info() (fs.FileInfo, error) { return fi, nil }

type dirFile struct {
	fsys *FS
	pos  int
}

func (d *dirFile) Stat() (fs.FileInfo, error) { return dirInfo{}, nil }
func (d *dirFile) Close() error               { return nil }
func (d *dirFile) Read(p []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: ".", Err: fs.ErrInvalid}
}

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := d.fsys.ReadDir(".")
	if err != nil {
		return nil, err
	}
	entries = entries[d.pos:]
	if n <= 0 {
		d.pos += len(entries)
		return entries, nil
	}
	if len(entries) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(entries))
	d.pos += n
	return entries[:n], nil
}

type dirInfo struct{}

func (dirInfo) Name() string       { return "." }
func (dirInfo) Size() int64        { return 0 }
func (dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (dirInfo) ModTime() time.Time { return time.Time{} }
func (dirInfo) IsDir() bool        { return true }
func (dirInfo) Sys() any           { return nil }
