package main

import (
	"errors"
	"io"
	"io/fs"

	"github.com/clktmr/ps2/rom"
	"rsc.io/rsc/fuse"
)

// FS implements the file system and the root dir Node.  Rom images are flat
// and read-only, so there is no Create, Remove or write support.
type FS struct {
	rom *rom.FS
}

func (p *FS) Root() (fuse.Node, fuse.Error) {
	return p, nil
}

func (p *FS) Attr() fuse.Attr {
	dir := must(p.rom.Open("."))
	stat := must(dir.Stat())
	return fuse.Attr{
		Mode: stat.Mode(),
	}
}

func (p *FS) Lookup(name string, intr fuse.Intr) (fuse.Node, fuse.Error) {
	f, err := p.rom.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fuse.ENOENT
	} else if err != nil {
		return nil, fuse.EIO
	}
	romfile, ok := f.(*rom.File)
	if !ok {
		return p, nil // must be root dir
	}
	return &File{romfile}, nil
}

func (p *FS) ReadDir(intr fuse.Intr) ([]fuse.Dirent, fuse.Error) {
	entries, err := p.rom.ReadDir(".")
	if err != nil {
		return nil, fuse.EIO
	}
	fuseEntries := make([]fuse.Dirent, len(entries))
	for i, v := range entries {
		fuseEntries[i] = fuse.Dirent{
			Name: v.Name(),
		}
	}

	return fuseEntries, nil
}

// File implements both Node and Handle.
type File struct {
	*rom.File
}

func (p *File) Attr() fuse.Attr {
	stat := must(p.Stat())
	return fuse.Attr{
		Mode: stat.Mode(),
		Size: uint64(stat.Size()),
	}
}

func (p *File) ReadAll(intr fuse.Intr) ([]byte, fuse.Error) {
	b := make([]byte, p.Size())
	_, err := p.ReadAt(b, 0)
	if err != io.EOF && err != nil {
		return nil, fuse.EIO
	}
	return b, nil
}
