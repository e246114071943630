package siftest

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/clktmr/ps2/iop"
)

// Main memory window visible on the fake bus.
const (
	mainBase = 0x0010_0000
	mainSize = 1 << 20
)

// Bus models the physical memory visible to both processors: an arena of
// main memory that DMA buffers are allocated from and a window of companion
// RAM.  It implements [sif.Mem].
type Bus struct {
	mu     sync.Mutex
	main   []byte
	next   int
	allocs int
	iop    []byte
}

func NewBus() *Bus {
	return &Bus{
		main: make([]byte, mainSize),
		iop:  make([]byte, iop.RAMSize),
	}
}

// Alloc returns a 16-byte aligned buffer from the main memory arena.
func (b *Bus) Alloc(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n = (n + 15) &^ 15
	if b.next+n > len(b.main) {
		return nil, errors.New("siftest: main memory arena exhausted")
	}
	p := b.main[b.next : b.next+n : b.next+n]
	b.next += n
	b.allocs++
	return p, nil
}

// Free releases a buffer.  Arena memory isn't reclaimed, only the
// outstanding allocation count drops.
func (b *Bus) Free(p []byte) {
	if p == nil {
		return
	}
	b.mu.Lock()
	b.allocs--
	b.mu.Unlock()
}

// Outstanding returns the number of buffers allocated and not yet freed.
func (b *Bus) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocs
}

// Addr returns the bus address of a buffer returned by Alloc.
func (b *Bus) Addr(p []byte) uint32 {
	off := uintptr(unsafe.Pointer(&p[0])) - uintptr(unsafe.Pointer(&b.main[0]))
	return mainBase + uint32(off)
}

// Slice resolves a bus address in either the main memory or the companion
// RAM window.  It returns nil for unmapped ranges.
func (b *Bus) Slice(addr uint32, n int) []byte {
	end := uint64(addr) + uint64(n)
	switch {
	case addr >= mainBase && end <= mainBase+mainSize:
		off := addr - mainBase
		return b.main[off : off+uint32(n)]
	case addr >= iop.RAMBase && end <= iop.RAMBase+iop.RAMSize:
		off := addr - iop.RAMBase
		return b.iop[off : off+uint32(n)]
	}
	return nil
}

// Invalidate is a no-op, the fake bus has no caches.
func (b *Bus) Invalidate(p []byte) {}

// Writeback is a no-op, the fake bus has no caches.
func (b *Bus) Writeback(p []byte) {}
