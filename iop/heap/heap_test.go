package heap_test

import (
	"encoding/binary"
	"testing"

	"github.com/clktmr/ps2/iop"
	"github.com/clktmr/ps2/iop/heap"
	"github.com/clktmr/ps2/sif"
	"github.com/clktmr/ps2/siftest"
)

// serveHeap implements the companion side of the heap service with a bump
// allocator that records frees.
func serveHeap(rig *siftest.Rig, freed *[]uint32) {
	next := uint32(iop.RAMBase + 0x8_0000)
	rig.IOP.Serve(sif.SIDHeap, func(rpcID uint32, send []byte) []byte {
		arg := binary.LittleEndian.Uint32(send)
		var ret [4]byte
		switch rpcID {
		case 1: // alloc
			binary.LittleEndian.PutUint32(ret[:], next)
			next += (arg + 15) &^ 15
		case 2: // free
			*freed = append(*freed, arg)
		}
		return ret[:]
	})
}

func TestAllocFree(t *testing.T) {
	rig := siftest.NewRig()
	rig.IOP.Start()
	var freed []uint32
	serveHeap(rig, &freed)

	s, err := sif.Init(rig.Config())
	if err != nil {
		t.Fatal("init:", err)
	}
	defer s.Close()

	h, err := heap.New(s)
	if err != nil {
		t.Fatal("bind:", err)
	}
	defer h.Close()

	a, err := h.Alloc(256)
	if err != nil {
		t.Fatal("alloc:", err)
	}
	b, err := h.Alloc(256)
	if err != nil {
		t.Fatal("alloc:", err)
	}
	if a == 0 || b == 0 || a == b {
		t.Errorf("got addresses %#x, %#x", a, b)
	}

	if err := h.Free(a); err != nil {
		t.Fatal("free:", err)
	}
	if len(freed) != 1 || freed[0] != uint32(a) {
		t.Errorf("companion got frees %#x, want [%#x]", freed, a)
	}
}
