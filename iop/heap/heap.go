// Package heap allocates memory on the i/o processor via its heap rpc
// service.  The memory is addressed by [iop.Addr] bus addresses and is
// typically used as the target of DMA transfers or module loading.
package heap

import (
	"encoding/binary"
	"fmt"

	"github.com/clktmr/ps2/iop"
	"github.com/clktmr/ps2/iop/ioperr"
	"github.com/clktmr/ps2/sif"
)

// rpc procedures of the heap service
const (
	rpcAlloc = 1
	rpcFree  = 2
)

// Heap is a connection to the companion processor's heap service.
type Heap struct {
	rpc *sif.Client
}

// New binds to the heap service.
func New(s *sif.SIF) (*Heap, error) {
	c, err := s.Bind(sif.SIDHeap)
	if err != nil {
		return nil, fmt.Errorf("heap: %w", err)
	}
	return &Heap{rpc: c}, nil
}

// Alloc allocates n bytes on the companion processor.
func (h *Heap) Alloc(n int) (iop.Addr, error) {
	var send [4]byte
	binary.LittleEndian.PutUint32(send[:], uint32(n))
	recv, err := h.rpc.Call(rpcAlloc, send[:], 4)
	if err != nil {
		return 0, fmt.Errorf("heap: alloc %d bytes: %w", n, err)
	}
	addr := binary.LittleEndian.Uint32(recv)
	if int32(addr) < 0 {
		return 0, fmt.Errorf("heap: alloc %d bytes: %w", n, ioperr.FromStatus(int32(addr)))
	}
	if addr == 0 {
		return 0, fmt.Errorf("heap: alloc %d bytes: out of memory", n)
	}
	return iop.Addr(addr), nil
}

// Free releases memory returned by Alloc.
func (h *Heap) Free(addr iop.Addr) error {
	var send [4]byte
	binary.LittleEndian.PutUint32(send[:], uint32(addr))
	recv, err := h.rpc.Call(rpcFree, send[:], 4)
	if err != nil {
		return fmt.Errorf("heap: free %#x: %w", addr, err)
	}
	status := int32(binary.LittleEndian.Uint32(recv))
	if err := ioperr.FromStatus(status); err != nil {
		return fmt.Errorf("heap: free %#x: %w", addr, err)
	}
	return nil
}

// Close releases the connection to the heap service.
func (h *Heap) Close() {
	h.rpc.Unbind()
}
