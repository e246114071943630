// Package irqrelay subscribes to interrupts of devices attached to the i/o
// processor.  The companion's relay service forwards them over the serial
// interface, where they are dispatched to handlers on the main side.
package irqrelay

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/clktmr/ps2/iop/ioperr"
	"github.com/clktmr/ps2/sif"
)

// rpc procedures of the relay service
const (
	rpcRequest = 1
	rpcRelease = 2
	rpcRemap   = 3
)

// IRQ numbers the companion processor can relay.
const (
	IRQSIO2  = 17
	IRQUSB   = 22
	IRQILink = 24
)

// A Handler is invoked when a relayed interrupt arrives.  It runs in
// interrupt context and must not sleep.
type Handler func()

// Relay dispatches interrupts forwarded by the companion processor.
type Relay struct {
	rpc *sif.Client

	mu       sync.Mutex
	handlers map[uint32]Handler
}

// New binds to the relay service and installs the dispatcher for the
// companion's interrupt notifications.
func New(s *sif.SIF) (*Relay, error) {
	c, err := s.Bind(sif.SIDIRQRelay)
	if err != nil {
		return nil, fmt.Errorf("irqrelay: %w", err)
	}
	r := &Relay{rpc: c, handlers: make(map[uint32]Handler)}
	s.HandleRelay(r.dispatch)
	return r, nil
}

func (r *Relay) dispatch(irq uint32) {
	r.mu.Lock()
	fn := r.handlers[irq]
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Wire formats of the relay service, single byte fields.
type relayMap struct {
	IOP uint8 // irq to map
	Map uint8 // irq number delivered to the main side
	RPC uint8 // relay via rpc instead of the mailbox flags
}

type relayRelease struct {
	IOP uint8
}

// Request subscribes fn to interrupt irq.  The companion keeps relaying the
// interrupt until Release is called.
func (r *Relay) Request(irq uint32, fn Handler) error {
	r.mu.Lock()
	r.handlers[irq] = fn
	r.mu.Unlock()

	// identity mapping, relayed interrupts arrive with their own number
	pkt := relayMap{IOP: uint8(irq), Map: uint8(irq), RPC: 1}
	if err := r.call(rpcRequest, &pkt); err != nil {
		r.mu.Lock()
		delete(r.handlers, irq)
		r.mu.Unlock()
		return fmt.Errorf("irqrelay: request irq %d: %w", irq, err)
	}
	return nil
}

// Release unsubscribes from interrupt irq.
func (r *Relay) Release(irq uint32) error {
	pkt := relayRelease{IOP: uint8(irq)}
	if err := r.call(rpcRelease, &pkt); err != nil {
		return fmt.Errorf("irqrelay: release irq %d: %w", irq, err)
	}
	r.mu.Lock()
	delete(r.handlers, irq)
	r.mu.Unlock()
	return nil
}

func (r *Relay) call(op uint32, pkt any) error {
	send, err := binary.Append(nil, binary.LittleEndian, pkt)
	if err != nil {
		return err
	}
	recv, err := r.rpc.Call(op, send, 4)
	if err != nil {
		return err
	}
	return ioperr.FromStatus(int32(binary.LittleEndian.Uint32(recv)))
}

// Close releases the connection to the relay service.  Interrupts already
// subscribed keep being relayed but are no longer dispatched.
func (r *Relay) Close() {
	r.rpc.Unbind()
}
