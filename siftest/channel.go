package siftest

import (
	"sync"
	"sync/atomic"

	"github.com/clktmr/ps2/iop"
	"github.com/clktmr/ps2/sif"
)

// Mailbox implements [sif.Mailbox] plus the companion processor's side of
// the register file.
type Mailbox struct {
	mu       sync.Mutex
	mainAddr uint32
	subAddr  uint32
	msflag   uint32
	smflag   uint32
}

func (m *Mailbox) SetMainAddr(addr uint32) { m.mu.Lock(); m.mainAddr = addr; m.mu.Unlock() }
func (m *Mailbox) SubAddr() uint32         { m.mu.Lock(); defer m.mu.Unlock(); return m.subAddr }
func (m *Mailbox) SMFlag() uint32          { m.mu.Lock(); defer m.mu.Unlock(); return m.smflag }

func (m *Mailbox) SetSMFlag(mask uint32)   { m.mu.Lock(); m.smflag |= mask; m.mu.Unlock() }
func (m *Mailbox) ClearSMFlag(mask uint32) { m.mu.Lock(); m.smflag &^= mask; m.mu.Unlock() }
func (m *Mailbox) SetMSFlag(mask uint32)   { m.mu.Lock(); m.msflag |= mask; m.mu.Unlock() }

// Companion side accessors.
func (m *Mailbox) MainAddr() uint32       { m.mu.Lock(); defer m.mu.Unlock(); return m.mainAddr }
func (m *Mailbox) MSFlag() uint32         { m.mu.Lock(); defer m.mu.Unlock(); return m.msflag }
func (m *Mailbox) SetSubAddr(addr uint32) { m.mu.Lock(); m.subAddr = addr; m.mu.Unlock() }

// TxChannel is the outbound DMA channel.  A transfer copies through the bus
// asynchronously and, if it announces a packet, hands it to the sink, i.e.
// the companion's receive path.  Overlapping transfers panic, the hardware
// requires strict one-at-a-time use.
type TxChannel struct {
	bus  *Bus
	sink func(h sif.Header, payload []byte)
	busy atomic.Bool
}

func NewTxChannel(bus *Bus, sink func(h sif.Header, payload []byte)) *TxChannel {
	return &TxChannel{bus: bus, sink: sink}
}

func (ch *TxChannel) Busy() bool { return ch.busy.Load() }

func (ch *TxChannel) Transfer(dst iop.Addr, p []byte, flags sif.TransferFlag) {
	if !ch.busy.CompareAndSwap(false, true) {
		panic("siftest: overlapping transfer")
	}
	data := append([]byte(nil), p...)
	go func() {
		if mem := ch.bus.Slice(uint32(dst), len(data)); mem != nil {
			copy(mem, data)
		}
		ch.busy.Store(false)
		if flags&sif.Interrupt != 0 && ch.sink != nil {
			h := sif.DecodeHeader(data)
			ch.sink(h, data[sif.HeaderSize:])
		}
	}()
}

func (ch *TxChannel) Disable() { ch.busy.Store(false) }

// RxChannel is the inbound DMA channel.  Deliver blocks until the channel is
// armed, copies the packet into the armed buffer and runs the completion
// handler, standing in for the receive interrupt.
type RxChannel struct {
	mu      sync.Mutex
	cond    *sync.Cond
	armed   []byte
	handler func()
}

func NewRxChannel() *RxChannel {
	ch := &RxChannel{}
	ch.cond = sync.NewCond(&ch.mu)
	return ch
}

func (ch *RxChannel) Busy() bool { return false }

// Armed reports whether the channel is ready to receive a packet.
func (ch *RxChannel) Armed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.armed != nil
}

func (ch *RxChannel) Arm(p []byte) {
	ch.mu.Lock()
	ch.armed = p
	ch.mu.Unlock()
	ch.cond.Signal()
}

func (ch *RxChannel) SetHandler(fn func()) {
	ch.mu.Lock()
	ch.handler = fn
	ch.mu.Unlock()
}

func (ch *RxChannel) Disable() {
	ch.mu.Lock()
	ch.armed = nil
	ch.mu.Unlock()
}

// Deliver injects a packet as the companion processor would.  It returns
// after the completion handler has run.
func (ch *RxChannel) Deliver(pkt []byte) {
	ch.mu.Lock()
	for ch.armed == nil {
		ch.cond.Wait()
	}
	buf := ch.armed
	ch.armed = nil // consumed, the handler rearms
	fn := ch.handler
	ch.mu.Unlock()

	copy(buf, pkt)
	if fn != nil {
		fn()
	}
}
