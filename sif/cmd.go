package sif

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"

	"github.com/clktmr/ps2/debug"
	"github.com/clktmr/ps2/iop"
)

// CmdIDSys marks a command or service id as belonging to the system
// namespace.  Ids without it are free for applications.
const CmdIDSys uint32 = 0x8000_0000

// System commands understood by both sides of the interface.
const (
	CmdChangeAddr = CmdIDSys | 0x00 // update peer command buffer address
	CmdWriteSreg  = CmdIDSys | 0x01 // write a shared register
	CmdInit       = CmdIDSys | 0x02 // init command (opt 0) or rpc (opt 1) subsystem
	CmdReset      = CmdIDSys | 0x03 // reboot the companion processor
	CmdRPCEnd     = CmdIDSys | 0x08 // rpc request completed
	CmdRPCBind    = CmdIDSys | 0x09 // connect a client to a service
	CmdRPCCall    = CmdIDSys | 0x0a // invoke a remote procedure
	CmdRPCData    = CmdIDSys | 0x0c // read remote memory
	CmdIRQRelay   = CmdIDSys | 0x20 // companion interrupt notification
	CmdPrint      = CmdIDSys | 0x21 // console output from the companion
)

// Well-known rpc services hosted by the companion firmware.
const (
	SIDFileIO     = CmdIDSys | 0x01
	SIDHeap       = CmdIDSys | 0x03
	SIDLoadModule = CmdIDSys | 0x06
	SIDIRQRelay   = CmdIDSys | 0x20
)

const (
	// HeaderSize is the wire size of [Header].
	HeaderSize = 16
	// PacketMax is the size limit of a command packet, header included.
	PacketMax = 112
	// PacketDataMax is the size limit of a command packet's payload.
	PacketDataMax = PacketMax - HeaderSize
	// BufferSize is the size of the command and rpc DMA buffers.
	BufferSize = 4096

	cmdHandlerMax = 64
)

// Header is the 16-byte header leading every command packet.
type Header struct {
	PacketWords uint8  // total packet size in 16-byte units, 1..7
	DataSize    uint32 // out-of-band data size in bytes, 24 bits
	DataAddr    uint32 // out-of-band data destination, or zero
	Cmd         uint32
	Opt         uint32
}

// Encode stores the header in its wire format, little-endian with the packet
// size and data size packed into the first word.
func (h *Header) Encode(p []byte) {
	debug.Assert(h.DataSize < 1<<24, "data size out of range")
	binary.LittleEndian.PutUint32(p[0:], uint32(h.PacketWords)|h.DataSize<<8)
	binary.LittleEndian.PutUint32(p[4:], h.DataAddr)
	binary.LittleEndian.PutUint32(p[8:], h.Cmd)
	binary.LittleEndian.PutUint32(p[12:], h.Opt)
}

// DecodeHeader reads a header from its wire format.
func DecodeHeader(p []byte) (h Header) {
	word := binary.LittleEndian.Uint32(p[0:])
	h.PacketWords = uint8(word)
	h.DataSize = word >> 8
	h.DataAddr = binary.LittleEndian.Uint32(p[4:])
	h.Cmd = binary.LittleEndian.Uint32(p[8:])
	h.Opt = binary.LittleEndian.Uint32(p[12:])
	return
}

// A CmdHandler is invoked for each received command packet with its id.  It
// runs in interrupt context and must not sleep.  payload aliases the receive
// buffer and is only valid for the duration of the call.
type CmdHandler func(h *Header, payload []byte)

// RequestCmd registers fn as the handler for command id, replacing any
// previously registered handler.  A nil fn removes the handler.
func (s *SIF) RequestCmd(id uint32, fn CmdHandler) error {
	idx := id &^ CmdIDSys
	if idx >= cmdHandlerMax {
		return fmt.Errorf("sif: command id %#x out of range", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id&CmdIDSys != 0 {
		s.sys[idx] = fn
	} else {
		s.usr[idx] = fn
	}
	return nil
}

func (s *SIF) handler(id uint32) CmdHandler {
	idx := id &^ CmdIDSys
	if idx >= cmdHandlerMax {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id&CmdIDSys != 0 {
		return s.sys[idx]
	}
	return s.usr[idx]
}

// requestCmds installs the handlers for the system commands the interface
// implements itself.
func (s *SIF) requestCmds() {
	cmds := []struct {
		id uint32
		fn CmdHandler
	}{
		{CmdWriteSreg, s.cmdWriteSreg},
		{CmdIRQRelay, s.cmdIRQRelay},
		{CmdRPCEnd, s.cmdRPCEnd},
		{CmdRPCBind, s.cmdRPCBind},
		{CmdPrint, s.cmdPrint},
	}
	for _, cmd := range cmds {
		s.RequestCmd(cmd.id, cmd.fn)
	}
}

// Cmd sends command id with an optional packet payload.  pkt must be nil or a
// fixed-size value encodable by encoding/binary; encoded it must fit
// [PacketDataMax] bytes.
func (s *SIF) Cmd(id uint32, pkt any) error {
	return s.cmd(id, 0, pkt, 0, nil)
}

// CmdOpt sends command id with the header's option field set to opt.
func (s *SIF) CmdOpt(id, opt uint32, pkt any) error {
	return s.cmd(id, opt, pkt, 0, nil)
}

// CmdCopy transfers data to the companion bus address dst, then sends command
// id announcing it.  The receiving handler observes the data fully written.
func (s *SIF) CmdCopy(id uint32, pkt any, dst iop.Addr, data []byte) error {
	return s.cmd(id, 0, pkt, dst, data)
}

func (s *SIF) cmd(id, opt uint32, pkt any, dst iop.Addr, data []byte) error {
	var payload []byte
	if pkt != nil {
		var err error
		payload, err = binary.Append(nil, binary.LittleEndian, pkt)
		if err != nil {
			return fmt.Errorf("sif: encode command %#x: %w", id, err)
		}
	}
	if len(payload) > PacketDataMax {
		return fmt.Errorf("sif: command %#x payload size %d", id, len(payload))
	}

	hdr := Header{
		PacketWords: uint8((HeaderSize + len(payload) + 15) / 16),
		DataSize:    uint32(len(data)),
		DataAddr:    uint32(dst),
		Cmd:         id,
		Opt:         opt,
	}
	if len(data) > 0 {
		if err := s.write(nil, dst, data, 0); err != nil {
			return err
		}
	}
	return s.write(&hdr, s.subAddr, payload, EndTransfer|Interrupt)
}

// write stages an optional header and p in the staging buffer and starts a
// transfer to the companion bus address dst, padded to a 16-byte boundary.
// It waits for a transfer already in flight, but holds txMu while doing so,
// so at most one transfer is ever started concurrently.
func (s *SIF) write(hdr *Header, dst iop.Addr, p []byte, flags TransferFlag) error {
	hdrSize := 0
	if hdr != nil {
		hdrSize = HeaderSize
	}
	size := (hdrSize + len(p) + 15) &^ 15
	if size == 0 {
		return nil
	}
	if size > BufferSize {
		return fmt.Errorf("sif: transfer size %d exceeds buffer", size)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	idle := func() bool { return !s.tx.Busy() }
	if !pollUntil(idle, txPollInterval, txPollTimeout) {
		return fmt.Errorf("sif: transmit channel: %w", ErrBusy)
	}

	buf := s.txBuf[:size]
	if hdr != nil {
		hdr.Encode(buf)
	}
	n := copy(buf[hdrSize:], p)
	clear(buf[hdrSize+n:])

	s.mem.Writeback(buf)
	s.tx.Transfer(dst, buf, flags)
	return nil
}

// interrupt is the inbound channel's completion handler.  It dispatches the
// received packet and rearms the channel for the next one.
func (s *SIF) interrupt() {
	if s.rx.Busy() {
		return // spurious, transfer still in flight
	}

	pkt := s.rxBuf[:PacketMax]
	s.mem.Invalidate(pkt)
	h := DecodeHeader(pkt)
	if h.DataSize != 0 {
		if data := s.mem.Slice(h.DataAddr, int(h.DataSize)); data != nil {
			s.mem.Invalidate(data)
		}
	}

	if size := int(h.PacketWords) * 16; size < HeaderSize || size > PacketMax {
		s.onceSize.Do(func() {
			log.Printf("sif: dropped command packet of %d bytes", size)
		})
	} else if fn := s.handler(h.Cmd); fn == nil {
		s.onceCmd.Do(func() {
			log.Printf("sif: dropped unknown command %#x", h.Cmd)
		})
	} else {
		fn(&h, pkt[HeaderSize:size])
	}

	s.rx.Arm(s.rxBuf)
}

// HandleRelay registers fn to be invoked for interrupts relayed by the
// companion processor.  fn runs in interrupt context.
func (s *SIF) HandleRelay(fn func(irq uint32)) {
	s.mu.Lock()
	s.relay = fn
	s.mu.Unlock()
}

// cmdPrint forwards console output from the companion firmware.
func (s *SIF) cmdPrint(h *Header, payload []byte) {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	log.Printf("iop: %s", payload)
}

func (s *SIF) cmdIRQRelay(h *Header, payload []byte) {
	if len(payload) < 4 {
		return
	}
	irq := binary.LittleEndian.Uint32(payload)
	s.mu.Lock()
	fn := s.relay
	s.mu.Unlock()
	if fn != nil {
		fn(irq)
	}
}
