package siftest

import (
	"bytes"
	"encoding/binary"
	"slices"
	"sync"

	"github.com/clktmr/ps2/iop"
	"github.com/clktmr/ps2/sif"
)

// Service handles a single rpc call of a fake companion service.  It
// receives the caller's payload and returns the reply.
type Service func(rpcID uint32, send []byte) []byte

type server struct {
	sid uint32
	buf iop.Addr
}

// Companion models the i/o processor closely enough to boot the interface
// against it: it answers the reset handshake and the init commands and hosts
// the rpc services registered with [Companion.Serve].
type Companion struct {
	bus *Bus
	mbx *Mailbox
	rx  *RxChannel

	// Failure knobs, to be set before Start.
	NoCmdInit bool // the boot rom never comes up
	NoBootEnd bool // the reset command is never acknowledged

	mu       sync.Mutex
	services map[uint32]Service
	servers  map[uint32]*server
	nextSrv  uint32
	nextBuf  iop.Addr
	bindAcks []uint32
}

func NewCompanion(bus *Bus, mbx *Mailbox, rx *RxChannel) *Companion {
	return &Companion{
		bus:      bus,
		mbx:      mbx,
		rx:       rx,
		services: make(map[uint32]Service),
		servers:  make(map[uint32]*server),
		nextSrv:  0x1000,
		nextBuf:  iop.RAMBase + 0x1_0000,
	}
}

// Start powers the companion on.  Its boot rom publishes a provisional
// command buffer and raises the command-init flag.
func (c *Companion) Start() {
	if c.NoCmdInit {
		return
	}
	c.mbx.SetSubAddr(iop.RAMBase + 0x1000)
	c.mbx.SetSMFlag(sif.StatusSIFInit | sif.StatusCmdInit)
}

// Serve registers fn as the rpc service identified by sid.
func (c *Companion) Serve(sid uint32, fn Service) {
	c.mu.Lock()
	c.services[sid] = fn
	c.mu.Unlock()
}

// receive handles a command packet sent by the main side.
func (c *Companion) receive(h sif.Header, payload []byte) {
	switch h.Cmd {
	case sif.CmdReset:
		if c.NoBootEnd {
			return
		}
		// Reboot into the requested firmware, which relocates the
		// command buffer and acknowledges through the flags.
		c.mbx.SetSubAddr(iop.RAMBase + 0x2000)
		c.mbx.SetSMFlag(sif.StatusBootEnd)
	case sif.CmdInit:
		if h.Opt == 0 {
			return // command buffer address also arrives via the mailbox
		}
		// rpc bringup, readiness is signalled through sreg 0
		c.sendCmd(sif.CmdWriteSreg, 0, &struct {
			Reg uint32
			Val int32
		}{0, 1})
	case sif.CmdRPCBind:
		c.rpcBind(payload)
	case sif.CmdRPCCall:
		c.rpcCall(payload)
	case sif.CmdRPCEnd:
		// completion for a request the companion itself sent
		var end endPacket
		if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &end); err != nil {
			return
		}
		if end.ClientID == sif.CmdRPCBind {
			c.mu.Lock()
			c.bindAcks = append(c.bindAcks, end.Client)
			c.mu.Unlock()
		}
	}
}

// BindAcks returns the client ids whose bind requests the main side has
// acknowledged so far.
func (c *Companion) BindAcks() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.bindAcks)
}

// Wire format of the rpc command payloads, mirroring the main side.
type rpcHeader struct {
	RecID   uint32
	PktAddr uint32
	RPCID   uint32
}

type bindPacket struct {
	Header   rpcHeader
	Client   uint32
	ServerID uint32
}

type callPacket struct {
	Header   rpcHeader
	Client   uint32
	RPCID    uint32
	SendSize uint32
	RecvAddr uint32
	RecvSize uint32
	RecvMode uint32
	Server   uint32
}

type endPacket struct {
	Header       rpcHeader
	Client       uint32
	ClientID     uint32
	Server       uint32
	ServerBuffer uint32
	ClientBuffer uint32
}

func (c *Companion) rpcBind(payload []byte) {
	var pkt bindPacket
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &pkt); err != nil {
		return
	}

	end := endPacket{Client: pkt.Client, ClientID: sif.CmdRPCBind}
	c.mu.Lock()
	if _, ok := c.services[pkt.ServerID]; ok {
		srv := &server{sid: pkt.ServerID, buf: c.nextBuf}
		c.nextBuf += sif.BufferSize
		c.servers[c.nextSrv] = srv
		end.Server = c.nextSrv
		end.ServerBuffer = uint32(srv.buf)
		c.nextSrv += 0x100
	}
	c.mu.Unlock()

	c.sendCmd(sif.CmdRPCEnd, 0, &end)
}

func (c *Companion) rpcCall(payload []byte) {
	var pkt callPacket
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &pkt); err != nil {
		return
	}

	c.mu.Lock()
	srv := c.servers[pkt.Server]
	var fn Service
	if srv != nil {
		fn = c.services[srv.sid]
	}
	c.mu.Unlock()
	if fn == nil {
		return // stale server handle, drop
	}

	send := c.bus.Slice(uint32(srv.buf), int(pkt.SendSize))
	recv := fn(pkt.RPCID, send)
	if pkt.RecvSize > 0 {
		if dst := c.bus.Slice(pkt.RecvAddr, int(pkt.RecvSize)); dst != nil {
			n := copy(dst, recv)
			clear(dst[n:])
		}
	}

	c.sendCmd(sif.CmdRPCEnd, 0, &endPacket{Client: pkt.Client, ClientID: sif.CmdRPCCall})
}

// SendCmd sends a well-formed command packet to the main side.  pkt must be
// nil or a fixed-size value encodable by encoding/binary.
func (c *Companion) SendCmd(id, opt uint32, pkt any) {
	c.sendCmd(id, opt, pkt)
}

func (c *Companion) sendCmd(id, opt uint32, pkt any) {
	var payload []byte
	if pkt != nil {
		payload, _ = binary.Append(nil, binary.LittleEndian, pkt)
	}
	size := (sif.HeaderSize + len(payload) + 15) &^ 15
	h := sif.Header{PacketWords: uint8(size / 16), Cmd: id, Opt: opt}
	buf := make([]byte, size)
	h.Encode(buf)
	copy(buf[sif.HeaderSize:], payload)
	c.rx.Deliver(buf)
}

// SendRaw delivers raw packet bytes to the main side, malformed ones
// included.
func (c *Companion) SendRaw(pkt []byte) {
	buf := make([]byte, sif.PacketMax)
	copy(buf, pkt)
	c.rx.Deliver(buf)
}
