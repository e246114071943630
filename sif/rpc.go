package sif

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"

	"github.com/clktmr/ps2/iop"
)

// Wire format of the rpc system command payloads, little-endian.
type rpcHeader struct {
	RecID   uint32
	PktAddr uint32
	RPCID   uint32
}

type rpcBindPacket struct {
	Header   rpcHeader
	Client   uint32
	ServerID uint32
}

type rpcCallPacket struct {
	Header   rpcHeader
	Client   uint32
	RPCID    uint32
	SendSize uint32
	RecvAddr uint32
	RecvSize uint32
	RecvMode uint32
	Server   uint32
}

type rpcEndPacket struct {
	Header       rpcHeader
	Client       uint32
	ClientID     uint32
	Server       uint32
	ServerBuffer uint32
	ClientBuffer uint32
}

// A Client is a connection to an rpc service on the companion processor,
// established with [SIF.Bind].
//
// A Client must not be used by multiple goroutines concurrently.
type Client struct {
	s         *SIF
	id        uint32
	server    uint32 // companion side service handle, zero until bound
	serverBuf iop.Addr
	buf       []byte
	done      chan struct{}
}

// Bind connects to the rpc service identified by serverID.  It blocks until
// the companion processor acknowledges the connection; there is no timeout.
func (s *SIF) Bind(serverID uint32) (*Client, error) {
	c := &Client{s: s, done: make(chan struct{})}
	var err error
	if c.buf, err = s.mem.Alloc(BufferSize); err != nil {
		return nil, fmt.Errorf("sif: allocate rpc buffer: %w", err)
	}

	s.rpcMu.Lock()
	s.nextID++
	c.id = s.nextID
	s.clients[c.id] = c
	s.rpcMu.Unlock()

	pkt := rpcBindPacket{Client: c.id, ServerID: serverID}
	if err := s.Cmd(CmdRPCBind, &pkt); err != nil {
		s.removeClient(c)
		return nil, err
	}
	<-c.done

	if c.server == 0 {
		s.removeClient(c)
		return nil, fmt.Errorf("sif: bind service %#x: %w", serverID, ErrNotFound)
	}
	return c, nil
}

// Call invokes remote procedure rpcID with payload send and returns recvSize
// bytes of reply.  It blocks until the companion processor signals
// completion; there is no timeout and no cancellation.
func (c *Client) Call(rpcID uint32, send []byte, recvSize int) ([]byte, error) {
	if c.server == 0 {
		return nil, fmt.Errorf("sif: call %#x: %w", rpcID, ErrUnbound)
	}
	if len(send) > len(c.buf) || recvSize > len(c.buf) {
		return nil, fmt.Errorf("sif: call %#x: transfer exceeds rpc buffer", rpcID)
	}

	c.s.rpcMu.Lock()
	c.done = make(chan struct{})
	c.s.rpcMu.Unlock()

	pkt := rpcCallPacket{
		Client:   c.id,
		RPCID:    rpcID,
		SendSize: uint32(len(send)),
		RecvAddr: c.s.mem.Addr(c.buf),
		RecvSize: uint32(recvSize),
		RecvMode: 1,
		Server:   c.server,
	}
	if err := c.s.CmdCopy(CmdRPCCall, &pkt, c.serverBuf, send); err != nil {
		return nil, err
	}
	<-c.done

	if recvSize == 0 {
		return nil, nil
	}
	c.s.mem.Invalidate(c.buf[:recvSize])
	recv := make([]byte, recvSize)
	copy(recv, c.buf)
	return recv, nil
}

// Unbind releases the connection.  The companion side has no notion of
// disconnecting, its bookkeeping for the client is not released.
func (c *Client) Unbind() {
	c.s.removeClient(c)
	c.server = 0
}

func (s *SIF) removeClient(c *Client) {
	s.rpcMu.Lock()
	delete(s.clients, c.id)
	s.rpcMu.Unlock()
	s.mem.Free(c.buf)
	c.buf = nil
}

// cmdRPCEnd completes a pending bind or call.  A completion that doesn't
// match a pending request means the two sides disagree about protocol state
// and nothing sensible can happen from here on.
func (s *SIF) cmdRPCEnd(h *Header, payload []byte) {
	var end rpcEndPacket
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &end); err != nil {
		return
	}

	s.rpcMu.Lock()
	c := s.clients[end.Client]
	var done chan struct{}
	if c != nil {
		done = c.done
	}
	s.rpcMu.Unlock()
	if c == nil {
		panic(fmt.Sprintf("sif: rpc end for unknown client %#x", end.Client))
	}

	switch end.ClientID {
	case CmdRPCCall:
		// reply is already in the client's receive buffer
	case CmdRPCBind:
		c.server = end.Server
		c.serverBuf = iop.Addr(end.ServerBuffer)
	default:
		panic(fmt.Sprintf("sif: rpc end with client id %#x", end.ClientID))
	}
	close(done)
}

// cmdRPCBind acknowledges a bind request from the companion processor.  The
// companion firmware binds to the main side during its own rpc bringup.
func (s *SIF) cmdRPCBind(h *Header, payload []byte) {
	var bind rpcBindPacket
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &bind); err != nil {
		return
	}
	end := rpcEndPacket{Client: bind.Client, ClientID: CmdRPCBind}
	if err := s.Cmd(CmdRPCEnd, &end); err != nil {
		s.onceBind.Do(func() {
			log.Printf("sif: rpc bind reply failed: %v", err)
		})
	}
}
