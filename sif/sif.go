// Package sif implements the serial interface between the main processor and
// the companion i/o processor.
//
// The two processors communicate through a mailbox register file and two
// one-way DMA channels.  On top of these the package implements a command
// channel for short fire-and-forget packets, a remote procedure call layer
// for the services hosted on the companion processor and a small table of
// shared registers.
//
// The hardware itself is abstracted behind the [Mailbox], [Tx], [Rx] and
// [Mem] interfaces, passed in via [Config].
package sif

import (
	"errors"
	"fmt"
	"sync"

	"github.com/clktmr/ps2/iop"
)

var (
	ErrTimeout  = errors.New("timeout")
	ErrBusy     = errors.New("channel busy")
	ErrNotFound = errors.New("service not found")
	ErrUnbound  = errors.New("client not bound")
)

// DefaultResetArg is the boot argument passed to the companion processor's
// reset command if [Config.ResetArg] is empty.
const DefaultResetArg = "rom0:UDNL rom0:OSDCNF"

// Config passes the hardware units the interface is built on.
type Config struct {
	Mailbox Mailbox
	Tx      Tx
	Rx      Rx
	Mem     Mem

	// ResetArg is passed to the companion processor's reset command and
	// selects the firmware it reboots into.
	ResetArg string
}

// SIF is an initialised serial interface.
type SIF struct {
	mbx Mailbox
	tx  Tx
	rx  Rx
	mem Mem

	subAddr iop.Addr // companion command buffer, read from the mailbox

	rxBuf []byte
	txBuf []byte
	txMu  sync.Mutex // serializes staging in txBuf

	mu    sync.Mutex // guards handler tables and relay
	sys   [cmdHandlerMax]CmdHandler
	usr   [cmdHandlerMax]CmdHandler
	relay func(irq uint32)

	sregMu sync.Mutex
	sregs  [SregMax]int32

	rpcMu   sync.Mutex
	clients map[uint32]*Client
	nextID  uint32

	onceSize, onceCmd, onceBind sync.Once
}

// Init resets the companion processor and brings up the interface.  It blocks
// until the companion has rebooted and acknowledged both the command and the
// rpc subsystem, which can take several seconds.
func Init(cfg Config) (*SIF, error) {
	s := &SIF{
		mbx:     cfg.Mailbox,
		tx:      cfg.Tx,
		rx:      cfg.Rx,
		mem:     cfg.Mem,
		clients: make(map[uint32]*Client),
	}
	arg := cfg.ResetArg
	if arg == "" {
		arg = DefaultResetArg
	}

	s.tx.Disable()
	s.rx.Disable()

	var err error
	if s.rxBuf, err = s.mem.Alloc(BufferSize); err != nil {
		return nil, fmt.Errorf("sif: allocate receive buffer: %w", err)
	}
	if s.txBuf, err = s.mem.Alloc(BufferSize); err != nil {
		s.mem.Free(s.rxBuf)
		return nil, fmt.Errorf("sif: allocate staging buffer: %w", err)
	}

	if err := s.boot(arg); err != nil {
		s.rx.SetHandler(nil)
		s.tx.Disable()
		s.rx.Disable()
		s.mem.Free(s.txBuf)
		s.mem.Free(s.rxBuf)
		return nil, err
	}
	return s, nil
}

// boot walks the companion processor through its reset handshake.
func (s *SIF) boot(arg string) error {
	// The boot rom publishes a provisional command buffer before the
	// actual firmware is loaded by the reset below.
	addr, err := s.readSubAddr()
	if err != nil {
		return fmt.Errorf("sif: read provisional companion address: %w", err)
	}
	s.subAddr = addr
	s.writeMainAddr()

	if err := s.reset(arg); err != nil {
		return fmt.Errorf("sif: reset companion: %w", err)
	}

	s.writeMainAddr()
	addr, err = s.readSubAddr()
	if err != nil {
		return fmt.Errorf("sif: read final companion address: %w", err)
	}
	s.subAddr = addr

	s.requestCmds()
	s.rx.SetHandler(s.interrupt)
	s.rx.Arm(s.rxBuf)

	if err := s.cmdInit(); err != nil {
		return fmt.Errorf("sif: init command subsystem: %w", err)
	}
	if err := s.rpcInit(); err != nil {
		return fmt.Errorf("sif: init rpc subsystem: %w", err)
	}
	return nil
}

// Close shuts down the interface.  Pending rpc calls aren't cancelled, a
// blocked caller stays blocked.
func (s *SIF) Close() {
	s.rx.SetHandler(nil)
	s.tx.Disable()
	s.rx.Disable()
	s.mem.Free(s.txBuf)
	s.mem.Free(s.rxBuf)
}

// Mem returns the DMA memory provider the interface was configured with.
func (s *SIF) Mem() Mem { return s.mem }

type resetPacket struct {
	ArgLen uint32
	Mode   uint32
	Arg    [80]byte
}

func (s *SIF) reset(arg string) error {
	var pkt resetPacket
	if len(arg)+1 > len(pkt.Arg) {
		return fmt.Errorf("boot argument %q too long", arg)
	}
	pkt.ArgLen = uint32(len(arg) + 1)
	copy(pkt.Arg[:], arg)

	s.mbx.ClearSMFlag(StatusBootEnd)
	if err := s.Cmd(CmdReset, &pkt); err != nil {
		return err
	}
	s.mbx.SetSMFlag(StatusSIFInit | StatusCmdInit)

	if !pollUntil(s.bootEnded, flagPollInterval, flagPollTimeout) {
		return ErrTimeout
	}
	return nil
}

// writeMainAddr publishes the receive buffer address and acknowledges the
// companion's boot progress in the main-to-sub flags.
func (s *SIF) writeMainAddr() {
	s.mbx.SetMainAddr(s.mem.Addr(s.rxBuf))
	s.mbx.SetMSFlag(StatusCmdInit | StatusBootEnd)
}

// readSubAddr waits for the companion's command subsystem and returns its
// command buffer address.
func (s *SIF) readSubAddr() (iop.Addr, error) {
	if !pollUntil(s.cmdInited, flagPollInterval, flagPollTimeout) {
		return 0, ErrTimeout
	}
	return iop.Addr(s.mbx.SubAddr()), nil
}

func (s *SIF) cmdInited() bool { return s.smflag()&StatusCmdInit != 0 }
func (s *SIF) bootEnded() bool { return s.smflag()&StatusBootEnd != 0 }

// smflag reads the sub-to-main flags until two consecutive reads agree.  The
// register is updated by the companion processor and reads can tear.
func (s *SIF) smflag() uint32 {
	a := s.mbx.SMFlag()
	for {
		b := s.mbx.SMFlag()
		if a == b {
			return a
		}
		a = b
	}
}

type changeAddrPacket struct {
	Addr uint32
}

func (s *SIF) cmdInit() error {
	pkt := changeAddrPacket{Addr: s.mem.Addr(s.rxBuf)}
	return s.CmdOpt(CmdInit, 0, &pkt)
}

func (s *SIF) rpcInit() error {
	if err := s.CmdOpt(CmdInit, 1, nil); err != nil {
		return err
	}
	rpcInited := func() bool { return s.Sreg(SregRPCInit) != 0 }
	if !pollUntil(rpcInited, flagPollInterval, flagPollTimeout) {
		return ErrTimeout
	}
	return nil
}
