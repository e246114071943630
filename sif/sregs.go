package sif

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/clktmr/ps2/debug"
)

// SregMax is the number of shared registers.
const SregMax = 32

// SregRPCInit is set nonzero by the companion processor once its rpc
// subsystem has come up.
const SregRPCInit = 0

// Sreg returns the current value of a shared register.  Shared registers are
// written by the companion processor via the write-sreg system command.
func (s *SIF) Sreg(reg int) int32 {
	debug.Assert(0 <= reg && reg < SregMax, "sreg out of range")
	s.sregMu.Lock()
	defer s.sregMu.Unlock()
	return s.sregs[reg]
}

func (s *SIF) cmdWriteSreg(h *Header, payload []byte) {
	var pkt struct {
		Reg uint32
		Val int32
	}
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &pkt); err != nil {
		return
	}
	if pkt.Reg >= SregMax {
		panic(fmt.Sprintf("sif: write to sreg %d", pkt.Reg))
	}
	s.sregMu.Lock()
	s.sregs[pkt.Reg] = pkt.Val
	s.sregMu.Unlock()
}
