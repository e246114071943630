// Package siftest provides a software model of the serial interface
// hardware: the shared bus, the mailbox registers, both DMA channels and a
// minimal companion processor that answers the boot handshake and hosts rpc
// services.  It backs the interface tests, no real hardware involved.
package siftest

import (
	"github.com/clktmr/ps2/sif"
)

// Rig wires a fake bus, mailbox, channels and companion processor into a
// ready-to-use [sif.Config].
type Rig struct {
	Bus     *Bus
	Mailbox *Mailbox
	Tx      *TxChannel
	Rx      *RxChannel
	IOP     *Companion
}

// NewRig assembles a rig.  The companion is powered off until
// [Companion.Start] is called.
func NewRig() *Rig {
	bus := NewBus()
	mbx := &Mailbox{}
	rx := NewRxChannel()
	iop := NewCompanion(bus, mbx, rx)
	tx := NewTxChannel(bus, iop.receive)
	return &Rig{Bus: bus, Mailbox: mbx, Tx: tx, Rx: rx, IOP: iop}
}

// Config returns the rig's hardware units as a [sif.Config].
func (r *Rig) Config() sif.Config {
	return sif.Config{Mailbox: r.Mailbox, Tx: r.Tx, Rx: r.Rx, Mem: r.Bus}
}
