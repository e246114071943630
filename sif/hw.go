package sif

import "github.com/clktmr/ps2/iop"

// Status bits of the sub-to-main and main-to-sub mailbox flag registers.
const (
	StatusSIFInit uint32 = 0x10000 // interface initialised
	StatusCmdInit uint32 = 0x20000 // command subsystem initialised
	StatusBootEnd uint32 = 0x40000 // companion bootup completed
)

// Mailbox is the set of registers shared between the two processors.  It
// consists of two address registers, used to exchange the command buffer
// addresses, and two flag registers, used to indicate certain events.
//
// The flag registers are bitmasks.  The companion processor raises bits in
// the sub-to-main register on its own; this side can also raise and clear
// them during the boot handshake.
type Mailbox interface {
	// SetMainAddr publishes the main processor's command buffer address.
	SetMainAddr(addr uint32)
	// SubAddr returns the companion processor's command buffer address.
	SubAddr() uint32
	// SMFlag returns the sub-to-main flag register.
	SMFlag() uint32
	// SetSMFlag raises bits in the sub-to-main flag register.
	SetSMFlag(mask uint32)
	// ClearSMFlag clears bits in the sub-to-main flag register.
	ClearSMFlag(mask uint32)
	// SetMSFlag raises bits in the main-to-sub flag register.
	SetMSFlag(mask uint32)
}

// TransferFlag alters how a DMA transfer is tagged.
type TransferFlag uint32

const (
	// EndTransfer marks the transfer as the end of a transmission.
	EndTransfer TransferFlag = 1 << iota
	// Interrupt raises an interrupt on the receiving side on completion.
	Interrupt
)

// Tx is the outbound DMA channel, main to companion.  Only a single transfer
// may be in flight at any time; callers must check Busy before starting
// another transfer.
type Tx interface {
	// Busy reports whether a transfer is in flight.
	Busy() bool
	// Transfer starts a transfer of p to the companion bus address dst.
	// p must stay valid until the channel reports not busy again.
	Transfer(dst iop.Addr, p []byte, flags TransferFlag)
	// Disable stops the channel and drops any transfer in flight.
	Disable()
}

// Rx is the inbound DMA channel, companion to main.  It receives a single
// packet into the armed buffer and raises the completion handler, in
// interrupt context.  The channel stays idle until it is armed again.
type Rx interface {
	// Busy reports whether a transfer is in flight.
	Busy() bool
	// Arm readies the channel to receive the next packet into p.
	Arm(p []byte)
	// SetHandler installs fn as the completion interrupt handler.
	SetHandler(fn func())
	// Disable stops the channel and drops any transfer in flight.
	Disable()
}

// Mem provides DMA-capable memory.  It takes the place of the main CPU's
// cache maintenance and physical address translation.
type Mem interface {
	// Alloc returns a 16-byte aligned buffer suitable for DMA.
	Alloc(n int) ([]byte, error)
	// Free releases a buffer returned by Alloc.
	Free(p []byte)
	// Addr returns the bus address of a buffer returned by Alloc.
	Addr(p []byte) uint32
	// Slice returns the memory at bus address addr, or nil if the range
	// is not mapped.
	Slice(addr uint32, n int) []byte
	// Invalidate discards cached data over p before reading DMA results.
	Invalidate(p []byte)
	// Writeback flushes cached data over p before starting a transfer.
	Writeback(p []byte)
}
