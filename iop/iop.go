// Package iop provides addressing for the input/output processor (IOP), the
// companion processor that handles most peripheral devices.  The IOP has its
// own local memory, which is visible to the main CPU as a window on the main
// bus.
package iop

// Addr is an address in IOP memory as seen on the main bus, i.e. inside the
// RAM window.
type Addr uint32

const (
	RAMBase = 0x1c00_0000 // IOP RAM window on the main bus
	RAMSize = 0x20_0000

	OHCIBase = 0x1f80_1600 // USB OHCI controller, handled by the IOP
)

// PhysToBus translates an IOP-physical address to its main bus address.
func PhysToBus(paddr uint32) Addr {
	return Addr(paddr + RAMBase)
}

// BusToPhys translates a main bus address inside the RAM window back to an
// IOP-physical address.
func BusToPhys(baddr Addr) uint32 {
	return uint32(baddr) - RAMBase
}
