package irqrelay_test

import (
	"testing"

	"github.com/clktmr/ps2/iop/irqrelay"
	"github.com/clktmr/ps2/sif"
	"github.com/clktmr/ps2/siftest"
)

func TestRequestRelease(t *testing.T) {
	rig := siftest.NewRig()
	rig.IOP.Start()

	// The relay service takes single byte arguments: {iop, map, rpc} for a
	// mapping request, just {iop} for a release.
	var requested []uint32
	rig.IOP.Serve(sif.SIDIRQRelay, func(rpcID uint32, send []byte) []byte {
		switch rpcID {
		case 1:
			if len(send) != 3 {
				t.Errorf("map request is %d bytes, want 3", len(send))
				break
			}
			if send[0] != send[1] || send[2] != 1 {
				t.Errorf("got mapping {%d %d %d}", send[0], send[1], send[2])
			}
			requested = append(requested, uint32(send[0]))
		case 2:
			if len(send) != 1 {
				t.Errorf("release request is %d bytes, want 1", len(send))
				break
			}
			irq := uint32(send[0])
			for i, r := range requested {
				if r == irq {
					requested = append(requested[:i], requested[i+1:]...)
					break
				}
			}
		}
		return make([]byte, 4)
	})

	s, err := sif.Init(rig.Config())
	if err != nil {
		t.Fatal("init:", err)
	}
	defer s.Close()

	r, err := irqrelay.New(s)
	if err != nil {
		t.Fatal("bind:", err)
	}
	defer r.Close()

	fired := 0
	if err := r.Request(irqrelay.IRQUSB, func() { fired++ }); err != nil {
		t.Fatal("request:", err)
	}
	if len(requested) != 1 || requested[0] != irqrelay.IRQUSB {
		t.Fatalf("companion got requests %v", requested)
	}

	// The companion notifies interrupts with a relay command.
	rig.IOP.SendCmd(sif.CmdIRQRelay, 0, &struct{ IRQ uint32 }{irqrelay.IRQUSB})
	rig.IOP.SendCmd(sif.CmdIRQRelay, 0, &struct{ IRQ uint32 }{irqrelay.IRQSIO2}) // not subscribed
	if fired != 1 {
		t.Errorf("handler fired %d times, want 1", fired)
	}

	if err := r.Release(irqrelay.IRQUSB); err != nil {
		t.Fatal("release:", err)
	}
	if len(requested) != 0 {
		t.Errorf("companion still relays %v", requested)
	}
	rig.IOP.SendCmd(sif.CmdIRQRelay, 0, &struct{ IRQ uint32 }{irqrelay.IRQUSB})
	if fired != 1 {
		t.Errorf("handler fired %d times after release, want 1", fired)
	}
}
