package irq

import "testing"

func TestRemapPIC(t *testing.T) {
	defer func() {
		portWriteByteFn = nil
		ioWaitFn = func() {}
	}()

	var writes []struct {
		port uint16
		val  uint8
	}
	portWriteByteFn = func(port uint16, val uint8) {
		writes = append(writes, struct {
			port uint16
			val  uint8
		}{port, val})
	}
	ioWaitFn = func() {}

	RemapPIC()

	// Master and slave vector offsets must land on IRQBase/IRQBase+8.
	var masterOffset, slaveOffset uint8
	for _, w := range writes {
		switch w.port {
		case picMasterData:
			if masterOffset == 0 && w.val != 0xff {
				masterOffset = w.val
			}
		case picSlaveData:
			if slaveOffset == 0 && w.val != 0xff {
				slaveOffset = w.val
			}
		}
	}
	if masterOffset != uint8(IRQBase) {
		t.Fatalf("expected master PIC offset %d; got %d", IRQBase, masterOffset)
	}
	if slaveOffset != uint8(IRQBase)+8 {
		t.Fatalf("expected slave PIC offset %d; got %d", uint8(IRQBase)+8, slaveOffset)
	}

	// Every line must end up masked.
	last := map[uint16]uint8{}
	for _, w := range writes {
		if w.port == picMasterData || w.port == picSlaveData {
			last[w.port] = w.val
		}
	}
	if last[picMasterData] != 0xff || last[picSlaveData] != 0xff {
		t.Fatalf("expected both PICs fully masked after remap; got master=%x slave=%x", last[picMasterData], last[picSlaveData])
	}
}

func TestHandleIRQUnmasksLine(t *testing.T) {
	defer func() {
		portWriteByteFn = nil
		portReadByteFn = nil
		irqHandlers = [16]IRQHandler{}
	}()

	masks := map[uint16]uint8{picMasterData: 0xff, picSlaveData: 0xff}
	portReadByteFn = func(port uint16) uint8 { return masks[port] }
	portWriteByteFn = func(port uint16, val uint8) { masks[port] = val }

	called := false
	HandleIRQ(1, func(irq uint8, regs *Regs) { called = true })

	if masks[picMasterData]&(1<<1) != 0 {
		t.Fatal("expected IRQ1 line to be unmasked on the master PIC")
	}

	dispatchIRQ(1, &Regs{})
	if !called {
		t.Fatal("expected registered handler to be invoked")
	}
}

func TestDispatchIRQSendsEOI(t *testing.T) {
	defer func() {
		portWriteByteFn = nil
		irqHandlers = [16]IRQHandler{}
	}()

	var eoiPorts []uint16
	portWriteByteFn = func(port uint16, val uint8) {
		if val == picEOI {
			eoiPorts = append(eoiPorts, port)
		}
	}

	dispatchIRQ(10, &Regs{}) // slave-PIC line

	foundMaster, foundSlave := false, false
	for _, p := range eoiPorts {
		if p == picMasterCommand {
			foundMaster = true
		}
		if p == picSlaveCommand {
			foundSlave = true
		}
	}
	if !foundMaster || !foundSlave {
		t.Fatalf("expected EOI to be sent to both PICs for a slave IRQ; got %v", eoiPorts)
	}
}
