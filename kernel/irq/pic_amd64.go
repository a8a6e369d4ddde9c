package irq

import "kestrel/kernel/cpu"

// The 8259A Programmable Interrupt Controller ships as a cascaded
// master/slave pair wired to IRQ2 on real PC hardware. Its default vector
// ranges (0x08-0x0f and 0x70-0x77) collide with the CPU exception vectors, so
// it must be reprogrammed ("remapped") before interrupts are enabled.
const (
	picMasterCommand = 0x20
	picMasterData    = 0x21
	picSlaveCommand  = 0xA0
	picSlaveData     = 0xA1

	picICW1Init  = 0x11 // edge-triggered, cascade mode, ICW4 present
	picICW4x86   = 0x01

	picEOI = 0x20

	// IRQBase is the vector number hardware IRQ 0 is remapped to. IRQs
	// occupy IRQBase..IRQBase+15; this keeps them clear of the CPU
	// exception vectors (0-31).
	IRQBase = InterruptNumber(0x20)
)

// InterruptNumber identifies a slot in the IDT: either a CPU exception
// (0-31) or, once the PIC has been remapped, a hardware IRQ (IRQBase..
// IRQBase+15).
type InterruptNumber uint8

// IRQHandler handles a hardware interrupt. regs reflects the register state
// at the time the interrupt fired.
type IRQHandler func(irq uint8, regs *Regs)

var (
	irqHandlers [16]IRQHandler

	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
	ioWaitFn        = cpu.IOWait
)

// RemapPIC reprograms the 8259A pair so that master IRQs 0-7 map to vectors
// IRQBase..IRQBase+7 and slave IRQs 8-15 map to IRQBase+8..IRQBase+15, then
// masks every line. Handlers register themselves via HandleIRQ, which
// unmasks the corresponding line.
func RemapPIC() {
	// save current masks is unnecessary here: every line starts fully
	// masked until a driver calls HandleIRQ for it.
	portWriteByteFn(picMasterCommand, picICW1Init)
	ioWaitFn()
	portWriteByteFn(picSlaveCommand, picICW1Init)
	ioWaitFn()

	portWriteByteFn(picMasterData, uint8(IRQBase))
	ioWaitFn()
	portWriteByteFn(picSlaveData, uint8(IRQBase)+8)
	ioWaitFn()

	portWriteByteFn(picMasterData, 0x04) // slave PIC is cascaded on master's IRQ2
	ioWaitFn()
	portWriteByteFn(picSlaveData, 0x02) // slave's cascade identity
	ioWaitFn()

	portWriteByteFn(picMasterData, picICW4x86)
	ioWaitFn()
	portWriteByteFn(picSlaveData, picICW4x86)
	ioWaitFn()

	// mask every line; HandleIRQ unmasks as drivers register.
	portWriteByteFn(picMasterData, 0xff)
	portWriteByteFn(picSlaveData, 0xff)
}

// HandleIRQ registers handler for hardware IRQ line irq (0-15) and unmasks
// it. Only one handler may be registered per line.
func HandleIRQ(irq uint8, handler IRQHandler) {
	irqHandlers[irq] = handler
	setMasked(irq, false)
}

// dispatchIRQ is invoked by the IRQBase..IRQBase+15 gate entrypoints. It
// routes to the registered handler (if any) and always sends an EOI,
// including to the slave PIC when the line is 8-15.
func dispatchIRQ(irq uint8, regs *Regs) {
	if handler := irqHandlers[irq]; handler != nil {
		handler(irq, regs)
	}

	if irq >= 8 {
		portWriteByteFn(picSlaveCommand, picEOI)
	}
	portWriteByteFn(picMasterCommand, picEOI)
}

func setMasked(irq uint8, masked bool) {
	port := picMasterData
	line := irq
	if irq >= 8 {
		port = picSlaveData
		line = irq - 8
	}

	current := portReadByteFn(port)
	if masked {
		current |= 1 << line
	} else {
		current &^= 1 << line
	}
	portWriteByteFn(port, current)
}
