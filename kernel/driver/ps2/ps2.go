// Package ps2 drives the 8042 PS/2 controller: a keyboard translating
// scancode set 1 into a byte stream consumed as /dev/stdin, and a mouse
// decoding the standard 3-byte packet into relative motion and button
// state. Both register themselves with kernel/driver at package init,
// following the teacher's probe/registry pattern, and hook their IRQ lines
// (1 and 12) with kernel/irq in DriverInit.
package ps2

import "kestrel/kernel/cpu"

const (
	dataPort    = 0x60
	statusPort  = 0x64
	commandPort = 0x64

	statusOutputFull = 1 << 0
	statusAuxData    = 1 << 5 // set when the byte waiting at dataPort came from the mouse, not the keyboard

	cmdEnableAux     = 0xA8
	cmdWriteAuxInput = 0xD4

	mouseSetDefaults = 0xF6
	mouseEnableData  = 0xF4
)

var (
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
	ioWaitFn        = cpu.IOWait
)

// waitOutputFull spins until the controller has a byte ready at dataPort.
// Called only from driver init, never from interrupt context: once
// interrupts are enabled, scancodes arrive asynchronously via IRQ.
func waitOutputFull() {
	for portReadByteFn(statusPort)&statusOutputFull == 0 {
		ioWaitFn()
	}
}

func flushOutputBuffer() {
	for portReadByteFn(statusPort)&statusOutputFull != 0 {
		portReadByteFn(dataPort)
	}
}
