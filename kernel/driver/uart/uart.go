// Package uart drives a 16550-compatible serial port (COM1 by default),
// exposed to kernel/vfs as /dev/uart0: reads drain an IRQ-fed ring buffer,
// writes poll the transmit-holding-register-empty bit directly.
package uart

import (
	"io"
	"kestrel/kernel"
	"kestrel/kernel/cpu"
	"kestrel/kernel/driver"
	"kestrel/kernel/irq"
)

// COM1Base is the standard ISA COM1 I/O port base.
const COM1Base uint16 = 0x3f8

const (
	regData = 0 // DLAB=0: RX/TX holding register. DLAB=1: low byte of baud divisor.
	regIER  = 1 // DLAB=0: interrupt enable. DLAB=1: high byte of baud divisor.
	regFCR  = 2 // FIFO control (write only).
	regLCR  = 3 // Line control; bit 7 is DLAB.
	regMCR  = 4 // Modem control.
	regLSR  = 5 // Line status.

	lsrDataReady       = 1 << 0
	lsrTransmitterEmpty = 1 << 5

	lcrDLAB   = 1 << 7
	lcr8N1    = 0x03
	fcrEnableAndClear = 0xC7 // enable FIFO, clear RX/TX, 14-byte trigger
	mcrDTRRTSOut2     = 0x0B

	baseClockHz = 115200
)

var (
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
	ioWaitFn        = cpu.IOWait
)

// uartRingSize must be a power of 2; see ringBuffer.
const uartRingSize = 256

// ringBuffer is the same single-producer/single-consumer overwrite-oldest
// byte queue kernel/driver/ps2 uses for its keyboard stream; both are
// grounded on kernel/kfmt's ring buffer and kept as separate unexported
// copies since neither driver package imports the other.
type ringBuffer struct {
	buf            [uartRingSize]byte
	rIndex, wIndex int
}

func (rb *ringBuffer) push(b byte) {
	rb.buf[rb.wIndex] = b
	rb.wIndex = (rb.wIndex + 1) & (uartRingSize - 1)
	if rb.rIndex == rb.wIndex {
		rb.rIndex = (rb.rIndex + 1) & (uartRingSize - 1)
	}
}

func (rb *ringBuffer) read(p []byte) int {
	n := 0
	for n < len(p) && rb.rIndex != rb.wIndex {
		p[n] = rb.buf[rb.rIndex]
		rb.rIndex = (rb.rIndex + 1) & (uartRingSize - 1)
		n++
	}
	return n
}

// UART drives one 16550 port. irqLine is the ISA IRQ it is wired to (IRQ4
// for COM1/COM3, IRQ3 for COM2/COM4).
type UART struct {
	base    uint16
	irqLine uint8
	ring    ringBuffer
}

// New returns a driver bound to the given I/O port base and IRQ line,
// ready for DriverInit.
func New(base uint16, irqLine uint8) *UART {
	return &UART{base: base, irqLine: irqLine}
}

func (u *UART) DriverName() string { return "uart" }

func (u *UART) DriverVersion() (uint16, uint16, uint16) { return 1, 0, 0 }

// DriverInit programs the port for 115200 8N1, enables and clears the
// FIFOs, asserts DTR/RTS/OUT2 (required for the 16550 to route its
// interrupt line to the PIC at all), enables the receive-data-available
// interrupt, and registers the IRQ handler.
func (u *UART) DriverInit(w io.Writer) *kernel.Error {
	portWriteByteFn(u.port(regIER), 0x00) // disable interrupts while programming

	portWriteByteFn(u.port(regLCR), lcrDLAB)
	divisor := uint16(baseClockHz / 115200)
	portWriteByteFn(u.port(regData), uint8(divisor&0xff))
	portWriteByteFn(u.port(regIER), uint8(divisor>>8))
	portWriteByteFn(u.port(regLCR), lcr8N1)

	portWriteByteFn(u.port(regFCR), fcrEnableAndClear)
	portWriteByteFn(u.port(regMCR), mcrDTRRTSOut2)
	portWriteByteFn(u.port(regIER), 0x01) // enable "data available" interrupt

	irq.HandleIRQ(u.irqLine, u.handleIRQ)
	return nil
}

func (u *UART) port(reg uint16) uint16 { return u.base + reg }

func (u *UART) handleIRQ(_ uint8, _ *irq.Regs) {
	for portReadByteFn(u.port(regLSR))&lsrDataReady != 0 {
		u.ring.push(portReadByteFn(u.port(regData)))
	}
}

// Read implements vfs.ReadFunc: drains whatever has arrived since the last
// read, never blocking.
func (u *UART) Read(_ uint64, buf []byte) (int, *kernel.Error) {
	return u.ring.read(buf), nil
}

// Write implements vfs.WriteFunc: sends every byte, spinning on the
// transmitter-holding-register-empty bit between bytes. There is no
// transmit ring; a slow remote end stalls the writer, matching a real
// serial cable's backpressure.
func (u *UART) Write(buf []byte) (int, *kernel.Error) {
	for _, b := range buf {
		for portReadByteFn(u.port(regLSR))&lsrTransmitterEmpty == 0 {
			ioWaitFn()
		}
		portWriteByteFn(u.port(regData), b)
	}
	return len(buf), nil
}

func init() {
	driver.RegisterDriver(&driver.DriverInfo{
		Order: driver.DetectOrderEarly,
		Probe: func() driver.Driver { return New(COM1Base, 4) },
	})
}
