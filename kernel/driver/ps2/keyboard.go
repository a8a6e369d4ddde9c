package ps2

import (
	"io"
	"kestrel/kernel"
	"kestrel/kernel/driver"
	"kestrel/kernel/irq"
)

// set1 maps scancode set 1 make codes (0x01-0x39) to their unshifted ASCII
// value. A zero entry has no ASCII representation (function keys, etc.) and
// is dropped by the decoder.
var set1 = [0x3a]byte{
	0x01: 0x1b, // Esc
	0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
	0x07: '6', 0x08: '7', 0x09: '8', 0x0a: '9', 0x0b: '0',
	0x0c: '-', 0x0d: '=', 0x0e: '\b',
	0x0f: '\t',
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't',
	0x15: 'y', 0x16: 'u', 0x17: 'i', 0x18: 'o', 0x19: 'p',
	0x1a: '[', 0x1b: ']', 0x1c: '\n',
	0x1e: 'a', 0x1f: 's', 0x20: 'd', 0x21: 'f', 0x22: 'g',
	0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l', 0x27: ';',
	0x28: '\'', 0x29: '`',
	0x2b: '\\',
	0x2c: 'z', 0x2d: 'x', 0x2e: 'c', 0x2f: 'v', 0x30: 'b',
	0x31: 'n', 0x32: 'm', 0x33: ',', 0x34: '.', 0x35: '/',
	0x39: ' ',
}

// set1Shifted is set1's shifted variant for the keys whose shifted glyph
// isn't a simple case fold.
var set1Shifted = [0x3a]byte{
	0x02: '!', 0x03: '@', 0x04: '#', 0x05: '$', 0x06: '%',
	0x07: '^', 0x08: '&', 0x09: '*', 0x0a: '(', 0x0b: ')',
	0x0c: '_', 0x0d: '+',
	0x1a: '{', 0x1b: '}',
	0x27: ':', 0x28: '"', 0x29: '~',
	0x2b: '|',
	0x33: '<', 0x34: '>', 0x35: '?',
}

const (
	scLeftShift  = 0x2a
	scRightShift = 0x36
	breakBit     = 0x80
)

// keyboardRingSize must be a power of 2; see ringBuffer.
const keyboardRingSize = 256

// ringBuffer is a single-producer (the IRQ handler), single-consumer (the
// stdin read callback) byte queue. Overwriting the oldest unread byte on
// overflow mirrors kfmt's own ring buffer rather than blocking the
// interrupt handler or dropping new input.
type ringBuffer struct {
	buf            [keyboardRingSize]byte
	rIndex, wIndex int
}

func (rb *ringBuffer) push(b byte) {
	rb.buf[rb.wIndex] = b
	rb.wIndex = (rb.wIndex + 1) & (keyboardRingSize - 1)
	if rb.rIndex == rb.wIndex {
		rb.rIndex = (rb.rIndex + 1) & (keyboardRingSize - 1)
	}
}

func (rb *ringBuffer) read(p []byte) int {
	n := 0
	for n < len(p) && rb.rIndex != rb.wIndex {
		p[n] = rb.buf[rb.rIndex]
		rb.rIndex = (rb.rIndex + 1) & (keyboardRingSize - 1)
		n++
	}
	return n
}

// Keyboard decodes scancode set 1 into an ASCII byte stream, buffered until
// a reader (normally /dev/stdin) drains it.
type Keyboard struct {
	ring      ringBuffer
	shiftDown bool
}

// NewKeyboard returns a driver ready for DriverInit.
func NewKeyboard() *Keyboard {
	return &Keyboard{}
}

func (k *Keyboard) DriverName() string { return "ps2-keyboard" }

func (k *Keyboard) DriverVersion() (uint16, uint16, uint16) { return 1, 0, 0 }

// DriverInit flushes any stale output byte and registers the IRQ1 handler.
func (k *Keyboard) DriverInit(w io.Writer) *kernel.Error {
	flushOutputBuffer()
	irq.HandleIRQ(1, k.handleIRQ)
	return nil
}

func (k *Keyboard) handleIRQ(_ uint8, _ *irq.Regs) {
	code := portReadByteFn(dataPort)
	k.decode(code)
}

// decode updates shift state on every make/break and pushes the resulting
// ASCII byte, if any, onto the ring.
func (k *Keyboard) decode(code uint8) {
	release := code&breakBit != 0
	key := code &^ breakBit

	if key == scLeftShift || key == scRightShift {
		k.shiftDown = !release
		return
	}
	if release || int(key) >= len(set1) {
		return
	}

	ch := set1[key]
	if k.shiftDown {
		if sh := set1Shifted[key]; sh != 0 {
			ch = sh
		} else if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
	}
	if ch != 0 {
		k.ring.push(ch)
	}
}

// Read implements vfs.ReadFunc: it drains whatever decoded bytes are
// currently buffered, never blocking. offset is ignored; the keyboard is a
// stream, not a seekable file.
func (k *Keyboard) Read(_ uint64, buf []byte) (int, *kernel.Error) {
	return k.ring.read(buf), nil
}

func init() {
	driver.RegisterDriver(&driver.DriverInfo{
		Order: driver.DetectOrderEarly,
		Probe: func() driver.Driver { return NewKeyboard() },
	})
}
