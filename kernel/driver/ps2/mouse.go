package ps2

import (
	"io"
	"kestrel/kernel"
	"kestrel/kernel/driver"
	"kestrel/kernel/irq"
	"kestrel/kernel/sync"
)

const (
	mouseLeftButton   = 1 << 0
	mouseRightButton  = 1 << 1
	mouseMiddleButton = 1 << 2
)

// MouseEvent is one decoded PS/2 mouse packet: relative motion since the
// last event and the current button mask. DX/DY are 9-bit signed values
// (range -256..255), per the protocol's sign-extension scheme, so they
// don't fit in an int8.
type MouseEvent struct {
	DX, DY  int16
	Buttons uint8
}

// Mouse decodes the standard 3-byte PS/2 packet (IRQ12) into MouseEvents,
// keeping only the latest one; a window manager polling at frame rate has
// no use for a backlog of stale motion.
type Mouse struct {
	lock    sync.Spinlock
	packet  [3]uint8
	cursor  int
	current MouseEvent
}

// NewMouse returns a driver ready for DriverInit.
func NewMouse() *Mouse {
	return &Mouse{}
}

func (m *Mouse) DriverName() string { return "ps2-mouse" }

func (m *Mouse) DriverVersion() (uint16, uint16, uint16) { return 1, 0, 0 }

// DriverInit enables the auxiliary (mouse) port, tells the mouse to use its
// power-on defaults and start streaming, then registers the IRQ12 handler.
func (m *Mouse) DriverInit(w io.Writer) *kernel.Error {
	portWriteByteFn(commandPort, cmdEnableAux)

	if err := m.writeToMouse(mouseSetDefaults); err != nil {
		return err
	}
	if err := m.writeToMouse(mouseEnableData); err != nil {
		return err
	}

	irq.HandleIRQ(12, m.handleIRQ)
	return nil
}

func (m *Mouse) writeToMouse(b uint8) *kernel.Error {
	portWriteByteFn(commandPort, cmdWriteAuxInput)
	portWriteByteFn(dataPort, b)
	waitOutputFull()
	portReadByteFn(dataPort) // discard the ACK
	return nil
}

func (m *Mouse) handleIRQ(_ uint8, _ *irq.Regs) {
	b := portReadByteFn(dataPort)

	m.lock.Acquire()
	m.packet[m.cursor] = b
	m.cursor++
	if m.cursor == 3 {
		m.cursor = 0
		m.current = decodePacket(m.packet)
	}
	m.lock.Release()
}

// decodePacket interprets a complete 3-byte PS/2 mouse packet. Byte 0 holds
// the button mask plus the sign bits for the X/Y deltas in bytes 1 and 2.
func decodePacket(packet [3]uint8) MouseEvent {
	dx := int16(packet[1])
	dy := int16(packet[2])
	if packet[0]&(1<<4) != 0 {
		dx -= 256
	}
	if packet[0]&(1<<5) != 0 {
		dy -= 256
	}
	return MouseEvent{
		DX:      dx,
		DY:      dy,
		Buttons: packet[0] & (mouseLeftButton | mouseRightButton | mouseMiddleButton),
	}
}

// Latest returns the most recently decoded mouse event.
func (m *Mouse) Latest() MouseEvent {
	m.lock.Acquire()
	defer m.lock.Release()
	return m.current
}

func init() {
	driver.RegisterDriver(&driver.DriverInfo{
		Order: driver.DetectOrderEarly,
		Probe: func() driver.Driver { return NewMouse() },
	})
}
