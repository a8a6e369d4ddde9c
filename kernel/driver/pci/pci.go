// Package pci walks PCI configuration space over the legacy 0xCF8/0xCFC
// port pair and publishes the resulting device list as a synthesised text
// listing at /dev/pci-bus.
package pci

import (
	"io"
	"kestrel/kernel"
	"kestrel/kernel/cpu"
	"kestrel/kernel/driver"
	"kestrel/kernel/kfmt"
)

const (
	configAddressPort = 0xcf8
	configDataPort    = 0xcfc

	regVendorDevice    = 0x00
	regClass           = 0x08
	regHeaderType      = 0x0c
	regBAR0            = 0x10
	regInterruptLine   = 0x3c

	headerTypeMultiFunc = 1 << 7
	noVendor            = 0xffff

	maxBus  = 256
	maxSlot = 32
	maxFunc = 8
)

var (
	portWriteLongFn = cpu.PortWriteLong
	portReadLongFn  = cpu.PortReadLong
)

// Device is one enumerated PCI function.
type Device struct {
	Bus, Slot, Func uint8
	VendorID        uint16
	DeviceID        uint16
	ClassCode       uint8
	SubclassCode    uint8
	ProgIF          uint8
	HeaderType      uint8
	InterruptLine   uint8
	BAR0            uint32
}

func configAddress(bus, slot, fn uint8, offset uint8) uint32 {
	return 1<<31 |
		uint32(bus)<<16 |
		uint32(slot)<<11 |
		uint32(fn)<<8 |
		uint32(offset&0xfc)
}

func readConfigLong(bus, slot, fn uint8, offset uint8) uint32 {
	portWriteLongFn(configAddressPort, configAddress(bus, slot, fn, offset))
	return portReadLongFn(configDataPort)
}

// Bus holds the result of the most recent scan.
type Bus struct {
	devices []Device
}

// New returns a driver ready for DriverInit.
func New() *Bus {
	return &Bus{}
}

func (b *Bus) DriverName() string { return "pci" }

func (b *Bus) DriverVersion() (uint16, uint16, uint16) { return 1, 0, 0 }

// DriverInit performs a brute-force scan of every bus/slot/function,
// skipping functions 1-7 of a slot whose function 0 reports a
// single-function header. There is no PCI-to-PCI bridge topology walk;
// every bus number is probed directly, which is sufficient for the flat,
// single-host-bridge topology QEMU and real single-socket PC hardware
// both present.
func (b *Bus) DriverInit(w io.Writer) *kernel.Error {
	b.devices = nil
	for bus := 0; bus < maxBus; bus++ {
		for slot := 0; slot < maxSlot; slot++ {
			vendorDevice := readConfigLong(uint8(bus), uint8(slot), 0, regVendorDevice)
			if uint16(vendorDevice) == noVendor {
				continue
			}
			headerType := uint8(readConfigLong(uint8(bus), uint8(slot), 0, regHeaderType) >> 16)
			functions := 1
			if headerType&headerTypeMultiFunc != 0 {
				functions = maxFunc
			}
			for fn := 0; fn < functions; fn++ {
				vd := readConfigLong(uint8(bus), uint8(slot), uint8(fn), regVendorDevice)
				if uint16(vd) == noVendor {
					continue
				}
				class := readConfigLong(uint8(bus), uint8(slot), uint8(fn), regClass)
				irqLine := uint8(readConfigLong(uint8(bus), uint8(slot), uint8(fn), regInterruptLine))
				bar0 := readConfigLong(uint8(bus), uint8(slot), uint8(fn), regBAR0)
				b.devices = append(b.devices, Device{
					Bus:           uint8(bus),
					Slot:          uint8(slot),
					Func:          uint8(fn),
					VendorID:      uint16(vd),
					DeviceID:      uint16(vd >> 16),
					ClassCode:     uint8(class >> 24),
					SubclassCode:  uint8(class >> 16),
					ProgIF:        uint8(class >> 8),
					HeaderType:    uint8(readConfigLong(uint8(bus), uint8(slot), uint8(fn), regHeaderType) >> 16),
					InterruptLine: irqLine,
					BAR0:          bar0,
				})
			}
		}
	}
	return nil
}

// Devices returns the device list from the most recent scan.
func (b *Bus) Devices() []Device { return b.devices }

// Find returns the first enumerated device matching a vendor/device ID
// pair, used by kernel/driver/rtl8139 to locate its NIC without hardcoding
// a bus/slot/function.
func (b *Bus) Find(vendorID, deviceID uint16) (Device, bool) {
	for _, d := range b.devices {
		if d.VendorID == vendorID && d.DeviceID == deviceID {
			return d, true
		}
	}
	return Device{}, false
}

// sliceWriter accumulates Fprintf output into a plain byte slice; kfmt's
// Fprintf only needs an io.Writer, and a slice avoids pulling in the
// "bytes" package for a single formatting callback.
type sliceWriter struct{ buf []byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Listing implements vfs.ReadFunc for /dev/pci-bus: it formats the current
// device list as one line per function, recomputed on every read via
// DriverInit's cached result rather than a fresh scan (configuration space
// doesn't change at runtime on the hardware this kernel targets).
func (b *Bus) Listing(offset uint64, buf []byte) (int, *kernel.Error) {
	var sw sliceWriter
	for _, d := range b.devices {
		kfmt.Fprintf(&sw, "%02x:%02x.%x vendor=%04x device=%04x class=%02x:%02x irq=%d\n",
			d.Bus, d.Slot, d.Func, d.VendorID, d.DeviceID, d.ClassCode, d.SubclassCode, d.InterruptLine)
	}
	if offset >= uint64(len(sw.buf)) {
		return 0, nil
	}
	n := copy(buf, sw.buf[offset:])
	return n, nil
}

func init() {
	driver.RegisterDriver(&driver.DriverInfo{
		Order: driver.DetectOrderEarly,
		Probe: func() driver.Driver { return New() },
	})
}
