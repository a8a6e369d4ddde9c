// Package rtl8139 drives a Realtek RTL8139 Fast Ethernet NIC: DMA transmit
// and receive rings allocated as contiguous physical frames, programmed
// through its I/O-mapped register block (BAR0, discovered via
// kernel/driver/pci). A receive handler installed by kernel/net's packet
// pump is invoked with each completed frame from IRQ context.
package rtl8139

import (
	"io"
	"kestrel/kernel"
	"kestrel/kernel/cpu"
	"kestrel/kernel/driver/pci"
	"kestrel/kernel/irq"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/pmm"
	"kestrel/kernel/mem/pmm/allocator"
	"kestrel/kernel/mem/vmm"
	"unsafe"
)

const (
	vendorID = 0x10ec
	deviceID = 0x8139
)

// Register offsets from the I/O base (BAR0).
const (
	regMAC0    = 0x00
	regRBSTART = 0x30
	regCMD     = 0x37
	regCAPR    = 0x38
	regIMR     = 0x3c
	regISR     = 0x3e
	regTCR     = 0x40
	regRCR     = 0x44
	regConfig1 = 0x52
)

func txStatusReg(i int) uint16 { return uint16(0x10 + i*4) }
func txAddrReg(i int) uint16   { return uint16(0x20 + i*4) }

const (
	cmdReset          = 1 << 4
	cmdReceiveEnable  = 1 << 3
	cmdTransmitEnable = 1 << 2
	cmdBufferEmpty    = 1 << 0

	isrReceiveOK  = 1 << 0
	isrTransmitOK = 1 << 2

	rcrAcceptAll  = 0x0f // broadcast + multicast + physical-match + all-physical
	rcrWrap       = 1 << 7
	rcrBufferLen8K = 0 << 11

	// pageSize duplicates mem.PageSize's value as an untyped constant (amd64
	// fixes it at 4 KiB) so it can feed ring-offset arithmetic (uint16) and
	// virtual-region sizing (mem.Size) without a conversion at every site.
	pageSize = 4096

	rxBufferFrames = 3 // 3*4096 = 12288 bytes: 8192-byte ring + 1500-byte overrun pad + header room
	rxBufferSize   = rxBufferFrames * pageSize

	txBufferFrames = 1 // one page per descriptor is enough for a max-size Ethernet frame
	txBufferSize   = txBufferFrames * pageSize
	txDescriptors  = 4
)

var (
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
	portWriteWordFn = cpu.PortWriteWord
	portReadWordFn  = cpu.PortReadWord
	portWriteLongFn = cpu.PortWriteLong
	portReadLongFn  = cpu.PortReadLong

	// DMA setup bottoms out in these indirections, the same "wrap the lower
	// package's call in your own var" convention kernel/mem/heap's
	// frameAllocFn and kernel/process's addressSpace seam already use, so
	// tests can exercise ring setup without a real frame allocator or page
	// tables.
	allocContigFn = allocator.FrameAllocator.AllocContig
	freeContigFn  = allocator.FrameAllocator.FreeContig
	mapRegionFn   = vmm.MapRegion
)

// ReceiveHandler is invoked, from IRQ context, once per completed receive
// with a view over the frame's bytes; the slice is only valid for the
// duration of the call.
type ReceiveHandler func(frame []byte)

// NIC drives one RTL8139 adapter.
type NIC struct {
	ioBase uint16
	mac    [6]byte

	rxBuf    []byte
	rxOffset uint16

	txBuf      [txDescriptors][]byte
	txPhys     [txDescriptors]pmm.Frame
	nextTxDesc int

	onReceive ReceiveHandler
}

// deviceLister is the narrow slice of kernel/driver/pci.Bus this package
// needs, mirroring kernel/process's own accept-an-interface seam over a
// concrete dependency so Probe is testable without a real PCI scan.
type deviceLister interface {
	Devices() []pci.Device
}

// Probe locates the first RTL8139 on bus and returns a driver bound to its
// BAR0 I/O port range, ready for DriverInit.
func Probe(bus deviceLister) (*NIC, *kernel.Error) {
	for _, d := range bus.Devices() {
		if d.VendorID != vendorID || d.DeviceID != deviceID {
			continue
		}
		if d.BAR0&0x1 == 0 {
			return nil, &kernel.Error{Module: "rtl8139", Message: "BAR0 is memory-mapped, not I/O-mapped"}
		}
		return New(uint16(d.BAR0 &^ 0x3)), nil
	}
	return nil, &kernel.Error{Module: "rtl8139", Message: "no RTL8139 device found on the PCI bus"}
}

// New returns a driver bound to an explicit I/O base, ready for DriverInit.
func New(ioBase uint16) *NIC {
	return &NIC{ioBase: ioBase}
}

func (n *NIC) DriverName() string { return "rtl8139" }

func (n *NIC) DriverVersion() (uint16, uint16, uint16) { return 1, 0, 0 }

// SetReceiveHandler installs the callback invoked for every completed
// receive. Must be called before DriverInit unmasks the receive interrupt.
func (n *NIC) SetReceiveHandler(h ReceiveHandler) { n.onReceive = h }

// MAC returns the adapter's station address, read from registers during
// DriverInit.
func (n *NIC) MAC() [6]byte { return n.mac }

func (n *NIC) port(reg uint16) uint16 { return n.ioBase + reg }

// DriverInit powers the NIC on, soft-resets it, allocates and installs the
// DMA receive and transmit rings, programs the receive filter, and
// registers the IRQ handler.
func (n *NIC) DriverInit(w io.Writer) *kernel.Error {
	portWriteByteFn(n.port(regConfig1), 0x00) // power on

	portWriteByteFn(n.port(regCMD), cmdReset)
	for portReadByteFn(n.port(regCMD))&cmdReset != 0 {
	}

	for i := 0; i < 6; i++ {
		n.mac[i] = portReadByteFn(n.port(regMAC0 + uint16(i)))
	}

	if err := n.setupRxRing(); err != nil {
		return err
	}
	if err := n.setupTxDescriptors(); err != nil {
		return err
	}

	portWriteLongFn(n.port(regRCR), rcrAcceptAll|rcrWrap|rcrBufferLen8K)
	portWriteByteFn(n.port(regCMD), cmdReceiveEnable|cmdTransmitEnable)
	portWriteWordFn(n.port(regIMR), isrReceiveOK|isrTransmitOK)

	irq.HandleIRQ(11, n.handleIRQ)
	return nil
}

func (n *NIC) setupRxRing() *kernel.Error {
	frame, err := allocContigFn(uint32(rxBufferFrames))
	if err != nil {
		return err
	}
	page, err := mapRegionFn(frame, mem.Size(rxBufferSize), vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute)
	if err != nil {
		freeContigFn(frame, uint32(rxBufferFrames))
		return err
	}
	n.rxBuf = unsafe.Slice((*byte)(unsafe.Pointer(page.Address())), rxBufferSize)
	portWriteLongFn(n.port(regRBSTART), uint32(frame.Address()))
	return nil
}

func (n *NIC) setupTxDescriptors() *kernel.Error {
	for i := 0; i < txDescriptors; i++ {
		frame, err := allocContigFn(uint32(txBufferFrames))
		if err != nil {
			return err
		}
		page, err := mapRegionFn(frame, mem.Size(txBufferSize), vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute)
		if err != nil {
			freeContigFn(frame, uint32(txBufferFrames))
			return err
		}
		n.txPhys[i] = frame
		n.txBuf[i] = unsafe.Slice((*byte)(unsafe.Pointer(page.Address())), txBufferSize)
		portWriteLongFn(n.port(txAddrReg(i)), uint32(frame.Address()))
	}
	return nil
}

// Send queues frame on the next free transmit descriptor in round-robin
// order and kicks off transmission. It does not wait for completion; the
// caller (kernel/net) learns of failures only via lost packets, matching
// how this package models an unreliable link layer.
func (n *NIC) Send(frame []byte) *kernel.Error {
	if len(frame) > txBufferSize {
		return &kernel.Error{Module: "rtl8139", Message: "frame exceeds transmit buffer size"}
	}
	i := n.nextTxDesc
	n.nextTxDesc = (n.nextTxDesc + 1) % txDescriptors
	copy(n.txBuf[i], frame)
	portWriteLongFn(n.port(txStatusReg(i)), uint32(len(frame)))
	return nil
}

func (n *NIC) handleIRQ(_ uint8, _ *irq.Regs) {
	status := portReadWordFn(n.port(regISR))
	portWriteWordFn(n.port(regISR), status) // ack by writing back the set bits

	if status&isrReceiveOK != 0 {
		n.drainReceiveRing()
	}
}

// drainReceiveRing walks every complete packet buffered since the last
// drain. Each packet is prefixed by a 4-byte header (2-byte status, 2-byte
// length, both little-endian) inside the ring; after each packet the read
// offset is advanced past it, rounded up to 4 bytes, and written to CAPR per
// the controller's documented offset quirk (offset - 0x10).
func (n *NIC) drainReceiveRing() {
	for portReadByteFn(n.port(regCMD))&cmdBufferEmpty == 0 {
		hdr := n.rxBuf[n.rxOffset : n.rxOffset+4]
		length := uint16(hdr[2]) | uint16(hdr[3])<<8

		start := n.rxOffset + 4
		if n.onReceive != nil && int(start)+int(length) <= len(n.rxBuf) {
			n.onReceive(n.rxBuf[start : start+length-4])
		}

		n.rxOffset = (n.rxOffset + length + 4 + 3) &^ 3
		if n.rxOffset >= rxBufferSize {
			n.rxOffset -= rxBufferSize
		}
		portWriteWordFn(n.port(regCAPR), n.rxOffset-0x10)
	}
}

// Unlike the other leaf drivers in this tree, rtl8139 does not register
// itself via driver.RegisterDriver at init: ProbeFn takes no arguments, but
// locating this NIC depends on kernel/driver/pci's scan result (see
// Probe(bus) above), which only exists once PCI enumeration has already
// run. kernel/kmain constructs this driver explicitly, after every registered
// driver (PCI included) has been probed.
