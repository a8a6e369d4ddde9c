package pci

import "testing"

// fakeConfigSpace models a tiny set of populated (bus,slot,fn) slots over
// the 0xCF8/0xCFC port pair, returning 0xffffffff (no device) elsewhere.
type fakeConfigSpace struct {
	addr    uint32
	regs    map[uint32]uint32 // configAddress(bus,slot,fn,offset) -> value
}

func (f *fakeConfigSpace) writeLong(port uint16, val uint32) {
	if port == configAddressPort {
		f.addr = val
	}
}

func (f *fakeConfigSpace) readLong(port uint16) uint32 {
	if port != configDataPort {
		return 0xffffffff
	}
	if v, ok := f.regs[f.addr]; ok {
		return v
	}
	return 0xffffffff
}

func installFake(t *testing.T) *fakeConfigSpace {
	t.Helper()
	f := &fakeConfigSpace{regs: map[uint32]uint32{}}
	origWrite, origRead := portWriteLongFn, portReadLongFn
	portWriteLongFn = f.writeLong
	portReadLongFn = f.readLong
	t.Cleanup(func() { portWriteLongFn, portReadLongFn = origWrite, origRead })
	return f
}

func (f *fakeConfigSpace) set(bus, slot, fn uint8, offset uint8, val uint32) {
	f.regs[configAddress(bus, slot, fn, offset)&^0x3] = val
}

func TestDriverInitFindsSingleFunctionDevice(t *testing.T) {
	f := installFake(t)
	f.set(0, 3, 0, regVendorDevice, 0x8139<<16|0x10ec) // RTL8139: device<<16 | vendor
	f.set(0, 3, 0, regClass, 0x02<<24|0x00<<16)        // network/ethernet
	f.set(0, 3, 0, regHeaderType, 0x00<<16)

	b := New()
	if err := b.DriverInit(nil); err != nil {
		t.Fatalf("DriverInit failed: %v", err)
	}

	d, ok := b.Find(0x10ec, 0x8139)
	if !ok {
		t.Fatal("expected to find the RTL8139 device")
	}
	if d.Bus != 0 || d.Slot != 3 || d.Func != 0 {
		t.Fatalf("unexpected device location: %+v", d)
	}
	if d.ClassCode != 0x02 {
		t.Fatalf("expected class 0x02, got %#x", d.ClassCode)
	}
}

func TestDriverInitSkipsAbsentSlots(t *testing.T) {
	installFake(t)
	b := New()
	if err := b.DriverInit(nil); err != nil {
		t.Fatalf("DriverInit failed: %v", err)
	}
	if len(b.Devices()) != 0 {
		t.Fatalf("expected no devices on an empty bus, got %d", len(b.Devices()))
	}
}

func TestDriverInitWalksAllFunctionsOfMultiFunctionDevice(t *testing.T) {
	f := installFake(t)
	f.set(0, 1, 0, regVendorDevice, 0x1234<<16|0x5678)
	f.set(0, 1, 0, regClass, 0)
	f.set(0, 1, 0, regHeaderType, uint32(headerTypeMultiFunc)<<16)
	f.set(0, 1, 1, regVendorDevice, 0x1234<<16|0x5679)
	f.set(0, 1, 1, regClass, 0)
	f.set(0, 1, 1, regHeaderType, 0)

	b := New()
	if err := b.DriverInit(nil); err != nil {
		t.Fatalf("DriverInit failed: %v", err)
	}
	if len(b.Devices()) != 2 {
		t.Fatalf("expected 2 functions enumerated, got %d: %+v", len(b.Devices()), b.Devices())
	}
}

func TestListingFormatsDiscoveredDevices(t *testing.T) {
	f := installFake(t)
	f.set(0, 3, 0, regVendorDevice, 0x8139<<16|0x10ec)
	f.set(0, 3, 0, regClass, 0x02<<24)
	f.set(0, 3, 0, regHeaderType, 0)

	b := New()
	if err := b.DriverInit(nil); err != nil {
		t.Fatalf("DriverInit failed: %v", err)
	}

	buf := make([]byte, 256)
	n, err := b.Listing(0, buf)
	if err != nil {
		t.Fatalf("Listing failed: %v", err)
	}
	got := string(buf[:n])
	want := "00:03.0 vendor=10ec device=8139"
	if n == 0 || len(got) < len(want) || got[:len(want)] != want {
		t.Fatalf("expected listing to start with %q, got %q", want, got)
	}
}
