package process

import (
	"kestrel/kernel"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/pmm"
	"kestrel/kernel/mem/vmm"
	"unsafe"
)

// fakeHostBytes reads n bytes starting at a real host address, for the side
// of a fake memcopyFn that touches a genuine Go byte slice rather than
// fake-backed user memory.
func fakeHostBytes(src uintptr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(src)), n)
}

// FakeAddressSpace is an exported, host-safe stand-in for *vmm.AddressSpace,
// for packages outside process that need to drive Create/Exec without a
// real page table (kernel/syscall's dispatch tests, in particular). It
// mirrors the unexported fakeAddressSpace this package's own tests use.
type FakeAddressSpace struct {
	regions   []vmm.Region
	backing   map[uintptr][]byte
	activated int
}

// NewFakeAddressSpace returns an empty FakeAddressSpace.
func NewFakeAddressSpace() *FakeAddressSpace {
	return &FakeAddressSpace{backing: map[uintptr][]byte{}}
}

func (f *FakeAddressSpace) MapAnon(base uintptr, size mem.Size, perm vmm.PageTableEntryFlag) *kernel.Error {
	f.regions = append(f.regions, vmm.Region{Base: base, Size: size, Perm: perm})
	f.backing[base] = make([]byte, size)
	return nil
}

func (f *FakeAddressSpace) Unmap(region vmm.Region) *kernel.Error {
	for i, r := range f.regions {
		if r.Base == region.Base {
			f.regions = append(f.regions[:i], f.regions[i+1:]...)
			delete(f.backing, region.Base)
			return nil
		}
	}
	return &kernel.Error{Module: "process", Message: "region not mapped"}
}

func (f *FakeAddressSpace) Regions() []vmm.Region { return f.regions }

func (f *FakeAddressSpace) Activate() { f.activated++ }

// bytesAt returns the backing slice covering addr and the offset into it.
func (f *FakeAddressSpace) bytesAt(addr uintptr) ([]byte, uintptr) {
	for base, b := range f.backing {
		if addr >= base && addr < base+uintptr(len(b)) {
			return b, addr - base
		}
	}
	return nil, 0
}

// Peek copies n bytes out of the backing store at addr, for tests asserting
// on what a syscall handler wrote into fake user memory.
func (f *FakeAddressSpace) Peek(addr uintptr, n int) []byte {
	b, off := f.bytesAt(addr)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b[off:off+uintptr(n)])
	return out
}

// Poke writes data into the backing store at addr, for tests arranging
// fake user memory a syscall handler will read from.
func (f *FakeAddressSpace) Poke(addr uintptr, data []byte) {
	b, off := f.bytesAt(addr)
	copy(b[off:], data)
}

// CopyFakeAware copies size bytes from src to dst, treating whichever side
// falls inside f's backing store as fake user memory and the other as a
// genuine host address. It is the logic InstallFakeMemHooks' memcopyFn stub
// uses internally, exported so other packages' own memcopyFn seams (e.g.
// kernel/syscall's copyIn/copyOut) can be backed by the same fake.
func (f *FakeAddressSpace) CopyFakeAware(dst, src uintptr, size mem.Size) {
	db, doff := f.bytesAt(dst)
	if db != nil {
		copy(db[doff:doff+uintptr(size)], fakeHostBytes(src, uintptr(size)))
		return
	}
	sb, soff := f.bytesAt(src)
	copy(fakeHostBytes(dst, uintptr(size)), sb[soff:soff+uintptr(size)])
}

// InstallFakeMemHooks replaces the package's memsetFn/memcopyFn/writeWordFn
// with versions that operate against f's backing store, and returns a
// restore func for use with defer.
func InstallFakeMemHooks(f *FakeAddressSpace) func() {
	origMemset, origMemcopy, origWriteWord := memsetFn, memcopyFn, writeWordFn

	memsetFn = func(dst uintptr, v byte, size mem.Size) {
		b, off := f.bytesAt(dst)
		for i := uintptr(0); i < uintptr(size); i++ {
			b[off+i] = v
		}
	}
	memcopyFn = f.CopyFakeAware
	writeWordFn = func(addr uintptr, v uint64) {
		b, off := f.bytesAt(addr)
		for i := 0; i < 8; i++ {
			b[off+uintptr(i)] = byte(v >> (8 * i))
		}
	}

	return func() {
		memsetFn, memcopyFn, writeWordFn = origMemset, origMemcopy, origWriteWord
	}
}

// InstallFakeFrameAlloc replaces frameAllocFn with one that always succeeds.
func InstallFakeFrameAlloc() func() {
	orig := frameAllocFn
	frameAllocFn = func() (pmm.Frame, *kernel.Error) { return pmm.Frame(1), nil }
	return func() { frameAllocFn = orig }
}

// InstallFakeNewAddressSpace replaces newAddressSpaceFn to hand back f.
func InstallFakeNewAddressSpace(f *FakeAddressSpace) func() {
	orig := newAddressSpaceFn
	newAddressSpaceFn = func(pmm.Frame) (addressSpace, *kernel.Error) { return f, nil }
	return func() { newAddressSpaceFn = orig }
}
