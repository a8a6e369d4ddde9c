package process

import (
	"kestrel/kernel"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/pmm"
	"kestrel/kernel/mem/vmm"
	"unsafe"
)

// fakeReadHostBytes reads n bytes starting at a real host address. memcopyFn
// callers in this package always pass a genuine Go byte slice's address as
// src (never a user virtual address), so this is safe in tests.
func fakeReadHostBytes(src uintptr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(src)), n)
}

// fakeAddressSpace is a host-safe stand-in for *vmm.AddressSpace: it records
// the regions it was asked to map/unmap instead of touching real page
// tables, and backs each mapped region with a plain Go byte slice so
// memsetFn/memcopyFn/writeWordFn stubs can read and write it like real
// memory without crashing the test process.
type fakeAddressSpace struct {
	regions   []vmm.Region
	backing   map[uintptr][]byte
	activated int
}

func newFakeAddressSpace() *fakeAddressSpace {
	return &fakeAddressSpace{backing: map[uintptr][]byte{}}
}

func (f *fakeAddressSpace) MapAnon(base uintptr, size mem.Size, perm vmm.PageTableEntryFlag) *kernel.Error {
	f.regions = append(f.regions, vmm.Region{Base: base, Size: size, Perm: perm})
	f.backing[base] = make([]byte, size)
	return nil
}

func (f *fakeAddressSpace) Unmap(region vmm.Region) *kernel.Error {
	for i, r := range f.regions {
		if r.Base == region.Base {
			f.regions = append(f.regions[:i], f.regions[i+1:]...)
			delete(f.backing, region.Base)
			return nil
		}
	}
	return &kernel.Error{Module: "process", Message: "region not mapped"}
}

func (f *fakeAddressSpace) Regions() []vmm.Region { return f.regions }

func (f *fakeAddressSpace) Activate() { f.activated++ }

// bytesAt returns the backing slice covering addr, and the offset into it,
// for a fake memsetFn/memcopyFn/writeWordFn to operate on.
func (f *fakeAddressSpace) bytesAt(addr uintptr) ([]byte, uintptr) {
	for base, b := range f.backing {
		if addr >= base && addr < base+uintptr(len(b)) {
			return b, addr - base
		}
	}
	return nil, 0
}

// installFakeMemHooks replaces the package's memsetFn/memcopyFn/writeWordFn
// with versions that operate on fakeAddressSpace-backed slices instead of
// raw host memory, and returns a restore func for use with defer.
func installFakeMemHooks(f *fakeAddressSpace) func() {
	origMemset, origMemcopy, origWriteWord := memsetFn, memcopyFn, writeWordFn

	memsetFn = func(dst uintptr, v byte, size mem.Size) {
		b, off := f.bytesAt(dst)
		for i := uintptr(0); i < uintptr(size); i++ {
			b[off+i] = v
		}
	}
	memcopyFn = func(dst, src uintptr, size mem.Size) {
		db, doff := f.bytesAt(dst)
		srcBytes := fakeReadHostBytes(src, uintptr(size))
		copy(db[doff:doff+uintptr(size)], srcBytes)
	}
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

func installFakeFrameAlloc() func() {
	orig := frameAllocFn
	frameAllocFn = func() (pmm.Frame, *kernel.Error) { return pmm.Frame(1), nil }
	return func() { frameAllocFn = orig }
}

func installFakeNewAddressSpace(f *fakeAddressSpace) func() {
	orig := newAddressSpaceFn
	newAddressSpaceFn = func(pmm.Frame) (addressSpace, *kernel.Error) { return f, nil }
	return func() { newAddressSpaceFn = orig }
}
