package process

import (
	"kestrel/kernel"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/pmm"
	"kestrel/kernel/mem/pmm/allocator"
	"kestrel/kernel/mem/vmm"
)

// addressSpace is the subset of *vmm.AddressSpace this package depends on.
// Depending on the interface rather than the concrete type lets tests
// substitute a fake that records calls instead of touching real page
// tables, the same seam every other package in this tree gives its
// hardware-facing calls (e.g. kernel/mem/heap's frameAllocFn/mapFn vars).
type addressSpace interface {
	MapAnon(base uintptr, size mem.Size, perm vmm.PageTableEntryFlag) *kernel.Error
	Unmap(region vmm.Region) *kernel.Error
	Regions() []vmm.Region
	Activate()
}

var (
	frameAllocFn = allocator.FrameAllocator.AllocFrame

	newAddressSpaceFn = func(frame pmm.Frame) (addressSpace, *kernel.Error) {
		return vmm.NewAddressSpace(frame)
	}

	// memsetFn/memcopyFn wrap the raw unsafe memory operations loadELF and
	// setupUserStack perform against a newly activated user address space.
	// They assume the target addresses are already mapped and current,
	// exactly as kernel/goruntime's bootstrap.go assumes for its own
	// memsetFn indirection. setupUserStack's analogous writeWordFn lives in
	// userstack.go alongside the layout code it serves.
	memsetFn  = mem.Memset
	memcopyFn = mem.Memcopy
)
