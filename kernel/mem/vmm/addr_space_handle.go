package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/pmm"
)

// Region records a mapped range within an AddressSpace's user portion: its
// base virtual address, size in bytes and the permission flags it was
// mapped with.
type Region struct {
	Base uintptr
	Size mem.Size
	Perm PageTableEntryFlag
}

// AddressSpace is a per-process handle to a top-level page table plus the
// set of user regions mapped into it (code, data, break arena, and any
// optional framebuffer mirror). Exactly one AddressSpace is active per CPU
// at a time.
type AddressSpace struct {
	pdt     PageDirectoryTable
	regions []Region
}

// NewAddressSpace initializes a fresh page directory in pdtFrame and
// returns an AddressSpace handle for it. The caller owns pdtFrame's
// lifetime; it is freed by the caller after the address space is torn down.
func NewAddressSpace(pdtFrame pmm.Frame) (*AddressSpace, *kernel.Error) {
	as := &AddressSpace{}
	if err := as.pdt.Init(pdtFrame); err != nil {
		return nil, err
	}
	return as, nil
}

// MapAnon allocates size bytes' worth of fresh physical frames and maps them
// starting at base with the given permissions, recording the mapping as a
// Region. size is rounded up to a whole number of pages; base is not
// rounded, and the recorded Region keeps it as given.
func (as *AddressSpace) MapAnon(base uintptr, size mem.Size, perm PageTableEntryFlag) *kernel.Error {
	size = (size + (mem.PageSize - 1)) & ^(mem.PageSize - 1)
	pageCount := size >> mem.PageShift

	for page := PageFromAddress(base); pageCount > 0; pageCount, page = pageCount-1, page+1 {
		frame, err := frameAllocator()
		if err != nil {
			return err
		}
		if err := as.pdt.Map(page, frame, perm); err != nil {
			return err
		}
	}

	as.regions = append(as.regions, Region{Base: base, Size: size, Perm: perm})
	return nil
}

// Unmap releases every page backing region and removes it from the tracked
// region list. It matches by Base; callers pass back the Region obtained
// from Regions().
func (as *AddressSpace) Unmap(region Region) *kernel.Error {
	pageCount := region.Size >> mem.PageShift
	for page := PageFromAddress(region.Base); pageCount > 0; pageCount, page = pageCount-1, page+1 {
		if err := as.pdt.Unmap(page); err != nil {
			return err
		}
	}

	for i, r := range as.regions {
		if r.Base == region.Base {
			as.regions = append(as.regions[:i], as.regions[i+1:]...)
			break
		}
	}
	return nil
}

// Regions returns the address space's currently mapped user regions.
func (as *AddressSpace) Regions() []Region {
	return as.regions
}

// Activate makes this address space the active one for the current CPU.
func (as *AddressSpace) Activate() {
	as.pdt.Activate()
}
