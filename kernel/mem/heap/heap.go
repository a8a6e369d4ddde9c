// Package heap implements a simple bump allocator over a dedicated,
// page-mapped virtual region. It backs long-lived kernel allocations that are
// never freed, such as terminal scrollback buffers; kernel/kmain initializes
// it right after kernel/goruntime.Init.
package heap

import (
	"kestrel/kernel"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/pmm/allocator"
	"kestrel/kernel/mem/vmm"
)

var (
	earlyReserveRegionFn = vmm.EarlyReserveRegion
	frameAllocFn         = allocator.FrameAllocator.AllocFrame
	mapFn                = vmm.Map

	errNotInitialized = &kernel.Error{Module: "heap", Message: "heap not initialized"}
	errOutOfSpace     = &kernel.Error{Module: "heap", Message: "heap region exhausted"}

	regionStart uintptr
	regionEnd   uintptr
	bumpNext    uintptr
)

// Init reserves a virtual region of the requested size, backs every page
// with a freshly allocated physical frame, and resets the bump pointer to
// the start of the region. It must be called exactly once, before any call
// to Alloc.
func Init(size mem.Size) *kernel.Error {
	size = (size + (mem.PageSize - 1)) & ^(mem.PageSize - 1)

	start, err := earlyReserveRegionFn(size)
	if err != nil {
		return err
	}

	mapFlags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute
	pageCount := size >> mem.PageShift
	for page := vmm.PageFromAddress(start); pageCount > 0; pageCount, page = pageCount-1, page+1 {
		frame, err := frameAllocFn()
		if err != nil {
			return err
		}
		if err := mapFn(page, frame, mapFlags); err != nil {
			return err
		}
	}

	regionStart = start
	regionEnd = start + uintptr(size)
	bumpNext = start
	return nil
}

// Alloc returns the address of a size-byte region aligned to align bytes
// (which must be a power of two). The memory is never reclaimed; callers
// that need to free should use the Go heap instead.
func Alloc(size mem.Size, align uintptr) (uintptr, *kernel.Error) {
	if regionStart == 0 {
		return 0, errNotInitialized
	}

	addr := (bumpNext + (align - 1)) &^ (align - 1)
	end := addr + uintptr(size)
	if end > regionEnd {
		return 0, errOutOfSpace
	}

	bumpNext = end
	return addr, nil
}

// Used returns the number of bytes handed out so far.
func Used() mem.Size {
	if regionStart == 0 {
		return 0
	}
	return mem.Size(bumpNext - regionStart)
}

// Cap returns the total size of the reserved region.
func Cap() mem.Size {
	if regionStart == 0 {
		return 0
	}
	return mem.Size(regionEnd - regionStart)
}
