package vmm

import "kestrel/kernel/mem"

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << mem.PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses; in the latter case, the input address will be rounded down to
// the page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(mem.PageSize - 1))) >> mem.PageShift)
}

// userSpaceBoundary is the highest canonical address kestrel ever hands to a
// user-mode image (break arena, user stack, and ELF load addresses all sit
// well below it); process.ValidateUserPointer uses InUserSpace as a cheap
// sanity check ahead of the slower per-region scan.
const userSpaceBoundary = uintptr(0x0000_8000_0000_0000)

// InUserSpace reports whether p lies below the canonical boundary user-mode
// images are confined to.
func (p Page) InUserSpace() bool {
	return p.Address() < userSpaceBoundary
}
