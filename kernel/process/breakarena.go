package process

import (
	"kestrel/kernel"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/vmm"
)

var errBreakArenaExhausted = &kernel.Error{Module: "process", Message: "break arena region exhausted"}

// breakGrant records one successful sbrk call so sbrksz can report the
// rounded length handed back for that address.
type breakGrant struct {
	addr uintptr
	len  mem.Size
}

// breakArena is a per-process linear, page-aligned bump allocator over a
// fixed virtual region mapped anonymously into the process's address space
// at creation. It never frees; the arena dies with the process.
type breakArena struct {
	base   uintptr
	limit  uintptr
	next   uintptr
	grants []breakGrant
}

// newBreakArena reserves size bytes of user address space starting at base
// for as, mapped read/write/no-execute/user-accessible, and returns an empty
// arena over it.
func newBreakArena(as addressSpace, base uintptr, size mem.Size) (*breakArena, *kernel.Error) {
	if err := as.MapAnon(base, size, vmm.UserDataFlags); err != nil {
		return nil, err
	}
	return &breakArena{base: base, limit: base + uintptr(size), next: base}, nil
}

// sbrk rounds length up to a page and returns the next unused address in the
// arena, recording the grant so sbrksz can find it later. Returns
// errBreakArenaExhausted (kernel/syscall's sbrk handler maps this to a null pointer)
// if the fixed region is full.
func (b *breakArena) sbrk(length mem.Size) (uintptr, *kernel.Error) {
	rounded := (length + mem.PageSize - 1) &^ (mem.PageSize - 1)
	if b.next+uintptr(rounded) > b.limit {
		return 0, errBreakArenaExhausted
	}
	addr := b.next
	b.next += uintptr(rounded)
	b.grants = append(b.grants, breakGrant{addr: addr, len: rounded})
	return addr, nil
}

// sbrksz returns the rounded length previously granted at addr, or 0 if addr
// was never returned by sbrk on this arena.
func (b *breakArena) sbrksz(addr uintptr) mem.Size {
	for _, g := range b.grants {
		if g.addr == addr {
			return g.len
		}
	}
	return 0
}
