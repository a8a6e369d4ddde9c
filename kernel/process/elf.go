package process

import (
	"bytes"
	"debug/elf"
	"kestrel/kernel"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/vmm"
	"unsafe"
)

var (
	errNotELF         = &kernel.Error{Module: "process", Message: "not a valid ELF64 image"}
	errUnsupportedELF = &kernel.Error{Module: "process", Message: "unsupported ELF class/machine/type"}
)

// loadELF parses image as an ELF64 x86_64 executable, maps a fresh
// anonymous region for every PT_LOAD segment into as with the segment's
// declared permissions, zero-fills the mapped range before copying in the
// on-disk bytes (so any bytes beyond Filesz, i.e. BSS, read as zero), and
// returns the entry point. as must already be the active address space:
// user virtual addresses only become directly writable from kernel code
// once the CPU's CR3 points at this process's page tables.
func loadELF(as addressSpace, image []byte) (entry uintptr, err *kernel.Error) {
	f, ferr := elf.NewFile(bytes.NewReader(image))
	if ferr != nil {
		return 0, errNotELF
	}
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_X86_64 {
		return 0, errUnsupportedELF
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return 0, errUnsupportedELF
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		vaddr := uintptr(prog.Vaddr)
		pageBase := vaddr &^ (uintptr(mem.PageSize) - 1)
		pageOffset := mem.Size(vaddr - pageBase)
		mappedSize := (pageOffset + mem.Size(prog.Memsz) + mem.PageSize - 1) &^ (mem.PageSize - 1)

		perm := vmm.FlagPresent | vmm.FlagUserAccessible
		if prog.Flags&elf.PF_W != 0 {
			perm |= vmm.FlagRW
		}
		if prog.Flags&elf.PF_X == 0 {
			perm |= vmm.FlagNoExecute
		}

		if mapErr := as.MapAnon(pageBase, mappedSize, perm); mapErr != nil {
			return 0, mapErr
		}
		memsetFn(pageBase, 0, mappedSize)

		data := make([]byte, prog.Filesz)
		if len(data) > 0 {
			if _, rerr := prog.ReadAt(data, 0); rerr != nil {
				return 0, &kernel.Error{Module: "process", Message: "truncated PT_LOAD segment"}
			}
			memcopyFn(vaddr, uintptr(unsafe.Pointer(&data[0])), mem.Size(len(data)))
		}
	}

	return uintptr(f.Entry), nil
}
