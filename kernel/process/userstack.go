package process

import (
	"kestrel/kernel"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/vmm"
	"unsafe"
)

const (
	userStackBase = uintptr(0x0000_6ffff000_0000)
	userStackSize = mem.Size(64 * mem.Kb)
)

// writeWordFn writes a single 64-bit word at a mapped, active user address.
// A package var so tests can replace the raw pointer write with a recording
// stub instead of touching host process memory.
var writeWordFn = func(addr uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = v
}

// setupUserStack maps a fixed-size stack region into as and copies argv and
// envp (as NUL-terminated byte strings, envp first, each placed just below
// the previous one) down from the top of that region, followed by the argv pointer
// vector, a NULL, the envp pointer vector and a final NULL, laid out exactly
// as the System V ABI expects to find them at the initial RSP: argc, argv[],
// NULL, envp[], NULL. as must already be active; see loadELF.
func setupUserStack(as addressSpace, argv, envp []string) (rsp uintptr, err *kernel.Error) {
	if mapErr := as.MapAnon(userStackBase, userStackSize, vmm.UserDataFlags); mapErr != nil {
		return 0, mapErr
	}

	top := userStackBase + uintptr(userStackSize)
	writeStrings := func(strs []string) []uintptr {
		ptrs := make([]uintptr, len(strs))
		for i, s := range strs {
			b := append([]byte(s), 0)
			top -= uintptr(len(b))
			memcopyFn(top, uintptr(unsafe.Pointer(&b[0])), mem.Size(len(b)))
			ptrs[i] = top
		}
		return ptrs
	}

	envPtrs := writeStrings(envp)
	argvPtrs := writeStrings(argv)

	wordCount := uintptr(1 + len(argvPtrs) + 1 + len(envPtrs) + 1)
	top -= wordCount * 8
	top &^= 15 // 16-byte stack alignment at process entry, per the System V ABI

	cursor := top
	writeWordFn(cursor, uint64(len(argvPtrs)))
	cursor += 8
	for _, p := range argvPtrs {
		writeWordFn(cursor, uint64(p))
		cursor += 8
	}
	writeWordFn(cursor, 0)
	cursor += 8
	for _, p := range envPtrs {
		writeWordFn(cursor, uint64(p))
		cursor += 8
	}
	writeWordFn(cursor, 0)

	return top, nil
}
