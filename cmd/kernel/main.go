// Command kernel is the rt0 trampoline's only Go entry point.
package main

import "kestrel/kernel/kmain"

// handOffPtr, kernelImageStart and kernelImageEnd are populated by the rt0
// assembly trampoline before it ever jumps into Go code. They are plain
// package variables, not function parameters the trampoline passes in
// registers, so that the linker/rt0 can patch them in place before the Go
// runtime's own init sequence runs; this mirrors the teacher's stub.go,
// which holds its multiboot pointer the same way.
var (
	handOffPtr       uintptr
	kernelImageStart uintptr
	kernelImageEnd   uintptr
)

// main exists only to give the rt0 trampoline a Go symbol to call and to
// keep the compiler from treating kmain.Kmain as dead code, exactly as the
// teacher's boot.go/stub.go trampolines do. It is not expected to return;
// if it does, the rt0 code halts the CPU.
func main() {
	kmain.Kmain(handOffPtr, kernelImageStart, kernelImageEnd)
}
