package syscall

import (
	"kestrel/kernel/boot"
	"kestrel/kernel/cpu"
	"kestrel/kernel/exec"
	"kestrel/kernel/irq"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/process"
	"reflect"
)

var breakpointFn = cpu.Breakpoint

// Init registers the vector 0x80 software interrupt handler and the int3
// handler sysBreak traps through. Call once during boot, after RemapPIC and
// before entering the executor loop.
func Init() {
	irq.HandleException(irq.SyscallVector, handleSyscall)
	irq.HandleException(irq.BreakpointException, handleBreakpoint)
}

// handleSyscall is the Go-side syscall trampoline continuation: it reads
// the syscall number and up to five arguments from the register snapshot
// the assembly entry point captured, dispatches, and writes the result back
// into RAX for the assembly side to restore into the user frame.
//
// SysExit is special-cased: Dispatch has already torn down p's address
// space by the time it returns, so the saved frame's RIP/RSP point into
// memory that no longer belongs to anyone. Letting the assembly side iretq
// there as if it were a normal return would resume execution inside an
// unmapped image. redirectToIdle overwrites the frame first so the iretq
// lands back in the kernel's executor loop instead.
func handleSyscall(f *irq.Frame, r *irq.Regs) {
	p := process.Current()
	if p == nil {
		r.RAX = ^uint64(0) // no process to dispatch on behalf of
		return
	}
	p.Frame = *f
	p.Regs = *r

	num := r.RAX
	ret := Dispatch(p, num, r.RDI, r.RSI, r.RDX, r.R10, r.R8)
	r.RAX = uint64(ret)

	if num == SysExit {
		redirectToIdle(f)
	}
}

// redirectToIdle points a trap frame at the kernel's executor loop instead
// of wherever it was about to iretq to. exec.Run drains any remaining
// background tasks (the packet pump, the compositor flush) and halts
// between passes, returning only once nothing is left runnable — the same
// resume point startInitProcess falls into if the init task itself never
// runs. The redirected frame resumes in ring0 on the boot kernel stack
// rather than whatever stack the exiting process was using.
func redirectToIdle(f *irq.Frame) {
	f.RIP = uint64(reflect.ValueOf(exec.Run).Pointer())
	f.CS = uint64(cpu.KernelCodeSelector)
	f.RFlags = 0x202
	f.RSP = uint64(boot.KernelStackTop())
	f.SS = uint64(cpu.KernelDataSelector)
}

// handleBreakpoint logs the trap and returns, resuming the process at the
// instruction after the int3.
func handleBreakpoint(f *irq.Frame, r *irq.Regs) {
	kfmt.Printf("breakpoint trap at RIP = %16x\n", f.RIP)
}
