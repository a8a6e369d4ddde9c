// Package process implements the ELF64 loader, the per-process kernel
// state (page table, FD table, break arena, CWD, owned window layers), and
// the process table that the syscall dispatcher operates on.
package process

import (
	"kestrel/kernel"
	"kestrel/kernel/irq"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/pmm"
	"kestrel/kernel/mem/vmm"
	"kestrel/kernel/sync"
	"kestrel/kernel/vfs"
)

const (
	breakArenaBase = uintptr(0x0000_4000_0000_0000)
	breakArenaSize = mem.Size(16 * mem.Mb)
)

// PID identifies a process within the process table.
type PID uint32

// State is a process's position in its Loaded -> Running -> Exiting ->
// Reaped lifecycle.
type State uint8

const (
	StateLoaded State = iota
	StateRunning
	StateExiting
	StateReaped
)

var (
	tableLock sync.Spinlock
	table     = map[PID]*Process{}
	nextPID   PID = 1

	current *Process
)

// init registers this package's Current accessor with vmm's fault handlers,
// letting an unrecoverable page or general-protection fault tear down the
// process it occurred in without vmm importing this package (which already
// imports vmm for region bookkeeping).
func init() {
	vmm.SetCurrentProcessFaultFn(func() vmm.ProcessFault {
		p := Current()
		if p == nil {
			return nil
		}
		return p
	})
}

// Process owns a virtual address space, an FD table, a CWD, a break arena,
// the set of window layer ids it owns, and the saved register/exception
// frame to resume it with. exec replaces the loaded image in place; there
// is no fork.
type Process struct {
	PID   PID
	State State

	as       addressSpace
	pdtFrame pmm.Frame

	fds   *FDTable
	brk   *breakArena
	cwd   string
	wins  []uint32
	entry uintptr

	Regs  irq.Regs
	Frame irq.Frame

	ExitStatus int32
}

// Current returns the process the syscall dispatcher is currently servicing,
// or nil if no process is running (e.g. before the first exec).
func Current() *Process {
	return current
}

// SetCurrent marks p as the process the CPU is about to resume; kernel/kmain
// calls this before entering the init process.
func SetCurrent(p *Process) {
	current = p
}

// Create loads image as a brand-new process with argv/envp and the given
// standard-stream nodes, and adds it to the process table in the Loaded
// state. It is used for the initial boot-time program since there is no
// parent process to inherit an FD table or CWD from.
func Create(image []byte, argv, envp []string, stdin, stdout, stderr vfs.Inode) (*Process, *kernel.Error) {
	p := &Process{cwd: "/", fds: newFDTable(stdin, stdout, stderr)}
	if err := p.load(image, argv, envp); err != nil {
		return nil, err
	}

	tableLock.Acquire()
	p.PID = nextPID
	nextPID++
	table[p.PID] = p
	tableLock.Release()

	return p, nil
}

// Exec replaces p's image in place: it tears down the existing address
// space and its region bookkeeping, resets the break arena (the Open
// Question resolution documented alongside this package), and loads image
// as the new program. The FD table and CWD are preserved. On success it
// returns nil with p.Frame's RIP and RSP set to the new image's entry point
// and initial stack.
func (p *Process) Exec(image []byte, argv, envp []string) *kernel.Error {
	if p.as != nil {
		if err := p.unmapAll(); err != nil {
			return err
		}
	}
	p.as = nil
	p.brk = nil

	return p.load(image, argv, envp)
}

// load allocates a fresh page directory, activates it, loads image's
// PT_LOAD segments and a fixed-size break arena, and sets up the initial
// user stack. Activating the new address space before populating it lets
// loadELF/setupUserStack write to user virtual addresses directly, rather
// than through a temporary-mapping indirection.
func (p *Process) load(image []byte, argv, envp []string) *kernel.Error {
	frame, err := frameAllocFn()
	if err != nil {
		return err
	}
	as, err := newAddressSpaceFn(frame)
	if err != nil {
		return err
	}
	as.Activate()

	entry, err := loadELF(as, image)
	if err != nil {
		return err
	}

	brk, err := newBreakArena(as, breakArenaBase, breakArenaSize)
	if err != nil {
		return err
	}

	rsp, err := setupUserStack(as, argv, envp)
	if err != nil {
		return err
	}

	p.as = as
	p.pdtFrame = frame
	p.brk = brk
	p.entry = entry
	p.State = StateLoaded
	p.Frame.RIP = uint64(entry)
	p.Frame.RSP = uint64(rsp)
	return nil
}

// Exit moves p into the Exiting state, records status, and releases the
// resources it owns: its FD table slots, any window layers (the caller is
// expected to have already told the window manager to drop them), and its
// address space's mapped regions. Physical frames backing unmapped pages
// are not individually reclaimed here — see DESIGN.md for why this mirrors
// the underlying vmm.Unmap's own behavior. The caller is responsible for
// redirecting whatever trap frame brought it here someplace other than
// p's now-unmapped image; Exit itself only tears down process state.
func (p *Process) Exit(status int32) {
	p.State = StateExiting
	p.ExitStatus = status
	kfmt.Printf("process %d exited: status=%d\n", p.PID, status)

	for i := range p.fds.slots {
		if p.fds.slots[i].open {
			p.fds.Close(i)
		}
	}
	if p.as != nil {
		p.unmapAll()
	}
	p.wins = nil

	tableLock.Acquire()
	p.State = StateReaped
	delete(table, p.PID)
	tableLock.Release()

	if current == p {
		current = nil
	}
}

// unmapAll releases every region in p.as. Regions() exposes the address
// space's live backing slice, and Unmap shifts that same slice in place, so
// ranging over it directly would skip entries as they shift under the
// iteration; a snapshot copy sidesteps that.
func (p *Process) unmapAll() *kernel.Error {
	regions := append([]vmm.Region(nil), p.as.Regions()...)
	for _, r := range regions {
		if err := p.as.Unmap(r); err != nil {
			return err
		}
	}
	return nil
}

// CWD returns the process's current working directory.
func (p *Process) CWD() string { return p.cwd }

// SetCWD updates the process's current working directory.
func (p *Process) SetCWD(path string) { p.cwd = path }

// AddWindow records a window layer id as owned by p.
func (p *Process) AddWindow(id uint32) { p.wins = append(p.wins, id) }

// RemoveWindow drops a window layer id p no longer owns.
func (p *Process) RemoveWindow(id uint32) {
	for i, w := range p.wins {
		if w == id {
			p.wins = append(p.wins[:i], p.wins[i+1:]...)
			return
		}
	}
}

// OwnsWindow reports whether p owns window layer id.
func (p *Process) OwnsWindow(id uint32) bool {
	for _, w := range p.wins {
		if w == id {
			return true
		}
	}
	return false
}

// Sbrk extends p's break arena by length bytes (rounded up to a page) and
// returns the address of the new region, or the zero value on exhaustion.
func (p *Process) Sbrk(length mem.Size) (uintptr, *kernel.Error) {
	return p.brk.sbrk(length)
}

// Sbrksz reports the rounded length previously granted at addr by Sbrk, or
// 0 if addr was never returned by it.
func (p *Process) Sbrksz(addr uintptr) mem.Size {
	return p.brk.sbrksz(addr)
}

// FDs exposes p's file descriptor table to the syscall layer.
func (p *Process) FDs() *FDTable { return p.fds }

// ValidateUserPointer reports whether the length bytes starting at addr lie
// entirely inside a single region p has mapped, with write permission if
// write is true. A zero-length pointer is always valid. kernel/syscall's
// copyIn/copyOut call this before every copy to or from user memory; the
// syscall trampoline itself does not validate pointers.
func (p *Process) ValidateUserPointer(addr uintptr, length uint64, write bool) bool {
	if length == 0 {
		return true
	}
	if p.as == nil {
		return false
	}
	if !vmm.PageFromAddress(addr).InUserSpace() {
		return false
	}
	end := addr + uintptr(length)
	for _, r := range p.as.Regions() {
		if addr < r.Base || end > r.Base+uintptr(r.Size) {
			continue
		}
		if !r.Perm.IsUserAccessible() {
			return false
		}
		if write && !r.Perm.IsWritable() {
			return false
		}
		return true
	}
	return false
}

// Lookup returns the table entry for pid, or nil if pid is not in the table.
func Lookup(pid PID) *Process {
	tableLock.Acquire()
	defer tableLock.Release()
	return table[pid]
}
