package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/boot"
	"kestrel/kernel/cpu"
	"kestrel/kernel/exec"
	"kestrel/kernel/irq"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/pmm"
	"reflect"
)

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode
	readCR2Fn                 = cpu.ReadCR2
	translateFn               = Translate
	visitMemRegionsFn         = boot.VisitMemRegions

	// currentProcessFaultFn is registered by kernel/process's init so that
	// fault handlers can reach the running process without vmm importing
	// kernel/process, which already imports vmm for region bookkeeping.
	currentProcessFaultFn func() ProcessFault

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// faultExitStatus is the status recorded for a process killed by fault
// policy rather than its own call to exit.
const faultExitStatus = int32(-1)

// ProcessFault is the subset of kernel/process's Process that fault
// handlers need in order to tear down the process a fault occurred in.
type ProcessFault interface {
	Exit(status int32)
}

// SetCurrentProcessFaultFn registers the accessor fault handlers use to
// look up the process that was running when an unrecoverable fault
// occurred. Call once during boot, before paging exceptions can fire.
func SetCurrentProcessFaultFn(fn func() ProcessFault) {
	currentProcessFaultFn = fn
}

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

func pageFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	var (
		faultAddress = uintptr(readCR2Fn())
		faultPage    = PageFromAddress(faultAddress)
		pageEntry    = leafEntry(faultPage.Address())
	)

	// CoW is supported for RO pages with the CoW flag set
	if pageEntry != nil && !pageEntry.HasFlags(FlagRW) && pageEntry.HasFlags(FlagCopyOnWrite) {
		var (
			copy    pmm.Frame
			tmpPage Page
			err     *kernel.Error
		)

		if copy, err = frameAllocator(); err != nil {
			nonRecoverablePageFault(faultAddress, errorCode, frame, regs, err)
		} else if tmpPage, err = mapTemporaryFn(copy); err != nil {
			nonRecoverablePageFault(faultAddress, errorCode, frame, regs, err)
		} else {
			// Copy page contents, mark as RW and remove CoW flag
			mem.Memcopy(tmpPage.Address(), faultPage.Address(), mem.PageSize)
			unmapFn(tmpPage)

			// Update mapping to point to the new frame, flag it as RW and
			// remove the CoW flag
			pageEntry.ClearFlags(FlagCopyOnWrite)
			pageEntry.SetFlags(FlagPresent | FlagRW)
			pageEntry.SetFrame(copy)
			flushTLBEntryFn(faultPage.Address())

			// Fault recovered; retry the instruction that caused the fault
			return
		}
	}

	nonRecoverablePageFault(faultAddress, errorCode, frame, regs, errUnrecoverableFault)
}

func nonRecoverablePageFault(faultAddress uintptr, errorCode uint64, frame *irq.Frame, regs *irq.Regs, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case errorCode == 0:
		kfmt.Printf("read from non-present page")
	case errorCode == 1:
		kfmt.Printf("page protection violation (read)")
	case errorCode == 2:
		kfmt.Printf("write to non-present page")
	case errorCode == 3:
		kfmt.Printf("page protection violation (write)")
	case errorCode == 4:
		kfmt.Printf("page-fault in user-mode")
	case errorCode == 8:
		kfmt.Printf("page table has reserved bit set")
	case errorCode == 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.Print()
	frame.Print()

	exitFaultingProcess(err, frame)
}

func generalProtectionFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.Print()
	frame.Print()

	exitFaultingProcess(errUnrecoverableFault, frame)
}

// exitFaultingProcess transitions the process that faulted into Exiting
// instead of taking the whole kernel down with it, then redirects frame so
// the pending iretq resumes in the executor loop rather than the process's
// now-unmapped image. A fault raised in kernel mode (CS privilege level 0),
// or one with no process attached to it (a fault before the process
// subsystem has registered itself) still panics, since there is no
// user-mode image to isolate the damage to.
func exitFaultingProcess(err *kernel.Error, frame *irq.Frame) {
	if frame.CS&3 == 0 || currentProcessFaultFn == nil {
		panic(err)
	}
	p := currentProcessFaultFn()
	if p == nil {
		panic(err)
	}

	p.Exit(faultExitStatus)
	frame.RIP = uint64(reflect.ValueOf(exec.Run).Pointer())
	frame.CS = uint64(cpu.KernelCodeSelector)
	frame.RFlags = 0x202
	frame.RSP = uint64(boot.KernelStackTop())
	frame.SS = uint64(cpu.KernelDataSelector)
}

// reserveZeroedFrame reserves a physical frame to be used together with
// FlagCopyOnWrite for lazy allocation requests.
func reserveZeroedFrame() *kernel.Error {
	var (
		err      *kernel.Error
		tempPage Page
	)

	if ReservedZeroedFrame, err = frameAllocator(); err != nil {
		return err
	} else if tempPage, err = mapTemporaryFn(ReservedZeroedFrame); err != nil {
		return err
	}
	mem.Memset(tempPage.Address(), 0, mem.PageSize)
	unmapFn(tempPage)

	// From this point on, ReservedZeroedFrame cannot be mapped with a RW flag
	protectReservedZeroedPage = true
	return nil
}

// Init initializes the vmm system, creates a granular PDT for the kernel and
// installs paging-related exception handlers.
func Init(kernelPageOffset uintptr) *kernel.Error {
	if err := setupPDTForKernel(kernelPageOffset); err != nil {
		return err
	}

	if err := reserveZeroedFrame(); err != nil {
		return err
	}

	handleExceptionWithCodeFn(irq.PageFaultException, pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
	return nil
}

// setupPDTForKernel walks the firmware memory map and establishes a new
// granular PDT that maps every usable RAM frame into the higher-half
// direct-map window starting at kernelPageOffset. Kernel code, data and heap
// all live inside this window, so the mapping is permissive (present, RW) for
// every frame; finer-grained protection of the kernel's own text/rodata is
// left to a future per-section pass, as spec.md's paging model does not
// require W^X enforcement inside the direct map.
func setupPDTForKernel(kernelPageOffset uintptr) *kernel.Error {
	var pdt PageDirectoryTable

	// Allocate frame for the page directory and initialize it
	pdtFrame, err := frameAllocator()
	if err != nil {
		return err
	}

	if err = pdt.Init(pdtFrame); err != nil {
		return err
	}

	// Map every conventional (usable) RAM region reported by the firmware
	// into the direct-map window. Reserved/loader regions are skipped; the
	// frame allocator never hands out frames from them either.
	visitMemRegionsFn(func(region *boot.MemoryMapEntry) bool {
		if err != nil || region.Type != boot.MemConventional {
			return true
		}

		regionStart := uintptr(region.PhysAddress) & ^(uintptr(mem.PageSize) - 1)
		regionEnd := (uintptr(region.PhysAddress+region.Length) + uintptr(mem.PageSize) - 1) & ^(uintptr(mem.PageSize) - 1)

		flags := FlagPresent | FlagRW
		for physAddr := regionStart; physAddr < regionEnd; physAddr += uintptr(mem.PageSize) {
			page := PageFromAddress(kernelPageOffset + physAddr)
			frame := pmm.Frame(physAddr >> mem.PageShift)
			if err = pdt.Map(page, frame, flags); err != nil {
				return false
			}
		}

		return true
	})

	if err != nil {
		return err
	}

	// Ensure that any pages mapped by the memory allocator using
	// EarlyReserveRegion are copied to the new page directory.
	for rsvAddr := earlyReserveLastUsed; rsvAddr < tempMappingAddr; rsvAddr += uintptr(mem.PageSize) {
		page := PageFromAddress(rsvAddr)

		frameAddr, err := translateFn(rsvAddr)
		if err != nil {
			return err
		}

		if err = pdt.Map(page, pmm.Frame(frameAddr>>mem.PageShift), FlagPresent|FlagRW); err != nil {
			return err
		}
	}

	// Activate the new PDT. After this point, the identity mapping for the
	// physical memory addresses where the kernel is loaded becomes invalid.
	pdt.Activate()

	return nil
}
