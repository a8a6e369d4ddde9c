// Package kmain assembles the whole boot sequence: everything from the
// UEFI hand-off block to the first instruction of user code runs from
// Kmain, in the fixed order spec.md's control-flow summary describes.
package kmain

import (
	"kestrel/kernel"
	"kestrel/kernel/boot"
	"kestrel/kernel/cpu"
	"kestrel/kernel/driver"
	"kestrel/kernel/driver/console"
	"kestrel/kernel/driver/pci"
	"kestrel/kernel/driver/ps2"
	"kestrel/kernel/driver/rtl8139"
	"kestrel/kernel/driver/tty"
	"kestrel/kernel/driver/uart"
	"kestrel/kernel/exec"
	"kestrel/kernel/fat32"
	"kestrel/kernel/goruntime"
	"kestrel/kernel/irq"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/heap"
	"kestrel/kernel/mem/pmm/allocator"
	"kestrel/kernel/mem/vmm"
	"kestrel/kernel/net"
	"kestrel/kernel/process"
	"kestrel/kernel/syscall"
	"kestrel/kernel/timer"
	"kestrel/kernel/vfs"
	"kestrel/kernel/wm"
	"reflect"
	"sort"
	"unsafe"
)

// kernelPageOffset is the virtual base of the direct-map window vmm.Init
// establishes for all conventional RAM; it is a fixed design choice (the
// canonical higher-half split on amd64), not something the bootloader
// reports, so it lives here as a constant rather than in kernel/boot.
const kernelPageOffset = uintptr(0xffff800000000000)

// earlyHeapSize bounds kernel/mem/heap's bump arena, used for long-lived
// boot-time allocations (terminal scrollback buffers, driver scratch data)
// that are never freed for the life of the kernel.
const earlyHeapSize = mem.Size(4 * mem.Mb)

// initramfsMountPoint is where the FAT32 image handed off by the
// bootloader is grafted into the VFS tree.
const initramfsMountPoint = "initramfs"

// initProcessPath is the first program kestrel runs. It must exist at the
// root of the initramfs image cmd/mkinitramfs built.
const initProcessPath = "/mnt/initramfs/init"

// kestrelIP is the static address the packet pump answers ARP requests
// for. DHCP is out of scope; spec.md's network layer is a collaborator
// with defined hooks, not a full stack.
var kestrelIP = net.IPv4{10, 0, 2, 15}

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// kfmtWriter adapts kernel/kfmt's package-level Printf sink to the
// io.Writer every Driver.DriverInit expects for its progress/diagnostic
// output, so driver bring-up logs flow through the same ring-buffered
// early console as everything else.
type kfmtWriter struct{}

func (kfmtWriter) Write(p []byte) (int, error) {
	kfmt.Printf("%s", string(p))
	return len(p), nil
}

// Kmain is the only Go symbol the rt0 trampoline calls into. handOffPtr is
// the address of the bootloader's hand-off block; kernelStart/kernelEnd
// bound the kernel image's own physical footprint so the frame allocator
// can mark it reserved. Kmain is not expected to return.
//
//go:noinline
func Kmain(handOffPtr, kernelStart, kernelEnd uintptr) {
	boot.SetHandOffPtr(handOffPtr)

	var err *kernel.Error
	if err = allocator.Init(kernelStart, kernelEnd); err != nil {
		kfmt.Panic(err)
	}
	if err = vmm.Init(kernelPageOffset); err != nil {
		kfmt.Panic(err)
	}
	if err = goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}
	if err = heap.Init(earlyHeapSize); err != nil {
		kfmt.Panic(err)
	}

	cpu.InitGDT(boot.KernelStackTop())
	irq.RemapPIC()
	timer.Init()
	syscall.Init()

	diag := kfmtWriter{}
	kb, mouse, serial, pciBus, vt, cons := probeDrivers(diag)

	if vt != nil && cons != nil {
		vt.AttachTo(cons)
	}

	stdinRead := noopRead
	if kb != nil {
		stdinRead = kb.Read
	}
	stdoutWrite := noopWrite
	stderrWrite := noopWrite
	if vt != nil {
		stdoutWrite = vtWriteAdapter(vt)
		stderrWrite = stdoutWrite
	}

	dev, err := vfs.MountDev(stdinRead, stdoutWrite, stderrWrite)
	if err != nil {
		kfmt.Panic(err)
	}
	if pciBus != nil {
		if _, err = vfs.RegisterPCIBus(dev, pciBus.Listing); err != nil {
			kfmt.Panic(err)
		}
	}
	if serial != nil {
		if _, err = vfs.RegisterUART(dev, serial.Read, serial.Write); err != nil {
			kfmt.Panic(err)
		}
	}

	_ = mouse // the mouse driver registers its own IRQ handler; nothing else consumes it yet

	bringUpNetworking(pciBus)
	bringUpCompositor()

	initramfsBase, initramfsSize := boot.Initramfs()
	image := physView(initramfsBase, initramfsSize)
	if _, err = fat32.MountInto(vfs.Root(), initramfsMountPoint, image); err != nil {
		kfmt.Panic(err)
	}

	startInitProcess()

	// Use kfmt.Panic instead of panic to prevent the compiler from treating
	// this call as dead code and eliminating Kmain's body.
	kfmt.Panic(errKmainReturned)
}

// probeDrivers sorts and runs every driver registered via
// driver.RegisterDriver, in DetectOrder, and returns the concrete
// instances later boot stages need by type. A driver whose hardware isn't
// present returns a nil Driver from Probe and is skipped; one whose
// DriverInit fails logs the error and is treated the same way.
func probeDrivers(diag kfmtWriter) (kb *ps2.Keyboard, mouse *ps2.Mouse, serial *uart.UART, pciBus *pci.Bus, vt *tty.VT, cons console.Device) {
	infos := driver.DriverList()
	sort.Stable(infos)

	for _, info := range infos {
		d := info.Probe()
		if d == nil {
			continue
		}
		prefixed := &kfmt.PrefixWriter{Sink: diag, Prefix: []byte("[" + d.DriverName() + "] ")}
		if err := d.DriverInit(prefixed); err != nil {
			kfmt.Printf("driver %s failed to initialize: %s\n", d.DriverName(), err.Error())
			continue
		}

		switch typed := d.(type) {
		case *ps2.Keyboard:
			kb = typed
		case *ps2.Mouse:
			mouse = typed
		case *uart.UART:
			serial = typed
		case *pci.Bus:
			pciBus = typed
		case *tty.VT:
			vt = typed
		case console.Device:
			cons = typed
		}
	}
	return
}

func noopRead(_ uint64, _ []byte) (int, *kernel.Error) { return 0, nil }
func noopWrite(_ []byte) (int, *kernel.Error)          { return 0, nil }

// vtWriteAdapter wraps a *tty.VT's io.Writer-shaped Write (which returns a
// plain error) as a vfs.WriteFunc (which returns a *kernel.Error), the same
// adaptation vfs.CreateCharDev's callers need everywhere a non-kernel-native
// io.Writer backs a character device.
func vtWriteAdapter(vt *tty.VT) func([]byte) (int, *kernel.Error) {
	return func(p []byte) (int, *kernel.Error) {
		n, err := vt.Write(p)
		if err != nil {
			return n, &kernel.Error{Module: "tty", Message: err.Error()}
		}
		return n, nil
	}
}

// bringUpNetworking locates the RTL8139 NIC explicitly (it deliberately
// does not self-register; see DESIGN.md) and, if present, wires its
// receive path into a packet pump task.
func bringUpNetworking(pciBus *pci.Bus) {
	if pciBus == nil {
		return
	}
	nic, err := rtl8139.Probe(pciBus)
	if err != nil {
		kfmt.Printf("rtl8139: %s\n", err.Error())
		return
	}
	prefixed := &kfmt.PrefixWriter{Sink: kfmtWriter{}, Prefix: []byte("[" + nic.DriverName() + "] ")}
	if err = nic.DriverInit(prefixed); err != nil {
		kfmt.Printf("rtl8139: init failed: %s\n", err.Error())
		return
	}

	arpTable := net.NewARPTable(32)
	stack := net.NewStack(nic.MAC(), kestrelIP, nic, arpTable)
	nic.SetReceiveHandler(stack.OnFrame)
	stack.SpawnPump()
}

// bringUpCompositor maps the boot framebuffer and installs the compositor
// as the syscall gateway's window manager.
func bringUpCompositor() {
	fb := boot.Framebuffer()
	if fb.PhysAddr == 0 {
		return
	}
	compositor := wm.NewCompositor(fb.Width, fb.Height, fb.Pitch, fb.Format)
	if err := compositor.Map(uintptr(fb.PhysAddr)); err != nil {
		kfmt.Printf("wm: failed to map framebuffer: %s\n", err.Error())
		return
	}
	syscall.SetWindowManager(compositor)

	exec.Spawn(func(w *exec.Waker) bool {
		compositor.Flush()
		exec.SleepMs(w, 16)
		return false
	})
}

// physView returns a byte slice over a physical memory region already
// covered by the kernel direct map vmm.Init established, the same
// address-to-slice cast kernel/mem's Memset/Memcopy and the framebuffer
// consoles use.
func physView(physAddr uintptr, size uintptr) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: kernelPageOffset + physAddr,
	}))
}

// startInitProcess resolves and loads the first user program, then spawns
// the task that performs the one-time ring0->ring3 transition into it and
// enters the executor loop. Background tasks spawned earlier (the packet
// pump, the compositor flush) get their first poll in the same loop before
// the init task's turn comes up, since Spawn enqueues in FIFO order; once
// the init task runs, control leaves Go code for good on real hardware.
func startInitProcess() {
	initNode, err := vfs.Resolve(vfs.Root(), initProcessPath)
	if err != nil {
		kfmt.Panic(err)
	}
	stat := vfs.StatNode(initNode)
	image := make([]byte, stat.Size)
	if _, err = vfs.Read(initNode, 0, image); err != nil {
		kfmt.Panic(err)
	}

	dev, err := vfs.Resolve(vfs.Root(), "/dev")
	if err != nil {
		kfmt.Panic(err)
	}
	stdin, _ := vfs.Resolve(dev, "stdin")
	stdout, _ := vfs.Resolve(dev, "stdout")
	stderr, _ := vfs.Resolve(dev, "stderr")

	p, err := process.Create(image, []string{"init"}, nil, stdin, stdout, stderr)
	if err != nil {
		kfmt.Panic(err)
	}
	process.SetCurrent(p)
	cpu.SetKernelStack(boot.KernelStackTop())

	exec.Spawn(func(w *exec.Waker) bool {
		cpu.EnterUserMode(uintptr(p.Frame.RIP), uintptr(p.Frame.RSP))
		return true // unreachable on real hardware; EnterUserMode does not return
	})

	exec.Run()
}
