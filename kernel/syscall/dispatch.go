package syscall

import (
	"kestrel/kernel"
	"kestrel/kernel/mem"
	"kestrel/kernel/process"
	"kestrel/kernel/timer"
	"kestrel/kernel/vfs"
	"unsafe"
)

const maxPathLen = 256

var memcopyFn = mem.Memcopy

// copyOut validates that dst is a writable range in p's address space and
// copies data into it.
func copyOut(p *process.Process, dst uintptr, data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if !p.ValidateUserPointer(dst, uint64(len(data)), true) {
		return false
	}
	memcopyFn(dst, uintptr(unsafe.Pointer(&data[0])), mem.Size(len(data)))
	return true
}

// copyIn validates that src is a readable range in p's address space and
// copies it into buf.
func copyIn(p *process.Process, buf []byte, src uintptr) bool {
	if len(buf) == 0 {
		return true
	}
	if !p.ValidateUserPointer(src, uint64(len(buf)), false) {
		return false
	}
	memcopyFn(uintptr(unsafe.Pointer(&buf[0])), src, mem.Size(len(buf)))
	return true
}

// readCString copies a NUL-terminated string out of p's user memory
// starting at addr, up to maxPathLen bytes. It validates one byte at a time
// since the string's length isn't known up front.
func readCString(p *process.Process, addr uintptr) (string, bool) {
	buf := make([]byte, 0, 64)
	for i := 0; i < maxPathLen; i++ {
		var b [1]byte
		if !copyIn(p, b[:], addr+uintptr(i)) {
			return "", false
		}
		if b[0] == 0 {
			return string(buf), true
		}
		buf = append(buf, b[0])
	}
	return "", false
}

// resolvePath resolves path against p's CWD if it is not already absolute.
func resolvePath(p *process.Process, path string) (vfs.Inode, *kernel.Error) {
	full := path
	if len(path) == 0 || path[0] != '/' {
		cwd := p.CWD()
		if cwd == "/" {
			full = "/" + path
		} else {
			full = cwd + "/" + path
		}
	}
	return vfs.Resolve(vfs.Root(), full)
}

// Dispatch runs syscall number num for p with arguments a0..a4 and returns
// the value to place in the result register. Pointer arguments are
// validated against p's mapped regions before use; validation failures
// return -1 rather than faulting, per the ABI's flat-integer error
// convention.
func Dispatch(p *process.Process, num uint64, a0, a1, a2, a3, a4 uint64) int64 {
	switch num {
	case SysRead:
		return sysRead(p, int(a0), uintptr(a1), a2)
	case SysWrite:
		return sysWrite(p, int(a0), uintptr(a1), a2)
	case SysOpen:
		return sysOpen(p, uintptr(a0))
	case SysClose:
		return sysClose(p, int(a0))
	case SysExit:
		p.Exit(int32(a0))
		return 0
	case SysSbrk:
		return sysSbrk(p, a0)
	case SysUname:
		return sysUname(p, uintptr(a0))
	case SysBreak:
		return sysBreak(p)
	case SysStat:
		return sysStat(p, int(a0), uintptr(a1))
	case SysUptime:
		return int64(timer.Uptime())
	case SysExec:
		return sysExec(p, uintptr(a0))
	case SysGetcwd:
		return sysGetcwd(p, uintptr(a0), a1)
	case SysChdir:
		return sysChdir(p, uintptr(a0))
	case SysCreateWindow:
		return sysCreateWindow(p, uintptr(a0), a1, a2, a3, a4)
	case SysDestroyWindow:
		return sysDestroyWindow(p, uint32(a0))
	case SysGetNames:
		return sysGetNames(p, uintptr(a0), uintptr(a1), a2)
	case SysSbrksz:
		return int64(p.Sbrksz(uintptr(a0)))
	case SysAddImageToWindow:
		return sysAddImageToWindow(p, uint32(a0), a1, a2, a3, uintptr(a4))
	default:
		return -1
	}
}

func sysRead(p *process.Process, fd int, bufAddr uintptr, length uint64) int64 {
	tmp := make([]byte, length)
	n, err := p.FDs().Read(fd, tmp)
	if err != nil {
		return -1
	}
	if !copyOut(p, bufAddr, tmp[:n]) {
		return -1
	}
	return int64(n)
}

func sysWrite(p *process.Process, fd int, bufAddr uintptr, length uint64) int64 {
	tmp := make([]byte, length)
	if !copyIn(p, tmp, bufAddr) {
		return -1
	}
	n, err := p.FDs().Write(fd, tmp)
	if err != nil {
		return -1
	}
	return int64(n)
}

func sysOpen(p *process.Process, pathAddr uintptr) int64 {
	path, ok := readCString(p, pathAddr)
	if !ok {
		return -1
	}
	node, err := resolvePath(p, path)
	if err != nil {
		return -1
	}
	fd, err := p.FDs().Open(node)
	if err != nil {
		return -1
	}
	return int64(fd)
}

func sysClose(p *process.Process, fd int) int64 {
	if err := p.FDs().Close(fd); err != nil {
		return -1
	}
	return 0
}

func sysSbrk(p *process.Process, length uint64) int64 {
	addr, err := p.Sbrk(mem.Size(length))
	if err != nil {
		return 0
	}
	return int64(addr)
}

func sysUname(p *process.Process, bufAddr uintptr) int64 {
	u := buildUtsname()
	data := (*[unsafe.Sizeof(Utsname{})]byte)(unsafe.Pointer(&u))[:]
	if !copyOut(p, bufAddr, data) {
		return -1
	}
	return 0
}

// sysBreak implements the break syscall as a kernel-mode debug trap: it
// issues int3, which the Breakpoint exception handler catches, reports, and
// resumes from the following instruction. See kernel/process's DESIGN.md
// entry for why this resolution was chosen over killing or halting.
func sysBreak(p *process.Process) int64 {
	breakpointFn()
	return 0
}

func sysStat(p *process.Process, fd int, bufAddr uintptr) int64 {
	st, err := p.FDs().Stat(fd)
	if err != nil {
		return -1
	}
	out := FStat{Size: st.Size, Kind: vfsKindToABI(st.Kind)}
	data := (*[unsafe.Sizeof(FStat{})]byte)(unsafe.Pointer(&out))[:]
	if !copyOut(p, bufAddr, data) {
		return -1
	}
	return 0
}

func vfsKindToABI(k vfs.Kind) uint8 {
	switch k {
	case vfs.KindDir:
		return KindDir
	case vfs.KindCharDev:
		return KindCharDev
	default:
		return KindFile
	}
}

// sysExec reads the whole file named by the NUL-terminated path at pathAddr
// and replaces p's image with it, passing the path itself as argv[0]. There
// is no env storage across exec yet, so envp is empty.
func sysExec(p *process.Process, pathAddr uintptr) int64 {
	path, ok := readCString(p, pathAddr)
	if !ok {
		return -1
	}
	node, err := resolvePath(p, path)
	if err != nil {
		return -1
	}
	st := vfs.StatNode(node)
	image := make([]byte, st.Size)
	if _, err := vfs.Read(node, 0, image); err != nil {
		return -1
	}
	if err := p.Exec(image, []string{path}, nil); err != nil {
		return -1
	}
	return 0
}

func sysGetcwd(p *process.Process, bufAddr uintptr, length uint64) int64 {
	cwd := p.CWD()
	if uint64(len(cwd)+1) > length {
		return -1
	}
	data := append([]byte(cwd), 0)
	if !copyOut(p, bufAddr, data) {
		return -1
	}
	return 0
}

func sysChdir(p *process.Process, pathAddr uintptr) int64 {
	path, ok := readCString(p, pathAddr)
	if !ok {
		return -1
	}
	node, err := resolvePath(p, path)
	if err != nil {
		return -1
	}
	if vfs.StatNode(node).Kind != vfs.KindDir {
		return -1
	}
	full := path
	if len(path) == 0 || path[0] != '/' {
		if p.CWD() == "/" {
			full = "/" + path
		} else {
			full = p.CWD() + "/" + path
		}
	}
	p.SetCWD(full)
	return 0
}

// sysGetNames implements both getcwdenames(buf, len) and getenames(path,
// buf, len): when pathAddr is 0 it lists p's CWD, otherwise the directory
// named by the NUL-terminated string at pathAddr. Names are written into
// buf separated by a single NUL, with a second NUL terminating the list.
func sysGetNames(p *process.Process, pathAddr, bufAddr uintptr, length uint64) int64 {
	var node vfs.Inode
	var err *kernel.Error
	if pathAddr == 0 {
		node, err = resolvePath(p, ".")
	} else {
		path, ok := readCString(p, pathAddr)
		if !ok {
			return -1
		}
		node, err = resolvePath(p, path)
	}
	if err != nil {
		return -1
	}

	names, err := vfs.List(node)
	if err != nil {
		return -1
	}

	var out []byte
	for _, n := range names {
		out = append(out, n...)
		out = append(out, 0)
	}
	out = append(out, 0)

	if uint64(len(out)) > length {
		return -1
	}
	if !copyOut(p, bufAddr, out) {
		return -1
	}
	return 0
}

func sysCreateWindow(p *process.Process, titleAddr uintptr, x, y, w, h uint64) int64 {
	wm := windowManager
	if wm == nil {
		return -1
	}
	title, ok := readCString(p, titleAddr)
	if !ok {
		return -1
	}
	id, err := wm.CreateWindow(title, uint32(x), uint32(y), uint32(w), uint32(h))
	if err != nil {
		return -1
	}
	p.AddWindow(id)
	return int64(id)
}

func sysDestroyWindow(p *process.Process, id uint32) int64 {
	wm := windowManager
	if wm == nil || !p.OwnsWindow(id) {
		return -1
	}
	if err := wm.DestroyWindow(id); err != nil {
		return -1
	}
	p.RemoveWindow(id)
	return 0
}

func sysAddImageToWindow(p *process.Process, id uint32, w, h, pixelFormat uint64, bufAddr uintptr) int64 {
	wm := windowManager
	if wm == nil || !p.OwnsWindow(id) {
		return -1
	}
	pixels := make([]byte, w*h*4)
	if !copyIn(p, pixels, bufAddr) {
		return -1
	}
	if err := wm.AddImage(id, uint32(w), uint32(h), uint32(pixelFormat), pixels); err != nil {
		return -1
	}
	return 0
}
