package syscall

import "kestrel/kernel"

// WindowManager is the capability the create_window/destroy_window/
// add_image_to_window syscalls drive. kernel/kmain installs a kernel/wm
// compositor via SetWindowManager during boot; until then those syscalls
// fail with -1.
type WindowManager interface {
	CreateWindow(title string, x, y, w, h uint32) (uint32, *kernel.Error)
	DestroyWindow(id uint32) *kernel.Error
	AddImage(id uint32, w, h, pixelFormat uint32, pixels []byte) *kernel.Error
}

var windowManager WindowManager

// SetWindowManager installs the window manager backing the window syscalls.
func SetWindowManager(wm WindowManager) {
	windowManager = wm
}
