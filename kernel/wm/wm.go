// Package wm implements the kernel's window compositor: a Z-ordered list of
// opaque layers, each owned by exactly one process, composed into the boot
// framebuffer on Flush. It is driven exclusively through the syscall gateway
// (kernel/syscall.WindowManager); there is no direct user-facing API beyond
// that interface.
package wm

import (
	"kestrel/kernel"
	"kestrel/kernel/boot"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/pmm"
	"kestrel/kernel/mem/vmm"
	"kestrel/kernel/sync"
	"reflect"
	"unsafe"
)

const bytesPerPixel = 4

// mapRegionFn is swapped out in tests, mirroring kernel/driver/console's own
// seam over the same vmm.MapRegion call.
var mapRegionFn = vmm.MapRegion

type layer struct {
	title  string
	x, y   uint32
	w, h   uint32
	image  []byte // canonical RGBA8 bytes, len == imgW*imgH*4
	imgW   uint32
	imgH   uint32
}

// Compositor owns the Z-ordered layer list and the mapped view of the boot
// framebuffer it composites into.
type Compositor struct {
	lock sync.Spinlock

	width  uint32
	height uint32
	pitch  uint32
	format boot.PixelFormat
	fb     []byte

	layers map[uint32]*layer
	order  []uint32 // back-to-front: order[0] drawn first, order[len-1] last
	nextID uint32
}

// NewCompositor returns a compositor bound to the given framebuffer
// geometry. Call Map before the first Flush.
func NewCompositor(width, height, pitch uint32, format boot.PixelFormat) *Compositor {
	return &Compositor{
		width:  width,
		height: height,
		pitch:  pitch,
		format: format,
		layers: map[uint32]*layer{},
	}
}

// Map establishes the virtual mapping for the framebuffer this compositor
// writes to. Must be called once, during boot, before any Flush.
func (c *Compositor) Map(fbPhysAddr uintptr) *kernel.Error {
	size := mem.Size(c.height * c.pitch)
	page, err := mapRegionFn(pmm.Frame(fbPhysAddr>>mem.PageShift), size, vmm.FlagPresent|vmm.FlagRW)
	if err != nil {
		return err
	}
	c.fb = *(*[]uint8)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: page.Address(),
	}))
	return nil
}

// CreateWindow allocates a new top-of-stack layer at (x,y) sized (w,h) and
// returns its id.
func (c *Compositor) CreateWindow(title string, x, y, w, h uint32) (uint32, *kernel.Error) {
	c.lock.Acquire()
	defer c.lock.Release()

	c.nextID++
	id := c.nextID
	c.layers[id] = &layer{title: title, x: x, y: y, w: w, h: h}
	c.order = append(c.order, id)
	return id, nil
}

// DestroyWindow removes the layer with the given id.
func (c *Compositor) DestroyWindow(id uint32) *kernel.Error {
	c.lock.Acquire()
	defer c.lock.Release()

	if _, ok := c.layers[id]; !ok {
		return &kernel.Error{Module: "wm", Message: "no such window"}
	}
	delete(c.layers, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// AddImage replaces the pixel contents of window id with pixels, interpreted
// as w*h RGBA-sized pixels in the given pixelFormat (boot.PixelFormat
// values). The image is composited at the window's (x,y) on the next Flush,
// clipped to the smaller of the image and window dimensions.
func (c *Compositor) AddImage(id uint32, w, h, pixelFormat uint32, pixels []byte) *kernel.Error {
	c.lock.Acquire()
	defer c.lock.Release()

	l, ok := c.layers[id]
	if !ok {
		return &kernel.Error{Module: "wm", Message: "no such window"}
	}
	if uint64(w)*uint64(h)*bytesPerPixel > uint64(len(pixels)) {
		return &kernel.Error{Module: "wm", Message: "pixel buffer smaller than w*h"}
	}

	canonical := make([]byte, w*h*bytesPerPixel)
	convertPixels(boot.PixelFormat(pixelFormat), pixels, canonical)

	l.image = canonical
	l.imgW = w
	l.imgH = h
	return nil
}

// Flush composites every layer, back-to-front, into the mapped framebuffer.
func (c *Compositor) Flush() {
	c.lock.Acquire()
	defer c.lock.Release()

	if c.fb == nil {
		return
	}

	for _, id := range c.order {
		l := c.layers[id]
		if l.image == nil {
			continue
		}
		c.blit(l)
	}
}

func (c *Compositor) blit(l *layer) {
	w := l.imgW
	if w > l.w {
		w = l.w
	}
	h := l.imgH
	if h > l.h {
		h = l.h
	}
	if l.x+w > c.width {
		w = c.width - l.x
	}
	if l.y+h > c.height {
		h = c.height - l.y
	}

	for row := uint32(0); row < h; row++ {
		srcOff := row * l.imgW * bytesPerPixel
		dstOff := (l.y+row)*c.pitch + l.x*bytesPerPixel
		for col := uint32(0); col < w; col++ {
			s := srcOff + col*bytesPerPixel
			d := dstOff + col*bytesPerPixel
			comp := packFramebufferPixel(c.format, l.image[s:s+bytesPerPixel])
			copy(c.fb[d:d+bytesPerPixel], comp[:])
		}
	}
}

// convertPixels reinterprets src (w*h pixels in srcFormat, always stored as
// four bytes per pixel) into canonical RGBA8 order in dst.
func convertPixels(srcFormat boot.PixelFormat, src, dst []byte) {
	for i := 0; i+bytesPerPixel <= len(src) && i+bytesPerPixel <= len(dst); i += bytesPerPixel {
		r, g, b, a := unpackPixel(srcFormat, src[i:i+bytesPerPixel])
		dst[i+0], dst[i+1], dst[i+2], dst[i+3] = r, g, b, a
	}
}

func unpackPixel(format boot.PixelFormat, px []byte) (r, g, b, a byte) {
	switch format {
	case boot.PixelFormatBGR, boot.PixelFormatBGRA:
		return px[2], px[1], px[0], px[3]
	default:
		return px[0], px[1], px[2], px[3]
	}
}

// packFramebufferPixel converts a canonical RGBA8 pixel into the
// framebuffer's native byte order.
func packFramebufferPixel(format boot.PixelFormat, rgba []byte) [4]byte {
	switch format {
	case boot.PixelFormatBGR, boot.PixelFormatBGRA:
		return [4]byte{rgba[2], rgba[1], rgba[0], 0xff}
	default:
		return [4]byte{rgba[0], rgba[1], rgba[2], 0xff}
	}
}
