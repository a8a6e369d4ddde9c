package console

import (
	"image/color"
	"io"
	"kestrel/kernel"
	"kestrel/kernel/boot"
	"kestrel/kernel/driver"
	"kestrel/kernel/driver/console/font"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/pmm"
	"kestrel/kernel/mem/vmm"
	"reflect"
	"unsafe"
)

// bytesPerPixel is fixed since the UEFI GOP framebuffer the bootloader hands
// off is always a packed 32bpp surface.
const bytesPerPixel = 4

// mapRegionFn is mocked by tests and is automatically inlined by the compiler.
var mapRegionFn = vmm.MapRegion

// VesaFbConsole implements a text console rendered via bitmap font glyphs on
// top of the linear framebuffer exposed by the UEFI GOP.
type VesaFbConsole struct {
	format     boot.PixelFormat
	fbPhysAddr uintptr
	fb         []uint8

	// Console dimensions in pixels
	width  uint32
	height uint32

	// Size of a row in bytes
	pitch uint32

	// Console dimensions in characters
	font          *font.Font
	widthInChars  uint32
	heightInChars uint32

	palette   color.Palette
	defaultFg uint8
	defaultBg uint8
	clearChar uint16
}

// NewVesaFbConsole creates a new framebuffer console using the GOP-reported
// geometry and pixel format.
func NewVesaFbConsole(width, height, pitch uint32, format boot.PixelFormat, fbPhysAddr uintptr) *VesaFbConsole {
	return &VesaFbConsole{
		format:     format,
		fbPhysAddr: fbPhysAddr,
		width:      width,
		height:     height,
		pitch:      pitch,
		// light gray text on black background
		defaultFg: 7,
		defaultBg: 0,
		clearChar: uint16(' '),
	}
}

// SetFont selects a bitmap font to be used by the console.
func (cons *VesaFbConsole) SetFont(f *font.Font) {
	if f == nil {
		return
	}

	cons.font = f
	cons.widthInChars = cons.width / uint32(f.GlyphWidth)
	cons.heightInChars = cons.height / uint32(f.GlyphHeight)
}

// Dimensions returns the console width and height in the specified dimension.
func (cons *VesaFbConsole) Dimensions(dim Dimension) (uint32, uint32) {
	switch dim {
	case Characters:
		return cons.widthInChars, cons.heightInChars
	default:
		return cons.width, cons.height
	}
}

// DefaultColors returns the default foreground and background colors
// used by this console.
func (cons *VesaFbConsole) DefaultColors() (fg uint8, bg uint8) {
	return cons.defaultFg, cons.defaultBg
}

// Fill sets the contents of the specified rectangular region to the requested
// color. Both x and y coordinates are 1-based.
func (cons *VesaFbConsole) Fill(x, y, width, height uint32, _, bg uint8) {
	if cons.font == nil {
		return
	}

	if x == 0 {
		x = 1
	} else if x >= cons.widthInChars {
		x = cons.widthInChars
	}

	if y == 0 {
		y = 1
	} else if y >= cons.heightInChars {
		y = cons.heightInChars
	}

	if x+width-1 > cons.widthInChars {
		width = cons.widthInChars - x + 1
	}

	if y+height-1 > cons.heightInChars {
		height = cons.heightInChars - y + 1
	}

	pX := (x - 1) * cons.font.GlyphWidth
	pY := (y - 1) * cons.font.GlyphHeight
	pW := width * cons.font.GlyphWidth
	pH := height * cons.font.GlyphHeight

	comp := cons.packColor(bg)
	fbRowOffset := cons.fbOffset(pX, pY)
	for ; pH > 0; pH, fbRowOffset = pH-1, fbRowOffset+cons.pitch {
		for fbOffset := fbRowOffset; fbOffset < fbRowOffset+pW*bytesPerPixel; fbOffset += bytesPerPixel {
			copy(cons.fb[fbOffset:fbOffset+bytesPerPixel], comp[:])
		}
	}
}

// Scroll the console contents to the specified direction. The caller
// is responsible for updating (e.g. clear or replace) the contents of
// the region that was scrolled.
func (cons *VesaFbConsole) Scroll(dir ScrollDir, lines uint32) {
	if cons.font == nil || lines == 0 || lines > cons.heightInChars {
		return
	}

	offset := cons.fbOffset(0, lines*cons.font.GlyphHeight)

	switch dir {
	case ScrollDirUp:
		startOffset := cons.fbOffset(0, 0)
		endOffset := cons.fbOffset(0, cons.height-lines*cons.font.GlyphHeight)
		for i := startOffset; i < endOffset; i++ {
			cons.fb[i] = cons.fb[i+offset]
		}
	case ScrollDirDown:
		startOffset := cons.fbOffset(0, lines*cons.font.GlyphHeight)
		for i := uint32(len(cons.fb) - 1); i >= startOffset; i-- {
			cons.fb[i] = cons.fb[i-offset]
		}
	}
}

// Write a char to the specified location. If fg or bg exceed the supported
// colors for this console, they will be set to their default value. Both x and
// y coordinates are 1-based
func (cons *VesaFbConsole) Write(ch byte, fg, bg uint8, x, y uint32) {
	if x < 1 || x > cons.widthInChars || y < 1 || y > cons.heightInChars || cons.font == nil {
		return
	}

	var (
		fontOffset  = uint32(ch) * cons.font.BytesPerRow * cons.font.GlyphHeight
		fbRowOffset = cons.fbOffset((x-1)*cons.font.GlyphWidth, (y-1)*cons.font.GlyphHeight)
		fbOffset    uint32
		px, py      uint32
		mask        uint8
		fgComp      = cons.packColor(fg)
		bgComp      = cons.packColor(bg)
	)

	for py = 0; py < cons.font.GlyphHeight; py, fbRowOffset, fontOffset = py+1, fbRowOffset+cons.pitch, fontOffset+1 {
		fbOffset = fbRowOffset
		fontRowData := cons.font.Data[fontOffset]
		mask = 1 << 7
		for px = 0; px < cons.font.GlyphWidth; px, fbOffset, mask = px+1, fbOffset+bytesPerPixel, mask>>1 {
			if mask == 0 {
				fontOffset++
				fontRowData = cons.font.Data[fontOffset]
				mask = 1 << 7
			}

			if (fontRowData & mask) != 0 {
				copy(cons.fb[fbOffset:fbOffset+bytesPerPixel], fgComp[:])
			} else {
				copy(cons.fb[fbOffset:fbOffset+bytesPerPixel], bgComp[:])
			}
		}
	}
}

// fbOffset returns the linear offset into the framebuffer that corresponds to
// the pixel at (x,y).
func (cons *VesaFbConsole) fbOffset(x, y uint32) uint32 {
	return (y * cons.pitch) + (x * bytesPerPixel)
}

// packColor encodes a palette color into the byte order required by the
// console's pixel format.
func (cons *VesaFbConsole) packColor(colorIndex uint8) [4]uint8 {
	c := cons.palette[colorIndex].(color.RGBA)

	switch cons.format {
	case boot.PixelFormatBGR, boot.PixelFormatBGRA:
		return [4]uint8{c.B, c.G, c.R, 0xff}
	default:
		return [4]uint8{c.R, c.G, c.B, 0xff}
	}
}

// Palette returns the active color palette for this console.
func (cons *VesaFbConsole) Palette() color.Palette {
	return cons.palette
}

// SetPaletteColor updates the color definition for the specified
// palette index. Passing a color index greater than the number of
// supported colors is a no-op.
func (cons *VesaFbConsole) SetPaletteColor(index uint8, rgba color.RGBA) {
	if int(index) >= len(cons.palette) {
		return
	}

	cons.palette[index] = rgba
}

// loadDefaultPalette is called during driver initialization to setup the
// console palette. Regardless of the framebuffer depth, the console always
// uses a 256-color palette.
func (cons *VesaFbConsole) loadDefaultPalette() {
	cons.palette = make(color.Palette, 256)

	egaPalette := []color.RGBA{
		{R: 0, G: 0, B: 0},       /* black */
		{R: 0, G: 0, B: 128},     /* blue */
		{R: 0, G: 128, B: 1},     /* green */
		{R: 0, G: 128, B: 128},   /* cyan */
		{R: 128, G: 0, B: 1},     /* red */
		{R: 128, G: 0, B: 128},   /* magenta */
		{R: 64, G: 64, B: 1},     /* brown */
		{R: 128, G: 128, B: 128}, /* light gray */
		{R: 64, G: 64, B: 64},    /* dark gray */
		{R: 0, G: 0, B: 255},     /* light blue */
		{R: 0, G: 255, B: 1},     /* light green */
		{R: 0, G: 255, B: 255},   /* light cyan */
		{R: 255, G: 0, B: 1},     /* light red */
		{R: 255, G: 0, B: 255},   /* light magenta */
		{R: 255, G: 255, B: 1},   /* yellow */
		{R: 255, G: 255, B: 255}, /* white */
	}

	var index int
	for ; index < len(egaPalette); index++ {
		cons.SetPaletteColor(uint8(index), egaPalette[index])
	}

	for ; index < len(cons.palette); index++ {
		cons.SetPaletteColor(uint8(index), egaPalette[0])
	}
}

// DriverName returns the name of this driver.
func (cons *VesaFbConsole) DriverName() string {
	return "vesa_fb_console"
}

// DriverVersion returns the version of this driver.
func (cons *VesaFbConsole) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit initializes this driver.
func (cons *VesaFbConsole) DriverInit(w io.Writer) *kernel.Error {
	fbSize := mem.Size(cons.height * cons.pitch)
	fbPage, err := mapRegionFn(
		pmm.Frame(cons.fbPhysAddr>>mem.PageShift),
		fbSize,
		vmm.FlagPresent|vmm.FlagRW,
	)

	if err != nil {
		return err
	}

	cons.fb = *(*[]uint8)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(fbSize),
		Cap:  int(fbSize),
		Data: fbPage.Address(),
	}))

	kfmt.Fprintf(w, "mapped framebuffer to 0x%x\n", fbPage.Address())
	kfmt.Fprintf(w, "framebuffer dimensions: %dx%dx32\n", cons.width, cons.height)

	cons.loadDefaultPalette()

	return nil
}

// probeForVesaFbConsole checks for the presence of the GOP-backed
// framebuffer console reported by the bootloader hand-off.
func probeForVesaFbConsole() driver.Driver {
	fbInfo := getFramebufferInfoFn()
	if fbInfo.PhysAddr == 0 {
		return nil
	}

	return NewVesaFbConsole(fbInfo.Width, fbInfo.Height, fbInfo.Pitch, fbInfo.Format, uintptr(fbInfo.PhysAddr))
}

func init() {
	driver.RegisterDriver(&driver.DriverInfo{
		Order: driver.DetectOrderBeforeACPI,
		Probe: probeForVesaFbConsole,
	})
}
