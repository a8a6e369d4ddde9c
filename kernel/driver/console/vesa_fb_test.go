package console

import (
	"bytes"
	"fmt"
	"image/color"
	"kestrel/kernel"
	"kestrel/kernel/boot"
	"kestrel/kernel/driver"
	"kestrel/kernel/driver/console/font"
	"kestrel/kernel/mem"
	"kestrel/kernel/mem/pmm"
	"kestrel/kernel/mem/vmm"
	"strings"
	"testing"
)

func TestVesaFbDimensions(t *testing.T) {
	var cons Device = NewVesaFbConsole(16, 32, 16*bytesPerPixel, boot.PixelFormatRGB, 0)

	if w, h := cons.Dimensions(Characters); w != 0 || h != 0 {
		t.Fatalf("expected console dimensions to be 0x0 before setting a font; got %dx%d", w, h)
	}

	// Setting a nil font should be a no-op
	cons.(FontSetter).SetFont(nil)
	if w, h := cons.Dimensions(Characters); w != 0 || h != 0 {
		t.Fatalf("expected console character dimensions to be 0x0; got %dx%d", w, h)
	}

	cons.(FontSetter).SetFont(mockFont8x10)
	if w, h := cons.Dimensions(Characters); w != 2 || h != 3 {
		t.Fatalf("expected console character dimensions to be 2x3; got %dx%d", w, h)
	}

	if w, h := cons.Dimensions(Pixels); w != 16 || h != 32 {
		t.Fatalf("expected console pixel dimensions to be 16x32; got %dx%d", w, h)
	}
}

func TestVesaFbDefaultColors(t *testing.T) {
	var cons Device = NewVesaFbConsole(16, 32, 16*bytesPerPixel, boot.PixelFormatRGB, 0)
	if fg, bg := cons.DefaultColors(); fg != 7 || bg != 0 {
		t.Fatalf("expected console default colors to be fg:7, bg:0; got fg:%d, bg: %d", fg, bg)
	}
}

func TestVesaFbWrite(t *testing.T) {
	var (
		consW, consH uint32 = 16, 16
		fg, bg       uint8  = 1, 0
	)

	cons := NewVesaFbConsole(consW, consH, consW*bytesPerPixel, boot.PixelFormatRGB, 0)
	cons.fb = make([]uint8, consW*consH*bytesPerPixel)
	cons.loadDefaultPalette()
	cons.SetFont(mockFont8x10)

	// ASCII 0 maps to a blank glyph; ASCII 1 maps to the letter 'A'.
	cons.Write(0, fg, bg, 1, 1)
	cons.Write(1, fg, bg, 1, 1)

	fgComp := cons.packColor(fg)
	bgComp := cons.packColor(bg)

	// Row 1 (0-based), column 3 is set in the mock 'A' glyph (0x38 -> 00111000).
	setOffset := cons.fbOffset(3, 1)
	if got := cons.fb[setOffset : setOffset+bytesPerPixel]; !bytes.Equal(got, fgComp[:]) {
		t.Errorf("expected foreground pixel at (3,1); got %v want %v", got, fgComp)
	}

	clearOffset := cons.fbOffset(0, 0)
	if got := cons.fb[clearOffset : clearOffset+bytesPerPixel]; !bytes.Equal(got, bgComp[:]) {
		t.Errorf("expected background pixel at (0,0); got %v want %v", got, bgComp)
	}
}

func TestVesaFbScroll(t *testing.T) {
	var consW, consH uint32 = 8, 8

	cons := NewVesaFbConsole(consW, consH, consW*bytesPerPixel, boot.PixelFormatRGB, 0)
	cons.fb = make([]uint8, consW*consH*bytesPerPixel)
	cons.loadDefaultPalette()

	// calling scroll before selecting a font should be a no-op.
	cons.Scroll(ScrollDirUp, 1)

	cons.SetFont(&font.Font{GlyphWidth: consW, GlyphHeight: 1, BytesPerRow: 1})

	marker := cons.packColor(1)
	rowOffset := cons.fbOffset(0, 1)
	copy(cons.fb[rowOffset:rowOffset+bytesPerPixel], marker[:])

	cons.Scroll(ScrollDirUp, 1)

	shiftedOffset := cons.fbOffset(0, 0)
	if got := cons.fb[shiftedOffset : shiftedOffset+bytesPerPixel]; !bytes.Equal(got, marker[:]) {
		t.Errorf("expected scrolled-up marker at row 0; got %v want %v", got, marker)
	}
}

func TestVesaFbFill(t *testing.T) {
	var consW, consH uint32 = 16, 16

	cons := NewVesaFbConsole(consW, consH, consW*bytesPerPixel, boot.PixelFormatRGB, 0)
	cons.fb = make([]uint8, consW*consH*bytesPerPixel)
	cons.loadDefaultPalette()

	// Calling fill before selecting a font should be a no-op.
	cons.Fill(1, 1, 1, 1, 0, 1)
	for _, b := range cons.fb {
		if b != 0 {
			t.Fatal("expected Fill() to be a no-op before a font is selected")
		}
	}

	cons.SetFont(mockFont8x10)
	cons.Fill(1, 1, 1, 1, 0, 1)

	fillComp := cons.packColor(1)
	off := cons.fbOffset(0, 0)
	if got := cons.fb[off : off+bytesPerPixel]; !bytes.Equal(got, fillComp[:]) {
		t.Errorf("expected filled pixel at (0,0); got %v want %v", got, fillComp)
	}
}

func TestVesaFbPalette(t *testing.T) {
	expPal := make(color.Palette, 0)
	expPal = append(expPal,
		color.RGBA{R: 0, G: 0, B: 0},       /* black */
		color.RGBA{R: 0, G: 0, B: 128},     /* blue */
		color.RGBA{R: 0, G: 128, B: 1},     /* green */
		color.RGBA{R: 0, G: 128, B: 128},   /* cyan */
		color.RGBA{R: 128, G: 0, B: 1},     /* red */
		color.RGBA{R: 128, G: 0, B: 128},   /* magenta */
		color.RGBA{R: 64, G: 64, B: 1},     /* brown */
		color.RGBA{R: 128, G: 128, B: 128}, /* light gray */
		color.RGBA{R: 64, G: 64, B: 64},    /* dark gray */
		color.RGBA{R: 0, G: 0, B: 255},     /* light blue */
		color.RGBA{R: 0, G: 255, B: 1},     /* light green */
		color.RGBA{R: 0, G: 255, B: 255},   /* light cyan */
		color.RGBA{R: 255, G: 0, B: 1},     /* light red */
		color.RGBA{R: 255, G: 0, B: 255},   /* light magenta */
		color.RGBA{R: 255, G: 255, B: 1},   /* yellow */
		color.RGBA{R: 255, G: 255, B: 255}, /* white */
	)

	for i := len(expPal); i < 256; i++ {
		expPal = append(expPal, expPal[0])
	}

	cons := NewVesaFbConsole(0, 0, 0, boot.PixelFormatRGB, 0)
	cons.loadDefaultPalette()

	customColor := color.RGBA{R: 251, G: 252, B: 253}
	expPal[255] = customColor
	cons.SetPaletteColor(255, customColor)

	got := cons.Palette()
	for index, exp := range expPal {
		if got[index] != exp {
			t.Errorf("palette entry %d: want %v; got %v", index, exp, got[index])
		}
	}

	// Out-of-range index is a no-op.
	cons.palette = cons.palette[:1]
	cons.SetPaletteColor(1, color.RGBA{R: 1})
	if len(cons.palette) != 1 {
		t.Fatal("expected SetPaletteColor with out-of-range index to be a no-op")
	}
}

func TestVesaFbDriverInterface(t *testing.T) {
	defer func() {
		mapRegionFn = vmm.MapRegion
	}()

	var dev driver.Driver = NewVesaFbConsole(320, 200, 320*bytesPerPixel, boot.PixelFormatRGB, uintptr(0xa0000))

	if dev.DriverName() == "" {
		t.Fatal("DriverName() returned an empty string")
	}

	if major, minor, patch := dev.DriverVersion(); major+minor+patch == 0 {
		t.Fatal("DriverVersion() returned an invalid version number")
	}

	t.Run("init success", func(t *testing.T) {
		mapRegionFn = func(_ pmm.Frame, _ mem.Size, _ vmm.PageTableEntryFlag) (vmm.Page, *kernel.Error) {
			return 0xa0000, nil
		}

		var buf bytes.Buffer
		if err := dev.DriverInit(&buf); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("init fail", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "something went wrong"}
		mapRegionFn = func(_ pmm.Frame, _ mem.Size, _ vmm.PageTableEntryFlag) (vmm.Page, *kernel.Error) {
			return 0, expErr
		}

		if err := dev.DriverInit(nil); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})
}

func TestVesaFbProbe(t *testing.T) {
	defer func() {
		getFramebufferInfoFn = boot.Framebuffer
	}()

	getFramebufferInfoFn = func() *boot.FramebufferInfo {
		return &boot.FramebufferInfo{
			Width:    320,
			Height:   200,
			Pitch:    320 * bytesPerPixel,
			PhysAddr: 0xa0000,
			Format:   boot.PixelFormatRGB,
		}
	}

	if drv := probeForVesaFbConsole(); drv == nil {
		t.Fatal("expected probeForVesaFbConsole to return a driver")
	}

	getFramebufferInfoFn = func() *boot.FramebufferInfo {
		return &boot.FramebufferInfo{}
	}

	if drv := probeForVesaFbConsole(); drv != nil {
		t.Fatal("expected probeForVesaFbConsole to return nil when no framebuffer is present")
	}
}

func dumpFramebuffer(consW, consH, consPitch uint32, fb []byte) string {
	var buf bytes.Buffer

	for y := uint32(0); y < consH; y++ {
		fmt.Fprintf(&buf, "%04d |", y)
		index := y * consPitch
		for x := uint32(0); x < consPitch; x++ {
			fmt.Fprintf(&buf, "%d", fb[index+x])
		}
		fmt.Fprintln(&buf, "|")
	}

	return strings.TrimSpace(buf.String())
}

var mockFont8x10 = &font.Font{
	GlyphWidth:  8,
	GlyphHeight: 10,
	BytesPerRow: 1,
	Data: []byte{
		0x00, /* 00000000 */
		0x00, /* 00000000 */
		0x00, /* 00000000 */
		0x00, /* 00000000 */
		0x00, /* 00000000 */
		0x00, /* 00000000 */
		0x00, /* 00000000 */
		0x00, /* 00000000 */
		0x00, /* 00000000 */
		0x00, /* 00000000 */
		// glyph 1
		0x10, /* 00010000 */
		0x38, /* 00111000 */
		0x6c, /* 01101100 */
		0xc6, /* 11000110 */
		0xc6, /* 11000110 */
		0xfe, /* 11111110 */
		0xc6, /* 11000110 */
		0xc6, /* 11000110 */
		0xc6, /* 11000110 */
		0xc6, /* 11000110 */
	},
}
