// Package logo contains logos that can be used with a framebuffer console.
package logo

import "image/color"

// ConsoleLogo defines the logo used by framebuffer consoles. If set to nil
// then no logo will be displayed.
var ConsoleLogo *Image

// availableLogos holds every logo image compiled into the kernel, smallest
// first. Generated logo assets register themselves here via an init().
var availableLogos []*Image

// logoHeightBudget bounds how tall a logo may be relative to the console it
// decorates: a logo is considered a fit once its height multiplied by this
// factor reaches the console height, leaving the rest of the console free
// for text.
const logoHeightBudget = 12

// Alignment defines the supported horizontal alignments for a console logo.
type Alignment uint8

const (
	// AlignLeft aligns the logo to the left side of the console.
	AlignLeft Alignment = iota

	// AlignCenter aligns the logo to the center of the console.
	AlignCenter

	// AlignRight aligns the logo to the right side of the console.
	AlignRight
)

// Image describes an 8bpp image with
type Image struct {
	// The width and height of the logo in pixels.
	Width  uint32
	Height uint32

	// Align specifies the horizontal alignment for the logo.
	Align Alignment

	// TransparentIndex defines a color index that will be treated as
	// transparent when drawing the logo.
	TransparentIndex uint8

	// The palette for the logo. The console remaps the palette
	// entries to the end of its own palette.
	Palette []color.RGBA

	// The logo data comprises of Width*Height bytes where each byte
	// represents an index in the logo palette.
	Data []uint8
}

// BestFit returns the smallest registered logo whose height is at least
// 1/logoHeightBudget of a consoleWidth x consoleHeight console, or nil if none
// are registered. Logos are assumed to be registered smallest-height first;
// BestFit walks them in that order and returns the first whose height times
// logoHeightBudget covers the console height, falling back to the tallest
// one if the console is bigger than every logo was designed for.
func BestFit(consoleWidth, consoleHeight uint32) *Image {
	_ = consoleWidth // logos scale by height only; width only affects alignment

	if len(availableLogos) == 0 {
		return nil
	}

	for _, img := range availableLogos {
		if consoleHeight <= img.Height*logoHeightBudget {
			return img
		}
	}

	return availableLogos[len(availableLogos)-1]
}
