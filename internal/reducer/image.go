// Package reducer turns a raw captured image plus an LED layout into one
// color per LED (the image reducer, §4.4), tracking a detected black
// border across frames (the black border detector, §4.3).
package reducer

import (
	"fmt"

	"ambientd/internal/color"
)

// Image is a raw captured frame: width, height, and a contiguous 3-byte
// RGB buffer. Invariants: len(Buffer) == Width*Height*3; Width,Height > 0.
type Image struct {
	Width, Height int
	Buffer        []byte
}

// Validate checks the raw-image invariants.
func (im Image) Validate() error {
	if im.Width <= 0 || im.Height <= 0 {
		return fmt.Errorf("reducer: image dimensions must be positive, got %dx%d", im.Width, im.Height)
	}
	want := im.Width * im.Height * 3
	if len(im.Buffer) != want {
		return fmt.Errorf("reducer: buffer length %d does not match %dx%dx3=%d", len(im.Buffer), im.Width, im.Height, want)
	}
	return nil
}

// At returns the pixel color at (x,y). Caller guarantees x,y are in range.
func (im Image) At(x, y int) color.RGB {
	idx := (y*im.Width + x) * 3
	return color.RGB{R: im.Buffer[idx], G: im.Buffer[idx+1], B: im.Buffer[idx+2]}
}

// pixelRect converts a normalized Rect (in [0,1] over the image plane) to
// inclusive-exclusive integer pixel bounds [x0,x1) x [y0,y1).
func pixelRect(hmin, hmax, vmin, vmax float64, width, height int) (x0, x1, y0, y1 int) {
	x0 = int(hmin * float64(width))
	x1 = int(hmax * float64(width))
	y0 = int(vmin * float64(height))
	y1 = int(vmax * float64(height))
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	if x0 > width {
		x0 = width
	}
	if y0 > height {
		y0 = height
	}
	return x0, x1, y0, y1
}

// MeanOverRect computes the mean color over the sub-image bounded by the
// intersection of inset (the detected black border's interior, in pixel
// coordinates) and ledRect (the LED's normalized rectangle, converted to
// pixel coordinates against the full image). Out-of-range rectangles
// clamp to inset. Empty intersections yield color.Black. The mean is
// computed in linear integer arithmetic, rounded half-to-even via
// color.Mean.
func MeanOverRect(im Image, insetX0, insetX1, insetY0, insetY1 int, ledRect LEDRectPixels) color.RGB {
	x0 := maxInt(insetX0, ledRect.X0)
	x1 := minInt(insetX1, ledRect.X1)
	y0 := maxInt(insetY0, ledRect.Y0)
	y1 := minInt(insetY1, ledRect.Y1)

	if x0 >= x1 || y0 >= y1 {
		return color.Black
	}

	samples := make([]color.RGB, 0, (x1-x0)*(y1-y0))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			samples = append(samples, im.At(x, y))
		}
	}
	return color.Mean(samples)
}

// LEDRectPixels is an LED's normalized rectangle resolved to integer
// pixel bounds [X0,X1) x [Y0,Y1) against a specific image size.
type LEDRectPixels struct {
	X0, X1, Y0, Y1 int
}

// ResolveLEDRect converts a normalized hmin/hmax/vmin/vmax rectangle to
// pixel bounds for an image of the given dimensions.
func ResolveLEDRect(hmin, hmax, vmin, vmax float64, width, height int) LEDRectPixels {
	x0, x1, y0, y1 := pixelRect(hmin, hmax, vmin, vmax, width, height)
	return LEDRectPixels{X0: x0, X1: x1, Y0: y0, Y1: y1}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
