package reducer

import (
	"ambientd/internal/color"
	"ambientd/internal/led"
)

// Reduce computes one color per LED in layout by averaging the pixels of
// im that fall within both the detected border's interior and the LED's
// own normalized rectangle. Out-of-range LED rectangles clamp to the
// border interior; empty intersections yield color.Black.
func Reduce(im Image, layout led.Layout, border Border) []color.RGB {
	insetX0, insetX1, insetY0, insetY1 := borderInteriorPixels(im, border)

	out := make([]color.RGB, layout.Len())
	for i, l := range layout.LEDs {
		ledPixels := ResolveLEDRect(l.Rect.Hmin, l.Rect.Hmax, l.Rect.Vmin, l.Rect.Vmax, im.Width, im.Height)
		out[i] = MeanOverRect(im, insetX0, insetX1, insetY0, insetY1, ledPixels)
	}
	return out
}

func borderInteriorPixels(im Image, b Border) (x0, x1, y0, y1 int) {
	h := b.HorizontalInset
	v := b.VerticalInset
	if h > im.Width/2 {
		h = im.Width / 2
	}
	if v > im.Height/2 {
		v = im.Height / 2
	}
	return h, im.Width - h, v, im.Height - v
}

// Expand is the inverse of Reduce for layouts whose rectangles exactly
// tile the image without overlap: it paints each LED's color into its
// rectangle of a synthetic width x height image, used by the round-trip
// test for invariant 9.
func Expand(colors []color.RGB, layout led.Layout, width, height int) Image {
	im := Image{Width: width, Height: height, Buffer: make([]byte, width*height*3)}
	for i, l := range layout.LEDs {
		if i >= len(colors) {
			break
		}
		px := ResolveLEDRect(l.Rect.Hmin, l.Rect.Hmax, l.Rect.Vmin, l.Rect.Vmax, width, height)
		for y := px.Y0; y < px.Y1; y++ {
			for x := px.X0; x < px.X1; x++ {
				idx := (y*width + x) * 3
				im.Buffer[idx] = colors[i].R
				im.Buffer[idx+1] = colors[i].G
				im.Buffer[idx+2] = colors[i].B
			}
		}
	}
	return im
}
