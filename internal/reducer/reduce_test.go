package reducer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambientd/internal/color"
	"ambientd/internal/led"
)

func tilingLayout(n int) led.Layout {
	l := led.Layout{LEDs: make([]led.LED, n)}
	for i := 0; i < n; i++ {
		l.LEDs[i] = led.LED{Rect: led.Rect{
			Hmin: float64(i) / float64(n),
			Hmax: float64(i+1) / float64(n),
			Vmin: 0,
			Vmax: 1,
		}}
	}
	return l
}

// TestRoundTrip covers invariant 9: reducer(expand(led_colors)) ==
// led_colors for a layout whose rectangles tile the image without overlap.
func TestRoundTrip(t *testing.T) {
	layout := tilingLayout(4)
	colors := []color.RGB{
		{R: 255, G: 0, B: 0},
		{R: 0, G: 255, B: 0},
		{R: 0, G: 0, B: 255},
		{R: 10, G: 20, B: 30},
	}
	width, height := 40, 10

	im := Expand(colors, layout, width, height)
	require.NoError(t, im.Validate())

	got := Reduce(im, layout, Border{Known: true})
	assert.Equal(t, colors, got)
}

func TestReduceEmptyIntersectionYieldsBlack(t *testing.T) {
	im := Image{Width: 10, Height: 10, Buffer: make([]byte, 10*10*3)}
	layout := led.Layout{LEDs: []led.LED{{Rect: led.Rect{Hmin: 0, Hmax: 1, Vmin: 0, Vmax: 1}}}}
	// Border covers the entire frame, leaving no interior.
	got := Reduce(im, layout, Border{Known: true, HorizontalInset: 5, VerticalInset: 5})
	assert.Equal(t, color.Black, got[0])
}

// TestBlackBorderStability covers scenario S6: a 20px top/bottom black
// band becomes the reported border only once StableCount frames agree.
func TestBlackBorderStability(t *testing.T) {
	const width, height = 100, 100
	d := NewDetector(BorderDefault)
	d.StableCount = 5

	makeFrame := func() Image {
		im := Image{Width: width, Height: height, Buffer: make([]byte, width*height*3)}
		for y := 20; y < height-20; y++ {
			for x := 0; x < width; x++ {
				idx := (y*width + x) * 3
				im.Buffer[idx] = 200
				im.Buffer[idx+1] = 200
				im.Buffer[idx+2] = 200
			}
		}
		return im
	}

	var last Border
	for i := 0; i < 10; i++ {
		last = d.Observe(makeFrame())
		if i < 4 {
			assert.False(t, last.Known && last.VerticalInset == 20, "frame %d should not yet report the stable border", i)
		}
	}
	assert.Equal(t, 20, last.VerticalInset)
	assert.Equal(t, 0, last.HorizontalInset)
}

func TestBorderDisabledAlwaysZero(t *testing.T) {
	d := NewDetector(BorderDisabled)
	im := Image{Width: 10, Height: 10, Buffer: make([]byte, 10*10*3)}
	got := d.Observe(im)
	assert.Equal(t, Border{Known: true, HorizontalInset: 0, VerticalInset: 0}, got)
}
