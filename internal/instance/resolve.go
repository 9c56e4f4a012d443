package instance

import (
	"ambientd/internal/color"
	"ambientd/internal/led"
	"ambientd/internal/mux"
	"ambientd/internal/reducer"
)

// resolvePayload turns a muxer winner's payload into a raw (pre-pipeline)
// per-LED frame. handled is false when payload carries nothing
// renderable (an Effect entry transiently outranking its own runner's
// LedColors pushes, or an unset default) — callers should hold the
// previous frame in that case rather than going dark.
func resolvePayload(payload mux.InputMessage, layout led.Layout, detector *reducer.Detector) (frame []color.RGB, handled bool) {
	switch p := payload.(type) {
	case mux.SolidColor:
		out := make([]color.RGB, layout.Len())
		for i := range out {
			out[i] = p.Color
		}
		return out, true

	case mux.LedColors:
		out := make([]color.RGB, layout.Len())
		n := copy(out, p.Colors)
		_ = n
		return out, true

	case mux.Image:
		im := reducer.Image{Width: p.Width, Height: p.Height, Buffer: p.Buffer}
		if err := im.Validate(); err != nil {
			return nil, false
		}
		border := detector.Observe(im)
		return reducer.Reduce(im, layout, border), true

	default:
		return nil, false
	}
}
