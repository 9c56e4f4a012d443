package color

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ChannelCurve is the per-channel gamma/threshold/gain curve applied in
// stage 1 of the pipeline, before the HSL-domain saturation/luminance pass.
type ChannelCurve struct {
	Gamma     float64
	Threshold float64 // values below this (in [0,1]) are clamped to 0
	Gain      float64
}

// RGBTransform is the fixed-order stage-1 color correction: per-channel
// gamma/threshold/gain followed by an HSL-domain saturation/luminance
// gain and a luminance floor. HSL conversion is local to this stage; no
// other stage sees HSL values.
type RGBTransform struct {
	Red, Green, Blue ChannelCurve
	SaturationGain   float64
	LuminanceGain    float64
	LuminanceMinimum float64
}

// IdentityTransform returns the RGBTransform that leaves its input unchanged,
// per invariant 8 (the pipeline is idempotent under identity parameters).
func IdentityTransform() RGBTransform {
	return RGBTransform{
		Red:              ChannelCurve{Gamma: 1, Threshold: 0, Gain: 1},
		Green:            ChannelCurve{Gamma: 1, Threshold: 0, Gain: 1},
		Blue:             ChannelCurve{Gamma: 1, Threshold: 0, Gain: 1},
		SaturationGain:   1,
		LuminanceGain:    1,
		LuminanceMinimum: 0,
	}
}

func applyCurve(v float64, c ChannelCurve) float64 {
	if v < c.Threshold {
		return 0
	}
	out := pow(v, c.Gamma) * c.Gain
	return clamp01(out)
}

func pow(base, exp float64) float64 {
	if exp == 1 {
		return base
	}
	if base <= 0 {
		return 0
	}
	return math.Pow(base, exp)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Apply runs the stage-1 transform on a single color, returning the
// adjusted color still in [0,1] Float form for the next pipeline stage.
func (t RGBTransform) Apply(in Float) Float {
	r := applyCurve(in.R, t.Red)
	g := applyCurve(in.G, t.Green)
	b := applyCurve(in.B, t.Blue)

	if t.SaturationGain == 1 && t.LuminanceGain == 1 && t.LuminanceMinimum == 0 {
		return Float{R: r, G: g, B: b}
	}

	h, s, l := colorful.Color{R: r, G: g, B: b}.Hsl()
	s = clamp01(s * t.SaturationGain)
	l = clamp01(l * t.LuminanceGain)
	if l < t.LuminanceMinimum {
		l = t.LuminanceMinimum
	}
	out := colorful.Hsl(h, s, l)
	return Float{R: clamp01(out.R), G: clamp01(out.G), B: clamp01(out.B)}
}
