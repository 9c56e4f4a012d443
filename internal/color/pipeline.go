package color

// Brightness is stage 4: a scalar gain, with an optional compensation
// factor that scales down the RGB gain to account for a white channel
// supplementing perceived brightness on RGB+W devices.
type Brightness struct {
	Gain float64
	// WhiteChannelFactor > 0 indicates the physical device carries a
	// white channel contributing WhiteChannelFactor times as much
	// perceived luminance per unit drive as an RGB channel; the
	// effective RGB gain is divided by (1+WhiteChannelFactor) so the
	// combined RGB+W output doesn't overshoot perceived brightness
	// relative to an RGB-only device at the same Gain.
	WhiteChannelFactor float64
}

// IdentityBrightness is the neutral brightness stage.
func IdentityBrightness() Brightness {
	return Brightness{Gain: 1, WhiteChannelFactor: 0}
}

func (b Brightness) effectiveGain() float64 {
	if b.WhiteChannelFactor <= 0 {
		return b.Gain
	}
	return b.Gain / (1 + b.WhiteChannelFactor)
}

// Apply scales f by the stage's effective gain, clamping to [0,1].
func (b Brightness) Apply(f Float) Float {
	g := b.effectiveGain()
	return Float{R: clamp01(f.R * g), G: clamp01(f.G * g), B: clamp01(f.B * g)}
}

// Pipeline bundles the four fixed-order stages applied to every LED:
// RGB transform, channel adjustment, temperature, brightness. All stages
// are pure: they take immutable parameters and an input color and return
// a new color.
type Pipeline struct {
	Transform           RGBTransform
	Adjustments         []RangeAdjustment
	TemperatureKelvin   float64
	Brightness          Brightness
}

// IdentityPipeline returns a Pipeline whose stages are all identity,
// satisfying invariant 8 (idempotence under identity parameters).
func IdentityPipeline() Pipeline {
	return Pipeline{
		Transform:         IdentityTransform(),
		Adjustments:       nil,
		TemperatureKelvin: NeutralTemperatureKelvin,
		Brightness:        IdentityBrightness(),
	}
}

// ApplyLED runs the full four-stage pipeline for a single LED at the
// given index (used to resolve the per-LED channel-adjustment matrix).
func (p Pipeline) ApplyLED(in RGB, index int) RGB {
	f := in.ToFloat()
	f = p.Transform.Apply(f)
	f = SelectFor(index, p.Adjustments).Apply(f)
	f = ApplyTemperature(f, TemperatureMultiplier(p.TemperatureKelvin))
	f = p.Brightness.Apply(f)
	return FromFloat(f)
}

// Apply runs ApplyLED across an ordered slice of per-LED colors, returning
// a new slice of the same length.
func (p Pipeline) Apply(colors []RGB) []RGB {
	out := make([]RGB, len(colors))
	for i, c := range colors {
		out[i] = p.ApplyLED(c, i)
	}
	return out
}
