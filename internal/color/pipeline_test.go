package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIdentityPipelineIdempotent covers invariant 8: the color pipeline
// is idempotent when all parameters are identity.
func TestIdentityPipelineIdempotent(t *testing.T) {
	p := IdentityPipeline()
	inputs := []RGB{
		{R: 0, G: 0, B: 0},
		{R: 255, G: 255, B: 255},
		{R: 12, G: 200, B: 77},
		{R: 1, G: 2, B: 3},
	}
	for _, in := range inputs {
		out := p.ApplyLED(in, 0)
		assert.Equal(t, in, out, "identity pipeline must not change %v", in)
	}
}

func TestChannelAdjustmentFirstMatchWins(t *testing.T) {
	identity := IdentityMatrix()
	zero := Matrix{}
	adjustments := []RangeAdjustment{
		{Selector: Selector{Kind: SelectRange, Min: 0, Max: 1}, Matrix: zero},
		{Selector: Selector{Kind: SelectAll}, Matrix: identity},
	}
	assert.Equal(t, zero, SelectFor(0, adjustments))
	assert.Equal(t, zero, SelectFor(1, adjustments))
	assert.Equal(t, identity, SelectFor(2, adjustments))
}

func TestTemperatureNeutralAtReference(t *testing.T) {
	mult := TemperatureMultiplier(NeutralTemperatureKelvin)
	assert.InDelta(t, 1.0, mult.R, 1e-9)
	assert.InDelta(t, 1.0, mult.G, 1e-9)
	assert.InDelta(t, 1.0, mult.B, 1e-9)
}

func TestBrightnessWhiteChannelReducesGain(t *testing.T) {
	plain := Brightness{Gain: 1, WhiteChannelFactor: 0}
	withWhite := Brightness{Gain: 1, WhiteChannelFactor: 1}
	in := Float{R: 0.8, G: 0.8, B: 0.8}
	assert.Greater(t, plain.Apply(in).R, withWhite.Apply(in).R)
}
