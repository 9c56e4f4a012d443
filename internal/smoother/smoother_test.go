package smoother

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"ambientd/internal/color"
)

// TestNearestEqualsLatestSample covers invariant 4 and scenario S1: the
// nearest filter's output equals its latest input sample on every tick.
func TestNearestEqualsLatestSample(t *testing.T) {
	s := New(3, Config{FrequencyHz: 25, Kind: Nearest})
	red := color.RGB{R: 255, G: 0, B: 0}
	s.SetTarget([]color.RGB{red, red, red})

	for i := 0; i < 5; i++ {
		frame := s.Tick()
		for _, c := range frame {
			assert.Equal(t, red, c)
		}
	}
}

// TestLinearMonotoneAndConverges covers invariant 5: the linear filter
// is monotone between target changes and reaches the target within ±eps
// after k/f_filter seconds for some k <= 10.
func TestLinearMonotoneAndConverges(t *testing.T) {
	const freq = 100.0
	const filterFreq = 5.0
	s := New(1, Config{FrequencyHz: freq, Kind: Linear, FilterFrequencyHz: filterFreq})
	s.SetTarget([]color.RGB{{R: 255}})

	// First tick seeds state at target (documented startup behavior);
	// change target again so we observe genuine convergence.
	s.Tick()
	s.SetTarget([]color.RGB{{R: 255, G: 255, B: 255}})

	ticksPerTau := freq / filterFreq
	kMax := 10
	lastG := 0.0
	converged := false
	for i := 0; i < int(float64(kMax)*ticksPerTau)+5; i++ {
		frame := s.Tick()
		g := float64(frame[0].G)
		assert.GreaterOrEqual(t, g, lastG-1e-9, "linear filter must be monotone toward target")
		lastG = g
		if math.Abs(g-255) <= 2 {
			converged = true
			break
		}
	}
	assert.True(t, converged, "linear filter must converge within k<=10 time constants")
}

func TestSetTargetNoRetroactiveCatchUp(t *testing.T) {
	s := New(1, Config{FrequencyHz: 25, Kind: Nearest})
	s.SetTarget([]color.RGB{{R: 1}})
	first := s.Tick()
	assert.Equal(t, uint8(1), first[0].R)

	s.SetTarget([]color.RGB{{R: 2}})
	second := s.Tick()
	assert.Equal(t, uint8(2), second[0].R, "new target applies starting at the next tick")
}
