// Package smoother implements the temporal filter (§4.6) that produces
// the device-bound frame stream at a configured cadence from the
// muxer's target frames.
package smoother

import (
	"context"
	"math"
	"sync"
	"time"

	"ambientd/internal/color"
)

// Kind selects the smoother's filter behavior.
type Kind int

const (
	// Nearest emits the most recent input sample at each output tick;
	// no filtering.
	Nearest Kind = iota
	// Linear advances each LED toward its target with an exponential
	// approach (time constant 1/FilterFrequencyHz).
	Linear
)

// Config is the smoother's tunable cadence and filter behavior.
type Config struct {
	// FrequencyHz is the output tick rate f.
	FrequencyHz float64
	Kind        Kind
	// FilterFrequencyHz is f_filter: the Linear filter's characteristic
	// rate, used as a time constant tau = 1/FilterFrequencyHz.
	FilterFrequencyHz float64
}

// Smoother holds per-LED filter state and the most recently pushed
// target frame, advancing state once per output tick.
type Smoother struct {
	mu       sync.Mutex
	cfg      Config
	ledCount int
	state    []color.Float
	target   []color.RGB
	hasState bool
}

// New constructs a Smoother for ledCount LEDs, initialized to black.
func New(ledCount int, cfg Config) *Smoother {
	return &Smoother{
		cfg:      cfg,
		ledCount: ledCount,
		state:    make([]color.Float, ledCount),
		target:   make([]color.RGB, ledCount),
	}
}

// SetTarget records the frame to smooth toward. It takes effect at the
// next Tick only — no retroactive catch-up for ticks already computed.
func (s *Smoother) SetTarget(colors []color.RGB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.ledCount
	if len(colors) < n {
		n = len(colors)
	}
	for i := 0; i < n; i++ {
		s.target[i] = colors[i]
	}
}

// Reconfigure updates the filter parameters. Existing per-LED state is
// preserved; the new parameters are evaluated starting at the next Tick.
func (s *Smoother) Reconfigure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Tick advances filter state by one step and returns the frame to emit.
func (s *Smoother) Tick() []color.RGB {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]color.RGB, s.ledCount)

	switch s.cfg.Kind {
	case Nearest:
		copy(out, s.target)
		return out
	case Linear:
		dt := 1.0
		if s.cfg.FrequencyHz > 0 {
			dt = 1.0 / s.cfg.FrequencyHz
		}
		tau := 1.0
		if s.cfg.FilterFrequencyHz > 0 {
			tau = 1.0 / s.cfg.FilterFrequencyHz
		}
		alpha := 1 - math.Exp(-dt/tau)
		if !s.hasState {
			// First tick has no prior state to approach from; seed it
			// with the target so the very first frame isn't black.
			for i := range s.state {
				s.state[i] = s.target[i].ToFloat()
			}
			s.hasState = true
		}
		for i := range s.state {
			tgt := s.target[i].ToFloat()
			s.state[i] = Float{
				R: s.state[i].R + (tgt.R-s.state[i].R)*alpha,
				G: s.state[i].G + (tgt.G-s.state[i].G)*alpha,
				B: s.state[i].B + (tgt.B-s.state[i].B)*alpha,
			}
			out[i] = color.FromFloat(s.state[i])
		}
		return out
	default:
		copy(out, s.target)
		return out
	}
}

// Float is a local alias avoiding stutter in Tick's arithmetic.
type Float = color.Float

// Run drives Tick on a monotonic ticker at cfg.FrequencyHz until ctx is
// cancelled, sending each produced frame to out. A slow consumer causes
// the send itself to block (the smoother has no internal buffering); a
// missed wall-clock tick is skipped, never coalesced, per §5.
func (s *Smoother) Run(ctx context.Context, out chan<- []color.RGB) {
	s.mu.Lock()
	freq := s.cfg.FrequencyHz
	s.mu.Unlock()
	if freq <= 0 {
		freq = 1
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / freq))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := s.Tick()
			s.mu.Lock()
			next := s.cfg.FrequencyHz
			s.mu.Unlock()
			if next > 0 && next != freq {
				freq = next
				ticker.Reset(time.Duration(float64(time.Second) / freq))
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}
