// Package device implements the device scheduler (§4.7): it applies the
// smoother's frame stream to a concrete output, enforcing rewrite
// frequency, idle, latching and retry semantics, behind a uniform
// capability interface so new physical devices need only a new variant
// and implementation, never an inheritance hierarchy (§9).
package device

import (
	"context"
	"errors"
	"time"

	"ambientd/internal/color"
)

// Device is the uniform capability set every concrete output implements.
type Device interface {
	Open(ctx context.Context) error
	WriteLEDs(ctx context.Context, colors []color.RGB) error
	Close() error
}

// State is the device scheduler's lifecycle state (§4.7).
type State int

const (
	Stopped State = iota
	Opening
	Ready
	Idle
	Closing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Opening:
		return "opening"
	case Ready:
		return "ready"
	case Idle:
		return "idle"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// IdleConfig controls the Ready<->Idle observation-driven transition.
type IdleConfig struct {
	// Delay is how long a frame must be unchanged before the device
	// enters Idle.
	Delay time.Duration
	// Holds, when true, suppresses all traffic while Idle. When false,
	// the last frame is re-sent every 1/Rewrite seconds.
	Holds bool
	// Rewrite is the idle keep-alive rate in Hz, used when Holds is
	// false.
	Rewrite float64
	// Retries is how many times the last frame is resent, back to back,
	// at the moment the device enters Idle — for unreliable transports
	// that benefit from a redundant burst at the idle boundary. This
	// resolves §9's documented ambiguity as "per idle-entry" rather
	// than "per subsequent idle tick" (see DESIGN.md).
	Retries int
}

// Config is the per-device tuning the scheduler enforces.
type Config struct {
	// Frequency is the maximum output rate in Hz (§4.7's "rewrite
	// frequency"): the device is written to at most once per 1/Frequency
	// seconds.
	Frequency float64
	Idle      IdleConfig
	// MaxAttempts bounds retries of a single write before the scheduler
	// reports ErrUnreachable.
	MaxAttempts int
	// PerAttemptTimeout bounds a single WriteLEDs call.
	PerAttemptTimeout time.Duration
}

// ErrUnreachable is returned (and passed to OnFatal) once a write has
// failed MaxAttempts times in a row.
var ErrUnreachable = errors.New("device: unreachable")

func framesEqual(a, b []color.RGB) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
