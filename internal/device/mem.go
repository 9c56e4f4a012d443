package device

import (
	"context"
	"sync"

	"ambientd/internal/color"
)

// MemDevice is an in-process Device used by tests and by instances whose
// device kind is mem (or unrecognized). It records every frame it is
// asked to write.
type MemDevice struct {
	mu     sync.Mutex
	opened bool
	closed bool
	writes [][]color.RGB

	// FailNextN, if > 0, causes the next N WriteLEDs calls to fail,
	// decrementing on each attempt; used to exercise the scheduler's
	// retry/backoff path in tests.
	FailNextN int
}

func NewMem() *MemDevice { return &MemDevice{} }

func (d *MemDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = true
	return nil
}

func (d *MemDevice) WriteLEDs(ctx context.Context, colors []color.RGB) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailNextN > 0 {
		d.FailNextN--
		return errWriteFailed
	}
	frame := append([]color.RGB(nil), colors...)
	d.writes = append(d.writes, frame)
	return nil
}

func (d *MemDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Writes returns a copy of every frame successfully written so far.
func (d *MemDevice) Writes() [][]color.RGB {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]color.RGB, len(d.writes))
	copy(out, d.writes)
	return out
}

type writeFailedError struct{}

func (writeFailedError) Error() string { return "mem device: simulated write failure" }

var errWriteFailed = writeFailedError{}
