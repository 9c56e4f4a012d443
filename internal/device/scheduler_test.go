package device

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambientd/internal/color"
)

// TestIdleHoldSuppressesWrites covers scenario S5: once a frame has been
// unchanged for Idle.Delay, a Holds=true device stops receiving writes
// entirely, even though the input channel keeps offering the same frame.
func TestIdleHoldSuppressesWrites(t *testing.T) {
	mem := NewMem()
	cfg := Config{
		Frequency: 30,
		Idle:      IdleConfig{Delay: 100 * time.Millisecond, Holds: true},
	}
	sched := New(mem, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan []color.RGB, 1)
	done := make(chan struct{})
	go func() {
		sched.Run(ctx, in)
		close(done)
	}()

	red := []color.RGB{{R: 255}}
	in <- red

	require.Eventually(t, func() bool {
		return len(mem.Writes()) >= 1
	}, time.Second, time.Millisecond)

	time.Sleep(250 * time.Millisecond)
	settled := len(mem.Writes())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, settled, len(mem.Writes()), "no further writes once idle and holding")
	assert.LessOrEqual(t, settled, 4, "only the initial writes before idle onset should land")

	cancel()
	<-done
}

// TestWriteRateBound covers invariant 6: over any interval of length T,
// the scheduler never emits more than ceil(T*frequency)+1 writes, even
// when every tick's input changes.
func TestWriteRateBound(t *testing.T) {
	mem := NewMem()
	const freq = 50.0
	cfg := Config{Frequency: freq}
	sched := New(mem, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan []color.RGB, 1)
	done := make(chan struct{})
	go func() {
		sched.Run(ctx, in)
		close(done)
	}()

	start := time.Now()
	stop := time.After(300 * time.Millisecond)
loop:
	for v := byte(0); ; v++ {
		select {
		case in <- []color.RGB{{R: v}}:
			time.Sleep(2 * time.Millisecond)
		case <-stop:
			break loop
		}
	}
	elapsed := time.Since(start)
	cancel()
	<-done

	maxWrites := int(math.Ceil(elapsed.Seconds()*freq)) + 1
	assert.LessOrEqual(t, len(mem.Writes()), maxWrites)
}

// TestIdleWriteRetransmitsWhenNotHolding covers the Idle, !Holds path:
// the last frame is resent at the configured rewrite rate rather than
// going silent.
func TestIdleWriteRetransmitsWhenNotHolding(t *testing.T) {
	mem := NewMem()
	cfg := Config{
		Frequency: 30,
		Idle:      IdleConfig{Delay: 30 * time.Millisecond, Holds: false, Rewrite: 20, Retries: 1},
	}
	sched := New(mem, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan []color.RGB, 1)
	done := make(chan struct{})
	go func() {
		sched.Run(ctx, in)
		close(done)
	}()

	in <- []color.RGB{{G: 200}}

	require.Eventually(t, func() bool {
		return len(mem.Writes()) >= 1
	}, time.Second, time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	cancel()
	<-done

	assert.Greater(t, len(mem.Writes()), 2, "idle keep-alive should keep resending while not holding")
}

// TestFatalOnExhaustedRetries covers the retry-then-ErrUnreachable path.
func TestFatalOnExhaustedRetries(t *testing.T) {
	mem := NewMem()
	mem.FailNextN = 100
	cfg := Config{Frequency: 50, MaxAttempts: 2}
	sched := New(mem, cfg, nil)

	var fatal error
	fatalCh := make(chan struct{})
	sched.OnFatal = func(err error) {
		fatal = err
		close(fatalCh)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan []color.RGB, 1)
	go sched.Run(ctx, in)

	in <- []color.RGB{{R: 1}}

	select {
	case <-fatalCh:
	case <-time.After(time.Second):
		t.Fatal("expected OnFatal to fire after exhausting retries")
	}
	assert.ErrorIs(t, fatal, ErrUnreachable)
}
