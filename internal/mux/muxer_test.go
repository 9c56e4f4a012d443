package mux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambientd/internal/color"
)

func fullPerm() Permissions {
	return Permissions{MinPriority: 0, MaxPriority: 254, Admin: true}
}

func TestRegisterIdempotentPerOrigin(t *testing.T) {
	m := New()
	id1, err := m.Register("a", "origin-1", fullPerm())
	require.NoError(t, err)
	id2, err := m.Register("a-renamed", "origin-1", fullPerm())
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestRegisterExhausted(t *testing.T) {
	m := New()
	for i := 0; i < maxSources; i++ {
		_, err := m.Register("s", "origin-"+itoa(uint64(i)), fullPerm())
		require.NoError(t, err)
	}
	_, err := m.Register("s", "one-too-many", fullPerm())
	assert.ErrorIs(t, err, ErrExhausted)
}

// TestWinnerIsLowestPriority covers invariant 1.
func TestWinnerIsLowestPriority(t *testing.T) {
	m := New()
	now := time.Now()
	a, _ := m.Register("a", "a", fullPerm())
	b, _ := m.Register("b", "b", fullPerm())

	require.NoError(t, m.Push(a, SolidColor{Priority: 100, Color: color.RGB{R: 1}}, now))
	require.NoError(t, m.Push(b, SolidColor{Priority: 50, Color: color.RGB{G: 1}}, now))

	winner, changed := m.Tick(now)
	assert.True(t, changed)
	assert.Equal(t, Priority(50), winner.Priority)
	assert.Equal(t, b, winner.SourceID)
}

// TestClearAllThenPush covers invariant 2: ClearAll then push(p, ...)
// yields winner at priority p exactly when p < 254.
func TestClearAllThenPush(t *testing.T) {
	m := New()
	now := time.Now()
	a, _ := m.Register("a", "a", fullPerm())

	require.NoError(t, m.Push(a, SolidColor{Priority: 10, Color: color.RGB{R: 9}}, now))
	require.NoError(t, m.Push(a, ClearAll{}, now))

	winner, _ := m.Tick(now)
	assert.Equal(t, Background, winner.Priority, "after ClearAll with nothing else pushed, winner is background")

	require.NoError(t, m.Push(a, SolidColor{Priority: 10, Color: color.RGB{R: 9}}, now))
	winner, changed := m.Tick(now.Add(time.Millisecond))
	assert.True(t, changed)
	assert.Equal(t, Priority(10), winner.Priority)
}

// TestPreemptionAndClearReturnsToPrevious covers scenario S2.
func TestPreemptionAndClearReturnsToPrevious(t *testing.T) {
	m := New()
	now := time.Now()
	src, _ := m.Register("src", "src", fullPerm())

	require.NoError(t, m.Push(src, SolidColor{Priority: 200, Color: color.RGB{G: 255}}, now))
	w, _ := m.Tick(now)
	assert.Equal(t, Priority(200), w.Priority)

	require.NoError(t, m.Push(src, SolidColor{Priority: 100, Color: color.RGB{B: 255}}, now))
	w, _ = m.Tick(now)
	assert.Equal(t, Priority(100), w.Priority)
	assert.Equal(t, color.RGB{B: 255}, w.Payload.(SolidColor).Color)

	require.NoError(t, m.Push(src, Clear{Priority: 100}, now))
	w, _ = m.Tick(now)
	assert.Equal(t, Priority(200), w.Priority)
	assert.Equal(t, color.RGB{G: 255}, w.Payload.(SolidColor).Color)
}

// TestExpiry covers scenario S3.
func TestExpiry(t *testing.T) {
	m := New()
	start := time.Now()
	src, _ := m.Register("src", "src", fullPerm())

	dur := 200 * time.Millisecond
	require.NoError(t, m.Push(src, SolidColor{Priority: 50, Duration: &dur, Color: color.RGB{R: 255, G: 255, B: 255}}, start))

	w, _ := m.Tick(start.Add(100 * time.Millisecond))
	assert.Equal(t, Priority(50), w.Priority)

	w, changed := m.Tick(start.Add(250 * time.Millisecond))
	assert.True(t, changed)
	assert.Equal(t, Background, w.Priority)
}

func TestPushRejectedOutsidePermission(t *testing.T) {
	m := New()
	now := time.Now()
	limited, _ := m.Register("limited", "limited", Permissions{MinPriority: 100, MaxPriority: 200})

	err := m.Push(limited, SolidColor{Priority: 50, Color: color.RGB{}}, now)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestClearOnlyAffectsOwnSourceUnlessAdmin(t *testing.T) {
	m := New()
	now := time.Now()
	a, _ := m.Register("a", "a", fullPerm())
	b, _ := m.Register("b", "b", Permissions{MinPriority: 0, MaxPriority: 254})

	require.NoError(t, m.Push(a, SolidColor{Priority: 10, Color: color.RGB{R: 1}}, now))
	// b cannot clear a's entry at priority 10 (not admin).
	require.NoError(t, m.Push(b, Clear{Priority: 10}, now))
	w, _ := m.Tick(now)
	assert.Equal(t, Priority(10), w.Priority, "non-admin clear must not remove another source's entry")
}

func TestEffectPreemptHookFires(t *testing.T) {
	m := New()
	now := time.Now()
	src, _ := m.Register("src", "src", fullPerm())

	var preempted []Priority
	m.PreemptEffect = func(p Priority, newSource SourceID) {
		preempted = append(preempted, p)
	}

	require.NoError(t, m.Push(src, Effect{Priority: 150, Name: "rainbow"}, now))
	require.NoError(t, m.Push(src, Effect{Priority: 150, Name: "knight-rider"}, now))

	assert.Equal(t, []Priority{150, 150}, preempted)
	w, _ := m.Tick(now)
	assert.Equal(t, "knight-rider", w.Payload.(Effect).Name)
}

func TestComponentStateAlwaysAdmitted(t *testing.T) {
	m := New()
	now := time.Now()
	src, _ := m.Register("src", "src", Permissions{MinPriority: 200, MaxPriority: 200})
	require.NoError(t, m.Push(src, ComponentState{Component: "smoothing", Enabled: false}, now))
	assert.False(t, m.ComponentEnabled("smoothing"))
}
