package effects

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambientd/internal/mux"
)

type mapLoader map[string]string

func (m mapLoader) Load(name string) (string, error) {
	code, ok := m[name]
	if !ok {
		return "", errors.New("not found")
	}
	return code, nil
}

func newTestRunner(t *testing.T) (*Runner, *mux.Muxer) {
	t.Helper()
	m := mux.New()
	loader := mapLoader{
		"solid-red": `set_all(1.0, 0.0, 0.0)`,
		"solid-blue": `set_all(0.0, 0.0, 1.0)`,
	}
	r := New(loader, 4, func(source mux.SourceID, msg mux.InputMessage, now time.Time) error {
		return m.Push(source, msg, now)
	}, m.Register, nil)
	r.tickRate = time.Millisecond
	return r, m
}

// TestEffectPreemption covers scenario S4: launching a second effect at
// the same priority leaves exactly one live task, the new one.
func TestEffectPreemption(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx := context.Background()

	h1, err := r.Launch(ctx, 150, "solid-red", nil, nil)
	require.NoError(t, err)

	h2, err := r.Launch(ctx, 150, "solid-blue", nil, nil)
	require.NoError(t, err)

	live, ok := r.Live(150)
	assert.True(t, ok)
	assert.Equal(t, h2.Name, live.Name)
	assert.NotEqual(t, h1.generation, h2.generation)

	r.Stop(h2)
	_, ok = r.Live(150)
	assert.False(t, ok)
}

func TestEffectUnknownName(t *testing.T) {
	r, _ := newTestRunner(t)
	_, err := r.Launch(context.Background(), 1, "does-not-exist", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownName)
}

func TestEffectPublishesLedColors(t *testing.T) {
	r, m := newTestRunner(t)
	ctx := context.Background()

	_, err := r.Launch(ctx, 10, "solid-red", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		w, _ := m.Tick(time.Now())
		return w.Priority == 10
	}, time.Second, time.Millisecond)
}
