package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambientd/internal/mux"
)

func TestPublishFanOut(t *testing.T) {
	b := New()
	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel1()
	defer cancel2()

	b.Publish(InstanceStarted{InstanceID: "a", At: time.Now()})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, "instance.started", ev.EventType())
		case <-time.After(time.Second):
			t.Fatal("expected event on subscriber channel")
		}
	}
}

func TestSlowSubscriberGetsLaggedNotification(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	now := time.Now()
	b.Publish(InstanceStarted{InstanceID: "a", At: now})
	b.Publish(InstanceStarted{InstanceID: "b", At: now}) // buffer full, dropped
	b.Publish(InstanceStarted{InstanceID: "c", At: now}) // dropped again

	first := <-ch
	assert.Equal(t, "instance.started", first.EventType())

	// Drain buffer, publish again so the lag notice gets queued.
	b.Publish(InstanceStarted{InstanceID: "d", At: now})
	second := <-ch
	lagged, ok := second.(Lagged)
	require.True(t, ok, "expected a Lagged notification, got %T", second)
	assert.Equal(t, 2, lagged.N)
}

type stubRouter struct {
	registered bool
	pushed     mux.InputMessage
}

func (s *stubRouter) Register(name, origin string, perm mux.Permissions) (mux.SourceID, error) {
	s.registered = true
	return mux.SourceID(origin + "#1"), nil
}

func (s *stubRouter) Push(source mux.SourceID, msg mux.InputMessage, now time.Time) error {
	s.pushed = msg
	return nil
}

func TestRegisterAndPushRouteToBoundInstance(t *testing.T) {
	b := New()
	r := &stubRouter{}
	b.BindInstance("inst-1", r)

	id, err := b.Register("inst-1", "json-server", "tcp:1.2.3.4", mux.Permissions{})
	require.NoError(t, err)
	assert.True(t, r.registered)

	err = b.Push("inst-1", id, mux.ClearAll{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, mux.ClearAll{}, r.pushed)
}

func TestRegisterUnknownInstance(t *testing.T) {
	b := New()
	_, err := b.Register("nope", "s", "o", mux.Permissions{})
	assert.ErrorIs(t, err, ErrUnknownInstance)
}
