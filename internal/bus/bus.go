// Package bus implements the global event/input bus (§4.9): a
// broadcast fan-out for lifecycle events, and the authoritative source
// registry that protocol servers go through to reach an instance's
// muxer. Grounded in the pack's pub/sub event bus pattern (buffered,
// non-blocking publish, explicit lag notification instead of silent
// drops for slow subscribers).
package bus

import (
	"fmt"
	"sync"
	"time"

	"ambientd/internal/apperror"
	"ambientd/internal/mux"
)

// Event is anything broadcastable on the bus.
type Event interface {
	EventType() string
	Timestamp() time.Time
}

// Lagged is delivered to a subscriber in place of events it missed
// because its buffer was full; N is how many were dropped.
type Lagged struct {
	N  int
	At time.Time
}

func (l Lagged) EventType() string   { return "bus.lagged" }
func (l Lagged) Timestamp() time.Time { return l.At }

// InstanceStarted, InstanceStopped, InstanceActivated and
// InstanceDeactivated mirror the instance state machine's emitted
// events (§3, §4.8).
type InstanceStarted struct {
	InstanceID string
	At         time.Time
}

func (e InstanceStarted) EventType() string    { return "instance.started" }
func (e InstanceStarted) Timestamp() time.Time { return e.At }
func (e InstanceStarted) GetInstanceID() string { return e.InstanceID }

type InstanceStopped struct {
	InstanceID string
	Reason     string
	At         time.Time
}

func (e InstanceStopped) EventType() string    { return "instance.stopped" }
func (e InstanceStopped) Timestamp() time.Time { return e.At }
func (e InstanceStopped) GetInstanceID() string { return e.InstanceID }

type InstanceActivated struct {
	InstanceID string
	SourceID   mux.SourceID
	At         time.Time
}

func (e InstanceActivated) EventType() string    { return "instance.activated" }
func (e InstanceActivated) Timestamp() time.Time { return e.At }
func (e InstanceActivated) GetInstanceID() string { return e.InstanceID }

type InstanceDeactivated struct {
	InstanceID string
	At         time.Time
}

func (e InstanceDeactivated) EventType() string    { return "instance.deactivated" }
func (e InstanceDeactivated) GetInstanceID() string { return e.InstanceID }
func (e InstanceDeactivated) Timestamp() time.Time { return e.At }

// Router is what an instance exposes to the bus so external sources
// (protocol connections) can register and push without the bus knowing
// about the instance's internals.
type Router interface {
	Register(sourceName, origin string, perm mux.Permissions) (mux.SourceID, error)
	Push(source mux.SourceID, msg mux.InputMessage, now time.Time) error
}

type subscriber struct {
	ch      chan Event
	mu      sync.Mutex
	dropped int
}

type binding struct {
	router Router
}

// Bus is the process-wide broadcast fan-out and instance registry.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextSubID   uint64

	instances map[string]*binding
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		instances:   make(map[string]*binding),
	}
}

// Subscribe registers a new listener with the given buffer size and
// returns a read-only channel and a Cancel function. The channel is
// never closed by the bus; callers should stop reading after Cancel.
func (b *Bus) Subscribe(bufferSize int) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	sub := &subscriber{ch: make(chan Event, bufferSize)}
	b.subscribers[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish fans event out to every subscriber without blocking. A
// subscriber whose buffer is full accumulates a drop count instead of
// receiving the event; the next time its buffer has room, it first
// receives a Lagged(n) event, then (room permitting) the event that
// triggered the catch-up.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.mu.Lock()
		if s.dropped > 0 {
			select {
			case s.ch <- Lagged{N: s.dropped, At: time.Now()}:
				s.dropped = 0
			default:
				s.dropped++
				s.mu.Unlock()
				continue
			}
		}
		select {
		case s.ch <- event:
		default:
			s.dropped++
		}
		s.mu.Unlock()
	}
}

// BindInstance registers an instance's Router under id, making it
// reachable via Register/Push. Re-binding the same id replaces the
// previous router (used on reconfigure).
func (b *Bus) BindInstance(id string, router Router) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instances[id] = &binding{router: router}
}

// UnbindInstance removes an instance from the registry; subsequent
// Register/Push calls for id fail with ErrUnknownInstance.
func (b *Bus) UnbindInstance(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.instances, id)
}

// ErrUnknownInstance is returned by Register/Push when id has no bound
// instance.
var ErrUnknownInstance = fmt.Errorf("bus: unknown instance")

// Register forwards a source registration to instanceID's router, which
// decides whether to grant it; the bus itself does not check the
// requested permissions against any policy. Once granted, the returned
// SourceID is valid for all subsequent Push calls against this instance.
func (b *Bus) Register(instanceID, sourceName, origin string, perm mux.Permissions) (mux.SourceID, error) {
	b.mu.RLock()
	bind, ok := b.instances[instanceID]
	b.mu.RUnlock()
	if !ok {
		return "", apperror.New(apperror.KindProtocol, "bus.register", ErrUnknownInstance)
	}
	return bind.router.Register(sourceName, origin, perm)
}

// Push forwards an already-registered source's message to instanceID's
// router.
func (b *Bus) Push(instanceID string, source mux.SourceID, msg mux.InputMessage, now time.Time) error {
	b.mu.RLock()
	bind, ok := b.instances[instanceID]
	b.mu.RUnlock()
	if !ok {
		return apperror.New(apperror.KindProtocol, "bus.push", ErrUnknownInstance)
	}
	return bind.router.Push(source, msg, now)
}
