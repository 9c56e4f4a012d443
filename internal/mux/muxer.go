package mux

import (
	"sort"
	"sync"
	"time"

	"ambientd/internal/apperror"
	"ambientd/internal/color"
)

// maxSources bounds the number of concurrently registered sources per
// muxer (the "implementation-defined maximum" from §4.1).
const maxSources = 512

type entryKey struct {
	Priority Priority
	SourceID SourceID
}

type sourceRecord struct {
	id          SourceID
	name        string
	origin      string
	permissions Permissions
}

// Muxer merges concurrent input producers into a single winning
// MuxedMessage per Tick, per §4.1. A Muxer is owned exclusively by one
// instance; protocol servers reach it through the bus and the instance's
// Router methods, which call Push/Register directly from their own
// goroutines, so its mutex guards the table against those calls racing
// the instance's consuming goroutine.
type Muxer struct {
	mu sync.Mutex

	sourcesByOrigin map[string]*sourceRecord
	sourcesByID     map[SourceID]*sourceRecord
	nextSourceNum   uint64

	entries map[entryKey]PriorityEntry

	componentStates map[Component]bool

	lastWinner *MuxedMessage

	// PreemptEffect, if set, is invoked synchronously from Push whenever
	// an Effect payload is about to occupy a priority, before the new
	// entry replaces whatever effect previously held that priority. The
	// effect runner uses this to cancel the pre-empted task (§4.1's
	// pre-emption rule, §4.2's at-most-one-per-priority contract).
	PreemptEffect func(priority Priority, newSourceID SourceID)
}

// New constructs an empty Muxer.
func New() *Muxer {
	return &Muxer{
		sourcesByOrigin: make(map[string]*sourceRecord),
		sourcesByID:     make(map[SourceID]*sourceRecord),
		entries:         make(map[entryKey]PriorityEntry),
		componentStates: make(map[Component]bool),
	}
}

// Register uniquely identifies a producer, idempotently per origin: a
// second Register call with the same origin returns the same SourceID
// and refreshes its declared name/permissions.
func (m *Muxer) Register(sourceName, origin string, perm Permissions) (SourceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.sourcesByOrigin[origin]; ok {
		rec.name = sourceName
		rec.permissions = perm
		return rec.id, nil
	}

	if len(m.sourcesByOrigin) >= maxSources {
		return "", apperror.New(apperror.KindUnrecoverable, "mux.register", ErrExhausted)
	}

	m.nextSourceNum++
	id := SourceID(genSourceID(origin, m.nextSourceNum))
	rec := &sourceRecord{id: id, name: sourceName, origin: origin, permissions: perm}
	m.sourcesByOrigin[origin] = rec
	m.sourcesByID[id] = rec
	return id, nil
}

func genSourceID(origin string, n uint64) string {
	return origin + "#" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Push inserts or replaces an entry on behalf of source. See §4.1 for the
// per-message-kind semantics (Clear, ClearAll, ComponentState, etc).
func (m *Muxer) Push(source SourceID, msg InputMessage, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sourcesByID[source]
	if !ok {
		return apperror.New(apperror.KindProtocol, "mux.push", ErrUnknownSource)
	}

	switch p := msg.(type) {
	case ComponentState:
		// Always admitted: component toggles don't compete for a
		// priority slot.
		m.componentStates[p.Component] = p.Enabled
		return nil

	case PrioritiesRequest:
		return nil

	case ClearAll:
		for k := range m.entries {
			if k.Priority != Background {
				delete(m.entries, k)
			}
		}
		return nil

	case Clear:
		if !rec.permissions.Allows(p.Priority) {
			return apperror.New(apperror.KindPermission, "mux.clear", ErrRejected)
		}
		for k := range m.entries {
			if k.Priority != p.Priority {
				continue
			}
			if k.SourceID == source || rec.permissions.Admin {
				delete(m.entries, k)
			}
		}
		return nil

	case SolidColor:
		return m.pushEntry(rec, p.Priority, "color", p.Duration, p, now)
	case Image:
		return m.pushEntry(rec, p.Priority, "image", p.Duration, p, now)
	case LedColors:
		return m.pushEntry(rec, p.Priority, "leds", nil, p, now)
	case Effect:
		// At most one running effect per priority (§4.2): pre-empt
		// whatever effect (from any source) currently holds this
		// priority before the new one takes it.
		if m.PreemptEffect != nil {
			m.PreemptEffect(p.Priority, source)
		}
		for k := range m.entries {
			if k.Priority == p.Priority {
				delete(m.entries, k)
			}
		}
		return m.pushEntry(rec, p.Priority, "effect", p.Duration, p, now)
	default:
		return apperror.New(apperror.KindProtocol, "mux.push", ErrRejected)
	}
}

func (m *Muxer) pushEntry(rec *sourceRecord, priority Priority, component Component, duration *time.Duration, payload InputMessage, now time.Time) error {
	if !rec.permissions.Allows(priority) {
		return apperror.New(apperror.KindPermission, "mux.pushEntry", ErrRejected)
	}
	if !rec.permissions.AllowsComponent(component) {
		return apperror.New(apperror.KindPermission, "mux.pushEntry", ErrRejected)
	}

	entry := PriorityEntry{
		Priority:  priority,
		SourceID:  rec.id,
		Component: component,
		CreatedAt: now,
		Payload:   payload,
	}
	if duration != nil {
		exp := now.Add(*duration)
		entry.ExpiresAt = &exp
	}
	m.entries[entryKey{Priority: priority, SourceID: rec.id}] = entry
	return nil
}

// Tick removes expired entries, selects the current winner, and returns
// it if the winner changed (different entry) or its payload changed
// since the last Tick that produced a result.
func (m *Muxer) Tick(now time.Time) (MuxedMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}

	winner := m.selectWinnerLocked()

	if m.lastWinner != nil &&
		m.lastWinner.SourceID == winner.SourceID &&
		m.lastWinner.Priority == winner.Priority &&
		payloadEqual(m.lastWinner.Payload, winner.Payload) {
		return winner, false
	}

	m.lastWinner = &winner
	return winner, true
}

// selectWinnerLocked implements the selection rule (§4.1, invariant 1):
// lowest numeric priority wins; ties break by most recent CreatedAt,
// then by lexicographic SourceID. If no entries remain, a synthesized
// black background entry is returned (invariant 1's "or the synthesized
// background").
func (m *Muxer) selectWinnerLocked() MuxedMessage {
	var best *PriorityEntry
	for k := range m.entries {
		e := m.entries[k]
		if best == nil || better(e, *best) {
			ec := e
			best = &ec
		}
	}
	if best == nil {
		return MuxedMessage{
			Payload:         SolidColor{Priority: Background, Color: color.Black},
			Priority:        Background,
			SourceID:        "",
			OriginTimestamp: time.Time{},
		}
	}
	return MuxedMessage{
		Payload:         best.Payload,
		Priority:        best.Priority,
		SourceID:        best.SourceID,
		OriginTimestamp: best.CreatedAt,
	}
}

func better(a, b PriorityEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.SourceID < b.SourceID
}

// payloadEqual compares two InputMessage payloads for the purpose of
// deciding whether Tick's winner "changed". Uses Go's built-in
// comparison where possible; payloads carrying slices/maps (Image,
// LedColors, Effect.Args) are always considered changed to avoid a panic
// on uncomparable types and because those messages are typically freshly
// constructed per push anyway.
func payloadEqual(a, b InputMessage) bool {
	switch av := a.(type) {
	case SolidColor:
		bv, ok := b.(SolidColor)
		return ok && av.Priority == bv.Priority && av.Color == bv.Color
	case ComponentState:
		bv, ok := b.(ComponentState)
		return ok && av == bv
	case Clear:
		bv, ok := b.(Clear)
		return ok && av == bv
	case ClearAll:
		_, ok := b.(ClearAll)
		return ok
	default:
		return false
	}
}

// Snapshot enumerates active entries for a PrioritiesRequest reply.
func (m *Muxer) Snapshot(now time.Time) []PriorityInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PriorityInfo, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, PriorityInfo{
			Priority:  e.Priority,
			SourceID:  e.SourceID,
			Component: e.Component,
			CreatedAt: e.CreatedAt,
			ExpiresAt: e.ExpiresAt,
			Active:    !e.expired(now),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// ComponentEnabled reports the last toggled state of a component,
// defaulting to true (enabled) if never toggled.
func (m *Muxer) ComponentEnabled(c Component) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.componentStates[c]
	if !ok {
		return true
	}
	return v
}
