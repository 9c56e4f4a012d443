// Package effects implements the effect runner (§4.2): it owns the
// lifecycle of scripted effects and exposes them to the priority muxer
// as ordinary sources, bridging Lua script output into mux.Push calls.
// The scripting host generalizes the teacher's lua_engine.go: each
// effect runs in its own *lua.LState, driven by a ticker instead of the
// teacher's per-video-frame call, with host functions bridged to typed
// color.RGB values instead of a raw byte buffer.
package effects

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"ambientd/internal/color"
	"ambientd/internal/mux"
)

// DrainWindow bounds how long Stop waits for a cooperatively-cancelled
// effect task to exit. A task still running after DrainWindow is not
// aborted: Stop logs a warning and returns, and the task exits once its
// current script evaluation returns.
const DrainWindow = 500 * time.Millisecond

// defaultTickRate is how often a running effect's script is re-evaluated
// and its output re-published to the muxer.
const defaultTickRate = time.Second / 30

// ScriptLoader resolves an effect name to Lua source code. The concrete
// loader (filesystem-backed, reading config-dir/effects/<name>/script.lua
// per §6) lives with the rest of the ambient config wiring; Runner only
// depends on this narrow interface.
type ScriptLoader interface {
	Load(name string) (code string, err error)
}

// PushFunc bridges an effect's output into the owning instance's muxer.
type PushFunc func(source mux.SourceID, msg mux.InputMessage, now time.Time) error

// RegisterFunc registers the per-effect source with the owning muxer.
type RegisterFunc func(name, origin string, perm mux.Permissions) (mux.SourceID, error)

// Handle identifies a running effect for Stop, resolving to the
// {priority, name} key it was launched with.
type Handle struct {
	Priority mux.Priority
	Name     string
	generation uint64
}

// Errors of the effect runner. Launch returns ErrUnknownName when the
// script cannot be loaded and ErrSpawnFailed when source registration
// fails; ErrBadArgs and ErrBusy are not returned by any Runner method.
var (
	ErrUnknownName = fmt.Errorf("effects: unknown effect name")
	ErrBadArgs     = fmt.Errorf("effects: bad arguments")
	ErrSpawnFailed = fmt.Errorf("effects: spawn failed")
	ErrBusy        = fmt.Errorf("effects: priority busy")
)

type running struct {
	handle   Handle
	sourceID mux.SourceID
	cancel   context.CancelFunc
	done     chan struct{}
}

// Runner owns zero or more running effects, at most one per priority.
type Runner struct {
	mu       sync.Mutex
	byPrio   map[mux.Priority]*running
	nextGen  uint64
	ledCount int

	loader   ScriptLoader
	push     PushFunc
	register RegisterFunc
	tickRate time.Duration
	log      *zap.Logger
}

// New constructs a Runner. ledCount is the number of LEDs scripts may
// address via get_pixel, set_pixel and set_all.
func New(loader ScriptLoader, ledCount int, push PushFunc, register RegisterFunc, log *zap.Logger) *Runner {
	return &Runner{
		byPrio:   make(map[mux.Priority]*running),
		ledCount: ledCount,
		loader:   loader,
		push:     push,
		register: register,
		tickRate: defaultTickRate,
		log:      log,
	}
}

// Launch allocates a source id, spawns the effect task, and bridges its
// output into Push(sourceID, ...) on the owning muxer. Launching a
// second effect at the same priority cancels the first (§4.2).
func (r *Runner) Launch(ctx context.Context, priority mux.Priority, name string, args map[string]any, duration *time.Duration) (Handle, error) {
	code, err := r.loader.Load(name)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %s: %v", ErrUnknownName, name, err)
	}

	r.mu.Lock()
	if prev, ok := r.byPrio[priority]; ok {
		r.mu.Unlock()
		r.stopAndWait(prev)
		r.mu.Lock()
	}

	r.nextGen++
	gen := r.nextGen
	handle := Handle{Priority: priority, Name: name, generation: gen}

	taskCtx, cancel := context.WithCancel(ctx)
	rt := &running{handle: handle, cancel: cancel, done: make(chan struct{})}
	r.byPrio[priority] = rt
	r.mu.Unlock()

	origin := fmt.Sprintf("effect:%d:%d", priority, gen)
	sourceID, err := r.register(name, origin, mux.Permissions{MinPriority: priority, MaxPriority: priority, Admin: true})
	if err != nil {
		r.mu.Lock()
		delete(r.byPrio, priority)
		r.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	r.mu.Lock()
	rt.sourceID = sourceID
	r.mu.Unlock()

	go r.run(taskCtx, rt, sourceID, priority, code, args, duration)

	return handle, nil
}

// Stop requests cooperative cancellation of the effect behind handle and
// waits up to DrainWindow for it to exit; a task still running after
// that is left to finish on its own.
func (r *Runner) Stop(handle Handle) {
	r.mu.Lock()
	rt, ok := r.byPrio[handle.Priority]
	if !ok || rt.handle.generation != handle.generation {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.stopAndWait(rt)
}

func (r *Runner) stopAndWait(rt *running) {
	rt.cancel()
	select {
	case <-rt.done:
	case <-time.After(DrainWindow):
		if r.log != nil {
			r.log.Warn("effect did not drain in time, forcing stop", zap.String("name", rt.handle.Name))
		}
	}
}

// Live reports whether a task is currently registered at priority.
func (r *Runner) Live(priority mux.Priority) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.byPrio[priority]
	if !ok {
		return Handle{}, false
	}
	return rt.handle, true
}

func (r *Runner) run(ctx context.Context, rt *running, sourceID mux.SourceID, priority mux.Priority, code string, args map[string]any, duration *time.Duration) {
	defer close(rt.done)
	defer r.clearSlot(priority, rt)

	L := lua.NewState()
	defer L.Close()

	buffer := make([]color.RGB, r.ledCount)
	start := time.Now()
	installHostFunctions(L, buffer, args)

	ticker := time.NewTicker(r.tickRate)
	defer ticker.Stop()

	var deadline time.Time
	hasDeadline := duration != nil
	if hasDeadline {
		deadline = start.Add(*duration)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if hasDeadline && !now.Before(deadline) {
				return
			}
			setElapsed(L, now.Sub(start).Seconds())
			if err := L.DoString(code); err != nil {
				if r.log != nil {
					r.log.Error("effect script error", zap.Error(err))
				}
				continue
			}
			msg := mux.LedColors{Priority: priority, Colors: append([]color.RGB(nil), buffer...)}
			if err := r.push(sourceID, msg, now); err != nil && r.log != nil {
				r.log.Warn("effect push rejected", zap.Error(err))
			}
		}
	}
}

// clearSlot removes the runner's bookkeeping for priority and, if this
// task wasn't already superseded by a newer effect at the same priority,
// clears its own mux entry so the priority reverts to whatever is next
// in line rather than leaving a stale LedColors entry behind.
func (r *Runner) clearSlot(priority mux.Priority, rt *running) {
	r.mu.Lock()
	superseded := true
	if cur, ok := r.byPrio[priority]; ok && cur == rt {
		delete(r.byPrio, priority)
		superseded = false
	}
	r.mu.Unlock()

	if !superseded {
		_ = r.push(rt.sourceID, mux.Clear{Priority: priority}, time.Now())
	}
}
