// Package instance implements the per-display instance (§4.8): it owns
// one muxer, reducer/border detector, color pipeline, smoother, effect
// runner and device scheduler, wired together into a single task with a
// control channel and lifecycle events on the global bus.
package instance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ambientd/internal/bus"
	"ambientd/internal/color"
	"ambientd/internal/config"
	"ambientd/internal/device"
	"ambientd/internal/effects"
	"ambientd/internal/mux"
	"ambientd/internal/reducer"
	"ambientd/internal/smoother"
)

// State is the instance's lifecycle state (§3).
type State int32

const (
	Inactive State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ControlKind names an InstanceControl command (§4.8).
type ControlKind int

const (
	ControlStart ControlKind = iota
	ControlStop
	ControlReconfigure
)

// Control is a command sent on an Instance's control channel.
type Control struct {
	Kind   ControlKind
	Config config.InstanceConfig // only meaningful for ControlReconfigure
	Reason string                // only meaningful for ControlStop
}

// Instance composes §4.1-4.7 behind a single control loop.
type Instance struct {
	id  string
	bus *bus.Bus
	log *zap.Logger

	mu       sync.RWMutex
	cfg      config.InstanceConfig
	detector *reducer.Detector

	muxer     *mux.Muxer
	effects   *effects.Runner
	smoother  *smoother.Smoother
	scheduler *device.Scheduler

	control   chan Control
	state     atomic.Int32
	cancelRun context.CancelFunc

	newDevice func(config.DeviceConfig, int) device.Device
}

// NewDeviceFunc builds a concrete device.Device for a persisted
// DeviceConfig; separated out so tests can substitute an in-memory
// device regardless of Kind.
type NewDeviceFunc func(cfg config.DeviceConfig, ledCount int) device.Device

// DefaultNewDevice builds the real device.Device named by cfg.Kind.
func DefaultNewDevice(cfg config.DeviceConfig, ledCount int) device.Device {
	switch cfg.Kind {
	case config.DeviceSPI:
		return device.NewSPI(device.SPIConfig{BusName: cfg.SPIBus, SpeedHz: cfg.SPISpeed, LEDCount: ledCount})
	case config.DeviceUDP:
		return device.NewUDP(device.UDPConfig{Addr: cfg.UDPAddr, Timeout: cfg.UDPTimeout})
	default:
		return device.NewMem()
	}
}

// New constructs an Instance in the Inactive state. loader resolves
// effect scripts by name (§4.15).
func New(id string, cfg config.InstanceConfig, b *bus.Bus, loader effects.ScriptLoader, newDevice NewDeviceFunc, log *zap.Logger) *Instance {
	if newDevice == nil {
		newDevice = DefaultNewDevice
	}
	inst := &Instance{
		id:        id,
		bus:       b,
		log:       log,
		cfg:       cfg.Clone(),
		detector:  reducer.NewDetector(cfg.Border),
		muxer:     mux.New(),
		control:   make(chan Control, 8),
		newDevice: newDevice,
	}
	inst.muxer.PreemptEffect = func(priority mux.Priority, newSourceID mux.SourceID) {
		if handle, ok := inst.effects.Live(priority); ok {
			inst.effects.Stop(handle)
		}
	}
	inst.effects = effects.New(loader, cfg.Layout.Len(), inst.muxer.Push, inst.muxer.Register, log)
	inst.smoother = smoother.New(cfg.Layout.Len(), cfg.Smoother)
	b.BindInstance(id, inst)
	return inst
}

// ID returns the instance's identifier.
func (inst *Instance) ID() string { return inst.id }

// State reports the instance's current lifecycle state.
func (inst *Instance) State() State { return State(inst.state.Load()) }

// Control returns the channel callers send InstanceControl commands on.
func (inst *Instance) Control() chan<- Control { return inst.control }

// Register implements bus.Router, forwarding to the muxer.
func (inst *Instance) Register(sourceName, origin string, perm mux.Permissions) (mux.SourceID, error) {
	return inst.muxer.Register(sourceName, origin, perm)
}

// Push implements bus.Router. Effect messages are intercepted and
// launched through the effect runner directly rather than stored as a
// muxer entry, since the runner's own continuous LedColors pushes are
// the actual rendered output (§4.2).
func (inst *Instance) Push(source mux.SourceID, msg mux.InputMessage, now time.Time) error {
	if eff, ok := msg.(mux.Effect); ok {
		ctx := context.Background()
		_, err := inst.effects.Launch(ctx, eff.Priority, eff.Name, eff.Args, eff.Duration)
		return err
	}
	return inst.muxer.Push(source, msg, now)
}

// Snapshot returns the muxer's current priority table (§4.1, used by
// the web surface's priorities endpoint).
func (inst *Instance) Snapshot() []mux.PriorityInfo {
	return inst.muxer.Snapshot(time.Now())
}

// Run drives the instance's control loop until ctx is cancelled. It
// blocks; callers run it in its own goroutine per instance.
func (inst *Instance) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			inst.stopLocked("context cancelled")
			return
		case c := <-inst.control:
			switch c.Kind {
			case ControlStart:
				inst.start(ctx)
			case ControlStop:
				inst.stopLocked(c.Reason)
			case ControlReconfigure:
				inst.reconfigure(c.Config)
			}
		}
	}
}

func (inst *Instance) start(ctx context.Context) {
	if inst.State() != Inactive {
		return
	}
	inst.state.Store(int32(Starting))

	runCtx, cancel := context.WithCancel(ctx)

	inst.mu.RLock()
	cfg := inst.cfg
	inst.mu.RUnlock()

	dev := inst.newDevice(cfg.Device, cfg.Layout.Len())
	inst.scheduler = device.New(dev, cfg.Device.Scheduler, inst.log)
	inst.scheduler.OnFatal = func(err error) {
		inst.stopLocked(fmt.Sprintf("device error: %v", err))
	}

	schedIn := make(chan []color.RGB, 1)
	smoothOut := make(chan []color.RGB, 1)

	go inst.scheduler.Run(runCtx, schedIn)
	go inst.smoother.Run(runCtx, smoothOut)
	go inst.forwardFrames(runCtx, smoothOut, schedIn)
	go inst.resolveLoop(runCtx, cfg)

	inst.cancelRun = cancel
	inst.state.Store(int32(Running))
	if inst.bus != nil {
		now := time.Now()
		inst.bus.Publish(bus.InstanceStarted{InstanceID: inst.id, At: now})
		inst.bus.Publish(bus.InstanceActivated{InstanceID: inst.id, At: now})
	}
}

func (inst *Instance) forwardFrames(ctx context.Context, in <-chan []color.RGB, out chan<- []color.RGB) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-in:
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// resolveLoop polls the muxer at the smoother's frequency, resolves the
// winning payload into a raw LED frame, and feeds it to the smoother as
// the new target.
func (inst *Instance) resolveLoop(ctx context.Context, cfg config.InstanceConfig) {
	freq := cfg.Smoother.FrequencyHz
	if freq <= 0 {
		freq = 30
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / freq))
	defer ticker.Stop()

	var lastFrame []color.RGB
	pipeline := color.Pipeline{
		Transform:         cfg.Pipeline.Transform,
		Adjustments:       cfg.Pipeline.Adjustments,
		TemperatureKelvin: cfg.Pipeline.TemperatureKelvin,
		Brightness:        cfg.Pipeline.Brightness,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			winner, _ := inst.muxer.Tick(now)
			frame, handled := resolvePayload(winner.Payload, cfg.Layout, inst.detector)
			if !handled {
				frame = lastFrame
			}
			if frame == nil {
				continue
			}
			lastFrame = frame
			inst.smoother.SetTarget(pipeline.Apply(frame))
		}
	}
}

func (inst *Instance) stopLocked(reason string) {
	wasRunning := inst.State() == Running
	if inst.State() == Inactive {
		return
	}
	inst.state.Store(int32(Stopping))
	if inst.bus != nil && wasRunning {
		inst.bus.Publish(bus.InstanceDeactivated{InstanceID: inst.id, At: time.Now()})
	}
	if inst.cancelRun != nil {
		inst.cancelRun()
		inst.cancelRun = nil
	}
	inst.state.Store(int32(Inactive))
	if inst.bus != nil {
		inst.bus.Publish(bus.InstanceStopped{InstanceID: inst.id, Reason: reason, At: time.Now()})
	}
}

// reconfigure stores a new snapshot and applies its border mode and
// smoother settings to the running subcomponents, without restarting
// the device unless its kind, SPI bus or UDP address changed (§4.8). The
// color pipeline, LED layout and device scheduler settings of a running
// instance are those captured at its last start; they take effect only
// when the instance starts again, which reconfigure does itself when the
// device changed.
func (inst *Instance) reconfigure(next config.InstanceConfig) {
	inst.mu.Lock()
	prev := inst.cfg
	inst.cfg = next.Clone()
	inst.mu.Unlock()

	inst.detector = reducer.NewDetector(next.Border)
	inst.smoother.Reconfigure(next.Smoother)

	deviceChanged := prev.Device.Kind != next.Device.Kind ||
		prev.Device.SPIBus != next.Device.SPIBus ||
		prev.Device.UDPAddr != next.Device.UDPAddr

	if deviceChanged && inst.State() == Running {
		inst.stopLocked("device reconfigured")
		inst.start(context.Background())
	}
}
