package instance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambientd/internal/bus"
	"ambientd/internal/color"
	"ambientd/internal/config"
	"ambientd/internal/device"
	"ambientd/internal/led"
	"ambientd/internal/mux"
	"ambientd/internal/smoother"
)

type mapLoader map[string]string

func (m mapLoader) Load(name string) (string, error) {
	code, ok := m[name]
	if !ok {
		return "", assert.AnError
	}
	return code, nil
}

func testLayout(n int) led.Layout {
	leds := make([]led.LED, n)
	for i := range leds {
		leds[i] = led.LED{Rect: led.Rect{Hmin: 0, Hmax: 1, Vmin: 0, Vmax: 1}}
	}
	return led.Layout{LEDs: leds}
}

func newTestInstance(t *testing.T) (*Instance, *bus.Bus, *device.MemDevice) {
	b := bus.New()
	mem := device.NewMem()
	cfg := config.InstanceConfig{
		ID:       "test",
		Layout:   testLayout(3),
		Pipeline: config.PipelineConfig{Transform: color.IdentityTransform(), TemperatureKelvin: color.NeutralTemperatureKelvin, Brightness: color.IdentityBrightness()},
		Smoother: smoother.Config{FrequencyHz: 200, Kind: smoother.Nearest},
		Device:   config.DeviceConfig{Kind: config.DeviceMem, Scheduler: device.Config{Frequency: 200}},
	}
	inst := New("test", cfg, b, mapLoader{}, func(config.DeviceConfig, int) device.Device { return mem }, nil)
	return inst, b, mem
}

func TestInstanceStartPushSolidColorReachesDevice(t *testing.T) {
	inst, _, mem := newTestInstance(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	inst.Control() <- Control{Kind: ControlStart}
	require.Eventually(t, func() bool { return inst.State() == Running }, time.Second, time.Millisecond)

	src, err := inst.Register("test-source", "origin-1", mux.Permissions{MinPriority: 0, MaxPriority: 254})
	require.NoError(t, err)

	red := color.RGB{R: 255}
	require.NoError(t, inst.Push(src, mux.SolidColor{Priority: 10, Color: red}, time.Now()))

	require.Eventually(t, func() bool {
		writes := mem.Writes()
		if len(writes) == 0 {
			return false
		}
		last := writes[len(writes)-1]
		return len(last) == 3 && last[0] == red
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInstanceStopTransitionsToInactive(t *testing.T) {
	inst, _, _ := newTestInstance(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	inst.Control() <- Control{Kind: ControlStart}
	require.Eventually(t, func() bool { return inst.State() == Running }, time.Second, time.Millisecond)

	inst.Control() <- Control{Kind: ControlStop, Reason: "test"}
	require.Eventually(t, func() bool { return inst.State() == Inactive }, time.Second, time.Millisecond)
}

func TestBusRoutesThroughInstance(t *testing.T) {
	inst, b, mem := newTestInstance(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)
	inst.Control() <- Control{Kind: ControlStart}
	require.Eventually(t, func() bool { return inst.State() == Running }, time.Second, time.Millisecond)

	src, err := b.Register(inst.ID(), "json-server", "tcp:peer", mux.Permissions{MinPriority: 0, MaxPriority: 254})
	require.NoError(t, err)

	green := color.RGB{G: 200}
	require.NoError(t, b.Push(inst.ID(), src, mux.SolidColor{Priority: 5, Color: green}, time.Now()))

	require.Eventually(t, func() bool {
		writes := mem.Writes()
		return len(writes) > 0 && writes[len(writes)-1][0] == green
	}, 2*time.Second, 5*time.Millisecond)
}
