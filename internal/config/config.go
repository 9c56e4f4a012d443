// Package config holds the persisted shape of an ambientd deployment
// (§4.8, §6): the set of configured instances, their LED layouts and
// pipeline parameters, and operator credentials, behind a Store
// interface with interchangeable sqlite and flat-file backends.
package config

import (
	"fmt"
	"time"

	"ambientd/internal/apperror"
	"ambientd/internal/color"
	"ambientd/internal/device"
	"ambientd/internal/led"
	"ambientd/internal/reducer"
	"ambientd/internal/smoother"
)

// DeviceKind names which concrete device.Device an instance drives.
type DeviceKind string

const (
	DeviceMem DeviceKind = "mem"
	DeviceSPI DeviceKind = "spi"
	DeviceUDP DeviceKind = "udp"
)

// DeviceConfig is the persisted device binding for one instance.
type DeviceConfig struct {
	Kind DeviceKind

	SPIBus   string
	SPISpeed int64

	UDPAddr    string
	UDPTimeout time.Duration

	Scheduler device.Config
}

// PipelineConfig is the persisted color-pipeline configuration (§4.5).
type PipelineConfig struct {
	Transform        color.RGBTransform
	Adjustments      []color.RangeAdjustment
	TemperatureKelvin float64
	Brightness       color.Brightness
}

// InstanceConfig is the immutable, clonable snapshot an instance is
// built from and reconfigured with (§4.8).
type InstanceConfig struct {
	ID           string
	FriendlyName string
	Enabled      bool

	Layout   led.Layout
	Border   reducer.BorderMode

	Pipeline PipelineConfig
	Smoother smoother.Config
	Device   DeviceConfig

	Policy Policy
}

// Clone returns a deep-enough copy safe to hand to a new instance
// generation; slices are copied so a later mutation of the original
// config does not leak into a running instance.
func (c InstanceConfig) Clone() InstanceConfig {
	out := c
	out.Layout.LEDs = append([]led.LED(nil), c.Layout.LEDs...)
	out.Pipeline.Adjustments = append([]color.RangeAdjustment(nil), c.Pipeline.Adjustments...)
	return out
}

// Validate rejects an InstanceConfig a Store should refuse to persist:
// every instance needs a stable, non-empty ID to key settings/auth rows
// against (§6).
func (c InstanceConfig) Validate() error {
	if c.ID == "" {
		return apperror.New(apperror.KindConfig, "config.Validate", fmt.Errorf("%w: empty instance id", apperror.ErrConfigInvalid))
	}
	return nil
}

// Policy is the per-instance permission policy persisted with an
// instance's config. Source registrations are not checked against it:
// Bus.Register and Instance.Register pass the requested Permissions to
// the muxer unchanged.
type Policy struct {
	MaxPriority       uint8
	AllowedComponents []string
	AdminTokens       []string // tokens permitted to register with Admin:true
}

// GlobalConfig is the full persisted deployment snapshot (§6).
type GlobalConfig struct {
	Instances map[string]InstanceConfig
}

// Session is an issued authentication token (§3's Session/token type),
// backing the auth table's schema (§6).
type Session struct {
	User      string
	Token     string
	Salt      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Store is the persistence interface both the sqlite and flat-file
// backends satisfy.
type Store interface {
	Load() (GlobalConfig, error)
	Save(GlobalConfig) error

	ListInstances() ([]InstanceConfig, error)
	UpsertInstance(InstanceConfig) error
	DeleteInstance(id string) error

	IssueToken(user string, ttl time.Duration) (Session, error)
	CheckToken(token string) (Session, bool, error)
}
