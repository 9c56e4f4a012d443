// Package logging constructs the process-wide zap logger from
// environment configuration and narrows it per subsystem (§4.11).
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLevel is the environment variable naming the default log level
// (debug, info, warn, error).
const EnvLevel = "AMBIENTD_LOG_LEVEL"

// EnvLevels is an optional environment variable of "component=level"
// pairs, comma-separated, overriding EnvLevel per named component, e.g.
// "device=debug,mux=warn".
const EnvLevels = "AMBIENTD_LOG_LEVELS"

// New builds the root logger from the environment. Callers narrow it
// per subsystem with For(log, component) — component-level overrides from
// AMBIENTD_LOG_LEVELS are applied by a componentFilteringCore keyed on the
// "component" field For attaches, so a single root logger instance serves
// every subsystem.
func New() (*zap.Logger, error) {
	overrides := parseLevels(os.Getenv(EnvLevels))
	defaultLevel := parseLevel(os.Getenv(EnvLevel), zapcore.InfoLevel)

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(defaultLevel)

	if len(overrides) == 0 {
		return cfg.Build()
	}
	// The base core must admit the most verbose override; the wrapping
	// core then applies each component's own minimum.
	base := defaultLevel
	for _, lvl := range overrides {
		if lvl < base {
			base = lvl
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(base)
	return cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &componentFilteringCore{Core: core, overrides: overrides, fallback: defaultLevel}
	}))
}

// For narrows a logger to a named subsystem, per the corpus convention
// of attaching structured component fields rather than formatting
// strings into the message.
func For(log *zap.Logger, component string) *zap.Logger {
	return log.Named(component).With(zap.String("component", component))
}

func parseLevel(s string, fallback zapcore.Level) zapcore.Level {
	if s == "" {
		return fallback
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return fallback
	}
	return lvl
}

func parseLevels(s string) map[string]zapcore.Level {
	if s == "" {
		return nil
	}
	out := make(map[string]zapcore.Level)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(strings.TrimSpace(kv[1]))); err != nil {
			continue
		}
		out[strings.TrimSpace(kv[0])] = lvl
	}
	return out
}

// componentFilteringCore applies a per-component minimum level on top
// of the base core's encoding/output, using the "component" field set
// by For.
type componentFilteringCore struct {
	zapcore.Core
	overrides map[string]zapcore.Level
	fallback  zapcore.Level
}

func (c *componentFilteringCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if entry.Level >= c.fallback {
		return c.Core.Check(entry, ce)
	}
	return ce
}

func (c *componentFilteringCore) With(fields []zapcore.Field) zapcore.Core {
	min := c.fallback
	for _, f := range fields {
		if f.Key == "component" && f.Type == zapcore.StringType {
			if lvl, ok := c.overrides[f.String]; ok {
				min = lvl
			}
		}
	}
	return &componentFilteringCore{Core: c.Core.With(fields), overrides: c.overrides, fallback: min}
}
