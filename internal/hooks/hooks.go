// Package hooks runs external commands in reaction to instance
// lifecycle events (§4.17), the way a process supervisor shells out to
// notify scripts: never fatal to the caller, bounded by a timeout.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"text/template"
	"time"

	"go.uber.org/zap"

	"ambientd/internal/bus"
)

// Hook is one configured command, run once per matching event.
type Hook struct {
	// Command is the executable path; Args are text/template strings
	// rendered against TemplateData before exec, e.g. "{{.Event}}".
	Command string
	Args    []string
	Timeout time.Duration
}

// TemplateData is the set of fields a hook's Args may reference.
type TemplateData struct {
	Event      string
	InstanceID string
}

// Runner invokes a fixed set of Hooks for every event it is given.
type Runner struct {
	hooks []Hook
	log   *zap.Logger
}

func New(hooks []Hook, log *zap.Logger) *Runner {
	return &Runner{hooks: hooks, log: log}
}

// Handle runs every configured hook against event, each with its own
// timeout, logging failures rather than propagating them — a hook
// script is never allowed to affect instance lifecycle.
func (r *Runner) Handle(ctx context.Context, event bus.Event) {
	data := TemplateData{Event: event.EventType()}
	if ie, ok := event.(interface{ GetInstanceID() string }); ok {
		data.InstanceID = ie.GetInstanceID()
	}
	for _, h := range r.hooks {
		r.run(ctx, h, data)
	}
}

func (r *Runner) run(ctx context.Context, h Hook, data TemplateData) {
	args := make([]string, len(h.Args))
	for i, raw := range h.Args {
		rendered, err := renderTemplate(raw, data)
		if err != nil {
			if r.log != nil {
				r.log.Warn("hook arg template failed", zap.String("command", h.Command), zap.Error(err))
			}
			return
		}
		args[i] = rendered
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, h.Command, args...)
	if err := cmd.Run(); err != nil {
		if r.log != nil {
			r.log.Warn("hook command failed",
				zap.String("command", h.Command),
				zap.String("event", data.Event),
				zap.Error(err))
		}
	}
}

func renderTemplate(raw string, data TemplateData) (string, error) {
	tmpl, err := template.New("hook-arg").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("hooks: parse template %q: %w", raw, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("hooks: execute template %q: %w", raw, err)
	}
	return buf.String(), nil
}
