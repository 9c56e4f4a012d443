package device

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ambientd/internal/apperror"
	"ambientd/internal/color"
)

// maxBackoff caps the exponential retry backoff (§4.7).
const maxBackoff = time.Second

// Scheduler owns one Device exclusively and drives it from a stream of
// LED frames, per §4.7.
type Scheduler struct {
	dev Device
	cfg Config
	log *zap.Logger

	// OnFatal is invoked (at most once) when a write exhausts
	// MaxAttempts; the caller (the owning instance) transitions to
	// Stopping and emits InstanceStopped{reason} per §7.
	OnFatal func(error)

	mu    sync.Mutex
	state State
}

// New constructs a Scheduler for dev with the given Config.
func New(dev Device, cfg Config, log *zap.Logger) *Scheduler {
	return &Scheduler{dev: dev, cfg: cfg, log: log, state: Stopped}
}

// State reports the scheduler's current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run opens the device, then applies frames received from in until ctx
// is cancelled, closing the device on exit. It implements the full
// Stopped -> Opening -> Ready <-> Idle -> Closing -> Stopped lifecycle.
func (s *Scheduler) Run(ctx context.Context, in <-chan []color.RGB) {
	s.setState(Opening)
	if err := s.dev.Open(ctx); err != nil {
		if s.log != nil {
			s.log.Error("device open failed", zap.Error(err))
		}
		s.setState(Stopped)
		if s.OnFatal != nil {
			s.OnFatal(err)
		}
		return
	}
	s.setState(Ready)

	freq := s.cfg.Frequency
	if freq <= 0 {
		freq = 30
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / freq))
	defer ticker.Stop()

	var current, lastSent []color.RGB
	var lastChangeAt, lastSentAt, idleEnteredAt time.Time
	haveCurrent := false

	for {
		select {
		case <-ctx.Done():
			s.setState(Closing)
			_ = s.dev.Close()
			s.setState(Stopped)
			return

		case frame := <-in:
			now := time.Now()
			if !haveCurrent || !framesEqual(frame, current) {
				lastChangeAt = now
			}
			current = frame
			haveCurrent = true

		case now := <-ticker.C:
			if !haveCurrent {
				continue
			}
			switch s.State() {
			case Ready:
				if s.cfg.Idle.Delay > 0 && now.Sub(lastChangeAt) >= s.cfg.Idle.Delay {
					s.setState(Idle)
					idleEnteredAt = now
					if !s.cfg.Idle.Holds {
						burst := s.cfg.Idle.Retries
						if burst < 1 {
							burst = 1
						}
						for i := 0; i < burst; i++ {
							if s.writeWithRetry(ctx, current) {
								lastSent = current
								lastSentAt = now
							} else {
								return
							}
						}
					}
					continue
				}
				if lastSent == nil || !framesEqual(current, lastSent) {
					if !s.writeWithRetry(ctx, current) {
						return
					}
					lastSent = current
					lastSentAt = now
				}

			case Idle:
				if !framesEqual(current, lastSent) && lastChangeAt.After(idleEnteredAt) {
					s.setState(Ready)
					if !s.writeWithRetry(ctx, current) {
						return
					}
					lastSent = current
					lastSentAt = now
					continue
				}
				if s.cfg.Idle.Holds {
					continue
				}
				rewrite := s.cfg.Idle.Rewrite
				if rewrite <= 0 {
					rewrite = 1
				}
				if now.Sub(lastSentAt) >= time.Duration(float64(time.Second)/rewrite) {
					if !s.writeWithRetry(ctx, lastSent) {
						return
					}
					lastSentAt = now
				}
			}
		}
	}
}

// writeWithRetry attempts dev.WriteLEDs with bounded exponential backoff
// (capped at 1s), up to cfg.MaxAttempts. It returns false (and has
// already invoked OnFatal) once attempts are exhausted.
func (s *Scheduler) writeWithRetry(ctx context.Context, frame []color.RGB) bool {
	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := 10 * time.Millisecond

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		writeCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.PerAttemptTimeout > 0 {
			writeCtx, cancel = context.WithTimeout(ctx, s.cfg.PerAttemptTimeout)
		}
		err := s.dev.WriteLEDs(writeCtx, frame)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return true
		}
		if s.log != nil {
			s.log.Warn("device write failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		if attempt == maxAttempts {
			if s.OnFatal != nil {
				s.OnFatal(apperror.New(apperror.KindDevice, "device.writeWithRetry", ErrUnreachable))
			}
			return false
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return false
}
