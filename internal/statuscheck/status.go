package statuscheck

import (
	"context"
	"errors"
	"time"
)

// Pinger models the minimal capability we need from a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker aggregates readiness checks for the dependencies of the service.
// A nil dependency is reported as disabled and does not affect readiness.
type Checker struct {
	redis   Pinger
	s3      Pinger
	history Pinger
	backend Pinger
	name    string
	timeout time.Duration
}

// Options configures the Checker.
type Options struct {
	Redis   Pinger
	S3      Pinger
	History Pinger
	// Backend probes the slide backend; BackendName labels it.
	Backend     Pinger
	BackendName string
	Timeout     time.Duration
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Ready   bool   `json:"ready"`
	Redis   Status `json:"redis"`
	S3      Status `json:"s3"`
	Backend Status `json:"slide_backend"`
	History Status `json:"history"`
}

func New(opts Options) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	return &Checker{
		redis:   opts.Redis,
		s3:      opts.S3,
		history: opts.History,
		backend: opts.Backend,
		name:    opts.BackendName,
		timeout: opts.Timeout,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	s := Summary{
		Redis:   c.check(ctx, c.redis, "in-memory queue", "Connected"),
		S3:      c.check(ctx, c.s3, "archive not configured", "Connected"),
		Backend: c.check(ctx, c.backend, "no backend", "Available"),
		History: c.check(ctx, c.history, "history disabled", "Open"),
	}
	if s.Backend.OK && c.name != "" {
		s.Backend.Message = c.name
	}
	s.Ready = ready(s.Redis) && ready(s.S3) && ready(s.Backend) && ready(s.History)
	return s
}

func ready(s Status) bool { return !s.Enabled || s.OK }

func (c *Checker) check(ctx context.Context, p Pinger, disabled, okMsg string) Status {
	if p == nil {
		return Status{OK: false, Enabled: false, Message: disabled}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Enabled: true, Message: trimError(err)}
	}
	return Status{OK: true, Enabled: true, Message: okMsg}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
