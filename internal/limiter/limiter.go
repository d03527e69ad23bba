// Package limiter bounds concurrent summarizations and backs off from a
// failing dependency.
package limiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/local/pathdesk/internal/metrics"
)

// ErrBusy is returned by TryAcquire when every slot is taken.
var ErrBusy = errors.New("limiter: all slots busy")

// Gate is a counting semaphore over whole-level reads. Each held slot is
// reflected in the inflight_summaries gauge.
type Gate struct {
	sem chan struct{}
}

func NewGate(maxInflight int) *Gate {
	if maxInflight <= 0 {
		maxInflight = 2
	}
	return &Gate{sem: make(chan struct{}, maxInflight)}
}

func (g *Gate) release() func() {
	metrics.IncInflight()
	var once sync.Once
	return func() {
		once.Do(func() {
			<-g.sem
			metrics.DecInflight()
		})
	}
}

// Acquire waits for a slot until ctx ends. The returned release func is safe
// to call more than once.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case g.sem <- struct{}{}:
		return g.release(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire reserves a slot without waiting.
func (g *Gate) TryAcquire() (func(), error) {
	select {
	case g.sem <- struct{}{}:
		return g.release(), nil
	default:
		return nil, ErrBusy
	}
}

// InUse returns the number of held slots.
func (g *Gate) InUse() int { return len(g.sem) }

// Capacity returns the number of slots.
func (g *Gate) Capacity() int { return cap(g.sem) }

// Cooldown is an in-process breaker: after a failure the guarded call is
// skipped until the backoff, doubling per consecutive failure, has passed.
type Cooldown struct {
	mu          sync.Mutex
	baseBackoff time.Duration
	maxBackoff  time.Duration
	attempts    int
	until       time.Time
	now         func() time.Time
}

func NewCooldown(base, max time.Duration) *Cooldown {
	if base <= 0 {
		base = 30 * time.Second
	}
	if max <= 0 {
		max = 5 * time.Minute
	}
	return &Cooldown{baseBackoff: base, maxBackoff: max, now: time.Now}
}

// IsOpen returns true while the cooldown is active.
func (c *Cooldown) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.until)
}

// Open records a failure and returns the new cooldown length.
func (c *Cooldown) Open() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	d := c.baseBackoff
	for i := 1; i < c.attempts && d < c.maxBackoff; i++ {
		d *= 2
	}
	if d > c.maxBackoff {
		d = c.maxBackoff
	}
	c.until = c.now().Add(d)
	return d
}

// Close resets the breaker after a success.
func (c *Cooldown) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
	c.until = time.Time{}
}
