// Package queue carries slide jobs from the HTTP API to the dispatcher
// workers. RedisQueue is used in production; MemoryQueue when REDIS_URL is
// empty and in tests.
package queue

import (
	"context"
	"time"
)

type Queue interface {
	Enqueue(ctx context.Context, payload []byte) error
	// EnqueueDelayed makes payload visible to consumers at executeAt.
	EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error
	// Dequeue blocks up to timeout. An empty msgID with nil error means no
	// message arrived.
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (msgID string, payload []byte, err error)
	Ack(ctx context.Context, msgID string) error
	CancelJob(ctx context.Context, jobID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	AddDLQ(ctx context.Context, payload []byte, reason string) error
	Depths(ctx context.Context) (Depths, error)
	Ping(ctx context.Context) error
	Close() error
}

// Depths are approximate queue lengths for metrics.
type Depths struct {
	Stream  int64
	Delayed int64
	DLQ     int64
}
