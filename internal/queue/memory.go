package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrClosed is returned by MemoryQueue operations after Close.
var ErrClosed = errors.New("queue closed")

type memMsg struct {
	id      string
	payload []byte
}

// DLQEntry is a dead-lettered payload kept by MemoryQueue.
type DLQEntry struct {
	Payload []byte
	Reason  string
}

// MemoryQueue is a channel-backed Queue for a single process.
type MemoryQueue struct {
	ch chan memMsg

	mu        sync.Mutex
	seq       int64
	pending   map[string][]byte
	cancelled map[string]struct{}
	dlq       []DLQEntry
	timers    map[*time.Timer]struct{}
	closed    bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		ch:        make(chan memMsg, capacity),
		pending:   map[string][]byte{},
		cancelled: map[string]struct{}{},
		timers:    map[*time.Timer]struct{}{},
	}
}

func (q *MemoryQueue) nextID() string {
	q.seq++
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strconv.FormatInt(q.seq, 10)
}

func (q *MemoryQueue) Enqueue(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	msg := memMsg{id: q.nextID(), payload: append([]byte(nil), payload...)}
	q.mu.Unlock()
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	p := append([]byte(nil), payload...)
	var t *time.Timer
	t = time.AfterFunc(time.Until(executeAt), func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		_ = q.Enqueue(context.Background(), p)
	})
	q.timers[t] = struct{}{}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, _ string, timeout time.Duration) (string, []byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-q.ch:
		q.mu.Lock()
		q.pending[msg.id] = msg.payload
		q.mu.Unlock()
		return msg.id, msg.payload, nil
	case <-timer.C:
		return "", nil, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (q *MemoryQueue) Ack(_ context.Context, msgID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, msgID)
	return nil
}

// Pending returns the number of dequeued but unacknowledged messages.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) CancelJob(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled[jobID] = struct{}{}
	return nil
}

func (q *MemoryQueue) IsCancelled(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.cancelled[jobID]
	return ok, nil
}

func (q *MemoryQueue) AddDLQ(_ context.Context, payload []byte, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlq = append(q.dlq, DLQEntry{Payload: append([]byte(nil), payload...), Reason: reason})
	return nil
}

// DLQ returns a copy of the dead-letter entries.
func (q *MemoryQueue) DLQ() []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DLQEntry(nil), q.dlq...)
}

func (q *MemoryQueue) Depths(context.Context) (Depths, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Depths{Stream: int64(len(q.ch)), Delayed: int64(len(q.timers)), DLQ: int64(len(q.dlq))}, nil
}

func (q *MemoryQueue) Ping(context.Context) error { return nil }

// Close stops delayed deliveries. Messages already buffered stay readable.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	return nil
}
