package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestJob_EncodeDecode(t *testing.T) {
	j := Job{JobID: "j1", FileRef: "s3://bucket/a.svs", PixelBudget: 1_000_000, Source: SourceS3, EnqueuedAt: time.Now().UTC()}
	b, err := j.Encode()
	require.NoError(t, err)

	got, err := DecodeJob(b)
	require.NoError(t, err)
	assert.Equal(t, "j1", got.JobID)
	assert.Equal(t, int64(1_000_000), got.PixelBudget)
	assert.True(t, got.IsS3())
	assert.False(t, Job{FileRef: "uploads/a.svs"}.IsS3())
}

func TestDecodeJob_Rejects(t *testing.T) {
	for name, payload := range map[string]string{
		"garbage":     "{not json",
		"no job id":   `{"file_ref":"a.svs"}`,
		"no file ref": `{"job_id":"j1"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJob([]byte(payload))
			assert.Error(t, err)
		})
	}
}

// exercise runs the same behaviour checks against any Queue.
func exercise(t *testing.T, q Queue) {
	ctx := context.Background()

	id, p, err := q.Dequeue(ctx, "c1", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Nil(t, p)

	require.NoError(t, q.Enqueue(ctx, []byte(`{"job_id":"a"}`)))
	id, p, err = q.Dequeue(ctx, "c1", time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, `{"job_id":"a"}`, string(p))
	require.NoError(t, q.Ack(ctx, id))

	require.NoError(t, q.EnqueueDelayed(ctx, []byte(`{"job_id":"later"}`), time.Now().Add(-time.Second)))
	require.Eventually(t, func() bool {
		id, p, err = q.Dequeue(ctx, "c1", 100*time.Millisecond)
		return err == nil && id != ""
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, `{"job_id":"later"}`, string(p))
	require.NoError(t, q.Ack(ctx, id))

	cancelled, err := q.IsCancelled(ctx, "a")
	require.NoError(t, err)
	assert.False(t, cancelled)
	require.NoError(t, q.CancelJob(ctx, "a"))
	cancelled, err = q.IsCancelled(ctx, "a")
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.NoError(t, q.AddDLQ(ctx, []byte("bad"), "decode job"))
	d, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.DLQ)
	assert.Equal(t, int64(0), d.Delayed)

	require.NoError(t, q.Ping(ctx))
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(8)
	exercise(t, q)
	assert.Equal(t, 0, q.Pending())
	require.Len(t, q.DLQ(), 1)
	assert.Equal(t, "decode job", q.DLQ()[0].Reason)
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), []byte("x")), ErrClosed)
}

func TestMemoryQueue_PendingUntilAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)
	require.NoError(t, q.Enqueue(ctx, []byte("x")))
	id, _, err := q.Dequeue(ctx, "c", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Pending())
	require.NoError(t, q.Ack(ctx, id))
	assert.Equal(t, 0, q.Pending())
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewMemoryQueue(1).Dequeue(ctx, "c", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisQueue(t *testing.T) {
	if os.Getenv("PATHDESK_INTEGRATION") != "1" {
		t.Skip("set PATHDESK_INTEGRATION=1 to run redis tests")
	}
	ctx := context.Background()
	c, err := tcredis.Run(ctx, "redis:7.4-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	url, err := c.ConnectionString(ctx)
	require.NoError(t, err)

	q, err := NewRedisQueue(url, "jobs:test", "workers:test", 20*time.Millisecond)
	require.NoError(t, err)
	defer q.Close()

	exercise(t, q)

	// a second constructor on the same stream tolerates the existing group
	q2, err := NewRedisQueue(url, "jobs:test", "workers:test", 0)
	require.NoError(t, err)
	require.NoError(t, q2.Close())
}
