package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func redisURL(t *testing.T) string {
	t.Helper()
	if os.Getenv("PATHDESK_INTEGRATION") != "1" {
		t.Skip("set PATHDESK_INTEGRATION=1 to run redis tests")
	}
	ctx := context.Background()
	c, err := tcredis.Run(ctx, "redis:7.4-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	url, err := c.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func TestRedisStore(t *testing.T) {
	url := redisURL(t)
	ctx := context.Background()
	s, err := NewRedisStore(url, time.Minute)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(ctx))

	_, ok, err := s.GetStatus(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	start := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.SetStatus(ctx, "j1", Status{
		Status:   StatusProcessing,
		Progress: 40,
		Message:  "reading level",
		Start:    &start,
		Metadata: map[string]interface{}{"filename": "a.svs"},
	}))
	st, ok, err := s.GetStatus(ctx, "j1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, st.Status)
	assert.Equal(t, 40, st.Progress)
	assert.Equal(t, "reading level", st.Message)
	require.NotNil(t, st.Start)
	assert.True(t, start.Equal(*st.Start))
	assert.Equal(t, "a.svs", st.Metadata["filename"])

	ttl, err := s.Client().TTL(ctx, "job:j1:status").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.SaveResult(ctx, "j1", []byte(`{"success":true}`), []byte{0xff, 0xd8, 0xff}))
	sum, ok, err := s.GetSummary(ctx, "j1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"success":true}`, string(sum))
	prev, ok, err := s.GetPreview(ctx, "j1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, prev)

	_, ok, err = s.GetPreview(ctx, "j2")
	require.NoError(t, err)
	assert.False(t, ok)
}
