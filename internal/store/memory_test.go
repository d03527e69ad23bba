package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_StatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	_, ok, err := s.GetStatus(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	start := time.Now().UTC()
	require.NoError(t, s.SetStatus(ctx, "j1", Status{Status: StatusProcessing, Progress: 10, Start: &start}))
	st, ok, err := s.GetStatus(ctx, "j1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, st.Status)
	assert.Equal(t, 10, st.Progress)
	assert.False(t, st.Terminal())

	require.NoError(t, s.SetStatus(ctx, "j1", Status{Status: StatusSuccess, Progress: 100}))
	st, _, _ = s.GetStatus(ctx, "j1")
	assert.True(t, st.Terminal())
}

func TestMemoryStore_Results(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	summary := []byte(`{"success":true}`)
	require.NoError(t, s.SaveResult(ctx, "j1", summary, nil))
	summary[0] = 'X'

	got, ok, err := s.GetSummary(ctx, "j1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"success":true}`, string(got))

	_, ok, err = s.GetPreview(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveResult(ctx, "j2", []byte(`{}`), []byte{0xff, 0xd8}))
	p, ok, _ := s.GetPreview(ctx, "j2")
	require.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xd8}, p)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.SetStatus(ctx, "j1", Status{Status: StatusQueued}))
	require.NoError(t, s.SaveResult(ctx, "j1", []byte(`{}`), []byte{1}))

	now = now.Add(2 * time.Minute)
	_, ok, _ := s.GetStatus(ctx, "j1")
	assert.False(t, ok)
	_, ok, _ = s.GetSummary(ctx, "j1")
	assert.False(t, ok)
	_, ok, _ = s.GetPreview(ctx, "j1")
	assert.False(t, ok)
}

func TestMemoryStore_PingClose(t *testing.T) {
	s := NewMemoryStore(0)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}
