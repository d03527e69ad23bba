package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pathdesk/internal/slide"
	"github.com/local/pathdesk/internal/summarizer"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "pathdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordAndGet(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	require.NoError(t, db.Ping(ctx))

	sum := summarizer.Summary{
		Success:       true,
		Filename:      "case7.svs",
		FileSizeBytes: 1234,
		Timestamp:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Format:        "aperio",
		LevelCount:    3,
		Levels:        []slide.Level{{Index: 0, Width: 10, Height: 10, Downsample: 1}},
		Properties:    map[string]string{slide.PropMPPX: "0.25"},
		ChosenLevel:   1,
		PreviewWidth:  800,
		PreviewHeight: 600,

		ProcessingTimeSeconds: 1.5,
	}
	require.NoError(t, db.Record(ctx, "j1", sum))

	e, err := db.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "case7.svs", e.Filename)
	assert.True(t, e.Success)
	assert.Equal(t, 3, e.LevelCount)
	assert.Equal(t, 1, e.ChosenLevel)
	assert.Equal(t, 800, e.PreviewWidth)
	assert.Equal(t, "0.25", e.Properties[slide.PropMPPX])
	assert.InDelta(t, 1.5, e.ProcessingTimeSeconds, 1e-9)
	assert.True(t, sum.Timestamp.Equal(e.CreatedAt))

	_, err = db.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordFailureAndReplace(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	failed := summarizer.Summary{Filename: "x.jpg", Error: "not a tiled pyramidal TIFF", ErrorKind: summarizer.KindUnsupportedFormat, ChosenLevel: -1}
	require.NoError(t, db.Record(ctx, "j1", failed))
	e, err := db.Get(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, e.Success)
	assert.Equal(t, string(summarizer.KindUnsupportedFormat), e.ErrorKind)
	assert.Equal(t, -1, e.ChosenLevel)
	assert.Nil(t, e.Properties)

	failed.Filename = "y.jpg"
	require.NoError(t, db.Record(ctx, "j1", failed))
	e, err = db.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "y.jpg", e.Filename)
}

func TestRecent(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	empty, err := db.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.Record(ctx, id, summarizer.Summary{
			Success:   true,
			Filename:  id + ".svs",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := db.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	all, err := db.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpen_ReopensExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Record(context.Background(), "j1", summarizer.Summary{Filename: "a.svs"}))
	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()
	assert.Equal(t, path, db2.Path())
	_, err = db2.Get(context.Background(), "j1")
	assert.NoError(t, err)
}
