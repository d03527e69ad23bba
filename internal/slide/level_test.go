package slide_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pathdesk/internal/slide"
	"github.com/local/pathdesk/internal/slidetest"
)

func standardLevels(t *testing.T) []slide.Level {
	t.Helper()
	levels, err := slide.Levels(slidetest.NewFake(slidetest.StandardPyramid...))
	require.NoError(t, err)
	return levels
}

func TestLevels(t *testing.T) {
	levels := standardLevels(t)
	require.Len(t, levels, 4)

	assert.Equal(t, slide.Level{Index: 0, Width: 2000, Height: 2000, Downsample: 1}, levels[0])
	assert.Equal(t, 1000, levels[1].Width)
	assert.InDelta(t, 2.0, levels[1].Downsample, 1e-9)
	assert.InDelta(t, 8.0, levels[3].Downsample, 1e-9)
	assert.Equal(t, int64(62_500), levels[3].Pixels())

	for i := 1; i < len(levels); i++ {
		assert.GreaterOrEqual(t, levels[i].Downsample, levels[i-1].Downsample)
	}
}

func TestLevels_RejectsEmptyAndInvalid(t *testing.T) {
	_, err := slide.Levels(slidetest.NewFake())
	assert.Error(t, err)

	_, err = slide.Levels(slidetest.NewFake(slidetest.Size{W: 100, H: 100}, slidetest.Size{W: 0, H: 50}))
	assert.Error(t, err)
}

func TestSelectLevel(t *testing.T) {
	levels := standardLevels(t)
	tests := []struct {
		budget int64
		want   int
	}{
		{10_000_000, 0},
		{4_000_000, 0},
		{3_999_999, 1},
		{1_000_000, 1},
		{250_000, 2},
		{62_500, 3},
		{100, 3},
		{0, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slide.SelectLevel(levels, tt.budget), "budget %d", tt.budget)
	}
}

func TestSelectLevel_MonotoneInBudget(t *testing.T) {
	levels := standardLevels(t)
	prev := slide.SelectLevel(levels, 0)
	for b := int64(0); b <= 5_000_000; b += 12_500 {
		got := slide.SelectLevel(levels, b)
		assert.LessOrEqual(t, got, prev, "budget %d", b)
		assert.True(t, levels[got].Pixels() <= b || got == len(levels)-1)
		prev = got
	}
}

func TestSelectLevel_Degenerate(t *testing.T) {
	assert.Equal(t, -1, slide.SelectLevel(nil, 1000))
	single := []slide.Level{{Index: 0, Width: 5000, Height: 5000, Downsample: 1}}
	assert.Equal(t, 0, slide.SelectLevel(single, 1))
}

func TestLevel_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(slide.Level{Index: 2, Width: 500, Height: 400, Downsample: 4})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.EqualValues(t, 2, got["level"])
	assert.EqualValues(t, 200_000, got["total_pixels"])
	assert.EqualValues(t, 4, got["downsample"])
}

// badDownsamples reports a fixed downsample for every level.
type badDownsamples struct {
	*slidetest.Fake
	ds float64
}

func (b badDownsamples) LevelDownsample(int) float64 { return b.ds }

func TestLevels_NonFiniteDownsample(t *testing.T) {
	for _, ds := range []float64{math.Inf(1), math.Inf(-1), math.NaN(), 0.5} {
		levels, err := slide.Levels(badDownsamples{slidetest.NewFake(slidetest.Size{W: 1000, H: 800}, slidetest.Size{W: 250, H: 200}), ds})
		require.NoError(t, err)
		assert.Equal(t, 1.0, levels[0].Downsample)
		assert.Equal(t, 4.0, levels[1].Downsample)

		b, err := json.Marshal(levels)
		require.NoError(t, err)
		assert.True(t, json.Valid(b), string(b))
	}
}

func TestProperties_AllowListOnly(t *testing.T) {
	f := slidetest.NewFake(slidetest.Size{W: 10, H: 10})
	f.Props = map[string]string{
		slide.PropMPPX:   "0.25",
		slide.PropVendor: "aperio",
		"aperio.AppMag":  "20",
		"tiff.Software":  "scanner",
	}
	got := slide.Properties(f, slide.SummaryProperties)
	assert.Equal(t, map[string]string{slide.PropMPPX: "0.25", slide.PropVendor: "aperio"}, got)
}

func TestDecodeError(t *testing.T) {
	base := errors.New("bad magic")
	err := slide.Unsupported("/x.jpg", base)
	assert.True(t, slide.IsUnsupported(err))
	assert.False(t, slide.IsCorrupt(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "/x.jpg")

	assert.True(t, slide.IsCorrupt(slide.Corrupt("/y.svs", nil)))
	assert.False(t, slide.IsCorrupt(base))
}
