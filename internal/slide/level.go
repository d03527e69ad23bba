package slide

import (
	"encoding/json"
	"fmt"
	"math"
)

// Level describes one pyramid tier. Index 0 is full resolution.
type Level struct {
	Index      int     `json:"level"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Downsample float64 `json:"downsample"`
}

// Pixels returns Width*Height without overflowing on 32-bit platforms.
func (l Level) Pixels() int64 { return int64(l.Width) * int64(l.Height) }

// MarshalJSON adds total_pixels, which the level table displays.
func (l Level) MarshalJSON() ([]byte, error) {
	type level Level
	return json.Marshal(struct {
		level
		TotalPixels int64 `json:"total_pixels"`
	}{level(l), l.Pixels()})
}

// Levels reads the level table of an opened slide in index order.
func Levels(s Slide) ([]Level, error) {
	n := s.LevelCount()
	if n <= 0 {
		return nil, fmt.Errorf("slide has no levels")
	}
	out := make([]Level, 0, n)
	for i := 0; i < n; i++ {
		w, h := s.LevelDimensions(i)
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("level %d has invalid dimensions %dx%d", i, w, h)
		}
		ds := s.LevelDownsample(i)
		if math.IsNaN(ds) || math.IsInf(ds, 0) || ds < 1 {
			// Derive from the width ratio when the backend reports nonsense.
			ds = 1
			if i > 0 && w < out[0].Width {
				ds = float64(out[0].Width) / float64(w)
			}
		}
		out = append(out, Level{Index: i, Width: w, Height: h, Downsample: ds})
	}
	return out, nil
}

// SelectLevel returns the first level, scanning from finest to coarsest, whose
// pixel count fits within budget. When none fits the coarsest index is
// returned. Pyramids have non-increasing pixel counts, so the result is the
// highest resolution that stays within budget. It returns -1 for an empty
// table.
func SelectLevel(levels []Level, budget int64) int {
	for i, l := range levels {
		if l.Pixels() <= budget {
			return i
		}
	}
	return len(levels) - 1
}

// Properties copies the allow-listed properties present on s.
func Properties(s Slide, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.Property(k); ok {
			out[k] = v
		}
	}
	return out
}
