package summarizer

import (
	"errors"
	"image"
	"path/filepath"
	"strings"
	"time"

	"github.com/local/pathdesk/internal/imagerender"
	"github.com/local/pathdesk/internal/slide"
)

// Summary is the result of one Summarize call. It is never mutated after
// Summarize returns.
type Summary struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ErrorKind Kind   `json:"error_kind,omitempty"`

	Filename      string    `json:"filename"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	Timestamp     time.Time `json:"timestamp"`
	Format        string    `json:"format,omitempty"`

	LevelCount  int               `json:"level_count"`
	Levels      []slide.Level     `json:"levels,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
	ChosenLevel int               `json:"chosen_level"`

	PixelBudget    int64 `json:"pixel_budget"`
	PreviewMaxSide int   `json:"preview_max_side"`

	Preview       image.Image `json:"-"`
	PreviewWidth  int         `json:"preview_width,omitempty"`
	PreviewHeight int         `json:"preview_height,omitempty"`
	PreviewError  string      `json:"preview_error,omitempty"`

	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

// ErrNoPreview is returned when encoding a summary that has no preview.
var ErrNoPreview = errors.New("summary has no preview")

// FileSizeMB is the file size in mebibytes, as shown in the level report.
func (s Summary) FileSizeMB() float64 { return float64(s.FileSizeBytes) / (1024 * 1024) }

// Downsamples lists the per-level downsample factors.
func (s Summary) Downsamples() []float64 {
	out := make([]float64, len(s.Levels))
	for i, l := range s.Levels {
		out[i] = l.Downsample
	}
	return out
}

// HasPreview reports whether a preview raster is attached.
func (s Summary) HasPreview() bool { return s.Preview != nil }

// EncodePreviewJPEG encodes the preview for download.
func (s Summary) EncodePreviewJPEG(quality int) ([]byte, error) {
	if s.Preview == nil {
		return nil, ErrNoPreview
	}
	return imagerender.EncodeJPEG(s.Preview, quality)
}

// PreviewFilename is the download name for the preview: <stem>_thumbnail.jpg.
func (s Summary) PreviewFilename() string {
	name := filepath.Base(s.Filename)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "slide"
	}
	return stem + "_thumbnail.jpg"
}
