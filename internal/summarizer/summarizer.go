// Package summarizer turns a slide file on disk into a Summary: file facts,
// the level table, allow-listed properties, the level chosen under a pixel
// budget and a bounded RGB preview.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pathdesk/internal/filetype"
	"github.com/local/pathdesk/internal/imagerender"
	"github.com/local/pathdesk/internal/metrics"
	"github.com/local/pathdesk/internal/slide"
)

const (
	// DefaultPixelBudget is 2000×2000.
	DefaultPixelBudget int64 = 4_000_000
	// DefaultPreviewMaxSide bounds the longer preview side.
	DefaultPreviewMaxSide = 800
)

// Options tunes one Summarize call. Zero values select the defaults.
type Options struct {
	PixelBudget    int64
	PreviewMaxSide int
	// DisplayName replaces the base name of path in the summary, for uploads
	// saved under a temporary name.
	DisplayName string
}

func (o Options) withDefaults() Options {
	if o.PixelBudget <= 0 {
		o.PixelBudget = DefaultPixelBudget
	}
	if o.PreviewMaxSide <= 0 {
		o.PreviewMaxSide = DefaultPreviewMaxSide
	}
	return o
}

// Summarizer summarizes slides through an Opener. It holds no per-call state
// and may be used from several goroutines.
type Summarizer struct {
	opener   slide.Opener
	detector *filetype.Detector
}

// New returns a Summarizer backed by opener.
func New(opener slide.Opener) *Summarizer {
	return &Summarizer{opener: opener, detector: filetype.New()}
}

// Summarize never panics and never returns an error: failures are reported
// in the Summary with Success=false and an ErrorKind. A preview failure keeps
// Success=true and sets PreviewError.
func (s *Summarizer) Summarize(ctx context.Context, path string, opts Options) (sum Summary) {
	opts = opts.withDefaults()
	start := time.Now()
	sum = Summary{
		Filename:       filepath.Base(path),
		Timestamp:      start.UTC(),
		ChosenLevel:    -1,
		PixelBudget:    opts.PixelBudget,
		PreviewMaxSide: opts.PreviewMaxSide,
	}
	if opts.DisplayName != "" {
		sum.Filename = opts.DisplayName
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("file", path).Interface("panic", r).Msg("slide backend panicked")
			sum = failed(sum, newError(KindCorruptFile, path, fmt.Errorf("slide backend panic: %v", r)))
		}
		elapsed := time.Since(start)
		sum.ProcessingTimeSeconds = elapsed.Seconds()
		metrics.ObserveSummary(sum.Success, string(sum.ErrorKind), elapsed)
	}()

	if err := s.run(ctx, path, opts, &sum); err != nil {
		log.Warn().Err(err).Str("file", path).Str("kind", string(KindOf(err))).Msg("slide summary failed")
		return failed(sum, err)
	}

	log.Info().
		Str("file", sum.Filename).
		Int("levels", sum.LevelCount).
		Int("chosen_level", sum.ChosenLevel).
		Bool("preview", sum.HasPreview()).
		Dur("elapsed", time.Since(start)).
		Msg("slide summarized")
	return sum
}

// failed clears everything but the file facts and records err.
func failed(sum Summary, err error) Summary {
	return Summary{
		Success:        false,
		Error:          err.Error(),
		ErrorKind:      KindOf(err),
		Filename:       sum.Filename,
		FileSizeBytes:  sum.FileSizeBytes,
		Timestamp:      sum.Timestamp,
		ChosenLevel:    -1,
		PixelBudget:    sum.PixelBudget,
		PreviewMaxSide: sum.PreviewMaxSide,
	}
}

func checkContext(ctx context.Context, path, step string) error {
	if err := ctx.Err(); err != nil {
		return newError(KindDeadlineExceeded, path, fmt.Errorf("%s: %w", step, err))
	}
	return nil
}

func (s *Summarizer) run(ctx context.Context, path string, opts Options, sum *Summary) error {
	if err := checkContext(ctx, path, "before start"); err != nil {
		return err
	}

	st, err := os.Stat(path)
	if err != nil {
		return newError(KindNotFound, path, err)
	}
	if !st.Mode().IsRegular() {
		return newError(KindNotFound, path, errors.New("not a regular file"))
	}
	if st.Size() == 0 {
		return newError(KindEmptyFile, path, errors.New("file is empty"))
	}
	sum.FileSizeBytes = st.Size()

	if sn, ok := s.opener.(slide.Sniffer); ok && sn.RequiresSniff() {
		info, err := s.detector.Detect(path)
		if err != nil {
			return newError(KindCorruptFile, path, err)
		}
		if !info.Supported {
			return newError(KindUnsupportedFormat, path, errors.New(info.Description))
		}
	}

	sl, err := s.opener.Open(path)
	if err != nil {
		return newError(openKind(err), path, err)
	}
	defer func() {
		if cerr := sl.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("file", path).Msg("failed to close slide")
		}
	}()

	if err := checkContext(ctx, path, "after open"); err != nil {
		return err
	}

	levels, err := slide.Levels(sl)
	if err != nil {
		return newError(KindCorruptFile, path, err)
	}
	props := slide.Properties(sl, slide.SummaryProperties)
	chosen := slide.SelectLevel(levels, opts.PixelBudget)

	sum.Levels = levels
	sum.LevelCount = len(levels)
	sum.Properties = props
	sum.ChosenLevel = chosen
	sum.Format = props[slide.PropVendor]
	if sum.Format == "" {
		sum.Format = "unknown"
	}
	sum.Success = true
	metrics.ObserveChosenLevel(chosen)

	if err := checkContext(ctx, path, "before preview"); err != nil {
		return err
	}

	img, err := preview(sl, levels[chosen], opts.PreviewMaxSide)
	if err != nil {
		perr := newError(KindPreviewGenerationFailed, path, err)
		sum.PreviewError = perr.Error()
		metrics.IncPreviewFailure()
		log.Warn().Err(err).Str("file", path).Int("level", chosen).Msg("preview generation failed")
		return nil
	}
	sum.Preview = img
	sum.PreviewWidth = img.Bounds().Dx()
	sum.PreviewHeight = img.Bounds().Dy()
	return nil
}

func openKind(err error) Kind {
	switch {
	case slide.IsUnsupported(err):
		return KindUnsupportedFormat
	case errors.Is(err, os.ErrNotExist):
		return KindNotFound
	}
	return KindCorruptFile
}

// preview reads the whole level and scales it to fit maxSide. A backend panic
// here is returned as an error so the metadata already extracted survives.
func preview(sl slide.Slide, l slide.Level, maxSide int) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("preview panic at level %d: %v", l.Index, r)
		}
	}()
	region, err := sl.ReadRegion(0, 0, l.Index, l.Width, l.Height)
	if err != nil {
		return nil, fmt.Errorf("read level %d (%dx%d): %w", l.Index, l.Width, l.Height, err)
	}
	return imagerender.ToRGB(imagerender.Downscale(region, maxSide)), nil
}
