package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pathdesk/internal/imagerender"
	"github.com/local/pathdesk/internal/slide"
	"github.com/local/pathdesk/internal/slidetest"
	"github.com/local/pathdesk/internal/tiffslide"
)

func writeStandard(t *testing.T, opts slidetest.Options) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "CMU-1.svs")
	require.NoError(t, slidetest.WritePyramid(path, slidetest.StandardPyramid, opts))
	return path
}

func writeBytes(t *testing.T, name string, b []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func fakeOpener(sizes ...slidetest.Size) *slidetest.Opener {
	return &slidetest.Opener{New: func() *slidetest.Fake { return slidetest.NewFake(sizes...) }}
}

type sniffingOpener struct{ *slidetest.Opener }

func (sniffingOpener) RequiresSniff() bool { return true }

func TestSummarize_EndToEnd(t *testing.T) {
	path := writeStandard(t, slidetest.Options{XResolution: 40000, YResolution: 40000})
	s := New(tiffslide.New())

	sum := s.Summarize(context.Background(), path, Options{PixelBudget: 1_000_000})
	require.True(t, sum.Success, sum.Error)
	assert.Empty(t, sum.ErrorKind)
	assert.Equal(t, "CMU-1.svs", sum.Filename)
	assert.Positive(t, sum.FileSizeBytes)
	assert.Equal(t, 4, sum.LevelCount)
	assert.Equal(t, 1, sum.ChosenLevel)
	assert.Equal(t, []float64{1, 2, 4, 8}, sum.Downsamples())
	assert.Equal(t, "generic-tiff", sum.Format)
	assert.Equal(t, "0.25", sum.Properties[slide.PropMPPX])
	assert.NotContains(t, sum.Properties, "tiff.ResolutionUnit")

	require.NotNil(t, sum.Preview)
	assert.Equal(t, image.Rect(0, 0, 800, 800), sum.Preview.Bounds())
	assert.Equal(t, 800, sum.PreviewWidth)
	assert.Empty(t, sum.PreviewError)
	assert.GreaterOrEqual(t, sum.ProcessingTimeSeconds, 0.0)

	tiny := s.Summarize(context.Background(), path, Options{PixelBudget: 100})
	require.True(t, tiny.Success)
	assert.Equal(t, 3, tiny.ChosenLevel)
	assert.Equal(t, image.Rect(0, 0, 250, 250), tiny.Preview.Bounds(), "level that fits is not resized")
}

func TestSummarize_Defaults(t *testing.T) {
	sum := New(tiffslide.New()).Summarize(context.Background(), writeStandard(t, slidetest.Options{}), Options{})
	require.True(t, sum.Success)
	assert.Equal(t, DefaultPixelBudget, sum.PixelBudget)
	assert.Equal(t, DefaultPreviewMaxSide, sum.PreviewMaxSide)
	assert.Equal(t, 0, sum.ChosenLevel)
	assert.Equal(t, 800, sum.PreviewWidth)
}

func TestSummarize_PreviewIsOpaqueRGB(t *testing.T) {
	sum := New(tiffslide.New()).Summarize(context.Background(), writeStandard(t, slidetest.Options{}), Options{PixelBudget: 62_500})
	require.True(t, sum.Success)
	rgba, ok := sum.Preview.(*image.RGBA)
	require.True(t, ok)
	for i := 3; i < len(rgba.Pix); i += 4 {
		require.Equal(t, uint8(255), rgba.Pix[i])
	}
}

func TestSummarize_Idempotent(t *testing.T) {
	path := writeStandard(t, slidetest.Options{Description: "Aperio Image Library|AppMag = 40|MPP = 0.25"})
	s := New(tiffslide.New())
	a := s.Summarize(context.Background(), path, Options{PixelBudget: 250_000, PreviewMaxSide: 400})
	b := s.Summarize(context.Background(), path, Options{PixelBudget: 250_000, PreviewMaxSide: 400})
	require.True(t, a.Success)
	require.True(t, b.Success)

	assert.Equal(t, a.Levels, b.Levels)
	assert.Equal(t, a.Properties, b.Properties)
	assert.Equal(t, a.ChosenLevel, b.ChosenLevel)
	assert.Equal(t, "40", a.Properties[slide.PropObjectivePower])
	assert.Equal(t, a.Preview.(*image.RGBA).Pix, b.Preview.(*image.RGBA).Pix)
}

func TestSummarize_Concurrent(t *testing.T) {
	path := writeStandard(t, slidetest.Options{})
	s := New(tiffslide.New())
	var wg sync.WaitGroup
	results := make([]Summary, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Summarize(context.Background(), path, Options{PixelBudget: 250_000})
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, 2, r.ChosenLevel)
	}
}

func TestSummarize_NotFound(t *testing.T) {
	o := fakeOpener(slidetest.Size{W: 10, H: 10})
	sum := New(o).Summarize(context.Background(), "/nonexistent/path", Options{})
	assert.False(t, sum.Success)
	assert.Equal(t, KindNotFound, sum.ErrorKind)
	assert.NotEmpty(t, sum.Error)
	assert.Equal(t, -1, sum.ChosenLevel)
	assert.Empty(t, o.Paths(), "missing file is reported before open")

	dir := New(o).Summarize(context.Background(), t.TempDir(), Options{})
	assert.Equal(t, KindNotFound, dir.ErrorKind)
}

func TestSummarize_EmptyFile(t *testing.T) {
	o := fakeOpener(slidetest.Size{W: 10, H: 10})
	sum := New(o).Summarize(context.Background(), writeBytes(t, "empty.svs", nil), Options{})
	assert.False(t, sum.Success)
	assert.Equal(t, KindEmptyFile, sum.ErrorKind)
	assert.Empty(t, o.Paths())
}

func TestSummarize_JPEGIsUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.svs")
	require.NoError(t, slidetest.WriteJPEG(path, 64, 64))

	sum := New(tiffslide.New()).Summarize(context.Background(), path, Options{})
	assert.False(t, sum.Success)
	assert.Equal(t, KindUnsupportedFormat, sum.ErrorKind)
	assert.Nil(t, sum.Preview)

	o := sniffingOpener{fakeOpener(slidetest.Size{W: 10, H: 10})}
	sum = New(o).Summarize(context.Background(), path, Options{})
	assert.Equal(t, KindUnsupportedFormat, sum.ErrorKind)
	assert.Empty(t, o.Opened(), "sniff rejects before any handle is opened")
}

func TestSummarize_UntiledTIFFIsUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.tif")
	require.NoError(t, slidetest.WriteStrippedTIFF(path, 100, 80))

	sum := New(tiffslide.New()).Summarize(context.Background(), path, Options{})
	assert.False(t, sum.Success)
	assert.Equal(t, KindUnsupportedFormat, sum.ErrorKind)
	assert.Contains(t, sum.Error, "tiled")
}

func TestSummarize_Corrupt(t *testing.T) {
	full, err := slidetest.PyramidTIFF(slidetest.StandardPyramid, slidetest.Options{})
	require.NoError(t, err)
	path := writeBytes(t, "truncated.svs", full[:len(full)/2])

	sum := New(tiffslide.New()).Summarize(context.Background(), path, Options{})
	assert.False(t, sum.Success)
	assert.Equal(t, KindCorruptFile, sum.ErrorKind)
	assert.Positive(t, sum.FileSizeBytes)
	assert.Empty(t, sum.Levels)
}

func TestSummarize_OpenErrors(t *testing.T) {
	path := writeBytes(t, "x.svs", []byte("data"))
	tests := []struct {
		err  error
		want Kind
	}{
		{slide.Unsupported(path, errors.New("nope")), KindUnsupportedFormat},
		{slide.Corrupt(path, errors.New("bad directory")), KindCorruptFile},
		{fmt.Errorf("open: %w", os.ErrNotExist), KindNotFound},
		{errors.New("anything else"), KindCorruptFile},
	}
	for _, tt := range tests {
		o := fakeOpener()
		o.OpenErr = tt.err
		sum := New(o).Summarize(context.Background(), path, Options{})
		assert.False(t, sum.Success)
		assert.Equal(t, tt.want, sum.ErrorKind, tt.err.Error())
	}
}

func TestSummarize_NoLevelsIsCorrupt(t *testing.T) {
	o := fakeOpener()
	sum := New(o).Summarize(context.Background(), writeBytes(t, "x.svs", []byte("data")), Options{})
	assert.Equal(t, KindCorruptFile, sum.ErrorKind)
	require.Len(t, o.Opened(), 1)
	assert.Equal(t, 1, o.Opened()[0].Closes())
}

func TestSummarize_PreviewFailureIsNonFatal(t *testing.T) {
	o := &slidetest.Opener{New: func() *slidetest.Fake {
		f := slidetest.NewFake(slidetest.StandardPyramid...)
		f.Props[slide.PropVendor] = "aperio"
		f.ReadErr = errors.New("unsupported tile compression 33003")
		return f
	}}
	sum := New(o).Summarize(context.Background(), writeBytes(t, "x.svs", []byte("data")), Options{PixelBudget: 1_000_000})

	assert.True(t, sum.Success)
	assert.Empty(t, sum.ErrorKind)
	assert.Nil(t, sum.Preview)
	assert.False(t, sum.HasPreview())
	assert.Contains(t, sum.PreviewError, string(KindPreviewGenerationFailed))
	assert.Contains(t, sum.PreviewError, "33003")
	assert.Equal(t, 4, sum.LevelCount)
	assert.Equal(t, 1, sum.ChosenLevel)
	assert.Equal(t, "aperio", sum.Format)
	assert.Equal(t, 1, o.Opened()[0].Closes())

	_, err := sum.EncodePreviewJPEG(90)
	assert.ErrorIs(t, err, ErrNoPreview)
}

func TestSummarize_PreviewPanicKeepsMetadata(t *testing.T) {
	o := &slidetest.Opener{New: func() *slidetest.Fake {
		f := slidetest.NewFake(slidetest.Size{W: 100, H: 100})
		f.PanicOnRead = true
		return f
	}}
	var sum Summary
	require.NotPanics(t, func() {
		sum = New(o).Summarize(context.Background(), writeBytes(t, "x.svs", []byte("data")), Options{})
	})
	assert.True(t, sum.Success)
	assert.Empty(t, sum.ErrorKind)
	assert.Contains(t, sum.PreviewError, string(KindPreviewGenerationFailed))
	assert.Contains(t, sum.PreviewError, "panic")
	assert.Equal(t, 1, sum.LevelCount)
	assert.Len(t, sum.Levels, 1)
	assert.Equal(t, 0, sum.ChosenLevel)
	assert.Nil(t, sum.Preview)
	assert.False(t, sum.HasPreview())
	assert.Equal(t, 1, o.Opened()[0].Closes())
}

func TestSummarize_OpenPanicIsRecovered(t *testing.T) {
	panicky := slide.OpenerFunc(func(string) (slide.Slide, error) {
		panic("decoder blew up")
	})
	var sum Summary
	require.NotPanics(t, func() {
		sum = New(panicky).Summarize(context.Background(), writeBytes(t, "x.svs", []byte("data")), Options{})
	})
	assert.False(t, sum.Success)
	assert.Equal(t, KindCorruptFile, sum.ErrorKind)
	assert.Contains(t, sum.Error, "decoder blew up")
	assert.Equal(t, -1, sum.ChosenLevel)
	assert.Empty(t, sum.Levels)
}

func TestSummarize_CloseErrorIsOnlyLogged(t *testing.T) {
	o := &slidetest.Opener{New: func() *slidetest.Fake {
		f := slidetest.NewFake(slidetest.Size{W: 100, H: 50})
		f.CloseErr = errors.New("close failed")
		return f
	}}
	sum := New(o).Summarize(context.Background(), writeBytes(t, "x.svs", []byte("data")), Options{})
	assert.True(t, sum.Success)
	assert.Equal(t, image.Rect(0, 0, 100, 50), sum.Preview.Bounds())
	assert.Equal(t, 1, o.Opened()[0].Closes())
}

func TestSummarize_Deadline(t *testing.T) {
	path := writeBytes(t, "x.svs", []byte("data"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := fakeOpener(slidetest.Size{W: 10, H: 10})
	sum := New(o).Summarize(ctx, path, Options{})
	assert.Equal(t, KindDeadlineExceeded, sum.ErrorKind)
	assert.Empty(t, o.Paths())

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	var opened *slidetest.Fake
	cancelling := slide.OpenerFunc(func(string) (slide.Slide, error) {
		cancel()
		opened = slidetest.NewFake(slidetest.Size{W: 10, H: 10})
		return opened, nil
	})
	sum = New(cancelling).Summarize(ctx, path, Options{})
	assert.False(t, sum.Success)
	assert.Equal(t, KindDeadlineExceeded, sum.ErrorKind)
	require.NotNil(t, opened)
	assert.Equal(t, 1, opened.Closes())
	assert.Zero(t, opened.Reads())
}

func TestSummarize_DisplayName(t *testing.T) {
	o := fakeOpener(slidetest.Size{W: 10, H: 10})
	sum := New(o).Summarize(context.Background(), writeBytes(t, "wsi-upload-123.svs", []byte("data")), Options{DisplayName: "biopsy 7.svs"})
	assert.Equal(t, "biopsy 7.svs", sum.Filename)
	assert.Equal(t, "biopsy 7_thumbnail.jpg", sum.PreviewFilename())
}

func TestSummary_EncodeAndJSON(t *testing.T) {
	o := fakeOpener(slidetest.Size{W: 1200, H: 600}, slidetest.Size{W: 600, H: 300})
	sum := New(o).Summarize(context.Background(), writeBytes(t, "case.ndpi", []byte("data")), Options{PreviewMaxSide: 400})
	require.True(t, sum.Success)

	b, err := sum.EncodePreviewJPEG(90)
	require.NoError(t, err)
	w, h, err := imagerender.GetImageDimensions(b)
	require.NoError(t, err)
	assert.Equal(t, 400, w)
	assert.Equal(t, 200, h)
	assert.Equal(t, "case_thumbnail.jpg", sum.PreviewFilename())

	raw, err := json.Marshal(sum)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, true, decoded["success"])
	assert.NotContains(t, decoded, "Preview")
	levels := decoded["levels"].([]any)
	require.Len(t, levels, 2)
	assert.EqualValues(t, 720_000, levels[0].(map[string]any)["total_pixels"])
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindEmptyFile, KindOf(fmt.Errorf("wrap: %w", newError(KindEmptyFile, "p", nil))))
	assert.Equal(t, KindDeadlineExceeded, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindUnsupportedFormat, KindOf(slide.Unsupported("p", nil)))
	assert.Equal(t, KindNotFound, KindOf(os.ErrNotExist))
	assert.Equal(t, KindCorruptFile, KindOf(errors.New("x")))

	var e *Error
	require.True(t, errors.As(newError(KindCorruptFile, "p", os.ErrClosed), &e))
	assert.ErrorIs(t, e, os.ErrClosed)
}
