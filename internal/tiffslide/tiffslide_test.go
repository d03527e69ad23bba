package tiffslide

import (
	"encoding/binary"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pathdesk/internal/slide"
	"github.com/local/pathdesk/internal/slidetest"
)

const aperioDescription = "Aperio Image Library v12.0.5\r\n2000x2000 (256x256) JPEG/RGB Q=70|AppMag = 20|StripeWidth = 1000|MPP = 0.4990|ScanScope ID = SS1234"

func writePyramid(t *testing.T, opts slidetest.Options) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slide.svs")
	require.NoError(t, slidetest.WritePyramid(path, slidetest.StandardPyramid, opts))
	return path
}

func openSlide(t *testing.T, path string) *Slide {
	t.Helper()
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func assertPixel(t *testing.T, want color.RGBA, got color.Color, msg string) {
	t.Helper()
	assert.Equal(t, want, color.RGBAModel.Convert(got), msg)
}

func TestOpen_LevelTable(t *testing.T) {
	s := openSlide(t, writePyramid(t, slidetest.Options{Thumbnail: true}))

	require.Equal(t, 4, s.LevelCount(), "stripped thumbnail is not a level")
	wantDS := []float64{1, 2, 4, 8}
	for i, sz := range slidetest.StandardPyramid {
		w, h := s.LevelDimensions(i)
		assert.Equal(t, sz.W, w)
		assert.Equal(t, sz.H, h)
		assert.InDelta(t, wantDS[i], s.LevelDownsample(i), 1e-9)
	}
	w, h := s.LevelDimensions(9)
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func TestOpen_GenericProperties(t *testing.T) {
	s := openSlide(t, writePyramid(t, slidetest.Options{XResolution: 40000, YResolution: 20000, Description: "synthetic"}))

	vendor, ok := s.Property(slide.PropVendor)
	require.True(t, ok)
	assert.Equal(t, "generic-tiff", vendor)

	mppX, _ := s.Property(slide.PropMPPX)
	mppY, _ := s.Property(slide.PropMPPY)
	assert.Equal(t, "0.25", mppX)
	assert.Equal(t, "0.5", mppY)

	comment, _ := s.Property(slide.PropComment)
	assert.Equal(t, "synthetic", comment)
	unit, _ := s.Property("tiff.ResolutionUnit")
	assert.Equal(t, "centimeter", unit)

	_, ok = s.Property(slide.PropObjectivePower)
	assert.False(t, ok)
}

func TestOpen_AperioProperties(t *testing.T) {
	s := openSlide(t, writePyramid(t, slidetest.Options{Description: aperioDescription}))

	got := slide.Properties(s, slide.SummaryProperties)
	assert.Equal(t, "aperio", got[slide.PropVendor])
	assert.Equal(t, "0.4990", got[slide.PropMPPX])
	assert.Equal(t, "0.4990", got[slide.PropMPPY])
	assert.Equal(t, "20", got[slide.PropObjectivePower])
	assert.Equal(t, aperioDescription, got[slide.PropImageDescription])
	assert.Equal(t, aperioDescription, got[slide.PropComment])

	id, ok := s.Property("aperio.ScanScope ID")
	assert.True(t, ok)
	assert.Equal(t, "SS1234", id)
	assert.Contains(t, s.PropertyNames(), "aperio.StripeWidth")
}

func TestReadRegion_Pixels(t *testing.T) {
	for name, compression := range map[string]int{
		"none":    slidetest.CompressionNone,
		"deflate": slidetest.CompressionDeflate,
	} {
		t.Run(name, func(t *testing.T) {
			s := openSlide(t, writePyramid(t, slidetest.Options{Compression: compression}))

			img, err := s.ReadRegion(0, 0, 2, 500, 500)
			require.NoError(t, err)
			assert.Equal(t, 500, img.Bounds().Dx())
			assertPixel(t, slidetest.Checker(0, 0), img.At(0, 0), "origin")
			assertPixel(t, slidetest.Checker(400, 120), img.At(100, 30), "level 2 maps 4x")
			assertPixel(t, slidetest.Checker(1996, 1996), img.At(499, 499), "last pixel")

			img, err = s.ReadRegion(300, 10, 0, 20, 300)
			require.NoError(t, err)
			assertPixel(t, slidetest.Checker(300, 10), img.At(0, 0), "offset origin")
			assertPixel(t, slidetest.Checker(319, 300), img.At(19, 290), "crosses tile row")
		})
	}
}

func TestReadRegion_JPEGTiles(t *testing.T) {
	want := color.RGBA{R: 180, G: 90, B: 140, A: 255}
	s := openSlide(t, writePyramid(t, slidetest.Options{
		Compression: slidetest.CompressionJPEG,
		Pattern:     func(x, y int) color.RGBA { return want },
	}))

	img, err := s.ReadRegion(0, 0, 3, 250, 250)
	require.NoError(t, err)
	got := img.RGBAAt(32, 32)
	assert.InDelta(t, want.R, got.R, 12)
	assert.InDelta(t, want.G, got.G, 12)
	assert.InDelta(t, want.B, got.B, 12)
	assert.Equal(t, uint8(255), got.A)
}

func TestReadRegion_OutsideLevelIsTransparent(t *testing.T) {
	s := openSlide(t, writePyramid(t, slidetest.Options{}))

	img, err := s.ReadRegion(0, 0, 3, 300, 300)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), img.RGBAAt(10, 10).A)
	assert.Equal(t, color.RGBA{}, img.RGBAAt(260, 10))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(10, 280))
}

func TestReadRegion_Errors(t *testing.T) {
	s := openSlide(t, writePyramid(t, slidetest.Options{}))

	_, err := s.ReadRegion(0, 0, 7, 10, 10)
	assert.Error(t, err)
	_, err = s.ReadRegion(0, 0, 0, 0, 10)
	assert.Error(t, err)
	_, err = s.ReadRegion(0, 0, 0, 1<<15, 1<<15)
	assert.Error(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.ReadRegion(0, 0, 0, 10, 10)
	assert.Error(t, err)
}

func TestOpen_Unsupported(t *testing.T) {
	dir := t.TempDir()

	jpg := filepath.Join(dir, "photo.jpg")
	require.NoError(t, slidetest.WriteJPEG(jpg, 64, 48))
	_, err := Open(jpg)
	assert.True(t, slide.IsUnsupported(err), "jpeg: %v", err)

	stripped := filepath.Join(dir, "flat.tif")
	require.NoError(t, slidetest.WriteStrippedTIFF(stripped, 64, 48))
	_, err = Open(stripped)
	assert.True(t, slide.IsUnsupported(err), "stripped: %v", err)

	tiny := filepath.Join(dir, "tiny.svs")
	require.NoError(t, os.WriteFile(tiny, []byte("II"), 0o644))
	_, err = Open(tiny)
	assert.True(t, slide.IsUnsupported(err))
}

func TestOpen_Corrupt(t *testing.T) {
	dir := t.TempDir()

	dangling := filepath.Join(dir, "dangling.svs")
	require.NoError(t, os.WriteFile(dangling, []byte{'I', 'I', 42, 0, 0xff, 0xff, 0xff, 0x00}, 0o644))
	_, err := Open(dangling)
	assert.True(t, slide.IsCorrupt(err), "dangling: %v", err)

	// One entry whose next-IFD pointer refers back to itself.
	loop := []byte{'I', 'I', 42, 0, 8, 0, 0, 0, 1, 0}
	loop = binary.LittleEndian.AppendUint16(loop, 256)
	loop = binary.LittleEndian.AppendUint16(loop, 3)
	loop = binary.LittleEndian.AppendUint32(loop, 1)
	loop = binary.LittleEndian.AppendUint32(loop, 10)
	loop = binary.LittleEndian.AppendUint32(loop, 8)
	loopPath := filepath.Join(dir, "loop.svs")
	require.NoError(t, os.WriteFile(loopPath, loop, 0o644))
	_, err = Open(loopPath)
	assert.True(t, slide.IsCorrupt(err), "loop: %v", err)

	full, err := slidetest.PyramidTIFF(slidetest.StandardPyramid, slidetest.Options{})
	require.NoError(t, err)
	truncated := filepath.Join(dir, "truncated.svs")
	require.NoError(t, os.WriteFile(truncated, full[:len(full)/2], 0o644))
	_, err = Open(truncated)
	assert.True(t, slide.IsCorrupt(err), "truncated: %v", err)
}

func TestOpen_BigTIFF(t *testing.T) {
	const side = 16
	le := binary.LittleEndian
	b := []byte{'I', 'I', 43, 0, 8, 0, 0, 0}
	tileAt := uint64(16)
	ifdAt := tileAt + side*side*3
	b = le.AppendUint64(b, ifdAt)
	for i := 0; i < side*side; i++ {
		b = append(b, 250, 20, 40)
	}

	type e struct {
		tag, typ uint16
		val      uint64
		count    uint64
	}
	entries := []e{
		{256, 4, side, 1}, {257, 4, side, 1}, {259, 3, 1, 1}, {262, 3, 2, 1}, {277, 3, 3, 1},
		{322, 4, side, 1}, {323, 4, side, 1}, {324, 16, tileAt, 1}, {325, 16, side * side * 3, 1},
	}
	b = le.AppendUint64(b, uint64(len(entries)))
	for _, en := range entries {
		b = le.AppendUint16(b, en.tag)
		b = le.AppendUint16(b, en.typ)
		b = le.AppendUint64(b, en.count)
		b = le.AppendUint64(b, en.val)
	}
	b = le.AppendUint64(b, 0)

	path := filepath.Join(t.TempDir(), "big.tif")
	require.NoError(t, os.WriteFile(path, b, 0o644))

	s := openSlide(t, path)
	require.Equal(t, 1, s.LevelCount())
	img, err := s.ReadRegion(0, 0, 0, side, side)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 250, G: 20, B: 40, A: 255}, img.RGBAAt(5, 5))
}

func TestOpener_ImplementsSniffer(t *testing.T) {
	var o slide.Opener = New()
	sn, ok := o.(slide.Sniffer)
	require.True(t, ok)
	assert.True(t, sn.RequiresSniff())
}
