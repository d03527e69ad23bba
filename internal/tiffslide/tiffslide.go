// Package tiffslide reads tiled pyramidal TIFF slides (generic tiled TIFF and
// Aperio SVS) without native dependencies.
package tiffslide

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"os"
	"sort"

	"github.com/local/pathdesk/internal/slide"
)

const (
	maxTileBytes     = 64 << 20
	maxRegionPixels  = 1 << 28
	maxTileDimension = 1 << 14
)

// Opener opens slides with the pure-Go TIFF reader.
type Opener struct{}

// New returns the TIFF opener.
func New() Opener { return Opener{} }

// RequiresSniff reports that only files classified as TIFF containers should
// reach this backend.
func (Opener) RequiresSniff() bool { return true }

func (Opener) Open(path string) (slide.Slide, error) { return Open(path) }

type level struct {
	width, height int
	tileW, tileH  int
	across, down  int
	offsets       []uint64
	counts        []uint64
	compression   uint64
	photometric   uint64
	predictor     uint64
	spp           int
	bits          []uint64
	planar        uint64
	jpegTables    []byte
}

// Slide is an opened pyramidal TIFF.
type Slide struct {
	f      *os.File
	size   int64
	order  binary.ByteOrder
	levels []*level
	ds     []float64
	props  map[string]string
}

// Open parses the directory chain of path. Files that are not TIFF, or TIFFs
// without tiled directories, are reported as unsupported; structural damage
// is reported as corrupt.
func Open(path string) (*Slide, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := open(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func open(f *os.File, path string) (*Slide, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()

	h, err := readHeader(f, size)
	if err != nil {
		if errors.Is(err, errNotTIFF) {
			return nil, slide.Unsupported(path, err)
		}
		return nil, slide.Corrupt(path, err)
	}
	dirs, err := readDirectories(f, size, h)
	if err != nil {
		return nil, slide.Corrupt(path, err)
	}

	var levels []*level
	for i, d := range dirs {
		if !d.has(tagTileWidth) {
			continue
		}
		l, err := newLevel(h.order, d)
		if err != nil {
			return nil, slide.Corrupt(path, fmt.Errorf("IFD %d: %w", i, err))
		}
		levels = append(levels, l)
	}
	if len(levels) == 0 {
		return nil, slide.Unsupported(path, errors.New("not a tiled pyramidal TIFF"))
	}
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].width > levels[j].width })

	ds := make([]float64, len(levels))
	w0, h0 := float64(levels[0].width), float64(levels[0].height)
	for i, l := range levels {
		ds[i] = (w0/float64(l.width) + h0/float64(l.height)) / 2
	}

	return &Slide{
		f:      f,
		size:   size,
		order:  h.order,
		levels: levels,
		ds:     ds,
		props:  properties(h.order, dirs[0]),
	}, nil
}

func newLevel(order binary.ByteOrder, d directory) (*level, error) {
	l := &level{
		width:       int(d.value(order, tagImageWidth, 0)),
		height:      int(d.value(order, tagImageLength, 0)),
		tileW:       int(d.value(order, tagTileWidth, 0)),
		tileH:       int(d.value(order, tagTileLength, 0)),
		offsets:     d.uints(order, tagTileOffsets),
		counts:      d.uints(order, tagTileByteCounts),
		compression: d.value(order, tagCompression, compressionNone),
		photometric: d.value(order, tagPhotometric, photometricBlackIsZero),
		predictor:   d.value(order, tagPredictor, 1),
		spp:         int(d.value(order, tagSamplesPerPixel, 1)),
		bits:        d.uints(order, tagBitsPerSample),
		planar:      d.value(order, tagPlanarConfig, 1),
		jpegTables:  d.bytes(tagJPEGTables),
	}
	if l.width <= 0 || l.height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", l.width, l.height)
	}
	if l.tileW <= 0 || l.tileH <= 0 || l.tileW > maxTileDimension || l.tileH > maxTileDimension {
		return nil, fmt.Errorf("invalid tile size %dx%d", l.tileW, l.tileH)
	}
	l.across = (l.width + l.tileW - 1) / l.tileW
	l.down = (l.height + l.tileH - 1) / l.tileH
	want := l.across * l.down
	if l.planar == 2 {
		want *= l.spp
	}
	if len(l.offsets) < want || len(l.counts) < want {
		return nil, fmt.Errorf("have %d tile offsets and %d byte counts, want %d", len(l.offsets), len(l.counts), want)
	}
	return l, nil
}

// readable reports why the level's pixels cannot be decoded, if they cannot.
func (l *level) readable() error {
	if l.planar != 1 {
		return fmt.Errorf("planar configuration %d not supported", l.planar)
	}
	for _, b := range l.bits {
		if b != 8 {
			return fmt.Errorf("%d bits per sample not supported", b)
		}
	}
	if l.compression == compressionJPEG {
		return nil
	}
	if l.spp != 1 && l.spp != 3 && l.spp != 4 {
		return fmt.Errorf("%d samples per pixel not supported", l.spp)
	}
	if l.photometric == photometricYCbCr {
		return errors.New("uncompressed YCbCr not supported")
	}
	return nil
}

func (s *Slide) LevelCount() int { return len(s.levels) }

func (s *Slide) LevelDimensions(lv int) (int, int) {
	if lv < 0 || lv >= len(s.levels) {
		return 0, 0
	}
	return s.levels[lv].width, s.levels[lv].height
}

func (s *Slide) LevelDownsample(lv int) float64 {
	if lv < 0 || lv >= len(s.ds) {
		return 0
	}
	return s.ds[lv]
}

func (s *Slide) Property(key string) (string, bool) {
	v, ok := s.props[key]
	return v, ok
}

// PropertyNames lists every property the file carries.
func (s *Slide) PropertyNames() []string {
	out := make([]string, 0, len(s.props))
	for k := range s.props {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ReadRegion reads a w×h region of level lv whose top-left corner is (x, y)
// in level-0 coordinates. Only tiles that intersect the region are decoded.
func (s *Slide) ReadRegion(x, y, lv, w, h int) (*image.RGBA, error) {
	if s.f == nil {
		return nil, errors.New("slide is closed")
	}
	if lv < 0 || lv >= len(s.levels) {
		return nil, fmt.Errorf("level %d out of range [0,%d)", lv, len(s.levels))
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid region size %dx%d", w, h)
	}
	if int64(w)*int64(h) > maxRegionPixels {
		return nil, fmt.Errorf("region %dx%d exceeds %d pixels", w, h, maxRegionPixels)
	}
	l := s.levels[lv]
	if err := l.readable(); err != nil {
		return nil, err
	}

	lx := int(float64(x) / s.ds[lv])
	ly := int(float64(y) / s.ds[lv])
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	want := image.Rect(lx, ly, lx+w, ly+h).Intersect(image.Rect(0, 0, l.width, l.height))
	if want.Empty() {
		return dst, nil
	}

	for ty := want.Min.Y / l.tileH; ty <= (want.Max.Y-1)/l.tileH; ty++ {
		for tx := want.Min.X / l.tileW; tx <= (want.Max.X-1)/l.tileW; tx++ {
			tile, err := s.readTile(l, tx, ty)
			if err != nil {
				return nil, fmt.Errorf("tile (%d,%d) of level %d: %w", tx, ty, lv, err)
			}
			origin := image.Pt(tx*l.tileW, ty*l.tileH)
			r := image.Rect(0, 0, l.tileW, l.tileH).Add(origin).Intersect(want)
			for py := r.Min.Y; py < r.Max.Y; py++ {
				so := tile.PixOffset(r.Min.X-origin.X, py-origin.Y)
				do := dst.PixOffset(r.Min.X-lx, py-ly)
				copy(dst.Pix[do:do+4*r.Dx()], tile.Pix[so:so+4*r.Dx()])
			}
		}
	}
	return dst, nil
}

func (s *Slide) readTile(l *level, tx, ty int) (*image.RGBA, error) {
	i := ty*l.across + tx
	off, n := l.offsets[i], l.counts[i]
	if n == 0 {
		return image.NewRGBA(image.Rect(0, 0, l.tileW, l.tileH)), nil
	}
	if n > maxTileBytes || off+n > uint64(s.size) {
		return nil, fmt.Errorf("tile data [%d,+%d) outside file of %d bytes", off, n, s.size)
	}
	raw := make([]byte, n)
	if _, err := s.f.ReadAt(raw, int64(off)); err != nil {
		return nil, err
	}
	return l.decodeTile(raw)
}

// Close releases the file handle. Closing twice is a no-op.
func (s *Slide) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
