// Package slidetest builds slide fixtures for tests: synthetic tiled pyramidal
// TIFF files and in-memory fake slides.
package slidetest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	"golang.org/x/image/tiff"
)

// Compression codes written by WritePyramid.
const (
	CompressionNone    = 1
	CompressionJPEG    = 7
	CompressionDeflate = 8
)

// Size is one pyramid level.
type Size struct{ W, H int }

// Options controls the generated file.
type Options struct {
	TileSize    int // default 256
	Compression int // CompressionNone, CompressionJPEG or CompressionDeflate (default)
	Description string
	// XResolution in pixels per centimetre; 0 omits the resolution tags.
	XResolution float64
	YResolution float64
	// Thumbnail adds a stripped, untiled IFD after level 0, as Aperio does.
	Thumbnail bool
	// Pattern returns the level-0 color at (x, y). Defaults to Checker.
	Pattern func(x, y int) color.RGBA
}

// Checker is a deterministic 64px block pattern that compresses well and
// survives downscaling with visible structure.
func Checker(x, y int) color.RGBA {
	bx, by := x/64, y/64
	return color.RGBA{R: uint8(bx * 37 % 256), G: uint8(by * 53 % 256), B: uint8((bx + by) % 2 * 200), A: 255}
}

// StandardPyramid is the four-level pyramid with pixel counts
// 4,000,000 / 1,000,000 / 250,000 / 62,500.
var StandardPyramid = []Size{{2000, 2000}, {1000, 1000}, {500, 500}, {250, 250}}

const (
	tNewSubfileType  = 254
	tImageWidth      = 256
	tImageLength     = 257
	tBitsPerSample   = 258
	tCompression     = 259
	tPhotometric     = 262
	tImageDesc       = 270
	tStripOffsets    = 273
	tSamplesPerPixel = 277
	tRowsPerStrip    = 278
	tStripByteCounts = 279
	tXResolution     = 282
	tYResolution     = 283
	tPlanarConfig    = 284
	tResolutionUnit  = 296
	tTileWidth       = 322
	tTileLength      = 323
	tTileOffsets     = 324
	tTileByteCounts  = 325

	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
)

type entry struct {
	tag, typ uint16
	count    uint32
	data     []byte
}

type ifd []entry

func (d *ifd) short(tag uint16, vs ...uint16) {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	*d = append(*d, entry{tag, typeShort, uint32(len(vs)), b})
}

func (d *ifd) long(tag uint16, vs ...uint32) {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	*d = append(*d, entry{tag, typeLong, uint32(len(vs)), b})
}

func (d *ifd) ascii(tag uint16, s string) {
	b := append([]byte(s), 0)
	*d = append(*d, entry{tag, typeASCII, uint32(len(b)), b})
}

func (d *ifd) rational(tag uint16, v float64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b, uint32(v*1000))
	binary.LittleEndian.PutUint32(b[4:], 1000)
	*d = append(*d, entry{tag, typeRational, 1, b})
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) align() {
	if w.buf.Len()%2 == 1 {
		w.buf.WriteByte(0)
	}
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// writeIFD serialises d at the current offset and returns the position of its
// next-IFD pointer so the caller can patch it.
func (w *writer) writeIFD(d ifd) int {
	w.align()
	start := w.buf.Len()
	extra := start + 2 + 12*len(d) + 4
	var blobs [][]byte
	w.u16(uint16(len(d)))
	for _, e := range d {
		w.u16(e.tag)
		w.u16(e.typ)
		w.u32(e.count)
		if len(e.data) <= 4 {
			var v [4]byte
			copy(v[:], e.data)
			w.buf.Write(v[:])
			continue
		}
		w.u32(uint32(extra))
		blobs = append(blobs, e.data)
		extra += len(e.data) + len(e.data)%2
	}
	next := w.buf.Len()
	w.u32(0)
	for _, b := range blobs {
		w.buf.Write(b)
		w.align()
	}
	return next
}

func (w *writer) patch(at int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf.Bytes()[at:], v)
}

func encodeBlock(raw []byte, ts, compression int) ([]byte, error) {
	switch compression {
	case CompressionDeflate:
	case CompressionJPEG:
		img := image.NewRGBA(image.Rect(0, 0, ts, ts))
		for i := 0; i < ts*ts; i++ {
			copy(img.Pix[4*i:4*i+3], raw[3*i:3*i+3])
			img.Pix[4*i+3] = 255
		}
		var b bytes.Buffer
		if err := jpeg.Encode(&b, img, &jpeg.Options{Quality: 95}); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	default:
		return raw, nil
	}
	var b bytes.Buffer
	zw := zlib.NewWriter(&b)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// levelPixel samples the level-0 pattern for a pixel of a reduced level.
func levelPixel(opts Options, base, lvl Size, x, y int) color.RGBA {
	fx := x * base.W / lvl.W
	fy := y * base.H / lvl.H
	return opts.Pattern(fx, fy)
}

// PyramidTIFF renders a tiled pyramidal TIFF into memory. Tiles past the
// image edge are padded with zeros, as the TIFF spec requires full tiles.
func PyramidTIFF(levels []Size, opts Options) ([]byte, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("no levels")
	}
	if opts.TileSize <= 0 {
		opts.TileSize = 256
	}
	if opts.Compression == 0 {
		opts.Compression = CompressionDeflate
	}
	if opts.Pattern == nil {
		opts.Pattern = Checker
	}
	ts := opts.TileSize
	base := levels[0]

	w := &writer{}
	w.buf.WriteString("II")
	w.u16(42)
	firstPtr := w.buf.Len()
	w.u32(0)
	prevPtr := firstPtr

	for li, lvl := range levels {
		across := (lvl.W + ts - 1) / ts
		down := (lvl.H + ts - 1) / ts
		offsets := make([]uint32, 0, across*down)
		counts := make([]uint32, 0, across*down)
		raw := make([]byte, ts*ts*3)
		for ty := 0; ty < down; ty++ {
			for tx := 0; tx < across; tx++ {
				for i := range raw {
					raw[i] = 0
				}
				for y := 0; y < ts; y++ {
					py := ty*ts + y
					if py >= lvl.H {
						break
					}
					for x := 0; x < ts; x++ {
						px := tx*ts + x
						if px >= lvl.W {
							break
						}
						c := levelPixel(opts, base, lvl, px, py)
						o := (y*ts + x) * 3
						raw[o], raw[o+1], raw[o+2] = c.R, c.G, c.B
					}
				}
				blk, err := encodeBlock(raw, ts, opts.Compression)
				if err != nil {
					return nil, err
				}
				w.align()
				offsets = append(offsets, uint32(w.buf.Len()))
				counts = append(counts, uint32(len(blk)))
				w.buf.Write(blk)
			}
		}

		var d ifd
		sub := uint32(0)
		if li > 0 {
			sub = 1
		}
		d.long(tNewSubfileType, sub)
		d.long(tImageWidth, uint32(lvl.W))
		d.long(tImageLength, uint32(lvl.H))
		d.short(tBitsPerSample, 8, 8, 8)
		d.short(tCompression, uint16(opts.Compression))
		if opts.Compression == CompressionJPEG {
			d.short(tPhotometric, 6)
		} else {
			d.short(tPhotometric, 2)
		}
		if li == 0 && opts.Description != "" {
			d.ascii(tImageDesc, opts.Description)
		}
		d.short(tSamplesPerPixel, 3)
		if opts.XResolution > 0 {
			d.rational(tXResolution, opts.XResolution)
			d.rational(tYResolution, opts.YResolution)
		}
		d.short(tPlanarConfig, 1)
		if opts.XResolution > 0 {
			d.short(tResolutionUnit, 3)
		}
		d.long(tTileWidth, uint32(ts))
		d.long(tTileLength, uint32(ts))
		d.long(tTileOffsets, offsets...)
		d.long(tTileByteCounts, counts...)

		w.align()
		w.patch(prevPtr, uint32(w.buf.Len()))
		prevPtr = w.writeIFD(d)

		if li == 0 && opts.Thumbnail {
			ptr, err := w.thumbnail(opts, base)
			if err != nil {
				return nil, err
			}
			w.patch(prevPtr, ptr.start)
			prevPtr = ptr.next
		}
	}
	return w.buf.Bytes(), nil
}

type ifdPos struct {
	start uint32
	next  int
}

// thumbnail writes a 64px-wide stripped IFD.
func (w *writer) thumbnail(opts Options, base Size) (ifdPos, error) {
	tw := 64
	th := base.H * tw / base.W
	if th < 1 {
		th = 1
	}
	raw := make([]byte, tw*th*3)
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			c := levelPixel(opts, base, Size{tw, th}, x, y)
			o := (y*tw + x) * 3
			raw[o], raw[o+1], raw[o+2] = c.R, c.G, c.B
		}
	}
	w.align()
	off := uint32(w.buf.Len())
	w.buf.Write(raw)

	var d ifd
	d.long(tNewSubfileType, 1)
	d.long(tImageWidth, uint32(tw))
	d.long(tImageLength, uint32(th))
	d.short(tBitsPerSample, 8, 8, 8)
	d.short(tCompression, CompressionNone)
	d.short(tPhotometric, 2)
	d.long(tStripOffsets, off)
	d.short(tSamplesPerPixel, 3)
	d.long(tRowsPerStrip, uint32(th))
	d.long(tStripByteCounts, uint32(len(raw)))
	d.short(tPlanarConfig, 1)

	w.align()
	start := uint32(w.buf.Len())
	next := w.writeIFD(d)
	return ifdPos{start: start, next: next}, nil
}

// WritePyramid writes PyramidTIFF output to path.
func WritePyramid(path string, levels []Size, opts Options) error {
	b, err := PyramidTIFF(levels, opts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// WriteStrippedTIFF writes an ordinary single-image, strip-organised TIFF.
func WriteStrippedTIFF(path string, w, h int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tiff.Encode(f, Solid(w, h, color.RGBA{R: 10, G: 200, B: 30, A: 255}), &tiff.Options{Compression: tiff.Deflate}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Solid returns an RGBA image of one color, handy for fake slide regions.
func Solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}
