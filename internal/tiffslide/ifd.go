package tiffslide

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// TIFF tags read by the backend.
const (
	tagNewSubfileType   = 254
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagMake             = 271
	tagModel            = 272
	tagSamplesPerPixel  = 277
	tagXResolution      = 282
	tagYResolution      = 283
	tagPlanarConfig     = 284
	tagResolutionUnit   = 296
	tagSoftware         = 305
	tagDateTime         = 306
	tagPredictor        = 317
	tagTileWidth        = 322
	tagTileLength       = 323
	tagTileOffsets      = 324
	tagTileByteCounts   = 325
	tagJPEGTables       = 347
)

const (
	maxIFDs        = 4096
	maxEntries     = 4096
	maxFieldBytes  = 256 << 20
	classicVersion = 42
	bigVersion     = 43
)

var errNotTIFF = errors.New("not a TIFF file")

// field is one decoded directory entry with its value bytes loaded.
type field struct {
	typ   uint16
	count uint64
	data  []byte
}

var typeSize = map[uint16]uint64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8, 13: 4, 16: 8, 17: 8, 18: 8,
}

type directory struct {
	offset uint64
	fields map[uint16]field
}

type header struct {
	order binary.ByteOrder
	big   bool
	first uint64
}

func readHeader(r io.ReaderAt, size int64) (header, error) {
	var b [16]byte
	if size < 8 {
		return header{}, errNotTIFF
	}
	if _, err := r.ReadAt(b[:8], 0); err != nil {
		return header{}, errNotTIFF
	}
	var h header
	switch string(b[:2]) {
	case "II":
		h.order = binary.LittleEndian
	case "MM":
		h.order = binary.BigEndian
	default:
		return header{}, errNotTIFF
	}
	switch h.order.Uint16(b[2:4]) {
	case classicVersion:
		h.first = uint64(h.order.Uint32(b[4:8]))
	case bigVersion:
		h.big = true
		if size < 16 {
			return header{}, fmt.Errorf("truncated BigTIFF header")
		}
		if _, err := r.ReadAt(b[:16], 0); err != nil {
			return header{}, fmt.Errorf("read BigTIFF header: %w", err)
		}
		if h.order.Uint16(b[4:6]) != 8 {
			return header{}, fmt.Errorf("unexpected BigTIFF offset size %d", h.order.Uint16(b[4:6]))
		}
		h.first = h.order.Uint64(b[8:16])
	default:
		return header{}, errNotTIFF
	}
	return h, nil
}

// readDirectories walks the IFD chain. A repeated offset is treated as corruption.
func readDirectories(r io.ReaderAt, size int64, h header) ([]directory, error) {
	seen := map[uint64]bool{}
	var dirs []directory
	off := h.first
	for off != 0 {
		if seen[off] {
			return nil, fmt.Errorf("IFD loop at offset %d", off)
		}
		if len(dirs) >= maxIFDs {
			return nil, fmt.Errorf("more than %d IFDs", maxIFDs)
		}
		seen[off] = true
		d, next, err := readDirectory(r, size, h, off)
		if err != nil {
			return nil, fmt.Errorf("IFD %d: %w", len(dirs), err)
		}
		dirs = append(dirs, d)
		off = next
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no image directories")
	}
	return dirs, nil
}

func readDirectory(r io.ReaderAt, size int64, h header, off uint64) (directory, uint64, error) {
	countSize, entrySize, inline := uint64(2), uint64(12), uint64(4)
	if h.big {
		countSize, entrySize, inline = 8, 20, 8
	}
	if off+countSize > uint64(size) {
		return directory{}, 0, fmt.Errorf("offset %d past end of file", off)
	}
	cb := make([]byte, countSize)
	if _, err := r.ReadAt(cb, int64(off)); err != nil {
		return directory{}, 0, err
	}
	var n uint64
	if h.big {
		n = h.order.Uint64(cb)
	} else {
		n = uint64(h.order.Uint16(cb))
	}
	if n == 0 || n > maxEntries {
		return directory{}, 0, fmt.Errorf("implausible entry count %d", n)
	}
	body := make([]byte, n*entrySize+inline)
	if off+countSize+uint64(len(body)) > uint64(size) {
		return directory{}, 0, fmt.Errorf("directory at %d truncated", off)
	}
	if _, err := r.ReadAt(body, int64(off+countSize)); err != nil {
		return directory{}, 0, err
	}

	d := directory{offset: off, fields: make(map[uint16]field, n)}
	for i := uint64(0); i < n; i++ {
		e := body[i*entrySize : (i+1)*entrySize]
		tag := h.order.Uint16(e[0:2])
		typ := h.order.Uint16(e[2:4])
		var count uint64
		var val []byte
		if h.big {
			count = h.order.Uint64(e[4:12])
			val = e[12:20]
		} else {
			count = uint64(h.order.Uint32(e[4:8]))
			val = e[8:12]
		}
		sz, ok := typeSize[typ]
		if !ok {
			continue
		}
		if count > maxFieldBytes/sz {
			return directory{}, 0, fmt.Errorf("tag %d: count %d too large", tag, count)
		}
		total := sz * count
		var data []byte
		if total <= inline {
			data = append([]byte(nil), val[:total]...)
		} else {
			var at uint64
			if h.big {
				at = h.order.Uint64(val)
			} else {
				at = uint64(h.order.Uint32(val))
			}
			if at+total > uint64(size) {
				return directory{}, 0, fmt.Errorf("tag %d: value past end of file", tag)
			}
			data = make([]byte, total)
			if _, err := r.ReadAt(data, int64(at)); err != nil {
				return directory{}, 0, fmt.Errorf("tag %d: %w", tag, err)
			}
		}
		d.fields[tag] = field{typ: typ, count: count, data: data}
	}

	tail := body[n*entrySize:]
	var next uint64
	if h.big {
		next = h.order.Uint64(tail)
	} else {
		next = uint64(h.order.Uint32(tail))
	}
	return d, next, nil
}

// uints returns the integer values of an unsigned field.
func (d directory) uints(order binary.ByteOrder, tag uint16) []uint64 {
	f, ok := d.fields[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, f.count)
	for i := uint64(0); i < f.count; i++ {
		switch f.typ {
		case 1, 7:
			out = append(out, uint64(f.data[i]))
		case 3:
			out = append(out, uint64(order.Uint16(f.data[2*i:])))
		case 4, 13:
			out = append(out, uint64(order.Uint32(f.data[4*i:])))
		case 16, 18:
			out = append(out, order.Uint64(f.data[8*i:]))
		default:
			return nil
		}
	}
	return out
}

// value returns the first value of tag or def when absent.
func (d directory) value(order binary.ByteOrder, tag uint16, def uint64) uint64 {
	if v := d.uints(order, tag); len(v) > 0 {
		return v[0]
	}
	return def
}

func (d directory) has(tag uint16) bool {
	_, ok := d.fields[tag]
	return ok
}

// ascii returns a string field with trailing NULs stripped.
func (d directory) ascii(tag uint16) (string, bool) {
	f, ok := d.fields[tag]
	if !ok || (f.typ != 2 && f.typ != 7 && f.typ != 1) {
		return "", false
	}
	b := f.data
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b), true
}

// rational returns the first RATIONAL value of tag.
func (d directory) rational(order binary.ByteOrder, tag uint16) (float64, bool) {
	f, ok := d.fields[tag]
	if !ok || f.count == 0 {
		return 0, false
	}
	switch f.typ {
	case 5:
		num, den := order.Uint32(f.data), order.Uint32(f.data[4:])
		if den == 0 {
			return 0, false
		}
		return float64(num) / float64(den), true
	case 11:
		return float64(math.Float32frombits(order.Uint32(f.data))), true
	case 12:
		return math.Float64frombits(order.Uint64(f.data)), true
	}
	if v := d.uints(order, tag); len(v) > 0 {
		return float64(v[0]), true
	}
	return 0, false
}

func (d directory) bytes(tag uint16) []byte {
	return d.fields[tag].data
}
