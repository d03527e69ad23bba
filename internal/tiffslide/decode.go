package tiffslide

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff/lzw"
)

// Compression schemes.
const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionJPEG         = 7
	compressionDeflate      = 8
	compressionAdobeDeflate = 32946
)

const (
	photometricWhiteIsZero = 0
	photometricBlackIsZero = 1
	photometricRGB         = 2
	photometricYCbCr       = 6

	predictorHorizontal = 2
)

// CodecError is returned by ReadRegion for tiles the backend cannot decode.
type CodecError struct {
	Compression uint64
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("unsupported tile compression %d", e.Compression)
}

// decodeTile turns one stored tile into a tw×th RGBA raster.
func (l *level) decodeTile(raw []byte) (*image.RGBA, error) {
	switch l.compression {
	case compressionJPEG:
		return l.decodeJPEGTile(raw)
	case compressionNone, compressionLZW, compressionDeflate, compressionAdobeDeflate:
	default:
		return nil, &CodecError{Compression: l.compression}
	}

	buf, err := inflate(l.compression, raw)
	if err != nil {
		return nil, err
	}
	rowLen := l.tileW * l.spp
	if len(buf) < rowLen*l.tileH {
		return nil, fmt.Errorf("short tile: %d bytes, want %d", len(buf), rowLen*l.tileH)
	}
	if l.predictor == predictorHorizontal {
		for y := 0; y < l.tileH; y++ {
			row := buf[y*rowLen : (y+1)*rowLen]
			for i := l.spp; i < rowLen; i++ {
				row[i] += row[i-l.spp]
			}
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, l.tileW, l.tileH))
	px := img.Pix
	for i, o := 0, 0; i < l.tileW*l.tileH; i, o = i+1, o+4 {
		s := buf[i*l.spp:]
		switch l.spp {
		case 1:
			g := s[0]
			if l.photometric == photometricWhiteIsZero {
				g = 255 - g
			}
			px[o], px[o+1], px[o+2], px[o+3] = g, g, g, 255
		case 3:
			px[o], px[o+1], px[o+2], px[o+3] = s[0], s[1], s[2], 255
		default:
			px[o], px[o+1], px[o+2], px[o+3] = s[0], s[1], s[2], s[3]
		}
	}
	return img, nil
}

func inflate(compression uint64, raw []byte) ([]byte, error) {
	switch compression {
	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer r.Close()
		return io.ReadAll(r)
	case compressionDeflate, compressionAdobeDeflate:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return raw, nil
}

// decodeJPEGTile decodes an abbreviated JPEG stream, splicing the shared
// JPEGTables (minus its EOI) in front of the tile (minus its SOI).
func (l *level) decodeJPEGTile(raw []byte) (*image.RGBA, error) {
	stream := raw
	if len(l.jpegTables) > 4 && len(raw) > 2 {
		tables := l.jpegTables[:len(l.jpegTables)-2]
		stream = make([]byte, 0, len(tables)+len(raw)-2)
		stream = append(stream, tables...)
		stream = append(stream, raw[2:]...)
	}
	src, err := jpeg.Decode(bytes.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("jpeg tile: %w", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, l.tileW, l.tileH))
	if yc, ok := src.(*image.YCbCr); ok && l.photometric == photometricRGB && yc.SubsampleRatio == image.YCbCrSubsampleRatio444 {
		copyPlanesAsRGB(img, yc)
		return img, nil
	}
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)
	return img, nil
}

// copyPlanesAsRGB copies a JPEG whose components hold R, G and B directly.
func copyPlanesAsRGB(dst *image.RGBA, src *image.YCbCr) {
	b := src.Bounds().Intersect(image.Rect(0, 0, dst.Rect.Dx(), dst.Rect.Dy()).Add(src.Bounds().Min))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			yi := src.YOffset(x, y)
			ci := src.COffset(x, y)
			o := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
			dst.Pix[o], dst.Pix[o+1], dst.Pix[o+2], dst.Pix[o+3] = src.Y[yi], src.Cb[ci], src.Cr[ci], 255
		}
	}
}
