package imagerender

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// PlaceholderColor is the light gray shown before a slide is analysed.
var PlaceholderColor = color.RGBA{R: 240, G: 240, B: 240, A: 255}

// ScaledSize returns the size that fits w×h inside maxSide×maxSide using a
// single factor. It never upscales and never returns a zero side.
func ScaledSize(w, h, maxSide int) (int, int) {
	if w <= 0 || h <= 0 || maxSide <= 0 {
		return w, h
	}
	f := min(float64(maxSide)/float64(w), float64(maxSide)/float64(h))
	if f >= 1 {
		return w, h
	}
	// The epsilon keeps w*(maxSide/w) from flooring to maxSide-1.
	nw := max(int(float64(w)*f+1e-9), 1)
	nh := max(int(float64(h)*f+1e-9), 1)
	return nw, nh
}

// Downscale resizes img to fit maxSide with Catmull-Rom resampling. Images
// that already fit are returned unchanged.
func Downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	nw, nh := ScaledSize(b.Dx(), b.Dy(), maxSide)
	if nw == b.Dx() && nh == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	log.Debug().
		Int("src_width", b.Dx()).
		Int("src_height", b.Dy()).
		Int("width", nw).
		Int("height", nh).
		Msg("downscaled region")
	return dst
}

// ToRGB flattens img onto white and drops alpha.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}

// EncodeJPEG encodes img as JPEG (in-memory).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Int("jpeg_size", buf.Len()).
		Int("quality", quality).
		Msg("encoded preview as JPEG")

	return buf.Bytes(), nil
}

// Placeholder returns a w×h light gray image.
func Placeholder(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(PlaceholderColor), image.Point{}, draw.Src)
	return img
}

// EncodeToBase64 converts binary data to base64 string
func EncodeToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DataURI returns a JPEG data URI for an <img> tag.
func DataURI(jpegBytes []byte) string {
	return "data:image/jpeg;base64," + EncodeToBase64(jpegBytes)
}

// GetImageDimensions extracts dimensions from JPEG bytes
func GetImageDimensions(jpegBytes []byte) (width, height int, err error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(jpegBytes))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode JPEG: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
