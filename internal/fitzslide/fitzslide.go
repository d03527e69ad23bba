// Package fitzslide exposes documents and images that MuPDF can read as
// single-file pyramids: each page is one level.
package fitzslide

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"sort"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/pathdesk/internal/slide"
)

// DefaultDPI renders one PDF point as one pixel.
const DefaultDPI = 72

// Opener opens slides through go-fitz.
type Opener struct {
	DPI float64
}

// New returns an opener rendering at dpi (DefaultDPI when dpi <= 0).
func New(dpi float64) Opener {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return Opener{DPI: dpi}
}

type page struct {
	index         int
	width, height int
}

// Slide is an opened MuPDF document.
type Slide struct {
	doc   *fitz.Document
	dpi   float64
	pages []page
	props map[string]string
}

func (o Opener) Open(path string) (slide.Slide, error) {
	dpi := o.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, slide.Unsupported(path, fmt.Errorf("failed to open document: %w", err))
	}

	n := doc.NumPage()
	if n <= 0 {
		doc.Close()
		return nil, slide.Corrupt(path, fmt.Errorf("document has no pages"))
	}
	pages := make([]page, 0, n)
	for i := 0; i < n; i++ {
		b, err := doc.Bound(i)
		if err != nil {
			if i == 0 {
				doc.Close()
				return nil, slide.Corrupt(path, fmt.Errorf("failed to bound page 1: %w", err))
			}
			log.Warn().Err(err).Int("page", i+1).Str("file", path).Msg("skipping unboundable page")
			continue
		}
		w := int(math.Round(float64(b.Dx()) * dpi / 72))
		h := int(math.Round(float64(b.Dy()) * dpi / 72))
		if w <= 0 || h <= 0 {
			continue
		}
		pages = append(pages, page{index: i, width: w, height: h})
	}
	if len(pages) == 0 {
		doc.Close()
		return nil, slide.Corrupt(path, fmt.Errorf("no page has positive bounds"))
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].width > pages[j].width })

	props := map[string]string{}
	for k, v := range doc.Metadata() {
		if v != "" {
			props["fitz."+k] = v
		}
	}
	if f := props["fitz.format"]; f != "" {
		props[slide.PropVendor] = strings.ToLower(f)
	}

	log.Debug().Str("file", path).Int("pages", n).Int("levels", len(pages)).Float64("dpi", dpi).Msg("opened document with go-fitz")
	return &Slide{doc: doc, dpi: dpi, pages: pages, props: props}, nil
}

func (s *Slide) LevelCount() int { return len(s.pages) }

func (s *Slide) LevelDimensions(lv int) (int, int) {
	if lv < 0 || lv >= len(s.pages) {
		return 0, 0
	}
	return s.pages[lv].width, s.pages[lv].height
}

func (s *Slide) LevelDownsample(lv int) float64 {
	if lv < 0 || lv >= len(s.pages) {
		return 0
	}
	p0, p := s.pages[0], s.pages[lv]
	return (float64(p0.width)/float64(p.width) + float64(p0.height)/float64(p.height)) / 2
}

func (s *Slide) Property(key string) (string, bool) {
	v, ok := s.props[key]
	return v, ok
}

// ReadRegion renders the level's page and crops the requested region.
func (s *Slide) ReadRegion(x, y, lv, w, h int) (*image.RGBA, error) {
	if s.doc == nil {
		return nil, fmt.Errorf("slide is closed")
	}
	if lv < 0 || lv >= len(s.pages) {
		return nil, fmt.Errorf("level %d out of range [0,%d)", lv, len(s.pages))
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid region size %dx%d", w, h)
	}
	p := s.pages[lv]
	rendered, err := s.doc.ImageDPI(p.index, s.dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", p.index+1, err)
	}
	ds := s.LevelDownsample(lv)
	origin := image.Pt(int(float64(x)/ds), int(float64(y)/ds)).Add(rendered.Bounds().Min)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), rendered, origin, draw.Src)
	return dst, nil
}

// Close releases the MuPDF context. Closing twice is a no-op.
func (s *Slide) Close() error {
	if s.doc == nil {
		return nil
	}
	err := s.doc.Close()
	s.doc = nil
	return err
}
