package slidetest

import (
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"sync/atomic"

	"github.com/local/pathdesk/internal/slide"
)

// Fake is an in-memory slide. Regions are solid Fill; ReadErr, when set, is
// returned by every ReadRegion call.
type Fake struct {
	Sizes       []Size
	Props       map[string]string
	Fill        color.RGBA
	ReadErr     error
	CloseErr    error
	PanicOnRead bool

	closes atomic.Int32
	reads  atomic.Int32
}

// NewFake returns a Fake with the given levels and a neutral fill.
func NewFake(sizes ...Size) *Fake {
	return &Fake{Sizes: sizes, Props: map[string]string{}, Fill: color.RGBA{R: 200, G: 120, B: 160, A: 255}}
}

func (f *Fake) LevelCount() int { return len(f.Sizes) }

func (f *Fake) LevelDimensions(level int) (int, int) {
	if level < 0 || level >= len(f.Sizes) {
		return 0, 0
	}
	return f.Sizes[level].W, f.Sizes[level].H
}

func (f *Fake) LevelDownsample(level int) float64 {
	if level < 0 || level >= len(f.Sizes) || f.Sizes[level].W == 0 || f.Sizes[level].H == 0 {
		return 1
	}
	b := f.Sizes[0]
	l := f.Sizes[level]
	return (float64(b.W)/float64(l.W) + float64(b.H)/float64(l.H)) / 2
}

func (f *Fake) Property(key string) (string, bool) {
	v, ok := f.Props[key]
	return v, ok
}

func (f *Fake) ReadRegion(x, y, level, w, h int) (*image.RGBA, error) {
	f.reads.Add(1)
	if f.PanicOnRead {
		panic("fake slide: read panic")
	}
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	if w <= 0 || h <= 0 {
		return nil, errors.New("fake slide: empty region")
	}
	return Solid(w, h, f.Fill), nil
}

func (f *Fake) Close() error {
	f.closes.Add(1)
	return f.CloseErr
}

// Closes reports how many times Close was called.
func (f *Fake) Closes() int { return int(f.closes.Load()) }

// Reads reports how many times ReadRegion was called.
func (f *Fake) Reads() int { return int(f.reads.Load()) }

// Opener hands out a fresh slide from New on every Open and remembers them.
type Opener struct {
	New     func() *Fake
	OpenErr error

	mu     sync.Mutex
	opened []*Fake
	paths  []string
}

func (o *Opener) Open(path string) (slide.Slide, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, path)
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	f := o.New()
	o.opened = append(o.opened, f)
	return f, nil
}

// Opened returns every slide handed out so far.
func (o *Opener) Opened() []*Fake {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Fake(nil), o.opened...)
}

// Paths returns every path passed to Open.
func (o *Opener) Paths() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.paths...)
}

// WriteJPEG writes a small ordinary JPEG, which is not a slide container.
func WriteJPEG(path string, w, h int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, Solid(w, h, color.RGBA{R: 90, G: 140, B: 200, A: 255}), nil); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
