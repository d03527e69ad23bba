package slide

import (
	"errors"
	"fmt"
	"image"
)

// Property keys understood across backends. Names follow the OpenSlide convention.
const (
	PropMPPX             = "openslide.mpp-x"
	PropMPPY             = "openslide.mpp-y"
	PropObjectivePower   = "openslide.objective-power"
	PropVendor           = "openslide.vendor"
	PropComment          = "openslide.comment"
	PropImageDescription = "tiff.ImageDescription"
)

// SummaryProperties is the allow-list of descriptive properties copied into summaries.
var SummaryProperties = []string{
	PropMPPX,
	PropMPPY,
	PropObjectivePower,
	PropVendor,
	PropComment,
	PropImageDescription,
}

// Slide is one opened pyramidal image. Implementations own native resources
// and must not be shared between goroutines.
type Slide interface {
	LevelCount() int
	LevelDimensions(level int) (width, height int)
	LevelDownsample(level int) float64
	Property(key string) (string, bool)
	// ReadRegion reads a w×h region of the given level. x and y are in
	// level-0 coordinates.
	ReadRegion(x, y, level, w, h int) (*image.RGBA, error)
	Close() error
}

// Opener opens a path into a Slide.
type Opener interface {
	Open(path string) (Slide, error)
}

// Sniffer is implemented by openers that only accept files whose magic bytes
// classify as a supported WSI container.
type Sniffer interface {
	RequiresSniff() bool
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (Slide, error)

func (f OpenerFunc) Open(path string) (Slide, error) { return f(path) }

// Reason classifies why a slide could not be opened.
type Reason string

const (
	ReasonUnsupported Reason = "unsupported"
	ReasonCorrupt     Reason = "corrupt"
)

// DecodeError is returned by openers that cannot decode a container.
type DecodeError struct {
	Reason Reason
	Path   string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s slide %s: %v", e.Reason, e.Path, e.Err)
	}
	return fmt.Sprintf("%s slide %s", e.Reason, e.Path)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Unsupported builds a DecodeError for containers the backend does not handle.
func Unsupported(path string, err error) error {
	return &DecodeError{Reason: ReasonUnsupported, Path: path, Err: err}
}

// Corrupt builds a DecodeError for recognised containers that fail to decode.
func Corrupt(path string, err error) error {
	return &DecodeError{Reason: ReasonCorrupt, Path: path, Err: err}
}

// IsUnsupported reports whether err is an unsupported-format DecodeError.
func IsUnsupported(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Reason == ReasonUnsupported
}

// IsCorrupt reports whether err is a corrupt-file DecodeError.
func IsCorrupt(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Reason == ReasonCorrupt
}
