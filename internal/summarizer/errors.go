package summarizer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/local/pathdesk/internal/slide"
)

// Kind classifies why a summary failed.
type Kind string

const (
	KindNotFound                Kind = "NotFound"
	KindEmptyFile               Kind = "EmptyFile"
	KindUnsupportedFormat       Kind = "UnsupportedFormat"
	KindCorruptFile             Kind = "CorruptFile"
	KindPreviewGenerationFailed Kind = "PreviewGenerationFailed"
	KindDeadlineExceeded        Kind = "DeadlineExceeded"
)

// Error is a classified summarization failure.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Path)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// KindOf maps err to a Kind. Unclassified errors count as corrupt input.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	switch {
	case errors.As(err, &e):
		return e.Kind
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindDeadlineExceeded
	case slide.IsUnsupported(err):
		return KindUnsupportedFormat
	case slide.IsCorrupt(err):
		return KindCorruptFile
	case errors.Is(err, os.ErrNotExist):
		return KindNotFound
	}
	return KindCorruptFile
}
