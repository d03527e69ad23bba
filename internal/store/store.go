// Package store keeps async job status and finished results (summary JSON
// and preview JPEG) for a limited time.
package store

import (
	"context"
	"time"
)

// Job states.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

type Status struct {
	Status   string                 `json:"status"`
	Progress int                    `json:"progress"`
	Message  string                 `json:"message"`
	Start    *time.Time             `json:"start_time,omitempty"`
	End      *time.Time             `json:"end_time,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Terminal reports whether the job will not change state again.
func (s Status) Terminal() bool {
	return s.Status == StatusSuccess || s.Status == StatusFailed || s.Status == StatusCancelled
}

// Store is implemented by RedisStore and MemoryStore.
type Store interface {
	SetStatus(ctx context.Context, jobID string, st Status) error
	GetStatus(ctx context.Context, jobID string) (Status, bool, error)
	// SaveResult stores the summary JSON and, when non-empty, the preview JPEG.
	SaveResult(ctx context.Context, jobID string, summaryJSON, previewJPEG []byte) error
	GetSummary(ctx context.Context, jobID string) ([]byte, bool, error)
	GetPreview(ctx context.Context, jobID string) ([]byte, bool, error)
	Ping(ctx context.Context) error
	Close() error
}
