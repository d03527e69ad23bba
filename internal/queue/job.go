package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Job sources.
const (
	SourceUpload = "upload"
	SourceS3     = "s3"
	SourceLocal  = "local"
)

// Job is the payload carried on the queue for one slide summary.
type Job struct {
	JobID          string    `json:"job_id"`
	FileRef        string    `json:"file_ref"`
	DisplayName    string    `json:"display_name,omitempty"`
	PixelBudget    int64     `json:"pixel_budget,omitempty"`
	PreviewMaxSide int       `json:"preview_max_side,omitempty"`
	Source         string    `json:"source"`
	Cleanup        bool      `json:"cleanup"`
	Attempt        int       `json:"attempt,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// IsS3 reports whether FileRef must be downloaded before summarizing.
func (j Job) IsS3() bool { return strings.HasPrefix(j.FileRef, "s3://") }

func (j Job) Encode() ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return b, nil
}

// DecodeJob parses a queue payload. A payload without job_id or file_ref is
// rejected.
func DecodeJob(payload []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.JobID == "" {
		return Job{}, errors.New("decode job: missing job_id")
	}
	if j.FileRef == "" {
		return Job{}, errors.New("decode job: missing file_ref")
	}
	return j, nil
}
