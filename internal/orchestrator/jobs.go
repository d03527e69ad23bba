package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pathdesk/internal/dispatcher"
	"github.com/local/pathdesk/internal/queue"
	"github.com/local/pathdesk/internal/store"
	"github.com/local/pathdesk/internal/summarizer"
)

type jobResp struct {
	JobID      string          `json:"job_id"`
	Status     string          `json:"status"`
	Progress   int             `json:"progress"`
	Message    string          `json:"message"`
	Start      *time.Time      `json:"start_time,omitempty"`
	End        *time.Time      `json:"end_time,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	PreviewURL string          `json:"preview_url,omitempty"`
}

func (o *Orchestrator) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok, err := o.deps.Store.GetStatus(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("status lookup failed")
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	resp := jobResp{JobID: id, Status: st.Status, Progress: st.Progress, Message: st.Message, Start: st.Start, End: st.End, Metadata: st.Metadata}
	if st.Status == store.StatusSuccess || st.Status == store.StatusFailed {
		if b, ok, _ := o.deps.Store.GetSummary(r.Context(), id); ok {
			resp.Summary = b
		}
		if _, ok, _ := o.deps.Store.GetPreview(r.Context(), id); ok {
			resp.PreviewURL = "/api/slides/" + id + "/preview.jpg"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (o *Orchestrator) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok, err := o.deps.Store.GetStatus(r.Context(), id)
	if err != nil {
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if st.Terminal() {
		http.Error(w, fmt.Sprintf("job already %s", st.Status), http.StatusConflict)
		return
	}
	if err := o.deps.Queue.CancelJob(r.Context(), id); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("cancel failed")
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	end := time.Now()
	st.Status = store.StatusCancelled
	st.Message = "cancelled by request"
	st.End = &end
	o.putStatus(r.Context(), id, st)
	log.Info().Str("job_id", id).Msg("job cancelled")
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": store.StatusCancelled})
}

func (o *Orchestrator) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	preview, ok := o.loadPreview(r.Context(), id)
	if !ok {
		http.Error(w, "preview not available", http.StatusNotFound)
		return
	}
	name := "slide_thumbnail.jpg"
	if b, ok := o.loadSummary(r.Context(), id); ok {
		var sum summarizer.Summary
		if err := json.Unmarshal(b, &sum); err == nil {
			name = sum.PreviewFilename()
		}
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(preview)
}

func (o *Orchestrator) setStatus(ctx context.Context, job queue.Job, status string, progress int, msg string, end bool) {
	st := store.Status{Status: status, Progress: progress, Message: msg,
		Metadata: map[string]interface{}{"filename": displayName(job), "source": job.Source, "attempt": job.Attempt + 1}}
	if prev, ok, _ := o.deps.Store.GetStatus(ctx, job.JobID); ok {
		st.Start = prev.Start
	}
	if st.Start == nil {
		now := time.Now()
		st.Start = &now
	}
	if end {
		now := time.Now()
		st.End = &now
	}
	o.putStatus(ctx, job.JobID, st)
}

// putStatus writes st; a store failure is logged and otherwise ignored.
func (o *Orchestrator) putStatus(ctx context.Context, id string, st store.Status) {
	if err := o.deps.Store.SetStatus(ctx, id, st); err != nil {
		log.Warn().Err(err).Str("job_id", id).Str("status", st.Status).Msg("status update failed")
	}
}

// ProcessJob summarizes the slide a job refers to. Errors from the S3
// download and the result store are transient; a failed summary is a
// finished job, not an error.
func (o *Orchestrator) ProcessJob(ctx context.Context, job queue.Job) error {
	defer CleanupTemps(o.cfg.TempMaxAge)
	o.setStatus(ctx, job, store.StatusProcessing, 10, "processing", false)

	path := job.FileRef
	if job.IsS3() {
		if o.deps.Archive == nil {
			return &dispatcher.ValidationError{Message: "s3 ref but no S3 client configured"}
		}
		o.setStatus(ctx, job, store.StatusProcessing, 20, "downloading from S3", false)
		tmp, err := o.deps.Archive.DownloadToTemp(ctx, job.FileRef)
		if err != nil {
			return dispatcher.Transient("download", err)
		}
		defer removeQuietly(tmp)
		path = tmp
	} else if _, err := o.resolveLocal(path); err != nil {
		return &dispatcher.ValidationError{Message: err.Error()}
	}

	o.setStatus(ctx, job, store.StatusProcessing, 40, "summarizing", false)
	res, err := o.analyze(ctx, job.JobID, path, o.Options(job.PixelBudget, job.PreviewMaxSide, displayName(job)))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return err
		}
		return dispatcher.Transient("gate", err)
	}
	if err := o.persist(ctx, res); err != nil {
		return dispatcher.Transient("store", err)
	}
	o.cleanupJobFile(job)
	return nil
}

// JobFailed records a job failure. retryAt is set when the job was re-queued.
func (o *Orchestrator) JobFailed(ctx context.Context, job queue.Job, err error, retryAt *time.Time) {
	if retryAt != nil {
		o.setStatus(ctx, job, store.StatusQueued, 0, fmt.Sprintf("retrying at %s: %v", retryAt.UTC().Format(time.RFC3339), err), false)
		return
	}
	o.setStatus(ctx, job, store.StatusFailed, 100, err.Error(), true)
	o.cleanupJobFile(job)
}

// JobCancelled releases the job's file; the status was set by the cancel request.
func (o *Orchestrator) JobCancelled(ctx context.Context, job queue.Job) {
	if st, ok, _ := o.deps.Store.GetStatus(ctx, job.JobID); !ok || st.Status != store.StatusCancelled {
		o.setStatus(ctx, job, store.StatusCancelled, 0, "cancelled", true)
	}
	o.cleanupJobFile(job)
}

func (o *Orchestrator) cleanupJobFile(job queue.Job) {
	if job.Cleanup && !job.IsS3() {
		removeQuietly(job.FileRef)
	}
}
