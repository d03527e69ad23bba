package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pathdesk/internal/storage"
	"github.com/local/pathdesk/internal/store"
	"github.com/local/pathdesk/internal/summarizer"
)

// ErrBusy is returned by Analyze when no summarization slot became free
// before the caller's context ended.
var ErrBusy = errors.New("all summarization slots are busy")

// Result is one finished analysis.
type Result struct {
	ID          string
	Summary     summarizer.Summary
	PreviewJPEG []byte
}

// Options builds summarizer options from request values; zero values take
// the configured defaults.
func (o *Orchestrator) Options(pixelBudget int64, previewMaxSide int, displayName string) summarizer.Options {
	if pixelBudget <= 0 {
		pixelBudget = o.cfg.PixelBudget
	}
	if previewMaxSide <= 0 {
		previewMaxSide = o.cfg.PreviewMaxSide
	}
	return summarizer.Options{PixelBudget: pixelBudget, PreviewMaxSide: previewMaxSide, DisplayName: displayName}
}

// Analyze summarizes path under the concurrency gate and the summary
// deadline, then stores, archives and records the result. Storage problems
// are logged; only ErrBusy is returned.
func (o *Orchestrator) Analyze(ctx context.Context, path string, opts summarizer.Options) (Result, error) {
	res, err := o.analyze(ctx, uuid.NewString(), path, opts)
	if err != nil {
		return Result{}, err
	}
	if err := o.persist(ctx, res); err != nil {
		log.Warn().Err(err).Str("id", res.ID).Msg("failed to store analysis result")
	}
	return res, nil
}

func (o *Orchestrator) analyze(ctx context.Context, id, path string, opts summarizer.Options) (Result, error) {
	release, err := o.deps.Gate.Acquire(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer release()

	sctx, cancel := context.WithTimeout(ctx, o.cfg.SummaryTimeout)
	sum := o.deps.Summarizer.Summarize(sctx, path, opts)
	cancel()

	res := Result{ID: id, Summary: sum}
	if sum.HasPreview() {
		b, err := sum.EncodePreviewJPEG(o.cfg.PreviewJPEGQuality)
		if err != nil {
			log.Warn().Err(err).Str("id", id).Msg("preview JPEG encode failed")
		} else {
			res.PreviewJPEG = b
		}
	}
	return res, nil
}

// persist writes the result to the store, then archives and records it.
// Only the store write can fail the call.
func (o *Orchestrator) persist(ctx context.Context, res Result) error {
	summaryJSON, err := json.Marshal(res.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := o.deps.Store.SaveResult(ctx, res.ID, summaryJSON, res.PreviewJPEG); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	end := time.Now()
	st := store.Status{Status: store.StatusSuccess, Progress: 100, Message: "completed", End: &end,
		Metadata: map[string]interface{}{"filename": res.Summary.Filename}}
	if !res.Summary.Success {
		st.Status = store.StatusFailed
		st.Message = res.Summary.Error
		st.Metadata["error_kind"] = string(res.Summary.ErrorKind)
	}
	if prev, ok, _ := o.deps.Store.GetStatus(ctx, res.ID); ok && prev.Start != nil {
		st.Start = prev.Start
	}
	if err := o.deps.Store.SetStatus(ctx, res.ID, st); err != nil {
		return fmt.Errorf("set status: %w", err)
	}

	o.archive(ctx, res.ID, summaryJSON, res.PreviewJPEG, res.Summary)

	if o.deps.History != nil {
		if err := o.deps.History.Record(ctx, res.ID, res.Summary); err != nil {
			log.Warn().Err(err).Str("id", res.ID).Msg("failed to record analysis history")
		}
	}
	return nil
}

// archive uploads summary.json and preview.jpg. It is best-effort and is
// skipped while the archive is cooling down after a failure.
func (o *Orchestrator) archive(ctx context.Context, id string, summaryJSON, preview []byte, sum summarizer.Summary) {
	if o.deps.Archive == nil {
		return
	}
	if o.cooldown.IsOpen() {
		log.Debug().Str("id", id).Msg("archive cooling down; skipping upload")
		return
	}
	meta := map[string]string{
		"name":    sum.Filename,
		"success": strconv.FormatBool(sum.Success),
	}
	err := o.deps.Archive.Upload(ctx, storage.ArchiveKey(o.cfg.ArchivePrefix, id, "summary.json"), summaryJSON, "application/json", meta, o.cfg.ArchivePassword)
	if err == nil && len(preview) > 0 {
		err = o.deps.Archive.Upload(ctx, storage.ArchiveKey(o.cfg.ArchivePrefix, id, "preview.jpg"), preview, "image/jpeg", meta, o.cfg.ArchivePassword)
	}
	if err != nil {
		d := o.cooldown.Open()
		log.Warn().Err(err).Str("id", id).Dur("cooldown", d).Msg("archive upload failed")
		return
	}
	o.cooldown.Close()
}

// loadSummary returns the stored summary JSON for id, falling back to the
// archive.
func (o *Orchestrator) loadSummary(ctx context.Context, id string) ([]byte, bool) {
	if b, ok, err := o.deps.Store.GetSummary(ctx, id); err == nil && ok {
		return b, true
	}
	if o.deps.Archive == nil {
		return nil, false
	}
	b, _, err := o.deps.Archive.Download(ctx, storage.ArchiveKey(o.cfg.ArchivePrefix, id, "summary.json"), o.cfg.ArchivePassword)
	if err != nil {
		log.Debug().Err(err).Str("id", id).Msg("summary not in archive")
		return nil, false
	}
	return b, true
}

func (o *Orchestrator) loadPreview(ctx context.Context, id string) ([]byte, bool) {
	if b, ok, err := o.deps.Store.GetPreview(ctx, id); err == nil && ok {
		return b, true
	}
	if o.deps.Archive == nil {
		return nil, false
	}
	b, _, err := o.deps.Archive.Download(ctx, storage.ArchiveKey(o.cfg.ArchivePrefix, id, "preview.jpg"), o.cfg.ArchivePassword)
	if err != nil {
		log.Debug().Err(err).Str("id", id).Msg("preview not in archive")
		return nil, false
	}
	return b, true
}
