package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pathdesk/internal/filetype"
	"github.com/local/pathdesk/internal/metrics"
	"github.com/local/pathdesk/internal/queue"
	"github.com/local/pathdesk/internal/store"
	"github.com/local/pathdesk/internal/summarizer"
)

// UploadTempPrefix names temp files holding uploaded slides.
const UploadTempPrefix = "wsi-upload-"

// ParseParams validates the optional pixel_budget and preview_max_side
// values. Empty strings leave the field zero.
func ParseParams(pixelBudget, previewMaxSide string) (int64, int, error) {
	var budget int64
	var side int
	if s := strings.TrimSpace(pixelBudget); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("pixel_budget must be a positive integer, got %q", pixelBudget)
		}
		budget = n
	}
	if s := strings.TrimSpace(previewMaxSide); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < MinPreviewSide || n > MaxPreviewSide {
			return 0, 0, fmt.Errorf("preview_max_side must be between %d and %d, got %q", MinPreviewSide, MaxPreviewSide, previewMaxSide)
		}
		side = n
	}
	return budget, side, nil
}

// SaveUpload copies an uploaded file to a temp file named wsi-upload-*<ext>.
func SaveUpload(src io.Reader, filename string) (string, int64, error) {
	out, err := os.CreateTemp("", UploadTempPrefix+"*"+strings.ToLower(filepath.Ext(filename)))
	if err != nil {
		return "", 0, fmt.Errorf("create temp: %w", err)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		removeQuietly(out.Name())
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	metrics.AddUploadBytes(n)
	return out.Name(), n, nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", path).Msg("failed to remove temp file")
	}
}

// uploadStatus maps multipart parse failures to an HTTP status.
func uploadStatus(err error) int {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// ReadUpload limits the body, parses the multipart form and returns the
// "file" part. A missing file returns http.ErrMissingFile.
func (o *Orchestrator) ReadUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, o.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, nil, uploadStatus(err), fmt.Errorf("invalid multipart form: %w", err)
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, nil, http.StatusBadRequest, err
	}
	if !filetype.AllowedUpload(hdr.Filename) {
		file.Close()
		return nil, nil, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported file extension %q; allowed: %s",
			filepath.Ext(hdr.Filename), strings.Join(filetype.UploadExtensions, ", "))
	}
	return file, hdr, 0, nil
}

type uploadResp struct {
	ID         string `json:"id"`
	PreviewURL string `json:"preview_url,omitempty"`
	summarizer.Summary
}

type enqueueResp struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

func (o *Orchestrator) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, hdr, code, err := o.ReadUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), code)
		return
	}
	defer file.Close()

	budget, side, err := ParseParams(r.FormValue("pixel_budget"), r.FormValue("preview_max_side"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	async := parseBool(r.FormValue("async"))

	tmp, n, err := SaveUpload(file, hdr.Filename)
	if err != nil {
		log.Error().Err(err).Str("filename", hdr.Filename).Msg("cannot save upload")
		http.Error(w, "cannot save upload", http.StatusInternalServerError)
		return
	}
	log.Info().Str("filename", hdr.Filename).Int64("bytes", n).Bool("async", async).Msg("slide uploaded")

	if async {
		o.enqueueUpload(w, r, tmp, hdr.Filename, budget, side)
		return
	}

	defer removeQuietly(tmp)
	res, err := o.Analyze(r.Context(), tmp, o.Options(budget, side, filepath.Base(hdr.Filename)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	resp := uploadResp{ID: res.ID, Summary: res.Summary}
	if len(res.PreviewJPEG) > 0 {
		resp.PreviewURL = "/api/slides/" + res.ID + "/preview.jpg"
	}
	writeJSON(w, http.StatusCreated, resp)
}

// enqueueUpload moves the temp upload into UploadDir and queues a job that
// removes it when done.
func (o *Orchestrator) enqueueUpload(w http.ResponseWriter, r *http.Request, tmp, filename string, budget int64, side int) {
	jobID := uuid.NewString()
	if err := os.MkdirAll(o.cfg.UploadDir, 0o755); err != nil {
		removeQuietly(tmp)
		http.Error(w, "cannot create upload dir", http.StatusInternalServerError)
		return
	}
	dest := filepath.Join(o.cfg.UploadDir, jobID+strings.ToLower(filepath.Ext(filename)))
	if err := moveFile(tmp, dest); err != nil {
		removeQuietly(tmp)
		log.Error().Err(err).Str("dest", dest).Msg("cannot move upload")
		http.Error(w, "cannot store upload", http.StatusInternalServerError)
		return
	}
	job := queue.Job{
		JobID:          jobID,
		FileRef:        dest,
		DisplayName:    filepath.Base(filename),
		PixelBudget:    budget,
		PreviewMaxSide: side,
		Source:         queue.SourceUpload,
		Cleanup:        true,
	}
	if err := o.Enqueue(r.Context(), job); err != nil {
		removeQuietly(dest)
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResp{Status: store.StatusQueued, JobID: jobID})
}

// Enqueue records the queued status and puts job on the queue.
func (o *Orchestrator) Enqueue(ctx context.Context, job queue.Job) error {
	job.EnqueuedAt = time.Now().UTC()
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	start := time.Now()
	o.putStatus(ctx, job.JobID, store.Status{Status: store.StatusQueued, Progress: 0, Message: "queued", Start: &start,
		Metadata: map[string]interface{}{"filename": displayName(job), "source": job.Source}})
	if err := o.deps.Queue.Enqueue(ctx, payload); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("enqueue failed")
		end := time.Now()
		o.putStatus(ctx, job.JobID, store.Status{Status: store.StatusFailed, Message: "queue unavailable", Start: &start, End: &end})
		return err
	}
	log.Info().Str("job_id", job.JobID).Str("file", job.FileRef).Str("source", job.Source).Msg("job created")
	return nil
}

type enqueueReq struct {
	FilePath       string `json:"file_path"`
	PixelBudget    *int64 `json:"pixel_budget"`
	PreviewMaxSide *int   `json:"preview_max_side"`
}

func (o *Orchestrator) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req enqueueReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		http.Error(w, "missing file_path", http.StatusBadRequest)
		return
	}
	var budget, side string
	if req.PixelBudget != nil {
		budget = strconv.FormatInt(*req.PixelBudget, 10)
	}
	if req.PreviewMaxSide != nil {
		side = strconv.Itoa(*req.PreviewMaxSide)
	}
	pb, ps, err := ParseParams(budget, side)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !filetype.AllowedUpload(req.FilePath) {
		http.Error(w, "unsupported file extension", http.StatusUnsupportedMediaType)
		return
	}

	job := queue.Job{JobID: uuid.NewString(), FileRef: req.FilePath, PixelBudget: pb, PreviewMaxSide: ps}
	if job.IsS3() {
		if o.deps.Archive == nil {
			http.Error(w, "s3 refs need AWS_S3_BUCKET to be configured", http.StatusBadRequest)
			return
		}
		job.Source = queue.SourceS3
	} else {
		p, err := o.resolveLocal(req.FilePath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := os.Stat(p); err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		job.FileRef = p
		job.Source = queue.SourceLocal
	}

	if err := o.Enqueue(r.Context(), job); err != nil {
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResp{Status: store.StatusQueued, JobID: job.JobID})
}

// resolveLocal maps a path to an absolute path inside UploadDir. Relative
// paths are taken relative to UploadDir.
func (o *Orchestrator) resolveLocal(p string) (string, error) {
	root, err := filepath.Abs(o.cfg.UploadDir)
	if err != nil {
		return "", err
	}
	cand := p
	if !filepath.IsAbs(cand) {
		cand = filepath.Join(root, cand)
	}
	cand = filepath.Clean(cand)
	rel, err := filepath.Rel(root, cand)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file_path must be inside the upload directory")
	}
	return cand, nil
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	removeQuietly(src)
	return nil
}

func displayName(job queue.Job) string {
	if job.DisplayName != "" {
		return job.DisplayName
	}
	return filepath.Base(job.FileRef)
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
