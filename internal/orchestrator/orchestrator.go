// Package orchestrator exposes the HTTP API and runs slide jobs: uploads are
// summarized inline or queued, results are stored, archived to S3 and
// recorded in the history database.
package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/local/pathdesk/internal/history"
	"github.com/local/pathdesk/internal/limiter"
	"github.com/local/pathdesk/internal/metrics"
	"github.com/local/pathdesk/internal/queue"
	"github.com/local/pathdesk/internal/statuscheck"
	"github.com/local/pathdesk/internal/storage"
	"github.com/local/pathdesk/internal/store"
	"github.com/local/pathdesk/internal/summarizer"
)

// Summarizer is the slide summarization capability.
type Summarizer interface {
	Summarize(ctx context.Context, path string, opts summarizer.Options) summarizer.Summary
}

// Archive is the subset of storage.S3Client the orchestrator uses.
type Archive interface {
	Upload(ctx context.Context, key string, data []byte, contentType string, meta map[string]string, password string) error
	Download(ctx context.Context, key, password string) ([]byte, *storage.FileMetadata, error)
	DownloadToTemp(ctx context.Context, s3url string) (string, error)
}

// History is the analysis log.
type History interface {
	Record(ctx context.Context, id string, sum summarizer.Summary) error
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Dependencies wires the orchestrator. Archive, History and Status may be nil.
type Dependencies struct {
	Summarizer Summarizer
	Queue      queue.Queue
	Store      store.Store
	Gate       *limiter.Gate
	Archive    Archive
	History    History
	Status     *statuscheck.Checker
}

// Config holds the request limits and defaults.
type Config struct {
	PixelBudget        int64
	PreviewMaxSide     int
	PreviewJPEGQuality int
	SummaryTimeout     time.Duration
	MaxUploadBytes     int64
	UploadDir          string
	TempMaxAge         time.Duration
	ArchivePrefix      string
	ArchivePassword    string
}

// Preview side bounds accepted from requests.
const (
	MinPreviewSide = 400
	MaxPreviewSide = 1200
)

type Orchestrator struct {
	deps     Dependencies
	cfg      Config
	cooldown *limiter.Cooldown
}

func New(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.PixelBudget <= 0 {
		cfg.PixelBudget = summarizer.DefaultPixelBudget
	}
	if cfg.PreviewMaxSide <= 0 {
		cfg.PreviewMaxSide = summarizer.DefaultPreviewMaxSide
	}
	if cfg.PreviewJPEGQuality <= 0 || cfg.PreviewJPEGQuality > 100 {
		cfg.PreviewJPEGQuality = 90
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = 5 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 30
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.TempMaxAge <= 0 {
		cfg.TempMaxAge = time.Hour
	}
	if deps.Gate == nil {
		deps.Gate = limiter.NewGate(2)
	}
	return &Orchestrator{deps: deps, cfg: cfg, cooldown: limiter.NewCooldown(30*time.Second, 5*time.Minute)}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ready", o.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/score", o.handleScore)
	mux.HandleFunc("POST /api/slides", o.handleUpload)
	mux.HandleFunc("POST /api/slides/jobs", o.handleEnqueue)
	mux.HandleFunc("GET /api/jobs/{id}", o.handleJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", o.handleCancel)
	mux.HandleFunc("GET /api/slides/{id}/preview.jpg", o.handlePreview)
	mux.HandleFunc("GET /api/history", o.handleHistory)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (o *Orchestrator) handleReady(w http.ResponseWriter, r *http.Request) {
	if o.deps.Status == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	s := o.deps.Status.Summary(r.Context())
	code := http.StatusOK
	if !s.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, s)
}
