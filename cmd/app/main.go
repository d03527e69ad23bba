package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/pathdesk/internal/config"
	"github.com/local/pathdesk/internal/dispatcher"
	"github.com/local/pathdesk/internal/fitzslide"
	"github.com/local/pathdesk/internal/history"
	"github.com/local/pathdesk/internal/limiter"
	logpkg "github.com/local/pathdesk/internal/logger"
	"github.com/local/pathdesk/internal/metrics"
	"github.com/local/pathdesk/internal/orchestrator"
	"github.com/local/pathdesk/internal/queue"
	"github.com/local/pathdesk/internal/slide"
	"github.com/local/pathdesk/internal/statuscheck"
	"github.com/local/pathdesk/internal/storage"
	"github.com/local/pathdesk/internal/store"
	"github.com/local/pathdesk/internal/summarizer"
	"github.com/local/pathdesk/internal/tiffslide"
	web "github.com/local/pathdesk/internal/web"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()
	metrics.Init()

	opener, backendName := selectBackend(cfg.Slide)
	log.Info().Str("backend", backendName).Int64("pixel_budget", cfg.Slide.PixelBudget).Msg("slide backend ready")

	// Queue and result store: Redis when configured, in-process otherwise.
	var (
		q          queue.Queue
		st         store.Store
		redisCheck statuscheck.Pinger
	)
	if cfg.Queue.RedisURL != "" {
		rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		rs, err := store.NewRedisStore(cfg.Queue.RedisURL, cfg.Queue.ResultTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init redis result store")
		}
		q, st, redisCheck = rq, rs, rs
	} else {
		log.Warn().Msg("REDIS_URL not set; using in-memory queue and store")
		q = queue.NewMemoryQueue(256)
		st = store.NewMemoryStore(cfg.Queue.ResultTTL)
	}
	defer q.Close()
	defer st.Close()

	deps := orchestrator.Dependencies{
		Summarizer: summarizer.New(opener),
		Queue:      q,
		Store:      st,
		Gate:       limiter.NewGate(cfg.Slide.MaxInflight),
	}
	checks := statuscheck.Options{
		Redis:       redisCheck,
		BackendName: backendName,
		Backend:     statuscheck.PingFunc(func(context.Context) error { return nil }),
	}

	if cfg.Archive.Bucket != "" {
		s3c, err := storage.NewS3Client(context.Background(), storage.Options{
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init S3 client")
		}
		deps.Archive = s3c
		checks.S3 = s3c
		log.Info().Str("bucket", s3c.Bucket()).Str("prefix", cfg.Archive.Prefix).Bool("encrypted", cfg.Archive.Password != "").Msg("S3 archive enabled")
	}

	if cfg.History.Path != "" {
		hdb, err := history.Open(cfg.History.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.History.Path).Msg("failed to open history db")
		}
		defer hdb.Close()
		deps.History = hdb
		checks.History = hdb
	}
	deps.Status = statuscheck.New(checks)

	orch := orchestrator.New(orchestrator.Config{
		PixelBudget:        cfg.Slide.PixelBudget,
		PreviewMaxSide:     cfg.Slide.PreviewMaxSide,
		PreviewJPEGQuality: cfg.Slide.PreviewJPEGQuality,
		SummaryTimeout:     cfg.Slide.SummaryTimeout,
		MaxUploadBytes:     cfg.HTTP.MaxUploadBytes,
		UploadDir:          cfg.HTTP.UploadDir,
		TempMaxAge:         cfg.Worker.TempMaxAge,
		ArchivePrefix:      cfg.Archive.Prefix,
		ArchivePassword:    cfg.Archive.Password,
	}, deps)
	orchestrator.CleanupTemps(cfg.Worker.TempMaxAge)

	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)
	web.New(orch, cfg.HTTP.WebUsername, cfg.HTTP.WebPassword).RegisterRoutes(mux)

	var worker *dispatcher.Worker
	if cfg.Worker.Enabled {
		worker = dispatcher.New(dispatcher.Config{
			Concurrency:    cfg.Worker.Concurrency,
			JobTimeout:     cfg.Worker.JobTimeout,
			MaxAttempts:    cfg.Worker.MaxAttempts,
			RetryBaseDelay: cfg.Worker.RetryBaseDelay,
			RetryMaxDelay:  cfg.Worker.RetryMaxDelay,
		}, q, orch)
		worker.Start()
	} else if cfg.Queue.RedisURL == "" {
		log.Warn().Msg("RUN_DISPATCHER disabled with the in-memory queue; async jobs will never run")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if worker != nil {
		if err := worker.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("workers did not stop in time")
		}
	}
	fmt.Println("shutdown complete")
}

func selectBackend(cfg cfgpkg.SlideConfig) (slide.Opener, string) {
	switch cfg.Backend {
	case "fitz", "mupdf":
		return fitzslide.New(cfg.FitzDPI), "fitz"
	case "", "tiff":
		return tiffslide.New(), "tiff"
	default:
		log.Warn().Str("backend", cfg.Backend).Msg("unknown SLIDE_BACKEND; using tiff")
		return tiffslide.New(), "tiff"
	}
}
