package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pathdesk/internal/metrics"
	"github.com/local/pathdesk/internal/queue"
)

// Processor runs one slide job. JobFailed is called once a job will not be
// processed again, or with a non-nil retryAt when it has been re-queued.
type Processor interface {
	ProcessJob(ctx context.Context, job queue.Job) error
	JobFailed(ctx context.Context, job queue.Job, err error, retryAt *time.Time)
	JobCancelled(ctx context.Context, job queue.Job)
}

type Config struct {
	Concurrency    int
	JobTimeout     time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// PollTimeout is how long one Dequeue blocks.
	PollTimeout time.Duration
	// DepthInterval controls how often queue depth gauges are refreshed.
	DepthInterval time.Duration
}

type Worker struct {
	cfg  Config
	q    queue.Queue
	proc Processor
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func New(cfg Config, q queue.Queue, proc Processor) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = 15 * time.Second
	}
	return &Worker{cfg: cfg, q: q, proc: proc, stop: make(chan struct{})}
}

func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
	w.wg.Add(1)
	go w.depthLoop()
}

// Stop signals the loops and waits for in-flight jobs, or until ctx ends.
func (w *Worker) Stop(ctx context.Context) error {
	w.once.Do(func() { close(w.stop) })
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	log.Info().Int("worker", id).Msg("dispatcher worker started")
	consumer := fmt.Sprintf("worker-%d", id)
	for {
		if w.stopped() {
			log.Info().Int("worker", id).Msg("dispatcher worker stopped")
			return
		}

		msgID, data, err := w.q.Dequeue(context.Background(), consumer, w.cfg.PollTimeout)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			select {
			case <-w.stop:
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if msgID == "" {
			continue
		}
		w.handle(id, msgID, data)
	}
}

// handle processes one message and always acks it; failures end in the DLQ
// or a delayed re-queue.
func (w *Worker) handle(id int, msgID string, data []byte) {
	ctx := context.Background()
	defer func() {
		if err := w.q.Ack(ctx, msgID); err != nil {
			log.Warn().Err(err).Str("msg_id", msgID).Msg("queue ack failed")
		}
	}()

	job, err := queue.DecodeJob(data)
	if err != nil {
		log.Error().Err(err).Int("worker", id).Str("msg_id", msgID).Msg("invalid job payload; moving to DLQ")
		if err := w.q.AddDLQ(ctx, data, err.Error()); err != nil {
			log.Error().Err(err).Msg("DLQ write failed")
		}
		metrics.IncJob("invalid")
		return
	}

	if cancelled, _ := w.q.IsCancelled(ctx, job.JobID); cancelled {
		log.Warn().Int("worker", id).Str("job_id", job.JobID).Msg("job cancelled before processing; skipping")
		w.proc.JobCancelled(ctx, job)
		metrics.IncJob("cancelled")
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	start := time.Now()
	err = w.proc.ProcessJob(jobCtx, job)
	cancel()
	if err == nil {
		log.Info().Int("worker", id).Str("job_id", job.JobID).Dur("took", time.Since(start)).Msg("job processed")
		metrics.IncJob("success")
		return
	}

	attempt := job.Attempt + 1
	if isTransientError(err) && attempt < w.cfg.MaxAttempts {
		delay := retryDelay(attempt, w.cfg.RetryBaseDelay, w.cfg.RetryMaxDelay)
		retryAt := time.Now().Add(delay)
		job.Attempt = attempt
		payload, qErr := job.Encode()
		if qErr == nil {
			qErr = w.q.EnqueueDelayed(ctx, payload, retryAt)
		}
		if qErr == nil {
			log.Warn().Err(err).Str("job_id", job.JobID).Int("attempt", attempt).Dur("delay", delay).Msg("job failed; retry scheduled")
			w.proc.JobFailed(ctx, job, err, &retryAt)
			metrics.IncJob("retried")
			return
		}
		log.Error().Err(qErr).Str("job_id", job.JobID).Msg("retry enqueue failed")
	}

	log.Error().Err(err).Int("worker", id).Str("job_id", job.JobID).Int("attempt", attempt).Msg("job failed")
	w.proc.JobFailed(ctx, job, err, nil)
	if err := w.q.AddDLQ(ctx, data, err.Error()); err != nil {
		log.Error().Err(err).Msg("DLQ write failed")
	}
	metrics.IncJob("failed")
}

func (w *Worker) depthLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.DepthInterval)
	defer ticker.Stop()
	for {
		w.publishDepths()
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) publishDepths() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := w.q.Depths(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("queue depths unavailable")
		return
	}
	metrics.SetQueueDepth("stream", d.Stream)
	metrics.SetQueueDepth("delayed", d.Delayed)
	metrics.SetQueueDepth("dlq", d.DLQ)
}
