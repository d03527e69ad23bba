package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pathdesk"

var (
	summariesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Slide summaries by result (success, failed) and error kind",
		},
		[]string{"result", "kind"},
	)

	summaryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summary_duration_seconds",
			Help:      "Wall time of slide summaries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	chosenLevel = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chosen_level",
			Help:      "Pyramid level picked for the preview",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 8},
		},
	)

	previewFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preview_failures_total",
			Help:      "Summaries whose metadata succeeded but preview failed",
		},
	)

	scoreComputations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_computations_total",
			Help:      "PLNM score computations by result (success, invalid)",
		},
		[]string{"result"},
	)

	scoreValue = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "score_value",
			Help:      "Distribution of computed PLNM scores",
			Buckets:   prometheus.LinearBuckets(0, 1, 14),
		},
	)

	uploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes received in slide uploads",
		},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Async slide jobs by result (success, failed, cancelled, dlq)",
		},
		[]string{"result"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream and dlq",
		},
		[]string{"type"},
	)

	inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_summaries",
			Help:      "Summaries currently holding a concurrency slot",
		},
	)

	initOnce sync.Once
)

// Init registers collectors. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(summariesTotal, summaryLatency, chosenLevel, previewFailures,
			scoreComputations, scoreValue, uploadBytes, jobsTotal, queueDepth, inflight)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

// ObserveSummary records one finished summary. kind is empty on success.
func ObserveSummary(success bool, kind string, dur time.Duration) {
	result := "success"
	if !success {
		result = "failed"
	}
	summariesTotal.WithLabelValues(result, kind).Inc()
	summaryLatency.Observe(dur.Seconds())
}

func ObserveChosenLevel(level int) { chosenLevel.Observe(float64(level)) }
func IncPreviewFailure()           { previewFailures.Inc() }

func ObserveScore(score int) {
	scoreComputations.WithLabelValues("success").Inc()
	scoreValue.Observe(float64(score))
}

func IncInvalidScore() { scoreComputations.WithLabelValues("invalid").Inc() }

func AddUploadBytes(n int64) { uploadBytes.Add(float64(n)) }

func IncJob(result string) { jobsTotal.WithLabelValues(result).Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }

func IncInflight() { inflight.Inc() }
func DecInflight() { inflight.Dec() }
