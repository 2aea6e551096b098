// Package metrics defines the Prometheus instrumentation exposed on
// /metrics. All metrics are prefixed with "vertd_".
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vertd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vertd_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vertd_upload_bytes_total",
			Help: "Total bytes of media accepted by the upload endpoint",
		},
	)

	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vertd_download_bytes_total",
			Help: "Total bytes of encoded output sent to clients",
		},
	)

	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertd_downloads_total",
			Help: "Total number of downloads by outcome",
		},
		[]string{"outcome"}, // "complete", "partial", "rejected"
	)
)

// Job metrics
var (
	JobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertd_jobs_created_total",
			Help: "Total number of jobs created by upload",
		},
		[]string{"kind"},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertd_jobs_finished_total",
			Help: "Total number of jobs that finished encoding",
		},
		[]string{"kind", "state"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vertd_active_sessions",
			Help: "Number of open websocket job sessions",
		},
	)

	RegisteredJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vertd_registered_jobs",
			Help: "Number of jobs currently held in the registry",
		},
	)

	FailureNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertd_failure_notifications_total",
			Help: "Total number of failure webhook deliveries by result",
		},
		[]string{"result"},
	)

	OrphansRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vertd_orphan_files_removed_total",
			Help: "Total number of orphaned job files removed by the sweeper",
		},
	)
)

// Encoder metrics
var (
	EncoderRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertd_encoder_runs_total",
			Help: "Total number of ffmpeg runs by exit status",
		},
		[]string{"status"},
	)

	EncoderRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vertd_encoder_run_duration_seconds",
			Help:    "Duration of ffmpeg runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	EncoderPeakRSSBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vertd_encoder_peak_rss_bytes",
			Help:    "Peak resident memory of ffmpeg runs",
			Buckets: prometheus.ExponentialBuckets(32<<20, 2, 8),
		},
	)
)

// ObserveEncoderRun records one finished ffmpeg run. It matches the
// signature of ffmpeg.Supervisor.OnExit.
func ObserveEncoderRun(r ffmpeg.RunResult) {
	status := "success"
	if r.Err != nil {
		status = "error"
	}
	EncoderRunsTotal.WithLabelValues(status).Inc()
	EncoderRunDuration.Observe(r.Duration.Seconds())
	if r.Stats.PeakRSSBytes > 0 {
		EncoderPeakRSSBytes.Observe(float64(r.Stats.PeakRSSBytes))
	}
}

// ObserveNotification records a failure webhook delivery attempt. It matches
// the signature of notify.Dispatcher.OnSent.
func ObserveNotification(err error) {
	result := "sent"
	if err != nil {
		result = "error"
	}
	FailureNotificationsTotal.WithLabelValues(result).Inc()
}
