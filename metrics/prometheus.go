package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics of the review engine.
type Metrics struct {
	// Resource ledger
	HandlesOutstanding prometheus.Gauge
	HandlesRegistered  *prometheus.CounterVec
	HandlesReleased    *prometheus.CounterVec
	ReleaseFailures    prometheus.Counter

	// Playback channels
	ChannelLoads       *prometheus.CounterVec
	ChannelPlayFailure *prometheus.CounterVec
	RedactedFetchTime  prometheus.Histogram

	// Recording
	RecordingsStarted  prometheus.Counter
	RecordingsFinished prometheus.Counter
	CaptureFailures    *prometheus.CounterVec
	TakeDuration       prometheus.Histogram

	// HTTP API
	HTTPRequests *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide metrics, registering them on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = newMetrics()
	})
	return defaultMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		HandlesOutstanding: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "piireview_handles_outstanding",
			Help: "Number of media handles registered and not yet released",
		}),
		HandlesRegistered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "piireview_handles_registered_total",
			Help: "Total number of media handles registered, by kind",
		}, []string{"kind"}),
		HandlesReleased: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "piireview_handles_released_total",
			Help: "Total number of media handles released, by kind",
		}, []string{"kind"}),
		ReleaseFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "piireview_handle_release_failures_total",
			Help: "Total number of release actions that returned an error or panicked",
		}),

		ChannelLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "piireview_channel_loads_total",
			Help: "Playback channel loads, by channel and outcome",
		}, []string{"channel", "outcome"}),
		ChannelPlayFailure: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "piireview_channel_play_failures_total",
			Help: "Playback failures surfaced by the media backend, by channel",
		}, []string{"channel"}),
		RedactedFetchTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "piireview_redacted_fetch_seconds",
			Help:    "Time spent fetching redacted audio",
			Buckets: prometheus.DefBuckets,
		}),

		RecordingsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "piireview_recordings_started_total",
			Help: "Total number of microphone captures started",
		}),
		RecordingsFinished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "piireview_recordings_finished_total",
			Help: "Total number of microphone captures finalized into a take",
		}),
		CaptureFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "piireview_capture_failures_total",
			Help: "Microphone access failures, by reason",
		}, []string{"reason"}),
		TakeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "piireview_take_duration_seconds",
			Help:    "Duration of finalized recordings",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "piireview_http_requests_total",
			Help: "HTTP API requests, by route and status class",
		}, []string{"route", "status"}),
	}
}
