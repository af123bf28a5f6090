// Package telemetry provides Prometheus metrics, correlation-id aware logging
// and OpenTelemetry tracing helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollCycles        *prometheus.CounterVec // label: state
	MessagesProcessed prometheus.Counter
	DuplicateMessages prometheus.Counter
	EntriesAdded      *prometheus.CounterVec // label: source (chat|manual)
	TokenRefreshes    *prometheus.CounterVec // label: result (ok|error|not_connected)
	LocatorLookups    *prometheus.CounterVec // label: source (cache|remote|none)

	// Histograms (seconds)
	PollDuration prometheus.Observer
	RemoteCalls  *prometheus.HistogramVec // label: op (broadcasts|messages)

	// Gauges
	WheelSizeGauge      prometheus.Gauge
	RefreshFailureGauge prometheus.Gauge // consecutive refresh failures
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wheel_poll_cycles_total", Help: "Poll cycles by resulting state"}, []string{"state"})
		MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "wheel_chat_messages_processed_total", Help: "Live chat messages seen for the first time"})
		DuplicateMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "wheel_chat_messages_duplicate_total", Help: "Live chat messages skipped as already applied"})
		EntriesAdded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wheel_entries_added_total", Help: "Raffle entries appended"}, []string{"source"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wheel_token_refreshes_total", Help: "Access credential refresh attempts by result"}, []string{"result"})
		LocatorLookups = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wheel_live_chat_lookups_total", Help: "Live chat resolutions by source"}, []string{"source"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "wheel_poll_duration_seconds", Help: "Poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		RemoteCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "wheel_youtube_call_duration_seconds", Help: "YouTube API call duration seconds", Buckets: prometheus.DefBuckets}, []string{"op"})
		WheelSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "wheel_entries", Help: "Current number of raffle entries"})
		RefreshFailureGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "wheel_refresh_failure_streak", Help: "Consecutive access credential refresh failures"})
	})
}

// RecordPoll counts a poll cycle outcome and its duration.
func RecordPoll(state string, d time.Duration) {
	if PollCycles != nil {
		PollCycles.WithLabelValues(state).Inc()
	}
	if PollDuration != nil {
		PollDuration.Observe(d.Seconds())
	}
}

// RecordMessage counts one chat message as new or duplicate.
func RecordMessage(duplicate bool) {
	if duplicate {
		if DuplicateMessages != nil {
			DuplicateMessages.Inc()
		}
		return
	}
	if MessagesProcessed != nil {
		MessagesProcessed.Inc()
	}
}

// RecordEntries counts n appended entries from source.
func RecordEntries(source string, n int) {
	if EntriesAdded != nil && n > 0 {
		EntriesAdded.WithLabelValues(source).Add(float64(n))
	}
}

// RecordRefresh counts a refresh attempt.
func RecordRefresh(result string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(result).Inc()
	}
}

// RecordLookup counts a live chat resolution.
func RecordLookup(source string) {
	if LocatorLookups != nil {
		LocatorLookups.WithLabelValues(source).Inc()
	}
}

// RemoteObserver returns the latency observer for a YouTube call, nil before Init.
func RemoteObserver(op string) prometheus.Observer {
	if RemoteCalls == nil {
		return nil
	}
	return RemoteCalls.WithLabelValues(op)
}

// SetWheelSize records the current ledger length.
func SetWheelSize(n int) {
	if WheelSizeGauge != nil {
		WheelSizeGauge.Set(float64(n))
	}
}

// SetRefreshFailures records the consecutive refresh failure count.
func SetRefreshFailures(n int) {
	if RefreshFailureGauge != nil {
		RefreshFailureGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
