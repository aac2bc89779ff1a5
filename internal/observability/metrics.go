package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cyclops"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "frames_sent_total",
			Help:      "Command frames written to boards.",
		},
		[]string{"command"},
	)
	responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "responses_total",
			Help:      "Response codes read from boards.",
		},
		[]string{"code"},
	)
	unrecognized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "unrecognized_bytes_total",
			Help:      "Response bytes outside the known code set.",
		},
	)
	deviceFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "device_faults_total",
			Help:      "Transitions into not-responding caused by board fault codes.",
		},
		[]string{"session"},
	)
	handshakes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "identify_duration_seconds",
			Help:      "Identify handshake duration in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"success"},
	)
	tests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "tests_total",
			Help:      "Channel tests by outcome.",
		},
		[]string{"outcome"},
	)
	migrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "migrations_total",
			Help:      "Hook migrations by outcome.",
		},
		[]string{"outcome"},
	)
	sessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "sessions",
			Help:      "Open sessions by status.",
		},
		[]string{"status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesSent, responses, unrecognized,
			deviceFaults, handshakes, tests,
			migrations, sessions,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameSent(command string) {
	RegisterMetrics()
	framesSent.WithLabelValues(command).Inc()
}

func RecordResponse(code string) {
	RegisterMetrics()
	responses.WithLabelValues(code).Inc()
}

func RecordUnrecognized() {
	RegisterMetrics()
	unrecognized.Inc()
}

func RecordDeviceFault(sessionID int) {
	RegisterMetrics()
	deviceFaults.WithLabelValues(strconv.Itoa(sessionID)).Inc()
}

func RecordHandshake(duration time.Duration, success bool) {
	RegisterMetrics()
	handshakes.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())
}

func RecordTest(outcome string) {
	RegisterMetrics()
	tests.WithLabelValues(outcome).Inc()
}

func RecordMigration(outcome string) {
	RegisterMetrics()
	migrations.WithLabelValues(outcome).Inc()
}

// SetSessionCounts replaces the per-status session gauge.
func SetSessionCounts(counts map[string]int) {
	RegisterMetrics()
	sessions.Reset()
	for status, n := range counts {
		sessions.WithLabelValues(status).Set(float64(n))
	}
}
