package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stride",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stride",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of chat creation attempts.",
		},
		[]string{"outcome"},
	)

	chatQuotaDenied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "chat",
			Name:      "quota_denied_total",
			Help:      "Total number of chat attempts rejected by the weekly quota.",
		},
	)

	receiptVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "billing",
			Name:      "receipt_verifications_total",
			Help:      "Total number of App Store receipt verifications.",
		},
		[]string{"environment", "status"},
	)

	streakUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "streaks",
			Name:      "updates_total",
			Help:      "Total number of streak evaluations by transition.",
		},
		[]string{"transition"},
	)

	aiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Total number of upstream AI completion calls.",
		},
		[]string{"outcome"},
	)

	aiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stride",
			Subsystem: "ai",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream AI completion calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"outcome"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total number of scheduled job runs.",
		},
		[]string{"job", "outcome"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stride",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"job"},
	)

	realtimeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stride",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Current number of open realtime websocket connections.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		chatRequests,
		chatQuotaDenied,
		receiptVerifications,
		streakUpdates,
		aiRequests,
		aiDuration,
		jobRuns,
		jobDuration,
		realtimeConnections,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware collects request metrics for every route. The route template is
// used as the path label so parameterised routes share a series.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := strings.ToUpper(c.Request.Method)
		status := strconv.Itoa(c.Writer.Status())

		httpRequests.WithLabelValues(method, path, status).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordChatRequest records the outcome of a chat creation attempt.
func RecordChatRequest(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	chatRequests.WithLabelValues(outcome).Inc()
	if outcome == "quota_denied" {
		chatQuotaDenied.Inc()
	}
}

// RecordReceiptVerification records one App Store verification response.
func RecordReceiptVerification(environment string, status int) {
	if environment == "" {
		environment = "unknown"
	}
	receiptVerifications.WithLabelValues(environment, strconv.Itoa(status)).Inc()
}

// RecordStreakUpdate records a streak evaluation outcome.
func RecordStreakUpdate(transition string) {
	if transition == "" {
		transition = "unchanged"
	}
	streakUpdates.WithLabelValues(transition).Inc()
}

// RecordAIRequest records an upstream completion call.
func RecordAIRequest(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	aiRequests.WithLabelValues(outcome).Inc()
	aiDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordJobRun records a scheduled job execution.
func RecordJobRun(job string, duration time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	outcome := "error"
	if success {
		outcome = "ok"
	}
	jobRuns.WithLabelValues(job, outcome).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RealtimeConnected marks one websocket connection as open.
func RealtimeConnected() { realtimeConnections.Inc() }

// RealtimeDisconnected marks one websocket connection as closed.
func RealtimeDisconnected() { realtimeConnections.Dec() }
