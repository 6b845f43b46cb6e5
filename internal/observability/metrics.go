package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "membership_functions"

// Metrics stores Prometheus collectors used by the IPN pipeline and the
// membership lookup.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	ipnOutcomesTotal       *prometheus.CounterVec
	ipnVerificationsTotal  *prometheus.CounterVec
	ipnVerifyDuration      prometheus.Histogram
	membershipUpsertsTotal *prometheus.CounterVec
	membershipSyncDuration prometheus.Histogram
	membershipChecksTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ipnOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ipn_outcomes_total",
				Help:      "Terminal IPN outcomes by state and the stage that decided them.",
			},
			[]string{"state", "stage"},
		),
		ipnVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ipn_verifications_total",
				Help:      "PayPal verification round trips by result.",
			},
			[]string{"result"},
		),
		ipnVerifyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "ipn_verification_duration_seconds",
				Help:      "PayPal verification round trip duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		membershipUpsertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "membership_upserts_total",
				Help:      "Mailing list membership upserts by result.",
			},
			[]string{"result"},
		),
		membershipSyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "membership_sync_duration_seconds",
				Help:      "Mailing list synchronization duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		membershipChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "membership_checks_total",
				Help:      "Membership lookups by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.ipnOutcomesTotal,
		m.ipnVerificationsTotal,
		m.ipnVerifyDuration,
		m.membershipUpsertsTotal,
		m.membershipSyncDuration,
		m.membershipChecksTotal,
	)

	return m
}

// Gatherer exposes the registry for scraping outside the HTTP handler.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncIPNOutcome(state string, stage string) {
	if m == nil {
		return
	}
	m.ipnOutcomesTotal.WithLabelValues(normalizeLabel(state), normalizeLabel(stage)).Inc()
}

func (m *Metrics) ObserveVerification(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ipnVerificationsTotal.WithLabelValues(normalizeLabel(result)).Inc()
	m.ipnVerifyDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) ObserveUpsert(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.membershipUpsertsTotal.WithLabelValues(normalizeLabel(result)).Inc()
	m.membershipSyncDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncMembershipCheck(result string) {
	if m == nil {
		return
	}
	m.membershipChecksTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func nonNegativeSeconds(duration time.Duration) float64 {
	if duration < 0 {
		return 0
	}
	return duration.Seconds()
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
