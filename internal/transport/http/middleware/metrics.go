package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var httpMetricLabels = []string{"method", "route", "status"}

// HTTPMetricsOptions configures the HTTP metrics middleware. Zero values
// fall back to the socsec namespace and the default registerer, which lets
// tests isolate collectors in their own registry.
type HTTPMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
	Buckets    []float64
}

// HTTPMetrics holds the request collectors exported at /metrics.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics builds and registers the request collectors. Registering
// twice against the same registerer reuses the existing collectors, so
// route setup stays idempotent.
func NewHTTPMetrics(opts HTTPMetricsOptions) (*HTTPMetrics, error) {
	if opts.Namespace == "" {
		opts.Namespace = "socsec"
	}
	if opts.Subsystem == "" {
		opts.Subsystem = "http"
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if len(opts.Buckets) == 0 {
		opts.Buckets = prometheus.DefBuckets
	}

	requests, err := registerCollector(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name:      "requests_total",
		Help:      "HTTP requests partitioned by method, route, and status.",
	}, httpMetricLabels))
	if err != nil {
		return nil, fmt.Errorf("register requests collector: %w", err)
	}

	duration, err := registerCollector(opts.Registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds partitioned by method, route, and status.",
		Buckets:   opts.Buckets,
	}, httpMetricLabels))
	if err != nil {
		return nil, fmt.Errorf("register duration collector: %w", err)
	}

	inFlight, err := registerCollector(opts.Registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name:      "in_flight_requests",
		Help:      "HTTP requests currently being served.",
	}))
	if err != nil {
		return nil, fmt.Errorf("register in-flight collector: %w", err)
	}

	metrics := &HTTPMetrics{}
	var ok bool
	if metrics.Requests, ok = requests.(*prometheus.CounterVec); !ok {
		return nil, fmt.Errorf("requests collector has unexpected type %T", requests)
	}
	if metrics.Duration, ok = duration.(*prometheus.HistogramVec); !ok {
		return nil, fmt.Errorf("duration collector has unexpected type %T", duration)
	}
	if metrics.InFlight, ok = inFlight.(prometheus.Gauge); !ok {
		return nil, fmt.Errorf("in-flight collector has unexpected type %T", inFlight)
	}

	return metrics, nil
}

// registerCollector registers c, or returns the collector already registered
// under the same descriptor.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector, nil
		}
		return nil, err
	}
	return c, nil
}

// Handler records request count, latency, and in-flight gauge per request.
// A nil receiver yields a pass-through, so metrics stay optional in wiring.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		m.InFlight.Inc()

		c.Next()

		m.InFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		m.Requests.With(labels).Inc()
		m.Duration.With(labels).Observe(time.Since(start).Seconds())
	}
}
