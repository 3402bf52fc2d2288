package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/abdulhad-eng/home-fair-share/internal/infra/telemetry"
)

const unmatchedRoute = "unmatched"

// HTTPMetricsOptions configures the HTTP metrics middleware.
type HTTPMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// HTTPMetrics holds the request collectors. Event streams are counted in
// Requests and OpenStreams but kept out of Duration, since their lifetime is
// the client's and not the server's.
type HTTPMetrics struct {
	Requests    *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	InFlight    prometheus.Gauge
	OpenStreams prometheus.Gauge
}

func NewHTTPMetrics(opts HTTPMetricsOptions) (*HTTPMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "roomie"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	labels := []string{"method", "route", "status"}
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route template and status code.",
		}, labels),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of non-streaming HTTP requests in seconds.",
			Buckets:   buckets,
		}, labels),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "HTTP requests currently being served.",
		}),
		OpenStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "open_event_streams",
			Help:      "Identity and consent event streams currently open.",
		}),
	}

	var err error
	if m.Requests, err = telemetry.Register(reg, m.Requests); err != nil {
		return nil, err
	}
	if m.Duration, err = telemetry.Register(reg, m.Duration); err != nil {
		return nil, err
	}
	if m.InFlight, err = telemetry.Register(reg, m.InFlight); err != nil {
		return nil, err
	}
	if m.OpenStreams, err = telemetry.Register(reg, m.OpenStreams); err != nil {
		return nil, err
	}
	return m, nil
}

// Handler returns a Gin middleware that records the HTTP metrics.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		m.InFlight.Inc()
		defer m.InFlight.Dec()

		stream := acceptsEventStream(c)
		if stream {
			m.OpenStreams.Inc()
			defer m.OpenStreams.Dec()
		}

		c.Next()

		// raw paths would let /verifications/:id explode the label set
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		values := []string{c.Request.Method, route, strconv.Itoa(c.Writer.Status())}

		m.Requests.WithLabelValues(values...).Inc()
		if !stream {
			m.Duration.WithLabelValues(values...).Observe(time.Since(start).Seconds())
		}
	}
}

func acceptsEventStream(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}
