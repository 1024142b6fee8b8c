package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	deploymentsByState *prometheus.GaugeVec

	reinstalls       *prometheus.CounterVec
	reinstallLatency prometheus.Histogram

	wsSessions      prometheus.Gauge
	wsFrames        *prometheus.CounterVec
	logStreamsOpen  prometheus.Gauge
	statusPollTicks prometheus.Counter
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()

	mm := &MetricsManager{
		logger:   logger,
		registry: registry,
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentgrid_uptime_seconds",
		Help: "Time since the application started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentgrid_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.deploymentsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentgrid_deployments",
			Help: "Number of deployed servers by state",
		},
		[]string{"state"},
	)

	mm.reinstalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_reinstalls_total",
			Help: "Total number of automatic reinstall attempts",
		},
		[]string{"result"}, // result: success, failed
	)

	mm.reinstallLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentgrid_reinstall_duration_seconds",
			Help:    "Time taken to complete an automatic reinstall",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	mm.wsSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentgrid_realtime_sessions",
		Help: "Number of open realtime connections",
	})

	mm.wsFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_realtime_frames_total",
			Help: "Total number of outbound realtime frames",
		},
		[]string{"type"},
	)

	mm.logStreamsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentgrid_log_streams_open",
		Help: "Number of active log tail streams",
	})

	mm.statusPollTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentgrid_status_poll_ticks_total",
		Help: "Total number of status subscription poll ticks",
	})
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.deploymentsByState,
		mm.reinstalls,
		mm.reinstallLatency,
		mm.wsSessions,
		mm.wsFrames,
		mm.logStreamsOpen,
		mm.statusPollTicks,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// SetDeploymentsByState updates the per-state deployment gauges
func (mm *MetricsManager) SetDeploymentsByState(counts map[string]int) {
	mm.deploymentsByState.Reset()
	for state, count := range counts {
		mm.deploymentsByState.WithLabelValues(state).Set(float64(count))
	}
}

// RecordReinstall records a reinstall attempt
func (mm *MetricsManager) RecordReinstall(result string, duration time.Duration) {
	mm.reinstalls.WithLabelValues(result).Inc()
	mm.reinstallLatency.Observe(duration.Seconds())
}

// SessionOpened increments the realtime session gauge
func (mm *MetricsManager) SessionOpened() { mm.wsSessions.Inc() }

// SessionClosed decrements the realtime session gauge
func (mm *MetricsManager) SessionClosed() { mm.wsSessions.Dec() }

// RecordFrame records an outbound realtime frame
func (mm *MetricsManager) RecordFrame(frameType string) {
	mm.wsFrames.WithLabelValues(frameType).Inc()
}

// LogStreamOpened increments the active log stream gauge
func (mm *MetricsManager) LogStreamOpened() { mm.logStreamsOpen.Inc() }

// LogStreamClosed decrements the active log stream gauge
func (mm *MetricsManager) LogStreamClosed() { mm.logStreamsOpen.Dec() }

// RecordStatusPollTick counts one status subscription poll tick
func (mm *MetricsManager) RecordStatusPollTick() { mm.statusPollTicks.Inc() }

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// HTTPMiddleware returns middleware that records HTTP metrics
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
