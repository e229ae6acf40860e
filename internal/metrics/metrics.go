package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fcojfernandez/support-core-plugin/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	httpPanicTotal         prometheus.Counter
	errorsTotal            *prometheus.CounterVec
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	profilingActive prometheus.Gauge

	// bundle generation metrics
	bundlesTotal        prometheus.Counter
	bundleErrorsTotal   *prometheus.CounterVec
	bundleDuration      prometheus.Histogram
	bundleFilesTotal    prometheus.Counter
	bundleBytesTotal    prometheus.Counter
	filesTruncatedTotal prometheus.Counter
	sourcesMissingTotal prometheus.Counter
	lastBundle          *prometheus.GaugeVec
	lastBundleTs        prometheus.Gauge

	// scheduler metrics
	schedulerRunsTotal   prometheus.Counter
	schedulerLastSuccess prometheus.Gauge
	schedulerStale       prometheus.Gauge

	// upload metrics
	uploadsTotal   *prometheus.CounterVec
	uploadDuration prometheus.Histogram
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		bundlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_bundles_generated_total",
			Help: "Total number of support bundles generated",
		}),
		bundleErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_bundle_errors_total",
			Help: "Total bundle generation errors by stage",
		}, []string{"stage"}),
		bundleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "support_bundle_duration_seconds",
			Help:    "Time to collect, redact, and archive a support bundle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		bundleFilesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_bundle_files_total",
			Help: "Total files written into support bundles",
		}),
		bundleBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_bundle_bytes_total",
			Help: "Total bytes written into support bundles",
		}),
		filesTruncatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_bundle_files_truncated_total",
			Help: "Total files truncated by the per-file byte ceiling",
		}),
		sourcesMissingTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_bundle_sources_missing_total",
			Help: "Total source files replaced by a warning placeholder",
		}),
		lastBundle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "support_bundle_info",
			Help: "Most recently generated bundle (label carries identity, value is always 1)",
		}, []string{"sha256"}),
		lastBundleTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "support_bundle_last_timestamp_seconds",
			Help: "Unix timestamp of the most recently generated bundle",
		}),
		schedulerRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_scheduler_runs_total",
			Help: "Total number of scheduler cycles",
		}),
		schedulerLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "support_scheduler_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful scheduled generation",
		}),
		schedulerStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "support_scheduler_stale",
			Help: "Whether the scheduler is stale (1) or healthy (0)",
		}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_bundle_uploads_total",
			Help: "Total bundle upload attempts by result",
		}, []string{"result"}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "support_bundle_upload_duration_seconds",
			Help:    "Time to upload a bundle and record its pointer",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.errorsTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.profilingActive,
		m.bundlesTotal,
		m.bundleErrorsTotal,
		m.bundleDuration,
		m.bundleFilesTotal,
		m.bundleBytesTotal,
		m.filesTruncatedTotal,
		m.sourcesMissingTotal,
		m.lastBundle,
		m.lastBundleTs,
		m.schedulerRunsTotal,
		m.schedulerLastSuccess,
		m.schedulerStale,
		m.uploadsTotal,
		m.uploadDuration,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        app,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_id":   vi.BuildId,
		"build_date": vi.BuildDate,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncBundles() {
	m.bundlesTotal.Inc()
}

func (m *ServerMetrics) IncBundleError(stage string) {
	m.bundleErrorsTotal.WithLabelValues(stage).Inc()
}

func (m *ServerMetrics) ObserveBundleDuration(seconds float64) {
	m.bundleDuration.Observe(seconds)
}

func (m *ServerMetrics) AddBundleFiles(n int) {
	m.bundleFilesTotal.Add(float64(n))
}

func (m *ServerMetrics) AddBundleBytes(n int64) {
	m.bundleBytesTotal.Add(float64(n))
}

func (m *ServerMetrics) IncFileTruncated() {
	m.filesTruncatedTotal.Inc()
}

func (m *ServerMetrics) IncSourceMissing() {
	m.sourcesMissingTotal.Inc()
}

func (m *ServerMetrics) SetLastBundle(sha256 string, t time.Time) {
	m.lastBundle.Reset() // clear previous label value
	m.lastBundle.WithLabelValues(sha256).Set(1)
	m.lastBundleTs.Set(float64(t.Unix()))
}

func (m *ServerMetrics) IncSchedulerRuns() {
	m.schedulerRunsTotal.Inc()
}

func (m *ServerMetrics) SetSchedulerLastSuccess(unixSeconds float64) {
	m.schedulerLastSuccess.Set(unixSeconds)
}

func (m *ServerMetrics) SetSchedulerStale(stale bool) {
	if stale {
		m.schedulerStale.Set(1)
	} else {
		m.schedulerStale.Set(0)
	}
}

func (m *ServerMetrics) IncUpload(result string) {
	m.uploadsTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) ObserveUploadDuration(seconds float64) {
	m.uploadDuration.Observe(seconds)
}
