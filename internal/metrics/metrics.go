// Package metrics owns the Prometheus registry served on the admin port.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/bannerpage/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight    prometheus.Gauge
	reqTotal    *prometheus.CounterVec
	reqDur      *prometheus.HistogramVec
	respBytes   *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
	panicTotal  prometheus.Counter

	ratelimitDenied   prometheus.Counter
	ratelimitCapacity prometheus.Counter

	// page
	renderTotal    *prometheus.CounterVec
	renderDur      prometheus.Histogram
	bridgeTotal    *prometheus.CounterVec
	reloadTotal    *prometheus.CounterVec
	styleInfo      *prometheus.GaugeVec
	settingsLoaded prometheus.Gauge
	settingsStale  prometheus.Gauge

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New returns a fresh registry with the Go and process collectors and the
// service's own metrics. Labels are limited to method, route, status and
// small fixed result sets.
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
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses by method and route",
		}, []string{"method", "route"}),
		panicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		ratelimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		}),
		ratelimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total times the rate limiter's client table was full",
		}),
		renderTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "page_renders_total",
			Help: "Page renders by result (ok, error)",
		}, []string{"result"}),
		renderDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "page_render_duration_seconds",
			Help:    "Time to build and write the page, including the URL lookup",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		bridgeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "page_bridge_evaluations_total",
			Help: "Current-URL evaluations by result (ok, error, timeout)",
		}, []string{"result"}),
		reloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "page_settings_reloads_total",
			Help: "Settings reloads by result (swapped, unchanged, error)",
		}, []string{"result"}),
		styleInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "page_style_info",
			Help: "Active style sheet (labels carry identity, value is always 1)",
		}, []string{"sha256", "source"}),
		settingsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "page_settings_loaded_timestamp_seconds",
			Help: "Unix time the active settings were loaded",
		}),
		settingsStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "page_settings_remote_stale",
			Help: "1 while remote settings sources have failed past the staleness threshold",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight, m.reqTotal, m.reqDur, m.respBytes, m.errorsTotal, m.panicTotal,
		m.ratelimitDenied, m.ratelimitCapacity,
		m.renderTotal, m.renderDur, m.bridgeTotal, m.reloadTotal, m.styleInfo, m.settingsLoaded, m.settingsStale,
		m.buildInfo, m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry is exposed for tests and for wiring extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ServerMetrics) IncHTTPPanic()         { m.panicTotal.Inc() }
func (m *ServerMetrics) IncRateLimitDenied()   { m.ratelimitDenied.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacity.Inc() }

// ObservePageRender records one render; result is "ok" or "error".
func (m *ServerMetrics) ObservePageRender(result string, d time.Duration) {
	m.renderTotal.WithLabelValues(result).Inc()
	m.renderDur.Observe(d.Seconds())
}

// IncBridgeEval matches bridge.Options.OnResult's result labels.
func (m *ServerMetrics) IncBridgeEval(result string) {
	m.bridgeTotal.WithLabelValues(result).Inc()
}

// IncSettingsReload implements pagecfg.WatcherMetrics.
func (m *ServerMetrics) IncSettingsReload(result string) {
	m.reloadTotal.WithLabelValues(result).Inc()
}

// SetActiveStyle replaces the page_style_info series.
func (m *ServerMetrics) SetActiveStyle(sha256, source string) {
	m.styleInfo.Reset()
	m.styleInfo.WithLabelValues(sha256, source).Set(1)
}

func (m *ServerMetrics) SetSettingsLoaded(t time.Time) {
	m.settingsLoaded.Set(float64(t.Unix()))
}

func (m *ServerMetrics) SetSettingsStale(stale bool) {
	if stale {
		m.settingsStale.Set(1)
		return
	}
	m.settingsStale.Set(0)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
		return
	}
	m.profilingActive.Set(0)
}

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildID,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}
