package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/bannerpage/internal/version"
)

// family returns the gathered family with the given name, or nil.
func family(t *testing.T, m *ServerMetrics, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labelsMatch(mt *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range mt.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func counterValue(t *testing.T, m *ServerMetrics, name string, labels map[string]string) float64 {
	t.Helper()
	mf := family(t, m, name)
	if mf == nil {
		return 0
	}
	for _, mt := range mf.GetMetric() {
		if labelsMatch(mt, labels) {
			return mt.GetCounter().GetValue()
		}
	}
	return 0
}

func gaugeValue(t *testing.T, m *ServerMetrics, name string, labels map[string]string) float64 {
	t.Helper()
	mf := family(t, m, name)
	if mf == nil {
		t.Fatalf("%s not registered", name)
	}
	for _, mt := range mf.GetMetric() {
		if labelsMatch(mt, labels) {
			return mt.GetGauge().GetValue()
		}
	}
	t.Fatalf("%s%v not found", name, labels)
	return 0
}

func TestHandler_Scrape(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"go_goroutines", "http_inflight_requests", "http_panic_total", "page_render_duration_seconds", "profiling_active"} {
		if !strings.Contains(body, name) {
			t.Errorf("%s missing from scrape", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncHTTPPanic()
	if got := counterValue(t, b, "http_panic_total", nil); got != 0 {
		t.Fatalf("second registry saw %v panics", got)
	}
}

func TestPageCounters(t *testing.T) {
	m := New()
	m.ObservePageRender("ok", 3*time.Millisecond)
	m.ObservePageRender("ok", time.Millisecond)
	m.ObservePageRender("error", time.Millisecond)
	m.IncBridgeEval("timeout")
	m.IncSettingsReload("swapped")
	m.IncSettingsReload("error")

	if got := counterValue(t, m, "page_renders_total", map[string]string{"result": "ok"}); got != 2 {
		t.Fatalf("renders ok = %v", got)
	}
	if got := counterValue(t, m, "page_bridge_evaluations_total", map[string]string{"result": "timeout"}); got != 1 {
		t.Fatalf("bridge timeout = %v", got)
	}
	if got := counterValue(t, m, "page_settings_reloads_total", map[string]string{"result": "error"}); got != 1 {
		t.Fatalf("reload error = %v", got)
	}
	h := family(t, m, "page_render_duration_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 3 {
		t.Fatalf("render samples = %d", h.GetSampleCount())
	}
}

func TestSetActiveStyle_ReplacesSeries(t *testing.T) {
	m := New()
	m.SetActiveStyle("aaa", "default")
	m.SetActiveStyle("bbb", "s3")
	mf := family(t, m, "page_style_info")
	if n := len(mf.GetMetric()); n != 1 {
		t.Fatalf("page_style_info has %d series, want 1", n)
	}
	if gaugeValue(t, m, "page_style_info", map[string]string{"sha256": "bbb", "source": "s3"}) != 1 {
		t.Fatal("active style not recorded")
	}
}

func TestSetSettingsLoaded(t *testing.T) {
	m := New()
	ts := time.Unix(1_700_000_000, 0)
	m.SetSettingsLoaded(ts)
	if got := gaugeValue(t, m, "page_settings_loaded_timestamp_seconds", nil); got != 1_700_000_000 {
		t.Fatalf("loaded = %v", got)
	}
}

func TestSetProfilingActive(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	if gaugeValue(t, m, "profiling_active", nil) != 1 {
		t.Fatal("want 1")
	}
	m.SetProfilingActive(false)
	if gaugeValue(t, m, "profiling_active", nil) != 0 {
		t.Fatal("want 0")
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("server", version.Info{
		AppName: "bannerpage", Version: "v1.0.0", Commit: "abc", GoVersion: "go1.24", VCSDirty: &dirty,
	})
	if gaugeValue(t, m, "build_info", map[string]string{
		"app": "bannerpage", "component": "server", "version": "v1.0.0", "vcs_dirty": "true",
	}) != 1 {
		t.Fatal("build_info not 1")
	}
}

func TestSetBuildInfoFromVersion_UnknownDirty(t *testing.T) {
	m := New()
	m.SetBuildInfoFromVersion("server", version.Info{AppName: "bannerpage"})
	if gaugeValue(t, m, "build_info", map[string]string{"vcs_dirty": "unknown"}) != 1 {
		t.Fatal("nil VCSDirty should be reported as unknown")
	}
}

func TestRateLimitCounters(t *testing.T) {
	m := New()
	m.IncRateLimitDenied()
	m.IncRateLimitCapacity()
	if counterValue(t, m, "http_requests_rate_limited_total", nil) != 1 ||
		counterValue(t, m, "http_requests_rate_limited_capacity_total", nil) != 1 {
		t.Fatal("rate limit counters not incremented")
	}
}

func TestSetSettingsStale(t *testing.T) {
	m := New()
	m.SetSettingsStale(true)
	if v := gaugeValue(t, m, "page_settings_remote_stale", nil); v != 1 {
		t.Fatalf("stale = %v, want 1", v)
	}
	m.SetSettingsStale(false)
	if v := gaugeValue(t, m, "page_settings_remote_stale", nil); v != 0 {
		t.Fatalf("stale = %v, want 0", v)
	}
}
