package pagehandler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/bannerpage/internal/bridge"
	"github.com/keithlinneman/bannerpage/internal/httpmw"
	"github.com/keithlinneman/bannerpage/internal/pagecfg"
)

type stubSettings struct {
	s  pagecfg.Settings
	ok bool
}

func (s stubSettings) Get() (pagecfg.Settings, bool) { return s.s, s.ok }

type spyMetrics struct {
	mu      sync.Mutex
	renders []string
	evals   []string
}

func (m *spyMetrics) ObservePageRender(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renders = append(m.renders, result)
}

func (m *spyMetrics) IncBridgeEval(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evals = append(m.evals, result)
}

func newHandler(t *testing.T, opts Options) *Handler {
	t.Helper()
	if opts.Settings == nil {
		opts.Settings = stubSettings{s: pagecfg.Defaults(), ok: true}
	}
	h, err := New(&opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func do(h http.Handler, method string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, "https://example.com/page?x=1", nil)
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresSettings(t *testing.T) {
	if _, err := New(&Options{}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	h := newHandler(t, Options{})
	if h.opts.BridgeTimeout != DefaultBridgeTimeout || h.opts.CacheControl != DefaultCacheControl {
		t.Fatalf("defaults not applied: %+v", h.opts)
	}
	if h.opts.Evaluator == nil || h.opts.Logger == nil {
		t.Fatal("evaluator or logger left nil")
	}
}

func TestServeHTTP_RendersBanner(t *testing.T) {
	m := &spyMetrics{}
	h := newHandler(t, Options{Metrics: m})

	rec := do(h, http.MethodGet)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`<div class="banner banner-title">` + pagecfg.DefaultTitle + `</div>`,
		`<div class="banner banner-url">https://example.com/page?x=1</div>`,
		`<div class="banner banner-hint">` + pagecfg.DefaultHint + `</div>`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
	if len(m.renders) != 1 || m.renders[0] != "ok" || len(m.evals) != 1 || m.evals[0] != bridge.ResultOK {
		t.Fatalf("metrics renders=%v evals=%v", m.renders, m.evals)
	}
}

func TestServeHTTP_UsesActiveSettings(t *testing.T) {
	s := pagecfg.Defaults()
	s.Meta.Title = "Ops Console"
	s.Meta.Hint = "Press R"
	h := newHandler(t, Options{Settings: stubSettings{s: s, ok: true}})

	body := do(h, http.MethodGet).Body.String()
	if !strings.Contains(body, ">Ops Console</div>") || !strings.Contains(body, ">Press R</div>") {
		t.Fatalf("settings not applied:\n%s", body)
	}
}

func TestServeHTTP_BridgeFailureDegrades(t *testing.T) {
	m := &spyMetrics{}
	h := newHandler(t, Options{
		Metrics: m,
		Evaluator: func(*http.Request) bridge.Evaluator {
			return bridge.Func(func(context.Context, string) (string, error) { return "", errors.New("frame gone") })
		},
	})

	rec := do(h, http.MethodGet)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with empty url line", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `<div class="banner banner-url"></div>`) {
		t.Fatalf("url line not empty:\n%s", rec.Body.String())
	}
	if len(m.evals) != 1 || m.evals[0] != bridge.ResultError {
		t.Fatalf("evals = %v", m.evals)
	}
}

func TestServeHTTP_BridgeTimeout(t *testing.T) {
	m := &spyMetrics{}
	h := newHandler(t, Options{
		Metrics:       m,
		BridgeTimeout: 20 * time.Millisecond,
		Evaluator: func(*http.Request) bridge.Evaluator {
			return bridge.Func(func(ctx context.Context, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			})
		},
	})

	start := time.Now()
	rec := do(h, http.MethodGet)
	if rec.Code != http.StatusOK || time.Since(start) > 2*time.Second {
		t.Fatalf("status = %d after %v", rec.Code, time.Since(start))
	}
	if len(m.evals) != 1 || m.evals[0] != bridge.ResultTimeout {
		t.Fatalf("evals = %v", m.evals)
	}
}

func TestServeHTTP_Head(t *testing.T) {
	h := newHandler(t, Options{})
	get, head := do(h, http.MethodGet), do(h, http.MethodHead)
	if head.Code != http.StatusOK || head.Body.Len() != 0 {
		t.Fatalf("HEAD = %d with %d body bytes", head.Code, head.Body.Len())
	}
	if head.Header().Get("Content-Length") != get.Header().Get("Content-Length") {
		t.Fatalf("HEAD Content-Length %q != GET %q", head.Header().Get("Content-Length"), get.Header().Get("Content-Length"))
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	h := newHandler(t, Options{})
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		rec := do(h, m)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s = %d, want 405", m, rec.Code)
		}
		if rec.Header().Get("Allow") != "GET, HEAD" {
			t.Fatalf("%s Allow = %q", m, rec.Header().Get("Allow"))
		}
	}
}

func TestServeHTTP_UsesRequestNonce(t *testing.T) {
	h := newHandler(t, Options{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(httpmw.WithNonce(req.Context(), "n0nce"))
	h.ServeHTTP(rec, req)
	if got := strings.Count(rec.Body.String(), `nonce="n0nce"`); got != 3 {
		t.Fatalf("nonce appears %d times, want 3", got)
	}
}

func TestServeHTTP_SecretNeverRendered(t *testing.T) {
	s := pagecfg.Defaults()
	s.Secret.Required = true
	s.Secret.HeaderValue = "hunter2"
	h := newHandler(t, Options{Settings: stubSettings{s: s, ok: true}})
	if body := do(h, http.MethodGet).Body.String(); strings.Contains(body, "hunter2") {
		t.Fatal("secret value leaked into the page")
	}
}
