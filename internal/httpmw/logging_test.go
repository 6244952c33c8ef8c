package httpmw

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/bannerpage/internal/log"
)

type record struct {
	msg string
	kv  map[string]any
}

// captureLogger merges With() fields into every record it emits.
type captureLogger struct {
	log.Logger
	mu      *sync.Mutex
	base    map[string]any
	records *[]record
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{Logger: log.Nop(), mu: &sync.Mutex{}, base: map[string]any{}, records: &[]record{}}
}

func (c *captureLogger) With(kv ...any) log.Logger {
	next := &captureLogger{Logger: c.Logger, mu: c.mu, base: map[string]any{}, records: c.records}
	for k, v := range c.base {
		next.base[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		next.base[kv[i].(string)] = kv[i+1]
	}
	return next
}

func (c *captureLogger) Info(_ context.Context, msg string, kv ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := map[string]any{}
	for k, v := range c.base {
		m[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	*c.records = append(*c.records, record{msg: msg, kv: m})
}

func (c *captureLogger) all() []record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]record(nil), *c.records...)
}

func pageStack(l log.Logger, h http.Handler) http.Handler {
	return Chain(h, RequestID(""), ClientIP, WithLogger(l), AccessLog())
}

func TestWithLogger_FieldsOnRequestLogger(t *testing.T) {
	cl := newCaptureLogger()
	h := pageStack(cl, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Info(r.Context(), "rendering")
	}))
	req := httptest.NewRequest(http.MethodGet, "http://page.example/?x=1", http.NoBody)
	req.RemoteAddr = "203.0.113.9:4444"
	h.ServeHTTP(httptest.NewRecorder(), req)

	recs := cl.all()
	if len(recs) == 0 || recs[0].msg != "rendering" {
		t.Fatalf("records = %+v", recs)
	}
	kv := recs[0].kv
	if kv["client.address"] != "203.0.113.9" || kv["network.peer.address"] != "203.0.113.9" {
		t.Fatalf("addresses = %v / %v", kv["client.address"], kv["network.peer.address"])
	}
	if kv["url.path"] != "/" || kv["http.request.method"] != http.MethodGet || kv["server.address"] != "page.example" {
		t.Fatalf("request fields = %v", kv)
	}
	if id, _ := kv["request_id"].(string); id == "" {
		t.Fatal("request_id missing")
	}
	if _, ok := kv["url.query"]; ok {
		t.Fatal("query strings must not be logged")
	}
}

func TestAccessLog_Record(t *testing.T) {
	cl := newCaptureLogger()
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("12345"))
	})
	pageStack(cl, r).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	recs := cl.all()
	if len(recs) != 1 || recs[0].msg != "http request" {
		t.Fatalf("records = %+v", recs)
	}
	kv := recs[0].kv
	if kv["http.response.status_code"] != http.StatusTeapot {
		t.Fatalf("status = %v", kv["http.response.status_code"])
	}
	if kv["http.response.body.size"] != int64(5) {
		t.Fatalf("size = %v", kv["http.response.body.size"])
	}
	if kv["http.route"] != "/" {
		t.Fatalf("route = %v", kv["http.route"])
	}
}

func TestAccessLog_DefaultStatusAndHealthSkipped(t *testing.T) {
	cl := newCaptureLogger()
	h := pageStack(cl, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))
	if n := len(cl.all()); n != 0 {
		t.Fatalf("health probes logged %d records", n)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	recs := cl.all()
	if len(recs) != 1 || recs[0].kv["http.response.status_code"] != http.StatusOK {
		t.Fatalf("records = %+v", recs)
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, ctx: context.Background()}
	rw.WriteHeader(http.StatusNotFound)
	rw.WriteHeader(http.StatusOK)
	if rw.statusCode() != http.StatusNotFound {
		t.Fatalf("status = %d", rw.statusCode())
	}
	if rw.Unwrap() != rec {
		t.Fatal("Unwrap should return the underlying writer")
	}
}

func TestSchemeFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if got := schemeFromRequest(req); got != "http" {
		t.Fatalf("plain = %q", got)
	}
	req.TLS = &tls.ConnectionState{}
	if got := schemeFromRequest(req); got != "https" {
		t.Fatalf("tls = %q", got)
	}
	req.TLS = nil
	req.Header.Set("X-Forwarded-Proto", " HTTPS ,http")
	if got := schemeFromRequest(req); got != "https" {
		t.Fatalf("forwarded = %q", got)
	}
	req.Header.Set("X-Forwarded-Proto", "gopher")
	if got := schemeFromRequest(req); got != "http" {
		t.Fatalf("bogus forwarded = %q", got)
	}
}

func TestScope_AddsHandlerField(t *testing.T) {
	cl := newCaptureLogger()
	h := Chain(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Info(r.Context(), "inside")
	}), WithLogger(cl), Scope("page"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	recs := cl.all()
	if len(recs) != 1 || recs[0].kv["handler"] != "page" {
		t.Fatalf("records = %+v", recs)
	}
}
