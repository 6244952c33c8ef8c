package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveRequestID(t *testing.T, inbound string) (ctxID, header string) {
	t.Helper()
	h := RequestID("")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if inbound != "" {
		req.Header.Set(DefaultRequestIDHeader, inbound)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get(DefaultRequestIDHeader)
}

func TestRequestID_Generated(t *testing.T) {
	id, hdr := serveRequestID(t, "")
	if len(id) != 32 || id != hdr {
		t.Fatalf("ctx=%q header=%q", id, hdr)
	}
}

func TestRequestID_PropagatesInbound(t *testing.T) {
	id, hdr := serveRequestID(t, "edge-abc-123")
	if id != "edge-abc-123" || hdr != id {
		t.Fatalf("ctx=%q header=%q", id, hdr)
	}
}

func TestRequestID_ReplacesMalformed(t *testing.T) {
	for _, bad := range []string{"has space", strings.Repeat("x", maxRequestIDLen+1), "tab\tid"} {
		id, _ := serveRequestID(t, bad)
		if id == bad || len(id) != 32 {
			t.Fatalf("inbound %q kept as %q", bad, id)
		}
	}
}

func TestRequestID_CustomHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	RequestID("X-Amzn-Trace-Id")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Header().Get("X-Amzn-Trace-Id") == "" {
		t.Fatal("custom header not set")
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	if got := RequestIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Fatalf("got %q", got)
	}
}
