package httpmw

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/keithlinneman/bannerpage/internal/pagecfg"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("page"))
	})
}

func TestAccessSecret_DisabledIsIdentity(t *testing.T) {
	next := okHandler()
	got := AccessSecret(pagecfg.Defaults().Secret)(next)
	if reflect.ValueOf(got).Pointer() != reflect.ValueOf(next).Pointer() {
		t.Fatal("disabled guard must return next unchanged")
	}
}

func TestAccessSecret_DisabledResponsesIgnoreHeader(t *testing.T) {
	s := pagecfg.Defaults().Secret
	h := AccessSecret(s)(okHandler())

	plain := httptest.NewRecorder()
	h.ServeHTTP(plain, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	withHeader := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(s.HeaderName, "wrong")
	h.ServeHTTP(withHeader, req)

	if plain.Code != withHeader.Code || plain.Body.String() != withHeader.Body.String() ||
		!reflect.DeepEqual(plain.Header(), withHeader.Header()) {
		t.Fatal("responses differ with and without the secret header")
	}
}

func TestAccessSecret_Enforced(t *testing.T) {
	s := pagecfg.AccessControlSecret{Required: true, HeaderName: "x-client-secret", HeaderValue: "secret-value"}
	h := AccessSecret(s)(okHandler())

	cases := map[string]struct {
		value string
		set   bool
		code  int
	}{
		"missing": {code: http.StatusForbidden},
		"wrong":   {value: "nope", set: true, code: http.StatusForbidden},
		"prefix":  {value: "secret", set: true, code: http.StatusForbidden},
		"correct": {value: "secret-value", set: true, code: http.StatusOK},
	}
	for name, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		if tc.set {
			req.Header.Set("X-Client-Secret", tc.value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.code {
			t.Fatalf("%s: status = %d, want %d", name, rec.Code, tc.code)
		}
		if tc.code == http.StatusForbidden && !strings.Contains(rec.Body.String(), "Access Denied") {
			t.Fatalf("%s: body = %q", name, rec.Body.String())
		}
	}
}
