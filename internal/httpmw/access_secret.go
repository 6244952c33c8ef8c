package httpmw

import (
	"crypto/subtle"
	"net/http"

	"github.com/keithlinneman/bannerpage/internal/log"
	"github.com/keithlinneman/bannerpage/internal/pagecfg"
)

// AccessSecret enforces the edge-proxy shared secret: requests must carry
// secret.HeaderName with exactly secret.HeaderValue or get 403 Access Denied.
//
// With secret.Required false (the default) the middleware is the identity:
// next is returned unchanged and the secret is never read again.
func AccessSecret(secret pagecfg.AccessControlSecret) func(http.Handler) http.Handler {
	if !secret.Required {
		return func(next http.Handler) http.Handler { return next }
	}
	name := http.CanonicalHeaderKey(secret.HeaderName)
	want := []byte(secret.HeaderValue)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(name))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				log.FromContext(r.Context()).Warn(r.Context(), "access denied",
					"header", name,
					"header_present", len(got) > 0,
				)
				http.Error(w, "Access Denied", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
