package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StyleInfo reports the active page style sheet.
type StyleInfo interface {
	StyleVersion() string
	StyleHash() string
}

// StyleHeaders sets X-Page-Style-Source and a short X-Page-Style-Hash so a
// style reload is visible from the outside, and tags the request span.
func StyleHeaders(info StyleInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			src, sum := info.StyleVersion(), info.StyleHash()
			if src != "" {
				w.Header().Set("X-Page-Style-Source", src)
			}
			if sum != "" {
				short := sum
				if len(short) > 12 {
					short = short[:12]
				}
				w.Header().Set("X-Page-Style-Hash", short)
			}
			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				span.SetAttributes(
					attribute.String("page.style.source", src),
					attribute.String("page.style.hash", sum),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
