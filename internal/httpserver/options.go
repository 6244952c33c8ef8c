package httpserver

import (
	"net/http"

	"github.com/keithlinneman/bannerpage/internal/health"
	"github.com/keithlinneman/bannerpage/internal/httpmw"
	"github.com/keithlinneman/bannerpage/internal/log"
	"github.com/keithlinneman/bannerpage/internal/pagecfg"
)

const DefaultPort = 8080

type Options struct {
	Logger log.Logger
	Port   int

	// PageHandler serves GET and HEAD on /.
	PageHandler http.Handler

	Health    health.Probe
	Readiness health.Probe

	UseRecoverMW bool
	OnPanic      func()

	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// StyleInfo backs the X-Page-Style-* headers.
	StyleInfo httpmw.StyleInfo

	// AccessSecret guards the page route. Disabled unless Required.
	AccessSecret pagecfg.AccessControlSecret
}
