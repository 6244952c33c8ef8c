package pagehandler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/keithlinneman/bannerpage/internal/bridge"
	"github.com/keithlinneman/bannerpage/internal/log"
	"github.com/keithlinneman/bannerpage/internal/pagecfg"
)

const (
	DefaultBridgeTimeout = 500 * time.Millisecond
	DefaultCacheControl  = "no-store"
)

// SettingsSource is satisfied by *pagecfg.Manager.
type SettingsSource interface {
	Get() (pagecfg.Settings, bool)
}

// Metrics is satisfied by *metrics.ServerMetrics.
type Metrics interface {
	ObservePageRender(result string, d time.Duration)
	IncBridgeEval(result string)
}

type Options struct {
	Logger   log.Logger
	Settings SettingsSource
	Metrics  Metrics

	// Evaluator builds the bridge for one request. Nil means bridge.Request.
	Evaluator func(r *http.Request) bridge.Evaluator

	// BridgeTimeout bounds the location lookup. Default 500ms.
	BridgeTimeout time.Duration

	// CacheControl for rendered pages. Default "no-store" since the body
	// embeds the request URL and a per-request nonce.
	CacheControl string
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Evaluator == nil {
		o.Evaluator = bridge.Request
	}
	if o.BridgeTimeout <= 0 {
		o.BridgeTimeout = DefaultBridgeTimeout
	}
	if o.CacheControl == "" {
		o.CacheControl = DefaultCacheControl
	}
}

func (o *Options) validate() error {
	if o.Settings == nil {
		return fmt.Errorf("%w: Settings is nil", ErrInvalidOptions)
	}
	return nil
}
