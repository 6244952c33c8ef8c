// Package pagehandler serves the banner page: one render per request,
// reading the current settings and the request URL through the bridge.
package pagehandler

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/keithlinneman/bannerpage/internal/bridge"
	"github.com/keithlinneman/bannerpage/internal/log"
	"github.com/keithlinneman/bannerpage/internal/page"
)

var ErrInvalidOptions = errors.New("pagehandler: invalid options")

var tracer = otel.Tracer("bannerpage/pagehandler")

type Handler struct {
	opts Options
}

func New(opts *Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: *opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, span := tracer.Start(r.Context(), "page.render")
	defer span.End()
	L := log.FromContextOr(ctx, h.opts.Logger)
	start := time.Now()

	settings, loaded := h.opts.Settings.Get()
	span.SetAttributes(
		attribute.Bool("page.settings_loaded", loaded),
		attribute.String("page.style_source", string(settings.StyleSource)),
	)

	ev := bridge.WithFallback(h.opts.Evaluator(r), bridge.Options{
		Timeout:  h.opts.BridgeTimeout,
		OnResult: h.bridgeResult(r, L),
	})

	p := page.New()
	// the fallback evaluator never errors; a non-nil error here is a bug
	if err := page.Banner(ctx, p, ev, settings.Meta, settings.Style); err != nil {
		L.Warn(ctx, "banner script reported an error", "err", err)
	}

	var buf bytes.Buffer
	if err := p.Render(ctx, &buf); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		L.Error(ctx, err, "page render failed")
		h.observe("error", start)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.observe("ok", start)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", h.opts.CacheControl)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) bridgeResult(r *http.Request, L log.Logger) func(string, error) {
	return func(result string, err error) {
		if h.opts.Metrics != nil {
			h.opts.Metrics.IncBridgeEval(result)
		}
		if err != nil {
			L.Warn(r.Context(), "current url unavailable, rendering without it",
				"result", result,
				"err", err,
			)
		}
	}
}

func (h *Handler) observe(result string, start time.Time) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.ObservePageRender(result, time.Since(start))
	}
}
