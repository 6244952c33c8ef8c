// Package bridge evaluates small client-side expressions on behalf of the
// page renderer. The only expressions supported resolve the browser's
// current location, which on the server side is reconstructed from the
// inbound request.
package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/keithlinneman/bannerpage/internal/xerrors"
)

// LocationExpr resolves the top-level window's location.
const LocationExpr = "await fetch('').then(r => window.parent.location.href)"

var ErrUnsupportedExpression = xerrors.New("unsupported expression")

type Evaluator interface {
	Eval(ctx context.Context, expr string) (string, error)
}

// Func adapts a function to Evaluator.
type Func func(ctx context.Context, expr string) (string, error)

func (f Func) Eval(ctx context.Context, expr string) (string, error) { return f(ctx, expr) }

var locationExprs = map[string]struct{}{
	LocationExpr:                  {},
	"window.location.href":        {},
	"window.parent.location.href": {},
	"window.top.location.href":    {},
	"document.location.href":      {},
}

// IsLocation reports whether expr asks for the current location.
func IsLocation(expr string) bool {
	_, ok := locationExprs[strings.TrimSpace(expr)]
	return ok
}

type requestEvaluator struct {
	scheme string
	host   string
	uri    string
}

// Request answers location expressions from r. The scheme comes from
// X-Forwarded-Proto when present, otherwise from r.TLS. The client IP
// middleware strips X-Forwarded-Proto from untrusted peers before this runs.
func Request(r *http.Request) Evaluator {
	return requestEvaluator{
		scheme: scheme(r.Header.Get("X-Forwarded-Proto"), r.TLS),
		host:   r.Host,
		uri:    r.URL.RequestURI(),
	}
}

func (e requestEvaluator) Eval(ctx context.Context, expr string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !IsLocation(expr) {
		return "", xerrors.Wrapf(ErrUnsupportedExpression, "%.40q", expr)
	}
	if e.host == "" {
		return "", nil
	}
	return e.scheme + "://" + e.host + e.uri, nil
}

func scheme(forwarded string, cs *tls.ConnectionState) string {
	if p, _, _ := strings.Cut(forwarded, ","); p != "" {
		switch p = strings.ToLower(strings.TrimSpace(p)); p {
		case "http", "https":
			return p
		}
	}
	if cs != nil {
		return "https"
	}
	return "http"
}

// Static always returns v.
func Static(v string) Evaluator {
	return Func(func(context.Context, string) (string, error) { return v, nil })
}

// Result labels passed to Options.OnResult.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

type Options struct {
	// Timeout bounds a single evaluation. Zero means no extra deadline.
	Timeout time.Duration
	// Fallback is returned when evaluation fails or times out.
	Fallback string
	// OnResult receives ResultOK, ResultError or ResultTimeout.
	OnResult func(result string, err error)
}

type fallbackEvaluator struct {
	next Evaluator
	opts Options
}

// WithFallback makes one attempt at ev and never returns an error: failures
// and timeouts yield opts.Fallback.
func WithFallback(ev Evaluator, opts Options) Evaluator {
	return fallbackEvaluator{next: ev, opts: opts}
}

func (f fallbackEvaluator) Eval(ctx context.Context, expr string) (string, error) {
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	type result struct {
		v   string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := f.next.Eval(ctx, expr)
		ch <- result{v, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	switch {
	case res.err == nil:
		f.report(ResultOK, nil)
		return res.v, nil
	case errors.Is(res.err, context.DeadlineExceeded):
		f.report(ResultTimeout, res.err)
	default:
		f.report(ResultError, res.err)
	}
	return f.opts.Fallback, nil
}

func (f fallbackEvaluator) report(result string, err error) {
	if f.opts.OnResult != nil {
		f.opts.OnResult(result, err)
	}
}
