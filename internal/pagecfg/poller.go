package pagecfg

import (
	"context"
	"fmt"
	"time"

	"github.com/keithlinneman/bannerpage/internal/log"
	"github.com/keithlinneman/bannerpage/internal/xerrors"
)

const (
	DefaultPollInterval   = time.Minute
	DefaultStaleThreshold = 30 * time.Minute

	maxPollBackoff = 10 * time.Minute
)

// PollerMetrics is implemented by the metrics package.
type PollerMetrics interface {
	IncSettingsReload(result string)
	SetSettingsStale(stale bool)
}

type PollerOptions struct {
	Logger  log.Logger
	Manager *Manager

	// Reload builds the next Settings, remote overlays included.
	Reload func(ctx context.Context) (Settings, error)

	Interval       time.Duration
	StaleThreshold time.Duration

	OnSwap  func(Settings)
	Metrics PollerMetrics
}

// Poller re-reads remote settings sources (the SSM secret and the S3 style)
// on an interval. It swaps only when the result differs from the active
// settings and backs off exponentially while the sources fail.
type Poller struct {
	manager        *Manager
	logger         log.Logger
	reload         func(ctx context.Context) (Settings, error)
	interval       time.Duration
	staleThreshold time.Duration
	onSwap         func(Settings)
	metrics        PollerMetrics

	consecutiveErrs int
	lastSuccessAt   time.Time
	staleLogged     bool

	pollCount int64
	swapCount int64
}

func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Manager == nil {
		return nil, xerrors.New("poller: Manager is required")
	}
	if opts.Reload == nil {
		return nil, xerrors.New("poller: Reload is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = DefaultStaleThreshold
	}
	return &Poller{
		manager:        opts.Manager,
		logger:         opts.Logger,
		reload:         opts.Reload,
		interval:       opts.Interval,
		staleThreshold: opts.StaleThreshold,
		onSwap:         opts.OnSwap,
		metrics:        opts.Metrics,
		lastSuccessAt:  time.Now(),
	}, nil
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info(ctx, "settings poller starting", "interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info(ctx, "settings poller stopping",
				"reason", ctx.Err(),
				"polls", p.pollCount,
				"swaps", p.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			if p.pollOnce(ctx) {
				if p.consecutiveErrs > 0 {
					p.logger.Info(ctx, "settings poller recovered", "had_consecutive_errors", p.consecutiveErrs)
					p.consecutiveErrs = 0
					ticker.Reset(p.interval)
				}
				continue
			}
			p.consecutiveErrs++
			next := p.backoff()
			p.logger.Warn(ctx, "settings poller backing off",
				"consecutive_errors", p.consecutiveErrs,
				"next_poll_in", next.String(),
			)
			ticker.Reset(next)
		}
	}
}

// pollOnce reports whether the sources were reachable and valid.
func (p *Poller) pollOnce(ctx context.Context) bool {
	p.pollCount++

	next, err := p.reload(ctx)
	if err != nil {
		p.logger.Error(ctx, err, "settings poller: reload failed, keeping current settings")
		p.count("error")
		p.checkStale(ctx)
		return false
	}

	p.lastSuccessAt = time.Now()
	if p.staleLogged {
		p.logger.Info(ctx, "settings poller: staleness recovered")
		p.staleLogged = false
		p.setStale(false)
	}

	cur, _ := p.manager.Get()
	if sameContent(cur, next) {
		p.count("unchanged")
		return true
	}

	p.manager.Set(next)
	p.swapCount++
	p.count("swapped")
	p.logger.Info(ctx, "settings poller: settings swapped",
		"old_style_hash", truncHash(cur.StyleHash()),
		"new_style_hash", truncHash(next.StyleHash()),
		"style_source", string(next.StyleSource),
		"total_swaps", p.swapCount,
	)

	if p.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r), "settings poller: OnSwap panicked, continuing")
				}
			}()
			p.onSwap(next)
		}()
	}
	return true
}

func (p *Poller) checkStale(ctx context.Context) {
	since := time.Since(p.lastSuccessAt)
	if since <= p.staleThreshold || p.staleLogged {
		return
	}
	p.logger.Error(ctx, fmt.Errorf("last successful reload was %s ago", since.Truncate(time.Second)),
		"settings poller: remote settings are stale")
	p.staleLogged = true
	p.setStale(true)
}

// backoff doubles the interval per consecutive error, capped.
func (p *Poller) backoff() time.Duration {
	d := p.interval
	for i := 0; i < p.consecutiveErrs && d < maxPollBackoff; i++ {
		d *= 2
	}
	return min(d, maxPollBackoff)
}

func (p *Poller) count(result string) {
	if p.metrics != nil {
		p.metrics.IncSettingsReload(result)
	}
}

func (p *Poller) setStale(stale bool) {
	if p.metrics != nil {
		p.metrics.SetSettingsStale(stale)
	}
}

// sameContent compares everything but the load time.
func sameContent(a, b Settings) bool {
	a.LoadedAt, b.LoadedAt = time.Time{}, time.Time{}
	return a == b
}
