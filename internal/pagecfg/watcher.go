package pagecfg

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/keithlinneman/bannerpage/internal/log"
	"github.com/keithlinneman/bannerpage/internal/xerrors"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncSettingsReload(result string)
}

type WatcherOptions struct {
	Logger  log.Logger
	Manager *Manager

	// Path is the settings file to watch.
	Path string

	// Reload builds the next Settings. Nil means Load(Path, DefaultEnvPrefix).
	Reload func(ctx context.Context) (Settings, error)

	Debounce time.Duration

	// OnSwap runs on the watcher goroutine after a successful swap.
	OnSwap func(Settings)

	Metrics WatcherMetrics
}

// Watcher reloads the settings file when it changes and swaps the result
// into the Manager. A reload that fails to parse or validate leaves the
// active settings untouched.
type Watcher struct {
	fsw      *fsnotify.Watcher
	manager  *Manager
	logger   log.Logger
	reload   func(ctx context.Context) (Settings, error)
	debounce time.Duration
	onSwap   func(Settings)
	metrics  WatcherMetrics

	path  string
	names map[string]struct{}

	swapCount int64
}

func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Manager == nil {
		return nil, xerrors.New("watcher: Manager is required")
	}
	if opts.Path == "" {
		return nil, xerrors.New("watcher: Path is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "resolve %s", opts.Path)
	}
	reload := opts.Reload
	if reload == nil {
		reload = func(context.Context) (Settings, error) { return Load(path, DefaultEnvPrefix) }
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, xerrors.Wrap(err, "create fsnotify watcher")
	}

	w := &Watcher{
		fsw:      fsw,
		manager:  opts.Manager,
		logger:   opts.Logger,
		reload:   reload,
		debounce: opts.Debounce,
		onSwap:   opts.OnSwap,
		metrics:  opts.Metrics,
		path:     path,
		names:    map[string]struct{}{},
	}
	if err := w.watch(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	if cur, ok := opts.Manager.Get(); ok && cur.StyleFile != "" {
		if err := w.watch(resolveRel(path, cur.StyleFile)); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// watch adds the file's directory so atomic renames are seen.
func (w *Watcher) watch(name string) error {
	name = filepath.Clean(name)
	if _, ok := w.names[name]; ok {
		return nil
	}
	if err := w.fsw.Add(filepath.Dir(name)); err != nil {
		return xerrors.Wrapf(err, "watch %s", filepath.Dir(name))
	}
	w.names[name] = struct{}{}
	return nil
}

// Run blocks until ctx is cancelled and closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.logger.Info(ctx, "settings watcher starting", "files", len(w.names), "debounce", w.debounce.String())

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "settings watcher stopping", "reason", ctx.Err(), "swaps", w.swapCount)
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if _, watched := w.names[filepath.Clean(ev.Name)]; !watched {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reloadOnce(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "settings watcher: fsnotify error", "err", err)
		}
	}
}

func (w *Watcher) reloadOnce(ctx context.Context) bool {
	next, err := w.reload(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "settings watcher: reload rejected, keeping current settings",
			"current_style_hash", truncHash(w.manager.StyleHash()),
		)
		w.count("error")
		return false
	}

	old := w.manager.StyleHash()
	w.manager.Set(next)
	w.swapCount++
	w.count("swapped")

	if next.StyleFile != "" {
		if err := w.watch(resolveRel(w.path, next.StyleFile)); err != nil {
			w.logger.Warn(ctx, "settings watcher: cannot watch css_file", "err", err)
		}
	}

	w.logger.Info(ctx, "settings watcher: settings swapped",
		"old_style_hash", truncHash(old),
		"new_style_hash", truncHash(next.StyleHash()),
		"style_source", string(next.StyleSource),
		"total_swaps", w.swapCount,
	)

	if w.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r), "settings watcher: OnSwap panicked, continuing")
				}
			}()
			w.onSwap(next)
		}()
	}
	return true
}

func (w *Watcher) count(result string) {
	if w.metrics != nil {
		w.metrics.IncSettingsReload(result)
	}
}

func resolveRel(settingsPath, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(settingsPath), p)
}

func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
