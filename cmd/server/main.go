package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/bannerpage/internal/cfg"
	"github.com/keithlinneman/bannerpage/internal/health"
	"github.com/keithlinneman/bannerpage/internal/httpmw"
	"github.com/keithlinneman/bannerpage/internal/httpserver"
	"github.com/keithlinneman/bannerpage/internal/log"
	"github.com/keithlinneman/bannerpage/internal/metrics"
	"github.com/keithlinneman/bannerpage/internal/opshttp"
	"github.com/keithlinneman/bannerpage/internal/otelx"
	"github.com/keithlinneman/bannerpage/internal/pagecfg"
	"github.com/keithlinneman/bannerpage/internal/pagehandler"
	"github.com/keithlinneman/bannerpage/internal/prof"
	"github.com/keithlinneman/bannerpage/internal/ratelimit"
	v "github.com/keithlinneman/bannerpage/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	maxLinks := 0
	if conf.IncludeErrorLinks {
		maxLinks = conf.MaxErrorLinks
	}
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSON:            conf.LogJSON,
		MaxErrorLinks:   maxLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildID,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"page_config", conf.PageConfig,
		"watch_page_config", conf.WatchPageConfig,
		"secret_ssm_param", conf.SecretSSMParam,
		"style_s3_uri", conf.StyleS3URI,
		"remote_poll_interval", conf.RemotePoll.String(),
		"bridge_timeout", conf.BridgeTimeout.String(),
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"rate_limit_rps", conf.RateLimitRPS,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:           conf.EnablePyroscope,
		AppName:           v.AppName + ".server",
		ServerAddress:     conf.PyroServer,
		TenantID:          conf.PyroTenantID,
		BasicAuthUser:     conf.PyroUser,
		BasicAuthPassword: conf.PyroPassword,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		// profiling is optional; keep serving
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without export")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// page settings: file + env, then SSM/S3 overlays when configured
	loader, err := newSettingsLoader(ctx, conf)
	if err != nil {
		L.Error(ctx, err, "failed to set up settings sources")
		os.Exit(1)
	}
	settings, err := loader.load(ctx)
	if err != nil {
		L.Error(ctx, err, "failed to load page settings")
		os.Exit(1)
	}
	settingsMgr := pagecfg.NewManager()
	settingsMgr.Set(settings)
	recordSettings(m, settingsMgr)
	L.Info(ctx, "page settings loaded",
		"style_source", string(settings.StyleSource),
		"style_hash", settings.StyleHash()[:12],
		"secret_required", settings.Secret.Required,
	)

	// the access guard is built once from the startup secret
	onSwap := func(next pagecfg.Settings) {
		recordSettings(m, settingsMgr)
		if next.Secret != settings.Secret {
			L.Warn(ctx, "access-control secret changed; restart to apply")
		}
	}

	if conf.PageConfig != "" && conf.WatchPageConfig {
		watcher, err := pagecfg.NewWatcher(pagecfg.WatcherOptions{
			Logger:  L.With("component", "settings-watcher"),
			Manager: settingsMgr,
			Path:    conf.PageConfig,
			Reload:  loader.load,
			Metrics: m,
			OnSwap:  onSwap,
		})
		if err != nil {
			L.Error(ctx, err, "failed to start settings watcher, reloads disabled")
		} else {
			go func() { _ = watcher.Run(ctx) }()
		}
	}

	if loader.remote() && conf.RemotePoll > 0 {
		poller, err := pagecfg.NewPoller(pagecfg.PollerOptions{
			Logger:   L.With("component", "settings-poller"),
			Manager:  settingsMgr,
			Reload:   loader.load,
			Interval: conf.RemotePoll,
			Metrics:  m,
			OnSwap:   onSwap,
		})
		if err != nil {
			L.Error(ctx, err, "failed to start settings poller, remote sources read once")
		} else {
			go func() { _ = poller.Run(ctx) }()
		}
	}

	page, err := pagehandler.New(&pagehandler.Options{
		Logger:        L,
		Settings:      settingsMgr,
		Metrics:       m,
		BridgeTimeout: conf.BridgeTimeout,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create page handler")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(func(context.Context) error { return settingsMgr.ReadyErr() }),
	)

	var rateLimitMW func(next http.Handler) http.Handler
	if conf.RateLimitRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithMaxVisitors(conf.RateLimitClients),
			ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		PageHandler:  page,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHTTPPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimitMW,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		StyleInfo:    settingsMgr,
		// read once; secret changes need a restart
		AccessSecret: settings.Secret,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start page http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Settings:     settingsMgr,
		UseRecoverMW: true,
		OnPanic:      m.IncHTTPPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "err", err)
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops routing before listeners close
	gate.Set("draining")
	drain(L, conf.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "page http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// drain waits d for in-flight requests and health checks to notice the
// gate. A second signal skips the wait.
func drain(L log.Logger, d time.Duration) {
	L.Info(context.Background(), "draining", "period", d.String())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

func recordSettings(m *metrics.ServerMetrics, mgr *pagecfg.Manager) {
	m.SetActiveStyle(mgr.StyleHash(), mgr.StyleVersion())
	m.SetSettingsLoaded(mgr.LoadedAt())
}
