package opshttp

import (
	"net/http"

	"github.com/keithlinneman/bannerpage/internal/health"
	"github.com/keithlinneman/bannerpage/internal/pagecfg"
)

const DefaultPort = 9000

// SettingsSource is satisfied by *pagecfg.Manager.
type SettingsSource interface {
	Get() (pagecfg.Settings, bool)
}

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// Settings backs /-/settings. Nil leaves the route unregistered.
	Settings     SettingsSource
	UseRecoverMW bool
	OnPanic      func()
}
