package pagecfg

import (
	"sync/atomic"
	"time"

	"github.com/keithlinneman/bannerpage/internal/xerrors"
)

var ErrNotLoaded = xerrors.New("page settings not loaded")

// Manager holds the active Settings. Readers never block a swap.
type Manager struct {
	active atomic.Pointer[Settings]
}

func NewManager() *Manager { return &Manager{} }

// Set stores a copy of s.
func (m *Manager) Set(s Settings) {
	cp := new(Settings)
	*cp = s
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	m.active.Store(cp)
}

// Get returns the active settings, or Defaults when nothing was set.
func (m *Manager) Get() (Settings, bool) {
	s := m.active.Load()
	if s == nil {
		return Defaults(), false
	}
	return *s, true
}

// StyleVersion reports where the active style sheet came from.
func (m *Manager) StyleVersion() string {
	s := m.active.Load()
	if s == nil {
		return ""
	}
	return string(s.StyleSource)
}

// StyleHash returns the hash of the active style sheet for headers.
func (m *Manager) StyleHash() string {
	s := m.active.Load()
	if s == nil {
		return ""
	}
	return s.StyleHash()
}

func (m *Manager) LoadedAt() time.Time {
	s := m.active.Load()
	if s == nil {
		return time.Time{}
	}
	return s.LoadedAt
}

// ReadyErr is the readiness check: settings must be loaded.
func (m *Manager) ReadyErr() error {
	if m.active.Load() == nil {
		return ErrNotLoaded
	}
	return nil
}
