package pagecfg

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type spyPoller struct {
	spyReloads
	mu    sync.Mutex
	stale []bool
}

func (s *spyPoller) SetSettingsStale(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = append(s.stale, v)
}

func (s *spyPoller) staleCalls() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.stale...)
}

// scriptedReload returns results in order, repeating the last one.
type scriptedReload struct {
	mu    sync.Mutex
	steps []func() (Settings, error)
	calls int
}

func (r *scriptedReload) reload(context.Context) (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := min(r.calls, len(r.steps)-1)
	r.calls++
	return r.steps[i]()
}

func withTitle(title string) func() (Settings, error) {
	return func() (Settings, error) {
		s := Defaults()
		s.Meta.Title = title
		return s, nil
	}
}

func failing() (Settings, error) { return Settings{}, errors.New("ssm unavailable") }

func newTestPoller(t *testing.T, mgr *Manager, r *scriptedReload, m *spyPoller, opts PollerOptions) *Poller {
	t.Helper()
	opts.Manager = mgr
	opts.Reload = r.reload
	opts.Metrics = m
	p, err := NewPoller(opts)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	return p
}

func TestNewPoller_Required(t *testing.T) {
	if _, err := NewPoller(PollerOptions{Reload: (&scriptedReload{}).reload}); err == nil {
		t.Fatal("expected error without Manager")
	}
	if _, err := NewPoller(PollerOptions{Manager: NewManager()}); err == nil {
		t.Fatal("expected error without Reload")
	}
}

func TestPollOnce_UnchangedDoesNotSwap(t *testing.T) {
	mgr := NewManager()
	mgr.Set(Defaults())
	before := mgr.LoadedAt()

	m := &spyPoller{}
	p := newTestPoller(t, mgr, &scriptedReload{steps: []func() (Settings, error){withTitle(DefaultTitle)}}, m, PollerOptions{})

	if !p.pollOnce(context.Background()) {
		t.Fatal("pollOnce reported failure")
	}
	if !mgr.LoadedAt().Equal(before) {
		t.Fatal("identical settings were swapped")
	}
	if m.get("unchanged") != 1 || m.get("swapped") != 0 {
		t.Fatalf("counts = %v", m.counts)
	}
}

func TestPollOnce_ChangeSwapsAndNotifies(t *testing.T) {
	mgr := NewManager()
	mgr.Set(Defaults())

	var swapped string
	m := &spyPoller{}
	p := newTestPoller(t, mgr, &scriptedReload{steps: []func() (Settings, error){withTitle("Rotated")}}, m,
		PollerOptions{OnSwap: func(s Settings) { swapped = s.Meta.Title }})

	p.pollOnce(context.Background())
	if got, _ := mgr.Get(); got.Meta.Title != "Rotated" {
		t.Fatalf("title = %q", got.Meta.Title)
	}
	if swapped != "Rotated" || m.get("swapped") != 1 {
		t.Fatalf("OnSwap saw %q, counts %v", swapped, m.counts)
	}
}

func TestPollOnce_ErrorKeepsCurrent(t *testing.T) {
	mgr := NewManager()
	mgr.Set(Defaults())
	m := &spyPoller{}
	p := newTestPoller(t, mgr, &scriptedReload{steps: []func() (Settings, error){failing}}, m, PollerOptions{})

	if p.pollOnce(context.Background()) {
		t.Fatal("pollOnce reported success on error")
	}
	if got, _ := mgr.Get(); got.Meta.Title != DefaultTitle {
		t.Fatal("settings changed on failed reload")
	}
	if m.get("error") != 1 {
		t.Fatalf("counts = %v", m.counts)
	}
}

func TestPollOnce_OnSwapPanicRecovered(t *testing.T) {
	mgr := NewManager()
	m := &spyPoller{}
	p := newTestPoller(t, mgr, &scriptedReload{steps: []func() (Settings, error){withTitle("X")}}, m,
		PollerOptions{OnSwap: func(Settings) { panic("boom") }})
	if !p.pollOnce(context.Background()) {
		t.Fatal("panic in OnSwap should not fail the poll")
	}
}

func TestStaleness_EntersAndRecovers(t *testing.T) {
	mgr := NewManager()
	mgr.Set(Defaults())
	m := &spyPoller{}
	r := &scriptedReload{steps: []func() (Settings, error){failing, failing, withTitle(DefaultTitle)}}
	p := newTestPoller(t, mgr, r, m, PollerOptions{StaleThreshold: time.Minute})
	p.lastSuccessAt = time.Now().Add(-2 * time.Minute)

	p.pollOnce(context.Background())
	p.pollOnce(context.Background())
	if got := m.staleCalls(); len(got) != 1 || !got[0] {
		t.Fatalf("stale calls after failures = %v, want one true", got)
	}

	p.pollOnce(context.Background())
	if got := m.staleCalls(); len(got) != 2 || got[1] {
		t.Fatalf("stale calls after recovery = %v", got)
	}
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	p := &Poller{interval: time.Minute}
	for errs, want := range map[int]time.Duration{
		1:  2 * time.Minute,
		2:  4 * time.Minute,
		3:  8 * time.Minute,
		4:  maxPollBackoff,
		30: maxPollBackoff,
	} {
		p.consecutiveErrs = errs
		if got := p.backoff(); got != want {
			t.Errorf("backoff(%d) = %s, want %s", errs, got, want)
		}
	}
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	mgr := NewManager()
	mgr.Set(Defaults())
	m := &spyPoller{}
	p := newTestPoller(t, mgr, &scriptedReload{steps: []func() (Settings, error){withTitle("Polled")}}, m,
		PollerOptions{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, "swap", func() bool { return mgr.StyleHash() != "" && m.get("swapped") == 1 })
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestSameContent_IgnoresLoadedAt(t *testing.T) {
	a, b := Defaults(), Defaults()
	a.LoadedAt = time.Now()
	if !sameContent(a, b) {
		t.Fatal("LoadedAt should not count as a change")
	}
	b.Secret.HeaderValue = "rotated"
	if sameContent(a, b) {
		t.Fatal("secret rotation must count as a change")
	}
}
