package loader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/morezero/webshell-bridge/pkg/events"
	"github.com/morezero/webshell-bridge/pkg/store"
)

const loaderTestPrefix = "loader:loader_test"

const defaultURL = "https://default.example/app/"

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// next returns the earliest live timer due at or before limit.
func (c *fakeClock) next(limit time.Duration) *fakeTimer {
	var best *fakeTimer
	for _, t := range c.timers {
		if t.stopped || t.fired || t.at > limit {
			continue
		}
		if best == nil || t.at < best.at {
			best = t
		}
	}
	return best
}

type fakeView struct {
	delegate      NavigationDelegate
	loads         []string
	opts          []LoadOptions
	reloads       int
	originReloads int
	stops         int
	url           string
	closed        bool
	inspections   []func(bool)
}

func (v *fakeView) Load(target string, opts LoadOptions) {
	v.loads = append(v.loads, target)
	v.opts = append(v.opts, opts)
}
func (v *fakeView) Reload()                        { v.reloads++ }
func (v *fakeView) ReloadFromOrigin()              { v.originReloads++ }
func (v *fakeView) StopLoading()                   { v.stops++ }
func (v *fakeView) URL() string                    { return v.url }
func (v *fakeView) InspectContent(done func(bool)) { v.inspections = append(v.inspections, done) }
func (v *fakeView) Close()                         { v.closed = true }

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *fakeClock
	queue []func()
	views []*fakeView
	store *store.Store
	ctrl  *Controller
}

func newHarness(t *testing.T, configured string) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), clock: &fakeClock{}}
	h.store = store.New(store.NewMemoryBackend(), store.EndpointConfig{ServerURL: defaultURL, SecurityToken: "T"}, nil)
	if configured != "" {
		if err := h.store.SetServerURL(h.ctx, configured, events.ReasonSet); err != nil {
			t.Fatalf("%s - SetServerURL failed: %v", loaderTestPrefix, err)
		}
	}
	factory := func(d NavigationDelegate) View {
		v := &fakeView{delegate: d}
		h.views = append(h.views, v)
		return v
	}
	h.ctrl = New(DefaultConfig(defaultURL), h.store, factory, h.clock, func(f func()) {
		h.queue = append(h.queue, f)
	})
	return h
}

func (h *harness) start() {
	h.t.Helper()
	if err := h.ctrl.Start(h.ctx); err != nil {
		h.t.Fatalf("%s - Start failed: %v", loaderTestPrefix, err)
	}
	h.drain()
}

func (h *harness) drain() {
	for len(h.queue) > 0 {
		f := h.queue[0]
		h.queue = h.queue[1:]
		f()
	}
}

// advance moves time forward, firing due timers in order and draining after each.
func (h *harness) advance(d time.Duration) {
	limit := h.clock.now + d
	for {
		t := h.clock.next(limit)
		if t == nil {
			break
		}
		h.clock.now = t.at
		t.fired = true
		t.f()
		h.drain()
	}
	h.clock.now = limit
}

func (h *harness) view() *fakeView {
	return h.views[len(h.views)-1]
}

func (h *harness) fail(v *fakeView, url string) {
	v.delegate.NavigationFailed(url, errors.New("timed out"))
	h.drain()
}

func (h *harness) finish(v *fakeView, url string) {
	v.url = url
	v.delegate.NavigationFinished(url)
	h.drain()
}

func (h *harness) inspect(v *fakeView, empty bool) {
	h.t.Helper()
	if len(v.inspections) == 0 {
		h.t.Fatalf("%s - no pending content inspection", loaderTestPrefix)
	}
	done := v.inspections[0]
	v.inspections = v.inspections[1:]
	done(empty)
	h.drain()
}

func TestStart_LoadsConfiguredEndpoint(t *testing.T) {
	h := newHarness(t, "https://content.example/")
	h.start()

	v := h.view()
	if len(v.loads) != 1 || v.loads[0] != "https://content.example/" {
		t.Fatalf("%s - loads = %v", loaderTestPrefix, v.loads)
	}
	if !v.opts[0].BypassCache || v.opts[0].Timeout != 60*time.Second {
		t.Errorf("%s - load options = %+v", loaderTestPrefix, v.opts[0])
	}
	st := h.ctrl.Status()
	if !st.IsLoading || st.State != "loading" || !st.Switching {
		t.Errorf("%s - status = %+v", loaderTestPrefix, st)
	}
}

func TestRetryBudget_ExactlyMaxAttemptsThenDefault(t *testing.T) {
	broken := "https://broken.example/"
	h := newHarness(t, broken)
	h.start()
	first := h.view()

	for i := 1; i <= 5; i++ {
		if got := len(first.loads); got != i {
			t.Fatalf("%s - before failure %d: %d loads, want %d", loaderTestPrefix, i, got, i)
		}
		h.fail(first, broken)
		h.advance(time.Second)
	}

	if got := len(first.loads); got != 5 {
		t.Errorf("%s - %d attempts against the broken endpoint, want 5", loaderTestPrefix, got)
	}
	if !first.closed {
		t.Errorf("%s - the exhausted view should be replaced", loaderTestPrefix)
	}
	second := h.view()
	if second == first || len(second.loads) != 1 || second.loads[0] != defaultURL {
		t.Fatalf("%s - default endpoint not loaded in a fresh view: %v", loaderTestPrefix, second.loads)
	}
	s := h.ctrl.Session()
	if s.Target != defaultURL || s.Attempts != 0 {
		t.Errorf("%s - session after fallback = %+v", loaderTestPrefix, s)
	}
	persisted, _ := h.store.ServerURL(h.ctx)
	if persisted != defaultURL {
		t.Errorf("%s - persisted endpoint = %q, want default", loaderTestPrefix, persisted)
	}
}

func TestRetry_WaitsForDelay(t *testing.T) {
	h := newHarness(t, "https://flaky.example/")
	h.start()
	v := h.view()

	h.fail(v, "https://flaky.example/")
	if h.ctrl.State() != StateFailed || h.ctrl.Status().IsLoading {
		t.Errorf("%s - state after failure = %v", loaderTestPrefix, h.ctrl.Status())
	}
	h.advance(999 * time.Millisecond)
	if len(v.loads) != 1 {
		t.Fatalf("%s - retried before the delay elapsed", loaderTestPrefix)
	}
	h.advance(time.Millisecond)
	if len(v.loads) != 2 {
		t.Fatalf("%s - loads = %d, want 2 after retry delay", loaderTestPrefix, len(v.loads))
	}

	h.finish(v, "https://flaky.example/")
	h.inspect(v, false)
	if s := h.ctrl.Session(); s.Attempts != 0 {
		t.Errorf("%s - attempts after success = %d, want 0", loaderTestPrefix, s.Attempts)
	}
}

func TestBlankRepair_IsIdempotent(t *testing.T) {
	h := newHarness(t, "https://blank.example/")
	h.start()
	v := h.view()

	h.finish(v, "https://blank.example/")
	if h.ctrl.State() != StateBlankCheck {
		t.Fatalf("%s - state = %v, want blankCheck", loaderTestPrefix, h.ctrl.State())
	}
	h.inspect(v, true)
	if v.originReloads != 1 {
		t.Fatalf("%s - origin reloads = %d, want 1", loaderTestPrefix, v.originReloads)
	}
	if s := h.ctrl.Session(); s.Attempts != 0 || !s.ForcedReload() {
		t.Errorf("%s - forced reload must not count as an attempt: %+v", loaderTestPrefix, s)
	}

	h.finish(v, "https://blank.example/")
	h.inspect(v, true)
	h.advance(10 * time.Second)

	if v.originReloads != 1 || v.reloads != 0 || len(v.loads) != 1 {
		t.Errorf("%s - expected no third load: loads=%d reloads=%d origin=%d", loaderTestPrefix, len(v.loads), v.reloads, v.originReloads)
	}
	st := h.ctrl.Status()
	if st.IsLoading || st.State != "degraded" || st.Switching {
		t.Errorf("%s - status = %+v, want settled degraded", loaderTestPrefix, st)
	}
}

func TestBlankThenContent_Settles(t *testing.T) {
	h := newHarness(t, "https://slow.example/")
	h.start()
	v := h.view()

	h.finish(v, "https://slow.example/")
	h.inspect(v, true)
	h.finish(v, "https://slow.example/")
	h.inspect(v, false)

	st := h.ctrl.Status()
	if st.State != "succeeded" || st.IsLoading || st.CurrentURL != "https://slow.example/" {
		t.Errorf("%s - status = %+v", loaderTestPrefix, st)
	}
	h.advance(5 * time.Second)
	if v.reloads != 0 {
		t.Errorf("%s - fallback fired after the switch settled", loaderTestPrefix)
	}
}

func TestSwitchFallback_ForcesPlainReload(t *testing.T) {
	h := newHarness(t, "https://hang.example/")
	h.start()
	v := h.view()

	h.finish(v, "https://hang.example/")
	h.advance(3 * time.Second)

	if v.reloads != 1 {
		t.Fatalf("%s - reloads = %d, want 1 from the fallback timer", loaderTestPrefix, v.reloads)
	}
	if sess := h.ctrl.Session(); sess.Switching() {
		t.Errorf("%s - fallback must clear the switching phase", loaderTestPrefix)
	}

	// The late inspection result no longer applies.
	h.inspect(v, true)
	if v.originReloads != 0 {
		t.Errorf("%s - stale inspection triggered a reload", loaderTestPrefix)
	}

	h.finish(v, "https://hang.example/")
	if st := h.ctrl.Status(); st.State != "succeeded" || st.IsLoading {
		t.Errorf("%s - status = %+v", loaderTestPrefix, st)
	}
}

func TestStaleFailure_Ignored(t *testing.T) {
	h := newHarness(t, "https://current.example/")
	h.start()
	v := h.view()

	h.fail(v, "https://previous.example/")
	if s := h.ctrl.Session(); s.Attempts != 0 {
		t.Errorf("%s - stale failure counted: attempts = %d", loaderTestPrefix, s.Attempts)
	}
	if h.ctrl.State() != StateLoading {
		t.Errorf("%s - state = %v, want loading", loaderTestPrefix, h.ctrl.State())
	}
}

func TestEventsFromReplacedView_Ignored(t *testing.T) {
	h := newHarness(t, "https://a.example/")
	h.start()
	old := h.view()

	_ = h.store.SetServerURL(h.ctx, "https://b.example/", events.ReasonSet)
	if err := h.ctrl.ReloadIfChanged(h.ctx); err != nil {
		t.Fatalf("%s - ReloadIfChanged failed: %v", loaderTestPrefix, err)
	}
	h.drain()

	h.fail(old, "https://a.example/")
	h.finish(old, "https://a.example/")
	if s := h.ctrl.Session(); s.Attempts != 0 || s.Target != "https://b.example/" {
		t.Errorf("%s - session touched by replaced view: %+v", loaderTestPrefix, s)
	}
}

func TestInvalidEndpoint_SwitchesWithoutConsumingAttempt(t *testing.T) {
	h := newHarness(t, "not a url")
	h.start()

	v := h.view()
	if len(v.loads) != 1 || v.loads[0] != defaultURL {
		t.Fatalf("%s - loads = %v, want only the default", loaderTestPrefix, v.loads)
	}
	for _, other := range h.views[:len(h.views)-1] {
		if len(other.loads) != 0 {
			t.Errorf("%s - the invalid endpoint was loaded: %v", loaderTestPrefix, other.loads)
		}
	}
	if s := h.ctrl.Session(); s.Attempts != 0 || s.Target != defaultURL {
		t.Errorf("%s - session = %+v", loaderTestPrefix, s)
	}
	persisted, _ := h.store.ServerURL(h.ctx)
	if persisted != defaultURL {
		t.Errorf("%s - persisted = %q, want default", loaderTestPrefix, persisted)
	}
}

func TestDefaultExhausted_Stops(t *testing.T) {
	h := newHarness(t, "")
	h.start()
	v := h.view()

	for i := 0; i < 5; i++ {
		h.fail(v, defaultURL)
		h.advance(time.Second)
	}
	if len(h.views) != 1 || len(v.loads) != 5 {
		t.Errorf("%s - views=%d loads=%d, want 1 view with 5 loads", loaderTestPrefix, len(h.views), len(v.loads))
	}
	st := h.ctrl.Status()
	if st.State != "failed" || st.IsLoading {
		t.Errorf("%s - status = %+v, want stopped in failed", loaderTestPrefix, st)
	}
	h.advance(time.Minute)
	if len(v.loads) != 5 {
		t.Errorf("%s - loads continued after giving up", loaderTestPrefix)
	}
}

func TestReloadIfChanged_TrailingSlashInsensitive(t *testing.T) {
	h := newHarness(t, "https://a.example/")
	h.start()
	v := h.view()
	h.finish(v, "https://a.example/")
	h.inspect(v, false)

	_ = h.store.SetServerURL(h.ctx, "https://a.example", events.ReasonSet)
	if err := h.ctrl.ReloadIfChanged(h.ctx); err != nil {
		t.Fatalf("%s - ReloadIfChanged failed: %v", loaderTestPrefix, err)
	}
	h.advance(time.Second)
	if len(h.views) != 1 || len(v.loads) != 1 {
		t.Errorf("%s - normalized-equal endpoint triggered a switch", loaderTestPrefix)
	}
}

func TestReloadIfChanged_SwitchesAfterSettleDelay(t *testing.T) {
	h := newHarness(t, "https://a.example/")
	h.start()
	old := h.view()
	h.fail(old, "https://a.example/")

	_ = h.store.SetServerURL(h.ctx, "https://b.example/", events.ReasonSet)
	_ = h.ctrl.ReloadIfChanged(h.ctx)
	h.drain()

	fresh := h.view()
	if fresh == old || !old.closed {
		t.Fatalf("%s - expected a fresh view", loaderTestPrefix)
	}
	if len(fresh.loads) != 0 || !h.ctrl.Status().IsLoading {
		t.Errorf("%s - load should wait for the settle delay while showing loading", loaderTestPrefix)
	}

	h.advance(100 * time.Millisecond)
	if len(fresh.loads) != 1 || fresh.loads[0] != "https://b.example/" {
		t.Errorf("%s - fresh view loads = %v", loaderTestPrefix, fresh.loads)
	}

	// The retry pending for the old endpoint was cancelled with the old session.
	h.advance(5 * time.Second)
	if len(old.loads) != 1 {
		t.Errorf("%s - superseded retry fired: %v", loaderTestPrefix, old.loads)
	}
}

func TestReloadIfChanged_PendingSwitchNotRestarted(t *testing.T) {
	h := newHarness(t, "https://a.example/")
	h.start()

	_ = h.store.SetServerURL(h.ctx, "https://b.example/", events.ReasonSet)
	_ = h.ctrl.ReloadIfChanged(h.ctx)
	_ = h.ctrl.ReloadIfChanged(h.ctx)
	h.advance(100 * time.Millisecond)

	if len(h.views) != 2 {
		t.Fatalf("%s - views = %d, want 2", loaderTestPrefix, len(h.views))
	}
	if loads := h.view().loads; len(loads) != 1 || loads[0] != "https://b.example/" {
		t.Errorf("%s - loads = %v", loaderTestPrefix, loads)
	}
}

func TestReloadIfChanged_MismatchWithViewURL(t *testing.T) {
	h := newHarness(t, "https://a.example/")
	h.start()
	v := h.view()
	h.finish(v, "https://a.example/")
	h.inspect(v, false)

	// The view navigated elsewhere on its own.
	v.url = "https://elsewhere.example/"
	_ = h.ctrl.ReloadIfChanged(h.ctx)
	h.advance(time.Second)

	if len(h.views) != 2 || h.view().loads[0] != "https://a.example/" {
		t.Errorf("%s - expected reload of the configured endpoint in a fresh view", loaderTestPrefix)
	}
}

func TestReloadIfChanged_NothingCommittedReloads(t *testing.T) {
	h := newHarness(t, "https://a.example/")
	h.start()
	v := h.view()
	h.fail(v, "https://a.example/")

	// Same configured endpoint, but the view never showed it.
	_ = h.ctrl.ReloadIfChanged(h.ctx)
	h.advance(100 * time.Millisecond)

	if len(h.views) != 2 || len(h.view().loads) != 1 || h.view().loads[0] != "https://a.example/" {
		t.Errorf("%s - views=%d, want a fresh view loading the configured endpoint", loaderTestPrefix, len(h.views))
	}
}

func TestClose_CancelsTimers(t *testing.T) {
	h := newHarness(t, "https://a.example/")
	h.start()
	v := h.view()
	h.fail(v, "https://a.example/")

	h.ctrl.Close()
	h.advance(time.Minute)

	if len(v.loads) != 1 || !v.closed {
		t.Errorf("%s - loads=%d closed=%v after Close", loaderTestPrefix, len(v.loads), v.closed)
	}
	if h.ctrl.Status().IsLoading {
		t.Errorf("%s - loading indicator left on after Close", loaderTestPrefix)
	}
}

func TestValidEndpointAndNormalize(t *testing.T) {
	valid := []string{"https://a", "http://localhost:8080/app/", "file:///var/www/index.html"}
	invalid := []string{"", "not a url", "a.example.com", "https://", "ftp://a.example", " https://a"}
	for _, s := range valid {
		if !ValidEndpoint(s) {
			t.Errorf("%s - ValidEndpoint(%q) = false", loaderTestPrefix, s)
		}
	}
	for _, s := range invalid {
		if ValidEndpoint(s) {
			t.Errorf("%s - ValidEndpoint(%q) = true", loaderTestPrefix, s)
		}
	}
	if !SameEndpoint("https://a/", "https://a") || SameEndpoint("https://a/b", "https://a") {
		t.Errorf("%s - SameEndpoint normalization is wrong", loaderTestPrefix)
	}
}
