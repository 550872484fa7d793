// Package loader drives the lifecycle of the embedded content: first load,
// timed retries within an attempt budget, blank-page repair, fallback to the
// built-in default endpoint, and endpoint switches.
//
// A Controller is confined to its owning session. Every method must be called
// from that session's goroutine; view events and timers re-enter through post.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/morezero/webshell-bridge/pkg/events"
	"github.com/morezero/webshell-bridge/pkg/metrics"
)

const logPrefix = "loader:loader"

// Endpoints is the part of the endpoint store the controller reads and writes.
type Endpoints interface {
	ServerURL(ctx context.Context) (string, error)
	SetServerURL(ctx context.Context, serverURL string, reason events.ChangeReason) error
}

// Config holds the controller's limits and delays.
type Config struct {
	DefaultURL          string
	MaxAttempts         int
	LoadTimeout         time.Duration
	RetryDelay          time.Duration
	SwitchFallbackDelay time.Duration
	SettleDelay         time.Duration
}

// DefaultConfig returns the standard limits for defaultURL.
func DefaultConfig(defaultURL string) Config {
	return Config{
		DefaultURL:          defaultURL,
		MaxAttempts:         5,
		LoadTimeout:         60 * time.Second,
		RetryDelay:          time.Second,
		SwitchFallbackDelay: 3 * time.Second,
		SettleDelay:         100 * time.Millisecond,
	}
}

type timerSlot struct {
	t   Timer
	seq uint64
}

// Controller is the content load state machine.
type Controller struct {
	cfg       Config
	endpoints Endpoints
	factory   ViewFactory
	clock     Clock
	post      func(func())

	ctx     context.Context
	view    View
	viewGen uint64
	session *Session
	state   State
	loading bool
	current string

	timerSeq      uint64
	retryTimer    timerSlot
	fallbackTimer timerSlot
	settleTimer   timerSlot

	status atomic.Pointer[Status]
}

// New creates a Controller. post must enqueue f onto the owning session.
func New(cfg Config, endpoints Endpoints, factory ViewFactory, clock Clock, post func(func())) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if clock == nil {
		clock = RealClock{}
	}
	c := &Controller{
		cfg:       cfg,
		endpoints: endpoints,
		factory:   factory,
		clock:     clock,
		post:      post,
		ctx:       context.Background(),
		session:   newSession("", cfg.MaxAttempts),
	}
	c.publishStatus()
	return c
}

// Status returns the latest snapshot. Safe from any goroutine.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Session returns a copy of the live load session.
func (c *Controller) Session() Session {
	return *c.session
}

// Start reads the configured endpoint, creates the first view and loads it.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx = ctx
	target, err := c.endpoints.ServerURL(ctx)
	if err != nil {
		return fmt.Errorf("%s - failed to read server URL: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Starting content session for %s", logPrefix, target))
	c.replaceView(target)
	c.loadRequested(target)
	return nil
}

// ReloadIfChanged re-reads the configured endpoint on foreground resume or an
// explicit reload. A mismatch against the recorded endpoint or the view's URL
// switches to a fresh view and session; a match is a no-op.
func (c *Controller) ReloadIfChanged(ctx context.Context) error {
	target, err := c.endpoints.ServerURL(ctx)
	if err != nil {
		return fmt.Errorf("%s - failed to read server URL: %w", logPrefix, err)
	}

	if c.settleTimer.t != nil && SameEndpoint(target, c.session.Target) {
		slog.Debug(fmt.Sprintf("%s - Switch to %s already pending", logPrefix, target))
		return nil
	}

	viewURL := ""
	if c.view != nil {
		viewURL = c.view.URL()
	}
	if SameEndpoint(target, c.current) && SameEndpoint(target, viewURL) {
		slog.Debug(fmt.Sprintf("%s - Endpoint %s unchanged (loading=%v)", logPrefix, target, c.loading))
		return nil
	}

	slog.Info(fmt.Sprintf("%s - Endpoint change detected: configured=%s recorded=%s view=%s", logPrefix, target, c.current, viewURL))
	metrics.IncEndpointSwitch("changed")
	c.replaceView(target)
	c.state = StateLoading
	c.setLoading(true)
	c.arm(&c.settleTimer, c.cfg.SettleDelay, func() {
		c.loadRequested(target)
	})
	return nil
}

// Close cancels every timer and releases the view.
func (c *Controller) Close() {
	c.disarmAll()
	if c.view != nil {
		c.view.Close()
		c.view = nil
	}
	c.viewGen++
	c.setLoading(false)
}

func (c *Controller) loadRequested(endpoint string) {
	if !ValidEndpoint(endpoint) {
		slog.Warn(fmt.Sprintf("%s - Configured endpoint %q is not a valid address", logPrefix, endpoint))
		c.switchToDefault("invalid endpoint")
		return
	}

	if endpoint != c.session.LastAttempted {
		c.session.LastAttempted = endpoint
		c.session.Attempts = 0
		c.session.phase = switchPending
	}

	if c.session.Attempts >= c.session.MaxAttempts {
		slog.Warn(fmt.Sprintf("%s - Attempt budget of %d exhausted for %s", logPrefix, c.session.MaxAttempts, endpoint))
		c.switchToDefault("attempt budget exhausted")
		return
	}

	c.disarm(&c.retryTimer)
	c.disarm(&c.settleTimer)
	slog.Info(fmt.Sprintf("%s - Loading %s (attempt %d of %d)", logPrefix, endpoint, c.session.Attempts+1, c.session.MaxAttempts))
	metrics.RecordLoadAttempt("started")

	c.state = StateLoading
	c.setLoading(true)
	c.view.StopLoading()
	c.view.Load(endpoint, LoadOptions{BypassCache: true, Timeout: c.cfg.LoadTimeout})
}

func (c *Controller) navigationFinished(url string) {
	if c.session.Switching() {
		c.state = StateBlankCheck
		gen := c.viewGen
		c.view.InspectContent(func(empty bool) {
			c.post(func() {
				if gen != c.viewGen || c.state != StateBlankCheck {
					return
				}
				c.contentInspected(empty)
			})
		})
		c.arm(&c.fallbackTimer, c.cfg.SwitchFallbackDelay, c.switchFallback)
		c.publishStatus()
		return
	}

	c.state = StateSucceeded
	if SameEndpoint(url, c.session.LastAttempted) {
		c.session.Attempts = 0
		c.current = c.session.LastAttempted
	}
	metrics.RecordLoadAttempt("succeeded")
	c.setLoading(false)
}

func (c *Controller) contentInspected(empty bool) {
	switch {
	case !empty:
		slog.Info(fmt.Sprintf("%s - Endpoint %s settled", logPrefix, c.session.LastAttempted))
		c.disarm(&c.fallbackTimer)
		c.session.phase = switchNone
		c.session.Attempts = 0
		c.current = c.session.LastAttempted
		c.state = StateSucceeded
		metrics.RecordLoadAttempt("succeeded")
		c.setLoading(false)
	case c.session.phase == switchPending:
		slog.Info(fmt.Sprintf("%s - Blank content at %s, reloading from origin", logPrefix, c.session.LastAttempted))
		metrics.RecordLoadAttempt("blank")
		c.session.phase = switchForcedReload
		c.state = StateLoading
		c.view.ReloadFromOrigin()
		c.publishStatus()
	default:
		slog.Warn(fmt.Sprintf("%s - Still blank after reload from origin, giving up switching to %s", logPrefix, c.session.LastAttempted))
		metrics.RecordLoadAttempt("blank")
		c.disarm(&c.fallbackTimer)
		c.session.phase = switchNone
		c.state = StateDegraded
		c.setLoading(false)
	}
}

// switchFallback bounds how long a switch can stay unsettled.
func (c *Controller) switchFallback() {
	if !c.session.Switching() {
		return
	}
	slog.Warn(fmt.Sprintf("%s - Still switching after %s, forcing reload", logPrefix, c.cfg.SwitchFallbackDelay))
	c.session.phase = switchNone
	c.state = StateLoading
	c.view.Reload()
	c.publishStatus()
}

func (c *Controller) navigationFailed(url string, err error) {
	if url != "" && !SameEndpoint(url, c.session.LastAttempted) {
		slog.Warn(fmt.Sprintf("%s - Ignoring failure for superseded attempt %s: %v", logPrefix, url, err))
		return
	}

	c.session.Attempts++
	c.state = StateFailed
	c.setLoading(false)
	metrics.RecordLoadAttempt("failed")
	slog.Warn(fmt.Sprintf("%s - Load attempt %d of %d failed for %s: %v", logPrefix, c.session.Attempts, c.session.MaxAttempts, c.session.LastAttempted, err))

	if c.session.Attempts < c.session.MaxAttempts {
		target := c.session.LastAttempted
		c.arm(&c.retryTimer, c.cfg.RetryDelay, func() {
			c.loadRequested(target)
		})
		return
	}
	c.switchToDefault("attempt budget exhausted")
}

// switchToDefault persists the default endpoint and loads it in a fresh view
// and session. When the default itself is exhausted or invalid the controller
// stops in StateFailed.
func (c *Controller) switchToDefault(reason string) {
	def := c.cfg.DefaultURL
	if !ValidEndpoint(def) {
		slog.Error(fmt.Sprintf("%s - Default endpoint %q is not a valid address, giving up", logPrefix, def))
		c.fail()
		return
	}
	if SameEndpoint(c.session.LastAttempted, def) && c.session.Attempts >= c.session.MaxAttempts {
		slog.Error(fmt.Sprintf("%s - Default endpoint %s failed %d times, giving up", logPrefix, def, c.session.Attempts))
		c.fail()
		return
	}

	slog.Warn(fmt.Sprintf("%s - Switching to default endpoint %s: %s", logPrefix, def, reason))
	c.state = StateSwitchingToDefault
	c.publishStatus()
	metrics.IncEndpointSwitch("fallback")

	if err := c.endpoints.SetServerURL(c.ctx, def, events.ReasonFallback); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to persist default endpoint: %v", logPrefix, err))
	}
	c.replaceView(def)
	c.loadRequested(def)
}

func (c *Controller) fail() {
	c.disarmAll()
	if c.view != nil {
		c.view.StopLoading()
	}
	c.state = StateFailed
	c.setLoading(false)
}

// replaceView tears down the current view and timers and starts a fresh view
// and session for target.
func (c *Controller) replaceView(target string) {
	c.disarmAll()
	if c.view != nil {
		c.view.StopLoading()
		c.view.Close()
	}
	c.viewGen++
	c.view = c.factory(&delegate{c: c, gen: c.viewGen})
	c.session = newSession(target, c.cfg.MaxAttempts)
	c.current = target
	c.publishStatus()
}

func (c *Controller) setLoading(loading bool) {
	c.loading = loading
	metrics.SetLoading(loading)
	c.publishStatus()
}

func (c *Controller) publishStatus() {
	c.status.Store(&Status{
		State:        c.state.String(),
		IsLoading:    c.loading,
		CurrentURL:   c.current,
		Target:       c.session.Target,
		Attempts:     c.session.Attempts,
		MaxAttempts:  c.session.MaxAttempts,
		Switching:    c.session.Switching(),
		ForcedReload: c.session.ForcedReload(),
	})
}

// arm schedules f on the owning session after d, replacing whatever the slot held.
func (c *Controller) arm(slot *timerSlot, d time.Duration, f func()) {
	c.disarm(slot)
	c.timerSeq++
	seq := c.timerSeq
	slot.seq = seq
	slot.t = c.clock.AfterFunc(d, func() {
		c.post(func() {
			if slot.seq != seq {
				return
			}
			slot.t = nil
			slot.seq = 0
			f()
		})
	})
}

func (c *Controller) disarm(slot *timerSlot) {
	if slot.t != nil {
		slot.t.Stop()
	}
	slot.t = nil
	slot.seq = 0
}

func (c *Controller) disarmAll() {
	c.disarm(&c.retryTimer)
	c.disarm(&c.fallbackTimer)
	c.disarm(&c.settleTimer)
}

// delegate forwards one view's events into the owning session, dropping
// events from views that were replaced.
type delegate struct {
	c   *Controller
	gen uint64
}

func (d *delegate) NavigationFinished(url string) {
	d.c.post(func() {
		if d.gen != d.c.viewGen {
			return
		}
		d.c.navigationFinished(url)
	})
}

func (d *delegate) NavigationFailed(url string, err error) {
	d.c.post(func() {
		if d.gen != d.c.viewGen {
			return
		}
		d.c.navigationFailed(url, err)
	})
}
