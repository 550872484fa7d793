// Package session owns one content surface: its load controller, its request
// dispatcher and the bridge back to content. All of their state is mutated on
// a single goroutine that drains one inbox; everything else posts into it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/webshell-bridge/pkg/apperr"
	"github.com/morezero/webshell-bridge/pkg/bridge"
	"github.com/morezero/webshell-bridge/pkg/capability"
	"github.com/morezero/webshell-bridge/pkg/dispatcher"
	"github.com/morezero/webshell-bridge/pkg/loader"
	"github.com/morezero/webshell-bridge/pkg/metrics"
	"github.com/morezero/webshell-bridge/pkg/normalize"
	"github.com/morezero/webshell-bridge/pkg/reconfig"
	"github.com/morezero/webshell-bridge/pkg/store"
)

const logPrefix = "session:session"

// Options wires a Session.
type Options struct {
	Store      *store.Store
	Providers  capability.Providers
	Recognizer capability.TextRecognizer
	// Encoder defaults to normalize.NewEncoder(normalize.DefaultJPEGQuality).
	Encoder capability.Encoder
	Sink    bridge.Sink
	Views   loader.ViewFactory
	// Clock defaults to the wall clock.
	Clock              loader.Clock
	Loader             loader.Config
	ProtocolConstraint string
}

// Session is the owning coordination context of one content surface.
type Session struct {
	base   context.Context
	cancel context.CancelFunc

	decoder *bridge.Decoder
	bridge  *bridge.Bridge
	disp    *dispatcher.Dispatcher
	loader  *loader.Controller

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
}

// New builds a Session. Nothing runs until Run is called; messages posted
// before that are queued.
func New(opts Options) (*Session, error) {
	if opts.Store == nil || opts.Sink == nil || opts.Views == nil {
		return nil, fmt.Errorf("%s - store, sink and view factory are required", logPrefix)
	}
	decoder, err := bridge.NewDecoder(opts.ProtocolConstraint)
	if err != nil {
		return nil, err
	}
	enc := opts.Encoder
	if enc == nil {
		enc = normalize.NewEncoder(normalize.DefaultJPEGQuality)
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Session{
		base:    base,
		cancel:  cancel,
		decoder: decoder,
		bridge:  bridge.New(opts.Sink),
		wake:    make(chan struct{}, 1),
	}
	s.loader = loader.New(opts.Loader, opts.Store, opts.Views, opts.Clock, s.Post)
	s.disp = dispatcher.New(base, dispatcher.Options{
		Providers:      opts.Providers,
		Normalizer:     normalize.New(opts.Recognizer, enc),
		Gate:           reconfig.New(opts.Store),
		Out:            s.bridge,
		Post:           s.Post,
		OnReconfigured: s.reload,
	})
	return s, nil
}

// Post enqueues f onto the session goroutine. It never blocks; after the
// session stopped, f is dropped.
func (s *Session) Post(f func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, f)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// PostToNative accepts one raw message from content. Malformed messages are
// answered with an error envelope so content never waits.
func (s *Session) PostToNative(raw []byte) {
	req, err := s.decoder.Decode(raw)
	if err != nil {
		kind := apperr.As(err).Kind
		metrics.IncInboundRejected(string(kind))
		slog.Warn(fmt.Sprintf("%s - [%s] rejected inbound message: %v", logPrefix, req.TraceID, err))
		s.Post(func() {
			_ = s.bridge.DeliverError(req.Action, req.ID, err)
		})
		return
	}
	s.Post(func() {
		s.disp.Handle(req)
	})
}

// Resume re-reads the configured endpoint, as on foreground resume or an
// explicit reload request.
func (s *Session) Resume() {
	s.Post(s.reload)
}

// Status returns the load status. Safe from any goroutine.
func (s *Session) Status() loader.Status {
	return s.loader.Status()
}

// Run starts the content session and processes the inbox until ctx is done.
// On return the in-flight request has been resolved and all timers cancelled.
func (s *Session) Run(ctx context.Context) error {
	slog.Info(fmt.Sprintf("%s - Session started", logPrefix))
	s.Post(func() {
		if err := s.loader.Start(s.base); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to start content load: %v", logPrefix, err))
		}
	})

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			slog.Info(fmt.Sprintf("%s - Session stopped", logPrefix))
			return nil
		case <-s.wake:
			s.drain()
		}
	}
}

func (s *Session) reload() {
	if err := s.loader.ReloadIfChanged(s.base); err != nil {
		slog.Error(fmt.Sprintf("%s - reload failed: %v", logPrefix, err))
	}
}

func (s *Session) drain() {
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, f := range batch {
			f()
		}
	}
}

func (s *Session) shutdown() {
	s.cancel()
	s.disp.Shutdown()
	s.drain()

	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.loader.Close()
}
