package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/webshell-bridge/pkg/commsutil"
	"github.com/morezero/webshell-bridge/pkg/loader"
)

const viewLogPrefix = "remote:view"

// View is a content view rendered by a remote shell. Each instance has its
// own id; the shell creates a fresh webview per id and tags its events with it.
type View struct {
	nc             *comms.Conn
	id             string
	delegate       loader.NavigationDelegate
	inspectTimeout time.Duration
	sub            *comms.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	url    string
	closed bool
}

// NewViewFactory returns a factory creating remote views on nc.
func NewViewFactory(nc *comms.Conn, inspectTimeout time.Duration) loader.ViewFactory {
	return func(d loader.NavigationDelegate) loader.View {
		return NewView(nc, d, inspectTimeout)
	}
}

// NewView asks the shell for a fresh view and follows its events.
func NewView(nc *comms.Conn, d loader.NavigationDelegate, inspectTimeout time.Duration) *View {
	if inspectTimeout <= 0 {
		inspectTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		nc:             nc,
		id:             uuid.NewString(),
		delegate:       d,
		inspectTimeout: inspectTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}

	sub, err := nc.Subscribe(commsutil.BuildViewSubject("events"), v.onEvent)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - [%s] failed to subscribe to view events: %v", viewLogPrefix, v.id, err))
	}
	v.sub = sub
	if err := v.send("create", ViewCommand{}); err != nil {
		slog.Error(fmt.Sprintf("%s - [%s] failed to create view: %v", viewLogPrefix, v.id, err))
	}
	return v
}

// ID returns the view instance id.
func (v *View) ID() string {
	return v.id
}

// Load navigates to target. A transport failure is reported as a failed
// navigation. URL keeps reporting the last committed page until the shell
// reports this one finished.
func (v *View) Load(target string, opts loader.LoadOptions) {
	err := v.send("load", ViewCommand{
		URL:         target,
		BypassCache: opts.BypassCache,
		TimeoutMs:   opts.Timeout.Milliseconds(),
	})
	if err != nil {
		v.delegate.NavigationFailed(target, err)
	}
}

func (v *View) Reload() {
	v.command("reload")
}

func (v *View) ReloadFromOrigin() {
	v.command("reloadFromOrigin")
}

func (v *View) StopLoading() {
	v.command("stop")
}

// URL returns the URL of the last finished navigation, or "" before any.
func (v *View) URL() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.url
}

// InspectContent asks the shell whether the document body is empty. done is
// not called when the shell does not answer in time.
func (v *View) InspectContent(done func(empty bool)) {
	payload, err := commsutil.EncodePayload(ViewCommand{View: v.id})
	if err != nil {
		return
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ctx, cancel := context.WithTimeout(v.ctx, v.inspectTimeout)
		defer cancel()
		msg, err := v.nc.RequestWithContext(ctx, commsutil.BuildViewSubject("inspect"), payload)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - [%s] content inspection failed: %v", viewLogPrefix, v.id, err))
			return
		}
		var reply inspectReply
		if err := commsutil.DecodePayload(msg.Data, &reply); err != nil {
			slog.Warn(fmt.Sprintf("%s - [%s] malformed inspection reply: %v", viewLogPrefix, v.id, err))
			return
		}
		done(reply.Empty)
	}()
}

// Close destroys the remote view and stops following its events.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.command("close")
	if v.sub != nil {
		_ = v.sub.Unsubscribe()
	}
	v.cancel()
	v.wg.Wait()
}

func (v *View) command(op string) {
	if err := v.send(op, ViewCommand{}); err != nil {
		slog.Warn(fmt.Sprintf("%s - [%s] %s failed: %v", viewLogPrefix, v.id, op, err))
	}
}

func (v *View) send(op string, cmd ViewCommand) error {
	cmd.View = v.id
	payload, err := commsutil.EncodePayload(cmd)
	if err != nil {
		return err
	}
	return v.nc.Publish(commsutil.BuildViewSubject(op), payload)
}

func (v *View) onEvent(msg *comms.Msg) {
	var ev ViewEvent
	if err := commsutil.DecodePayload(msg.Data, &ev); err != nil {
		slog.Warn(fmt.Sprintf("%s - [%s] ignoring malformed view event: %v", viewLogPrefix, v.id, err))
		return
	}
	if ev.View != v.id {
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if ev.Type == EventFinished && ev.URL != "" {
		v.url = ev.URL
	}
	v.mu.Unlock()

	switch ev.Type {
	case EventFinished:
		v.delegate.NavigationFinished(ev.URL)
	case EventFailed:
		msgText := ev.Error
		if msgText == "" {
			msgText = "navigation failed"
		}
		v.delegate.NavigationFailed(ev.URL, errors.New(msgText))
	default:
		slog.Debug(fmt.Sprintf("%s - [%s] ignoring view event %q", viewLogPrefix, v.id, ev.Type))
	}
}
