package dispatcher

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/morezero/webshell-bridge/pkg/apperr"
	"github.com/morezero/webshell-bridge/pkg/capability"
)

const slotLogPrefix = "dispatcher:slot"

// slot is the single in-flight request. It is owned by the session and
// released exactly once, by resolve.
type slot struct {
	req    capability.Request
	action capability.Action
}

// completion is handed to a provider when its UI is presented. It may be
// called from any goroutine; the first call wins and is posted to the session.
type completion struct {
	d    *Dispatcher
	s    *slot
	done atomic.Bool
}

func (c *completion) Succeed(r capability.Result) {
	c.once("success", func() { c.d.succeeded(c.s, r) })
}

func (c *completion) Fail(err error) {
	if err == nil {
		err = apperr.InternalError("the provider failed without an error")
	}
	c.once("failure", func() { c.d.resolveError(c.s, err) })
}

func (c *completion) Dismiss() {
	c.once("dismissal", func() { c.d.resolveError(c.s, apperr.UserCancelled()) })
}

func (c *completion) once(outcome string, f func()) {
	if !c.done.CompareAndSwap(false, true) {
		slog.Debug(fmt.Sprintf("%s - Ignoring %s for %s %s: already resolved", slotLogPrefix, outcome, c.s.action, c.s.req.TraceID))
		return
	}
	c.d.post(f)
}
