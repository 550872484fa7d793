// Package dispatcher routes content requests to the native capability
// providers, one at a time, and turns every accepted request into exactly one
// envelope.
//
// A Dispatcher is confined to its owning session. Handle and Shutdown must be
// called from the session goroutine; provider completions and normalization
// results re-enter through post.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/webshell-bridge/pkg/apperr"
	"github.com/morezero/webshell-bridge/pkg/bridge"
	"github.com/morezero/webshell-bridge/pkg/capability"
	"github.com/morezero/webshell-bridge/pkg/metrics"
	"github.com/morezero/webshell-bridge/pkg/normalize"
	"github.com/morezero/webshell-bridge/pkg/reconfig"
)

const logPrefix = "dispatcher:dispatch"

// Deliverer sends one envelope to content.
type Deliverer interface {
	Deliver(env bridge.Envelope) error
}

// Reconfigurer inspects scanned payloads for configuration changes.
type Reconfigurer interface {
	Attempt(ctx context.Context, raw string) (reconfig.Outcome, error)
}

// Options wires a Dispatcher.
type Options struct {
	Providers  capability.Providers
	Normalizer *normalize.Normalizer
	Gate       Reconfigurer
	Out        Deliverer
	// Post enqueues a function onto the owning session.
	Post func(func())
	// OnReconfigured is called on the session after a configuration change
	// was reported to content.
	OnReconfigured func()
}

// Dispatcher holds the single in-flight request slot.
type Dispatcher struct {
	ctx            context.Context
	providers      capability.Providers
	norm           *normalize.Normalizer
	gate           Reconfigurer
	out            Deliverer
	post           func(func())
	onReconfigured func()

	current *slot
	// workers tracks normalization goroutines.
	workers sync.WaitGroup
}

// New creates a Dispatcher. ctx bounds normalization work.
func New(ctx context.Context, opts Options) *Dispatcher {
	return &Dispatcher{
		ctx:            ctx,
		providers:      opts.Providers,
		norm:           opts.Normalizer,
		gate:           opts.Gate,
		out:            opts.Out,
		post:           opts.Post,
		onReconfigured: opts.OnReconfigured,
	}
}

// InFlight returns the outstanding request, if any.
func (d *Dispatcher) InFlight() (capability.Request, bool) {
	if d.current == nil {
		return capability.Request{}, false
	}
	return d.current.req, true
}

// Handle validates req and presents the matching capture UI. Rejections are
// delivered immediately and never occupy the slot.
func (d *Dispatcher) Handle(req capability.Request) {
	slog.Debug(fmt.Sprintf("%s - action=%s id=%s trace=%s", logPrefix, req.Action, req.ID, req.TraceID))

	if req.Action == "" {
		d.reject(req, "", apperr.InvalidRequest("the message has no action"))
		return
	}
	action, ok := capability.ParseAction(req.Action)
	if !ok {
		d.reject(req, req.Action, apperr.InvalidRequest(fmt.Sprintf("unknown action %q", req.Action)))
		return
	}
	if d.current != nil {
		slog.Warn(fmt.Sprintf("%s - Rejecting %s %s: %s %s is still in progress", logPrefix, action, req.TraceID, d.current.action, d.current.req.TraceID))
		d.reject(req, req.Action, apperr.InvalidRequest("another action is already in progress"))
		return
	}

	switch action {
	case capability.ActionScanDocument:
		if d.providers.Documents == nil {
			d.reject(req, req.Action, apperr.FeatureNotAvailable("documentScanner"))
			return
		}
		d.providers.Documents.PresentDocumentScanner(d.acquire(req, action))

	case capability.ActionTakePhoto:
		if d.providers.Photos == nil || !d.providers.Photos.CameraAvailable() {
			d.reject(req, req.Action, apperr.FeatureNotAvailable("camera"))
			return
		}
		d.providers.Photos.PresentCamera(req.PhotoParams().Camera, d.acquire(req, action))

	case capability.ActionScanBarcode:
		if d.providers.Barcodes == nil || !d.providers.Barcodes.Supported() {
			d.reject(req, req.Action, apperr.FeatureNotAvailable("barcodeScanner"))
			return
		}
		d.providers.Barcodes.PresentBarcodeScanner(req.BarcodeParams().Symbologies, d.acquire(req, action))
	}
}

// Shutdown resolves the in-flight request, if any, and waits for
// normalization workers to finish.
func (d *Dispatcher) Shutdown() {
	if d.current != nil {
		d.resolveError(d.current, apperr.InternalError("the session was closed"))
	}
	d.workers.Wait()
}

// acquire occupies the slot. The returned completion is the only way to release it.
func (d *Dispatcher) acquire(req capability.Request, action capability.Action) capability.Completion {
	s := &slot{req: req, action: action}
	d.current = s
	metrics.SetInFlight(true)
	slog.Info(fmt.Sprintf("%s - Presenting %s for %s", logPrefix, action, req.TraceID))
	return &completion{d: d, s: s}
}

func (d *Dispatcher) succeeded(s *slot, r capability.Result) {
	if d.current != s {
		return
	}
	switch s.action {
	case capability.ActionScanDocument:
		params := s.req.DocumentParams()
		d.async(s, func() (map[string]any, error) {
			return d.norm.Document(d.ctx, r.Pages, params)
		})

	case capability.ActionTakePhoto:
		params := s.req.PhotoParams()
		d.async(s, func() (map[string]any, error) {
			return d.norm.Photo(r.Image, params)
		})

	case capability.ActionScanBarcode:
		d.barcode(s, r)
	}
}

// async normalizes off the session and posts the envelope back. The slot stays
// occupied until the envelope is delivered.
func (d *Dispatcher) async(s *slot, normalize func() (map[string]any, error)) {
	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		fields, err := normalize()
		d.post(func() {
			if err != nil {
				d.resolveError(s, err)
				return
			}
			d.resolve(s, bridge.NewResult(string(s.action), fields))
		})
	}()
}

func (d *Dispatcher) barcode(s *slot, r capability.Result) {
	if d.gate != nil {
		outcome, err := d.gate.Attempt(d.ctx, r.Code)
		if err != nil {
			d.resolveError(s, err)
			return
		}
		if outcome == reconfig.Changed {
			d.resolve(s, bridge.NewResult(string(s.action), normalize.ConfigChanged()))
			if d.onReconfigured != nil {
				d.onReconfigured()
			}
			return
		}
	}
	d.resolve(s, bridge.NewResult(string(s.action), normalize.Barcode(r.Code, r.Symbology)))
}

func (d *Dispatcher) resolveError(s *slot, err error) {
	if apperr.Is(err, apperr.KindUserCancelled) {
		slog.Info(fmt.Sprintf("%s - %s %s cancelled by the user", logPrefix, s.action, s.req.TraceID))
	} else {
		slog.Warn(fmt.Sprintf("%s - %s %s failed: %v", logPrefix, s.action, s.req.TraceID, err))
	}
	d.resolve(s, bridge.NewError(string(s.action), err))
}

// resolve releases the slot and delivers env. Resolving a released slot is a no-op.
func (d *Dispatcher) resolve(s *slot, env bridge.Envelope) {
	if d.current != s {
		slog.Debug(fmt.Sprintf("%s - Dropping outcome for released %s %s", logPrefix, s.action, s.req.TraceID))
		return
	}
	d.current = nil
	metrics.SetInFlight(false)
	d.deliver(env.WithID(s.req.ID))
}

func (d *Dispatcher) reject(req capability.Request, action string, err error) {
	slog.Warn(fmt.Sprintf("%s - Rejected request %s: %v", logPrefix, req.TraceID, err))
	d.deliver(bridge.NewError(action, err).WithID(req.ID))
}

func (d *Dispatcher) deliver(env bridge.Envelope) {
	if err := d.out.Deliver(env); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to deliver envelope for %q: %v", logPrefix, env.Action(), err))
	}
}
