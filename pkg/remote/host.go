package remote

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/webshell-bridge/pkg/apperr"
	"github.com/morezero/webshell-bridge/pkg/capability"
	"github.com/morezero/webshell-bridge/pkg/commsutil"
)

const logPrefix = "remote:host"

// Host reaches the capture providers of a remote shell. Availability checks
// read the last advertised Capabilities and never block.
type Host struct {
	nc        *comms.Conn
	timeout   time.Duration
	heartbeat time.Duration
	caps      atomic.Pointer[Capabilities]
	sub       *comms.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHost creates a Host. timeout bounds describe, present acknowledgement
// and OCR requests; heartbeat is how often an open presentation checks that
// the host is still there.
func NewHost(nc *comms.Conn, timeout, heartbeat time.Duration) *Host {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{nc: nc, timeout: timeout, heartbeat: heartbeat, ctx: ctx, cancel: cancel}
	h.caps.Store(&Capabilities{})
	return h
}

// Start follows capability advertisements and asks the host for its current
// capabilities. An unreachable host is not an error: every feature reports
// unavailable until it advertises.
func (h *Host) Start(ctx context.Context) error {
	sub, err := h.nc.Subscribe(commsutil.BuildProviderSubject(ProviderHost, "capabilities"), func(msg *comms.Msg) {
		h.update(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to capability adverts: %w", logPrefix, err)
	}
	h.sub = sub

	reqCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	msg, err := h.nc.RequestWithContext(reqCtx, commsutil.BuildProviderSubject(ProviderHost, "describe"), nil)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Host did not describe its capabilities: %v", logPrefix, err))
		return nil
	}
	h.update(msg.Data)
	return nil
}

// Stop stops following advertisements and abandons open presentations
// without resolving them.
func (h *Host) Stop() {
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
	}
	h.cancel()
	h.wg.Wait()
}

// Capabilities returns the last advertised capabilities.
func (h *Host) Capabilities() Capabilities {
	return *h.caps.Load()
}

func (h *Host) update(data []byte) {
	var c Capabilities
	if err := commsutil.DecodePayload(data, &c); err != nil {
		slog.Warn(fmt.Sprintf("%s - Ignoring malformed capability advert: %v", logPrefix, err))
		return
	}
	if prev := h.caps.Swap(&c); prev != nil && *prev == c {
		return
	}
	slog.Info(fmt.Sprintf("%s - Host capabilities: camera=%v barcodeScanner=%v documentScanner=%v", logPrefix, c.Camera, c.BarcodeScanner, c.DocumentScanner))
}

// Providers returns the capture providers backed by this host.
func (h *Host) Providers() capability.Providers {
	return capability.Providers{
		Documents: documentScanner{h},
		Photos:    photoCapturer{h},
		Barcodes:  barcodeScanner{h},
	}
}

// RecognizeText sends one page to the host's text recognizer.
func (h *Host) RecognizeText(ctx context.Context, page image.Image) (string, error) {
	encoded, err := encodeImage(page)
	if err != nil {
		return "", fmt.Errorf("%s - failed to encode page: %w", logPrefix, err)
	}
	payload, err := commsutil.EncodePayload(ocrRequest{Image: encoded})
	if err != nil {
		return "", err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	msg, err := h.nc.RequestWithContext(ctx, commsutil.BuildProviderSubject(ProviderOCR, "recognize"), payload)
	if err != nil {
		return "", fmt.Errorf("%s - text recognition request failed: %w", logPrefix, err)
	}
	var reply ocrReply
	if err := commsutil.DecodePayload(msg.Data, &reply); err != nil {
		return "", fmt.Errorf("%s - malformed text recognition reply: %w", logPrefix, err)
	}
	if reply.Error != "" {
		return "", errors.New(reply.Error)
	}
	return reply.Text, nil
}

// presentation is one open capture UI. finish closes it exactly once; only
// the caller that wins may resolve the completion.
type presentation struct {
	provider string
	id       string
	c        capability.Completion
	sub      *comms.Subscription
	done     chan struct{}
	once     sync.Once
}

func (p *presentation) finish() bool {
	first := false
	p.once.Do(func() {
		first = true
		close(p.done)
		if p.sub != nil {
			_ = p.sub.Unsubscribe()
		}
	})
	return first
}

// present asks provider to show its UI and routes the single outcome to c.
// The shell must acknowledge the request within the host timeout. While the
// UI is open the host is polled every heartbeat; a host that stops answering
// or a lost COMMS link dismisses the presentation.
func (h *Host) present(provider string, req PresentRequest, c capability.Completion, decode func(OutcomeMessage) (capability.Result, error)) {
	req.ID = uuid.NewString()
	req.ReplyTo = commsutil.BuildCallbackSubject(provider, req.ID)
	p := &presentation{provider: provider, id: req.ID, c: c, done: make(chan struct{})}

	sub, err := h.nc.Subscribe(req.ReplyTo, func(msg *comms.Msg) {
		if p.finish() {
			h.outcome(provider, msg.Data, c, decode)
		}
	})
	if err != nil {
		c.Fail(apperr.InternalError(fmt.Sprintf("could not reach the %s provider: %v", provider, err)))
		return
	}
	p.sub = sub

	payload, err := commsutil.EncodePayload(req)
	if err != nil {
		p.finish()
		c.Fail(apperr.InternalError(fmt.Sprintf("could not reach the %s provider: %v", provider, err)))
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if !h.acknowledge(p, payload) {
			return
		}
		slog.Debug(fmt.Sprintf("%s - Presented %s (%s)", logPrefix, provider, req.ID))
		h.watch(p)
	}()
}

// acknowledge sends the present request and waits for the shell to accept it.
func (h *Host) acknowledge(p *presentation, payload []byte) bool {
	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()
	msg, err := h.nc.RequestWithContext(ctx, commsutil.BuildProviderSubject(p.provider, "present"), payload)
	if err != nil {
		if h.ctx.Err() != nil {
			p.finish()
			return false
		}
		if p.finish() {
			slog.Warn(fmt.Sprintf("%s - %s did not acknowledge presentation %s: %v", logPrefix, p.provider, p.id, err))
			p.c.Fail(apperr.InternalError(fmt.Sprintf("the %s provider did not respond", p.provider)))
		}
		return false
	}
	if len(msg.Data) > 0 {
		var ack presentAck
		if err := commsutil.DecodePayload(msg.Data, &ack); err != nil {
			if p.finish() {
				p.c.Fail(apperr.InternalError(fmt.Sprintf("malformed %s acknowledgement: %v", p.provider, err)))
			}
			return false
		}
		if ack.Error != nil {
			if p.finish() {
				p.c.Fail(ack.Error.toError())
			}
			return false
		}
	}
	return true
}

// watch polls the host while p is open and dismisses p once the host is gone.
func (h *Host) watch(p *presentation) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-h.ctx.Done():
			p.finish()
			return
		case <-ticker.C:
			if err := h.ping(); err != nil {
				if p.finish() {
					slog.Warn(fmt.Sprintf("%s - Lost the host during %s presentation %s: %v", logPrefix, p.provider, p.id, err))
					p.c.Dismiss()
				}
				return
			}
		}
	}
}

// ping asks the host to describe itself and refreshes the cached capabilities.
func (h *Host) ping() error {
	if !h.nc.IsConnected() {
		return comms.ErrDisconnected
	}
	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()
	msg, err := h.nc.RequestWithContext(ctx, commsutil.BuildProviderSubject(ProviderHost, "describe"), nil)
	if err != nil {
		return err
	}
	h.update(msg.Data)
	return nil
}

func (h *Host) outcome(provider string, data []byte, c capability.Completion, decode func(OutcomeMessage) (capability.Result, error)) {
	var m OutcomeMessage
	if err := commsutil.DecodePayload(data, &m); err != nil {
		c.Fail(apperr.InternalError(fmt.Sprintf("malformed %s outcome: %v", provider, err)))
		return
	}
	switch m.Outcome {
	case OutcomeSuccess:
		r, err := decode(m)
		if err != nil {
			c.Fail(apperr.InternalError(fmt.Sprintf("%s result: %v", provider, err)))
			return
		}
		c.Succeed(r)
	case OutcomeDismissed:
		c.Dismiss()
	case OutcomeFailure:
		c.Fail(m.Error.toError())
	default:
		c.Fail(apperr.InternalError(fmt.Sprintf("unknown %s outcome %q", provider, m.Outcome)))
	}
}

type documentScanner struct{ h *Host }

func (d documentScanner) PresentDocumentScanner(c capability.Completion) {
	d.h.present(ProviderDocuments, PresentRequest{}, c, func(m OutcomeMessage) (capability.Result, error) {
		pages := make([]image.Image, 0, len(m.Pages))
		for i, p := range m.Pages {
			img, err := decodeImage(p)
			if err != nil {
				return capability.Result{}, fmt.Errorf("page %d: %w", i+1, err)
			}
			pages = append(pages, img)
		}
		return capability.Result{Pages: pages}, nil
	})
}

type photoCapturer struct{ h *Host }

func (p photoCapturer) CameraAvailable() bool {
	return p.h.Capabilities().Camera
}

func (p photoCapturer) PresentCamera(facing capability.CameraFacing, c capability.Completion) {
	p.h.present(ProviderCamera, PresentRequest{Camera: string(facing)}, c, func(m OutcomeMessage) (capability.Result, error) {
		img, err := decodeImage(m.Image)
		if err != nil {
			return capability.Result{}, err
		}
		return capability.Result{Image: img}, nil
	})
}

type barcodeScanner struct{ h *Host }

func (b barcodeScanner) Supported() bool {
	return b.h.Capabilities().BarcodeScanner
}

func (b barcodeScanner) PresentBarcodeScanner(symbologies []capability.Symbology, c capability.Completion) {
	types := make([]string, len(symbologies))
	for i, s := range symbologies {
		types[i] = string(s)
	}
	b.h.present(ProviderBarcodes, PresentRequest{Types: types}, c, func(m OutcomeMessage) (capability.Result, error) {
		return capability.Result{Code: m.Code, Symbology: capability.Symbology(m.Symbology)}, nil
	})
}
