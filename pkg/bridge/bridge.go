package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/morezero/webshell-bridge/pkg/apperr"
	"github.com/morezero/webshell-bridge/pkg/capability"
	"github.com/morezero/webshell-bridge/pkg/metrics"
)

const logPrefix = "bridge:bridge"

// fallbackPayload is sent when even the fallback envelope cannot be encoded.
const fallbackPayload = `{"error":"An internal error occurred: failed to serialize response"}`

// Bridge delivers envelopes to content. Every call to Deliver sends exactly one
// payload: the envelope, or a fallback error when the envelope cannot be encoded.
type Bridge struct {
	sink Sink
}

// New creates a Bridge over sink.
func New(sink Sink) *Bridge {
	return &Bridge{sink: sink}
}

// Deliver serializes env and sends it. The returned error reports only a
// transport failure; serialization failures degrade to the fallback envelope.
func (b *Bridge) Deliver(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to serialize envelope for %q: %v", logPrefix, env.Action(), err))
		metrics.BridgeFallbackTotal.Inc()
		payload = fallback(env)
		metrics.RecordEnvelope(env.Action(), string(apperr.KindInternalError))
	} else {
		metrics.RecordEnvelope(env.Action(), string(env.Kind()))
	}

	if err := b.sink.Send(payload); err != nil {
		metrics.BridgeSendFailuresTotal.Inc()
		slog.Error(fmt.Sprintf("%s - failed to deliver envelope: %v", logPrefix, err))
		return err
	}
	slog.Debug(fmt.Sprintf("%s - Delivered %d bytes to content", logPrefix, len(payload)))
	return nil
}

// DeliverError delivers an error envelope for action, echoing id.
func (b *Bridge) DeliverError(action string, id capability.RequestID, err error) error {
	return b.Deliver(NewError(action, err).WithID(id))
}

// fallback builds the minimal error payload, keeping only the correlation id.
func fallback(env Envelope) []byte {
	fb := map[string]any{
		FieldError: apperr.InternalError("failed to serialize response").Error(),
	}
	if id := env.ID(); !id.IsZero() {
		fb[FieldID] = id
	}
	payload, err := json.Marshal(fb)
	if err != nil {
		return []byte(fallbackPayload)
	}
	return payload
}
