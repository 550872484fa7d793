// Package bridge carries messages between the content surface and the native
// side: it decodes inbound action requests and delivers exactly one result
// envelope per request back to content.
package bridge

import (
	"encoding/json"

	"github.com/morezero/webshell-bridge/pkg/apperr"
	"github.com/morezero/webshell-bridge/pkg/capability"
)

// Reserved envelope keys.
const (
	FieldAction = "action"
	FieldError  = "error"
	FieldID     = "id"
)

// Envelope is the single JSON object handed to content per request. The
// presence of "error" is the only success/failure discriminator.
type Envelope struct {
	fields map[string]any
	kind   apperr.Kind
}

// NewResult builds a success envelope. An "error" key in fields is dropped so
// the envelope can never carry both outcomes.
func NewResult(action string, fields map[string]any) Envelope {
	f := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if k == FieldError {
			continue
		}
		f[k] = v
	}
	f[FieldAction] = action
	return Envelope{fields: f}
}

// NewError builds an error envelope carrying only the action and the
// human-readable error text. Foreign errors become InternalError.
func NewError(action string, err error) Envelope {
	appErr := apperr.As(err)
	if appErr == nil {
		appErr = apperr.InternalError("missing error")
	}
	f := map[string]any{FieldError: appErr.Error()}
	if action != "" {
		f[FieldAction] = action
	}
	return Envelope{fields: f, kind: appErr.Kind}
}

// WithID echoes a correlation id when one was supplied.
func (e Envelope) WithID(id capability.RequestID) Envelope {
	if !id.IsZero() {
		e.fields[FieldID] = id
	}
	return e
}

// Get returns the value of one field.
func (e Envelope) Get(key string) (any, bool) {
	v, ok := e.fields[key]
	return v, ok
}

// Action returns the action the envelope answers, or "".
func (e Envelope) Action() string {
	s, _ := e.fields[FieldAction].(string)
	return s
}

// ID returns the echoed correlation id, or the zero id.
func (e Envelope) ID() capability.RequestID {
	id, _ := e.fields[FieldID].(capability.RequestID)
	return id
}

// IsError reports whether the envelope carries an error.
func (e Envelope) IsError() bool {
	_, ok := e.fields[FieldError]
	return ok
}

// Kind returns the error kind, or "" for a success envelope.
func (e Envelope) Kind() apperr.Kind {
	return e.kind
}

// MarshalJSON encodes the envelope as a flat JSON object.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.fields)
}
