package bridge

import (
	"fmt"
	"strings"

	comms "github.com/nats-io/nats.go"
)

// Sink hands a serialized envelope to the content surface.
type Sink interface {
	Send(payload []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(payload []byte) error

func (f SinkFunc) Send(payload []byte) error { return f(payload) }

// CommsSink publishes envelopes on a COMMS subject the content host subscribes to.
type CommsSink struct {
	nc      *comms.Conn
	subject string
}

// NewCommsSink creates a sink publishing to subject.
func NewCommsSink(nc *comms.Conn, subject string) *CommsSink {
	return &CommsSink{nc: nc, subject: subject}
}

func (s *CommsSink) Send(payload []byte) error {
	if err := s.nc.Publish(s.subject, payload); err != nil {
		return fmt.Errorf("bridge:sink - failed to publish to %s: %w", s.subject, err)
	}
	return nil
}

// ResultFunction is the global content function envelopes are delivered to.
const ResultFunction = "window.handleNativeResult"

// Script renders the script a webview host evaluates to deliver payload.
func Script(payload []byte) string {
	var b strings.Builder
	b.Grow(len(payload) + len(ResultFunction) + 3)
	b.WriteString(ResultFunction)
	b.WriteByte('(')
	b.Write(payload)
	b.WriteString(");")
	return b.String()
}

// ScriptSink delivers envelopes as scripts to an evaluator (a webview host).
type ScriptSink struct {
	eval func(script string) error
}

// NewScriptSink creates a sink calling eval with the rendered script.
func NewScriptSink(eval func(script string) error) *ScriptSink {
	return &ScriptSink{eval: eval}
}

func (s *ScriptSink) Send(payload []byte) error {
	return s.eval(Script(payload))
}
