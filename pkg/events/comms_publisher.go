package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/webshell-bridge/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// Headers set on every published change so subscribers can filter without decoding.
const (
	HeaderReason = "Webshell-Reason"
	HeaderHost   = "Webshell-Host"
)

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalChangeSubject overrides the global change subject (BRIDGE_CHANGE_EVENT_SUBJECT).
	GlobalChangeSubject string
}

// CommsPublisher publishes endpoint changes on the per-host subject and the global subject.
type CommsPublisher struct {
	nc                  *comms.Conn
	globalChangeSubject string
}

// NewCommsPublisher creates a CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc, globalChangeSubject: commsutil.SubjectChangeEvent}
	if opts != nil && opts.GlobalChangeSubject != "" {
		p.globalChangeSubject = opts.GlobalChangeSubject
	}
	return p
}

func (p *CommsPublisher) subjects(event *EndpointChangedEvent) []string {
	return []string{
		commsutil.BuildChangeSubject(p.globalChangeSubject, event.Host()),
		p.globalChangeSubject,
	}
}

// PublishChanged publishes the event on each subject and stops at the first failure.
func (p *CommsPublisher) PublishChanged(_ context.Context, event *EndpointChangedEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	for _, subject := range p.subjects(event) {
		msg := comms.NewMsg(subject)
		msg.Data = data
		msg.Header.Set(HeaderReason, string(event.Reason))
		msg.Header.Set(HeaderHost, event.Host())
		if err := p.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("%s - failed to publish to %s: %w", commsPublisherLogPrefix, subject, err)
		}
	}

	slog.Debug(fmt.Sprintf("%s - Published endpoint change (%s) to %s", commsPublisherLogPrefix, event.Reason, event.ServerURL))
	return nil
}
