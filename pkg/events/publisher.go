package events

import "context"

// EventPublisher publishes endpoint change events.
type EventPublisher interface {
	PublishChanged(ctx context.Context, event *EndpointChangedEvent) error
}

// NoOpPublisher drops every event (shells without COMMS).
type NoOpPublisher struct{}

func (NoOpPublisher) PublishChanged(context.Context, *EndpointChangedEvent) error { return nil }

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(ctx context.Context, event *EndpointChangedEvent) error

func (f PublisherFunc) PublishChanged(ctx context.Context, event *EndpointChangedEvent) error {
	return f(ctx, event)
}
