// Package events defines the endpoint change event and its publishers.
package events

import (
	"net/url"
	"time"
)

// ChangeReason says why the persisted endpoint changed.
type ChangeReason string

const (
	// ReasonReconfigured is a token-gated change delivered by a scanned code.
	ReasonReconfigured ChangeReason = "reconfigured"
	// ReasonFallback is the automatic switch after the attempt budget ran out.
	ReasonFallback ChangeReason = "fallback"
	// ReasonReset is an explicit reset to the built-in default.
	ReasonReset ChangeReason = "reset"
	// ReasonSet is an explicit operator change outside the gate.
	ReasonSet ChangeReason = "set"
)

// EndpointChangedEvent is emitted whenever the persisted server URL changes.
type EndpointChangedEvent struct {
	ServerURL   string       `json:"serverUrl"`
	PreviousURL string       `json:"previousUrl,omitempty"`
	Reason      ChangeReason `json:"reason"`
	Timestamp   string       `json:"timestamp"`
}

// NewEndpointChangedEvent stamps an event with the current UTC time.
func NewEndpointChangedEvent(serverURL, previousURL string, reason ChangeReason) *EndpointChangedEvent {
	return &EndpointChangedEvent{
		ServerURL:   serverURL,
		PreviousURL: previousURL,
		Reason:      reason,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// Host returns the host of the new server URL, or "" when it does not parse.
func (e *EndpointChangedEvent) Host() string {
	u, err := url.Parse(e.ServerURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
