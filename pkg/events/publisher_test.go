package events

import (
	"context"
	"testing"
)

func TestNoOpPublisher(t *testing.T) {
	var pub EventPublisher = NoOpPublisher{}
	err := pub.PublishChanged(context.Background(), NewEndpointChangedEvent("https://a/", "", ReasonReset))
	if err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
}

func TestPublisherFunc(t *testing.T) {
	var captured *EndpointChangedEvent

	var pub EventPublisher = PublisherFunc(func(_ context.Context, event *EndpointChangedEvent) error {
		captured = event
		return nil
	})

	event := NewEndpointChangedEvent("https://new.example/app/", "https://old.example/", ReasonReconfigured)
	if err := pub.PublishChanged(context.Background(), event); err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}

	if captured == nil {
		t.Fatal("events:publisher_test - expected callback to be called")
	}
	if captured.Reason != ReasonReconfigured {
		t.Errorf("events:publisher_test - Reason = %q, want %q", captured.Reason, ReasonReconfigured)
	}
	if captured.Timestamp == "" {
		t.Error("events:publisher_test - expected timestamp to be set")
	}
}

func TestEndpointChangedEvent_Host(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://apps.example.com/shell/", "apps.example.com"},
		{"http://localhost:8080", "localhost"},
		{"://bad", ""},
	}
	for _, tt := range tests {
		e := &EndpointChangedEvent{ServerURL: tt.url}
		if got := e.Host(); got != tt.want {
			t.Errorf("events:publisher_test - Host(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
