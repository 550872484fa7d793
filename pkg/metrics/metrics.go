// Package metrics exposes Prometheus metrics for the bridge and the content loader.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EnvelopesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webshell_envelopes_total",
		Help: "Envelopes delivered to content by action and outcome (success or error kind)",
	}, []string{"action", "outcome"})

	BridgeFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webshell_bridge_fallback_total",
		Help: "Envelopes replaced by the fallback error envelope after a serialization failure",
	})

	BridgeSendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webshell_bridge_send_failures_total",
		Help: "Envelopes the transport failed to hand to content",
	})

	InboundRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webshell_inbound_rejected_total",
		Help: "Inbound content messages rejected before dispatch by reason",
	}, []string{"reason"})

	LoadAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webshell_load_attempts_total",
		Help: "Content load attempts by result (started, failed, succeeded, blank)",
	}, []string{"result"})

	EndpointSwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webshell_endpoint_switches_total",
		Help: "Endpoint switches by reason",
	}, []string{"reason"})

	ContentLoading = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webshell_content_loading",
		Help: "1 while the content view shows the loading indicator",
	})

	RequestInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webshell_request_in_flight",
		Help: "1 while a capability request occupies the dispatcher slot",
	})
)

// RecordEnvelope counts a delivered envelope. An empty errKind means success.
func RecordEnvelope(action, errKind string) {
	if action == "" {
		action = "unknown"
	}
	outcome := "success"
	if errKind != "" {
		outcome = errKind
	}
	EnvelopesTotal.WithLabelValues(action, outcome).Inc()
}

// IncInboundRejected counts an inbound message rejected by the bridge.
func IncInboundRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	InboundRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordLoadAttempt counts a load attempt transition.
func RecordLoadAttempt(result string) {
	LoadAttemptsTotal.WithLabelValues(result).Inc()
}

// IncEndpointSwitch counts an endpoint switch.
func IncEndpointSwitch(reason string) {
	EndpointSwitchesTotal.WithLabelValues(reason).Inc()
}

// SetLoading mirrors the loading indicator.
func SetLoading(loading bool) {
	ContentLoading.Set(boolToFloat(loading))
}

// SetInFlight mirrors the dispatcher slot.
func SetInFlight(inFlight bool) {
	RequestInFlight.Set(boolToFloat(inFlight))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
