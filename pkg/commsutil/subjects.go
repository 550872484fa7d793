package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects of the content bridge.
const (
	// SubjectInbound carries postToNative messages from content.
	SubjectInbound = "webshell.bridge.native"
	// SubjectOutbound carries handleNativeResult envelopes to content.
	SubjectOutbound = "webshell.bridge.content"
	// SubjectChangeEvent carries endpoint-changed events.
	SubjectChangeEvent = "webshell.endpoint.changed"
	// SubjectProviderPrefix prefixes the request/reply subjects of remote capability providers.
	SubjectProviderPrefix = "webshell.provider"
	// SubjectViewPrefix prefixes the request/reply subjects of a remote content view.
	SubjectViewPrefix = "webshell.view"
)

// BuildChangeSubject builds the granular change subject for one endpoint host,
// e.g. "webshell.endpoint.changed.apps_example_com".
func BuildChangeSubject(base, host string) string {
	if host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s.%s", base, sanitizeToken(host))
}

// BuildProviderSubject builds the subject a remote capability provider listens on,
// e.g. "webshell.provider.documents.present".
func BuildProviderSubject(provider, op string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectProviderPrefix, sanitizeToken(provider), sanitizeToken(op))
}

// BuildViewSubject builds the subject a remote content view listens on,
// e.g. "webshell.view.load".
func BuildViewSubject(op string) string {
	return fmt.Sprintf("%s.%s", SubjectViewPrefix, sanitizeToken(op))
}

// BuildCallbackSubject builds a per-presentation subject a remote provider reports outcomes to.
func BuildCallbackSubject(provider, id string) string {
	return fmt.Sprintf("%s.%s.outcome.%s", SubjectProviderPrefix, sanitizeToken(provider), sanitizeToken(id))
}

// sanitizeToken keeps a value inside a single subject token.
func sanitizeToken(s string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return r.Replace(s)
}
