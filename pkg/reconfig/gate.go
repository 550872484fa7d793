// Package reconfig validates in-band configuration payloads delivered by a
// scanned code and applies them to the persisted endpoint configuration.
package reconfig

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/webshell-bridge/pkg/apperr"
	"github.com/morezero/webshell-bridge/pkg/commsutil"
	"github.com/morezero/webshell-bridge/pkg/events"
)

const logPrefix = "reconfig:gate"

// ModeChangeConfig is the marker that identifies a reconfiguration payload.
const ModeChangeConfig = "changeConfig"

// Outcome is the result of a reconfiguration attempt.
type Outcome int

const (
	// NotConfig means the payload is an ordinary barcode.
	NotConfig Outcome = iota
	// Changed means the endpoint was replaced and a reload is due.
	Changed
)

func (o Outcome) String() string {
	if o == Changed {
		return "changed"
	}
	return "notConfig"
}

// Settings is the part of the endpoint store the gate reads and writes.
type Settings interface {
	SecurityToken(ctx context.Context) (string, error)
	SetServerURL(ctx context.Context, serverURL string, reason events.ChangeReason) error
}

// Payload is a decoded reconfiguration request.
type Payload struct {
	Mode             string `json:"mode"`
	SecurityToken    string `json:"securityToken"`
	DefaultServerURL string `json:"defaultServerUrl"`
}

// Parse reports whether raw is a reconfiguration payload. Any other shape,
// including invalid JSON, is not an error.
func Parse(raw string) (Payload, bool) {
	obj, err := commsutil.DecodeObject([]byte(raw))
	if err != nil {
		return Payload{}, false
	}
	mode, _ := obj["mode"].(string)
	token, tokenOK := obj["securityToken"].(string)
	serverURL, _ := obj["defaultServerUrl"].(string)
	if mode != ModeChangeConfig || !tokenOK || strings.TrimSpace(serverURL) == "" {
		return Payload{}, false
	}
	return Payload{Mode: mode, SecurityToken: token, DefaultServerURL: strings.TrimSpace(serverURL)}, true
}

// Gate applies token-gated endpoint changes.
type Gate struct {
	settings Settings
}

// New creates a Gate over settings.
func New(settings Settings) *Gate {
	return &Gate{settings: settings}
}

// Attempt inspects a scanned payload. A matching token persists the new
// endpoint and returns Changed; a mismatch returns InvalidConfiguration and
// changes nothing.
func (g *Gate) Attempt(ctx context.Context, raw string) (Outcome, error) {
	p, ok := Parse(raw)
	if !ok {
		return NotConfig, nil
	}

	current, err := g.settings.SecurityToken(ctx)
	if err != nil {
		return NotConfig, apperr.InternalError(fmt.Sprintf("could not read the security token: %v", err))
	}
	if !tokensEqual(p.SecurityToken, current) {
		slog.Warn(fmt.Sprintf("%s - Rejected configuration change: security token mismatch", logPrefix))
		return NotConfig, apperr.InvalidConfiguration("the security token does not match")
	}

	if err := g.settings.SetServerURL(ctx, p.DefaultServerURL, events.ReasonReconfigured); err != nil {
		return NotConfig, apperr.InternalError(fmt.Sprintf("could not store the new server URL: %v", err))
	}
	slog.Info(fmt.Sprintf("%s - Server URL changed to %s by configuration code", logPrefix, p.DefaultServerURL))
	return Changed, nil
}

// tokensEqual compares in constant time regardless of the token lengths.
func tokensEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
