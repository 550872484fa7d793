// Package remote implements the capability providers and the content view
// over COMMS, for shells whose capture UIs and webview live in another process.
package remote

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/morezero/webshell-bridge/pkg/apperr"
	"github.com/morezero/webshell-bridge/pkg/capability"
)

// Provider names used in subjects.
const (
	ProviderDocuments = "documents"
	ProviderCamera    = "camera"
	ProviderBarcodes  = "barcodes"
	ProviderOCR       = "ocr"
	ProviderHost      = "host"
)

// Outcome values reported by a remote provider.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDismissed = "dismissed"
)

// PresentRequest asks a remote provider to present its UI. The provider
// acknowledges the request, then reports exactly one OutcomeMessage to ReplyTo.
type PresentRequest struct {
	ID      string   `json:"id"`
	ReplyTo string   `json:"replyTo"`
	Camera  string   `json:"camera,omitempty"`
	Types   []string `json:"types,omitempty"`
}

// presentAck is the shell's reply to a PresentRequest. An empty reply or one
// without Error accepts the presentation.
type presentAck struct {
	Error *ErrorDetail `json:"error,omitempty"`
}

// OutcomeMessage is the terminal outcome of one presentation. Images are
// base64 PNG or JPEG, optionally as data URLs.
type OutcomeMessage struct {
	Outcome   string       `json:"outcome"`
	Pages     []string     `json:"pages,omitempty"`
	Image     string       `json:"image,omitempty"`
	Code      string       `json:"code,omitempty"`
	Symbology string       `json:"symbology,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes a provider failure.
type ErrorDetail struct {
	Kind        string `json:"kind,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Unavailable string `json:"unavailable,omitempty"`
}

// Capabilities is what the host advertises about its device.
type Capabilities struct {
	Camera          bool `json:"camera"`
	BarcodeScanner  bool `json:"barcodeScanner"`
	DocumentScanner bool `json:"documentScanner"`
}

type ocrRequest struct {
	Image string `json:"image"`
}

type ocrReply struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// ViewCommand drives the remote content view identified by View.
type ViewCommand struct {
	View        string `json:"view"`
	URL         string `json:"url,omitempty"`
	BypassCache bool   `json:"bypassCache,omitempty"`
	TimeoutMs   int64  `json:"timeoutMs,omitempty"`
}

// ViewEvent is a navigation event reported by the remote content view.
type ViewEvent struct {
	View  string `json:"view"`
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// View event types.
const (
	EventFinished = "finished"
	EventFailed   = "failed"
)

type inspectReply struct {
	Empty bool `json:"empty"`
}

func (e *ErrorDetail) toError() error {
	if e == nil {
		return apperr.InternalError("the provider failed without an error")
	}
	if e.Unavailable != "" {
		return capability.UnavailableError(capability.ScannerUnavailable(e.Unavailable), e.Detail)
	}
	switch apperr.Kind(e.Kind) {
	case apperr.KindPermissionDenied:
		return apperr.PermissionDenied()
	case apperr.KindUserCancelled:
		return apperr.UserCancelled()
	case apperr.KindFeatureNotAvailable:
		return apperr.FeatureNotAvailable(e.Detail)
	default:
		return apperr.InternalError(e.Detail)
	}
}

func decodeImage(s string) (image.Image, error) {
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("undecodable image: %w", err)
	}
	return img, nil
}

func encodeImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
