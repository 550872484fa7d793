// Package capability defines the actions content can request and the provider
// interfaces the native side implements for them.
package capability

import (
	"image"
	"strings"
)

// Action is the name of a native capability requested by content.
type Action string

const (
	ActionScanDocument Action = "scanDocument"
	ActionTakePhoto    Action = "takePhoto"
	ActionScanBarcode  Action = "scanBarcode"
)

// ParseAction maps a wire action name to an Action.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionScanDocument, ActionTakePhoto, ActionScanBarcode:
		return Action(s), true
	}
	return "", false
}

// Request is one accepted message from content. It is never mutated after decoding.
type Request struct {
	// ID is the correlation id echoed on the envelope when content supplied one.
	ID RequestID
	// TraceID identifies the request in logs; always set.
	TraceID string
	// Action is the raw wire value; it may be empty or unknown until dispatched.
	Action string
	Params map[string]any
}

// Bool returns a boolean parameter or def.
func (r Request) Bool(key string, def bool) bool {
	if v, ok := r.Params[key].(bool); ok {
		return v
	}
	return def
}

// String returns a string parameter or def when absent or empty.
func (r Request) String(key, def string) string {
	if v, ok := r.Params[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Strings returns a string-list parameter; non-string elements are skipped.
func (r Request) Strings(key string) []string {
	raw, ok := r.Params[key].([]any)
	if !ok {
		if ss, ok := r.Params[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ImageFormat is an encoded image format.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
)

// MimeType returns the data URL media type of the format.
func (f ImageFormat) MimeType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// CameraFacing selects the camera for photo capture.
type CameraFacing string

const (
	CameraBack  CameraFacing = "back"
	CameraFront CameraFacing = "front"
)

// DocumentParams are the parameters of a scanDocument request.
type DocumentParams struct {
	OCR bool
	// OutputPDF requests a single PDF; otherwise Format selects per-page images.
	OutputPDF bool
	Format    ImageFormat
}

// DocumentParams parses scanDocument parameters. Default output is PNG images.
func (r Request) DocumentParams() DocumentParams {
	p := DocumentParams{OCR: r.Bool("ocr", false), Format: FormatPNG}
	switch strings.ToLower(r.String("outputType", "png")) {
	case "pdf":
		p.OutputPDF = true
	case "jpeg", "jpg":
		p.Format = FormatJPEG
	}
	return p
}

// PhotoParams are the parameters of a takePhoto request.
type PhotoParams struct {
	Camera CameraFacing
	Format ImageFormat
	// Requested is the raw outputType, reported back in conversion errors.
	Requested string
}

// PhotoParams parses takePhoto parameters. Defaults are the back camera and JPEG.
func (r Request) PhotoParams() PhotoParams {
	p := PhotoParams{Camera: CameraBack, Format: FormatJPEG}
	if strings.EqualFold(r.String("camera", ""), string(CameraFront)) {
		p.Camera = CameraFront
	}
	p.Requested = r.String("outputType", "jpeg")
	if strings.EqualFold(p.Requested, "png") {
		p.Format = FormatPNG
	}
	return p
}

// BarcodeParams are the parameters of a scanBarcode request.
type BarcodeParams struct {
	// Symbologies is empty when every supported symbology should be scanned.
	Symbologies []Symbology
	// Dropped lists requested names that are not supported.
	Dropped []string
}

// BarcodeParams parses scanBarcode parameters.
func (r Request) BarcodeParams() BarcodeParams {
	syms, dropped := ParseSymbologies(r.Strings("types"))
	return BarcodeParams{Symbologies: syms, Dropped: dropped}
}

// Result is the single message type every provider reports on success.
// Only the fields of the presenting action are set.
type Result struct {
	Pages     []image.Image
	Image     image.Image
	Code      string
	Symbology Symbology
}
