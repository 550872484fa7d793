package capability

import (
	"context"
	"image"

	"github.com/morezero/webshell-bridge/pkg/apperr"
)

// Completion receives the terminal outcome of one presented capture UI.
// Implementations accept calls from any goroutine; only the first call counts.
type Completion interface {
	// Succeed reports a captured result.
	Succeed(Result)
	// Fail reports a provider failure.
	Fail(error)
	// Dismiss reports that the UI closed. Without a prior outcome this resolves
	// the request as cancelled by the user.
	Dismiss()
}

// DocumentScanner presents the document capture UI.
type DocumentScanner interface {
	PresentDocumentScanner(c Completion)
}

// PhotoCapturer presents the camera UI.
type PhotoCapturer interface {
	CameraAvailable() bool
	PresentCamera(facing CameraFacing, c Completion)
}

// BarcodeScanner presents the live barcode scanner UI.
type BarcodeScanner interface {
	// Supported reports whether the device and OS can scan barcodes at all.
	Supported() bool
	// PresentBarcodeScanner scans the given symbologies; empty means all.
	PresentBarcodeScanner(symbologies []Symbology, c Completion)
}

// TextRecognizer recognizes the text on one page image.
type TextRecognizer interface {
	RecognizeText(ctx context.Context, page image.Image) (string, error)
}

// Encoder turns pixel data into encoded bytes. An empty result counts as failure.
type Encoder interface {
	EncodeImage(img image.Image, format ImageFormat) ([]byte, error)
	EncodePDF(pages []image.Image) ([]byte, error)
}

// Providers bundles the capture providers one session dispatches to.
type Providers struct {
	Documents DocumentScanner
	Photos    PhotoCapturer
	Barcodes  BarcodeScanner
}

// ScannerUnavailable is the structured reason a barcode scanner stops being usable.
type ScannerUnavailable string

const (
	ScannerCameraRestricted ScannerUnavailable = "cameraRestricted"
	ScannerUnsupported      ScannerUnavailable = "unsupported"
)

// UnavailableError maps a scanner unavailability reason into the error taxonomy.
func UnavailableError(reason ScannerUnavailable, detail string) error {
	switch reason {
	case ScannerCameraRestricted:
		return apperr.PermissionDenied()
	case ScannerUnsupported:
		return apperr.InternalError("scanner is not supported on this device: " + detail)
	default:
		return apperr.InternalError("unknown scanner error: " + detail)
	}
}
