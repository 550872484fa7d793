// Package apperr defines the closed error taxonomy reported to the content surface.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies one member of the error taxonomy.
type Kind string

const (
	KindUserCancelled            Kind = "USER_CANCELLED"
	KindFeatureNotAvailable      Kind = "FEATURE_NOT_AVAILABLE"
	KindPermissionDenied         Kind = "PERMISSION_DENIED"
	KindInternalError            Kind = "INTERNAL_ERROR"
	KindPdfCreationFailed        Kind = "PDF_CREATION_FAILED"
	KindOcrFailed                Kind = "OCR_FAILED"
	KindImageConversionFailed    Kind = "IMAGE_CONVERSION_FAILED"
	KindInvalidRequest           Kind = "INVALID_REQUEST"
	KindBridgeCommunicationError Kind = "BRIDGE_COMMUNICATION_ERROR"
	KindInvalidConfiguration     Kind = "INVALID_CONFIGURATION"
)

// Error is a structured error from the native side. Only Error() ever reaches content.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUserCancelled:
		return "Action cancelled by the user."
	case KindFeatureNotAvailable:
		return fmt.Sprintf("%s is not available on this device or under the current conditions.", e.Detail)
	case KindPermissionDenied:
		return "Camera access was denied. Please allow it in the settings."
	case KindInternalError:
		return fmt.Sprintf("An internal error occurred: %s", e.Detail)
	case KindPdfCreationFailed:
		return "The PDF document could not be created."
	case KindOcrFailed:
		if e.Detail != "" {
			return fmt.Sprintf("Text recognition (OCR) failed. Error: %s", e.Detail)
		}
		return "Text recognition (OCR) failed."
	case KindImageConversionFailed:
		return fmt.Sprintf("Image could not be converted: %s", e.Detail)
	case KindInvalidRequest:
		return fmt.Sprintf("Invalid request from content: %s", e.Detail)
	case KindBridgeCommunicationError:
		return fmt.Sprintf("Error communicating with the content surface: %s", e.Detail)
	case KindInvalidConfiguration:
		return fmt.Sprintf("Invalid configuration: %s", e.Detail)
	default:
		return string(e.Kind) + ": " + e.Detail
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func UserCancelled() *Error {
	return &Error{Kind: KindUserCancelled}
}

// FeatureNotAvailable names the missing feature, e.g. "camera" or "barcodeScanner".
func FeatureNotAvailable(feature string) *Error {
	return &Error{Kind: KindFeatureNotAvailable, Detail: feature}
}

func PermissionDenied() *Error {
	return &Error{Kind: KindPermissionDenied}
}

func InternalError(detail string) *Error {
	return &Error{Kind: KindInternalError, Detail: detail}
}

func PdfCreationFailed() *Error {
	return &Error{Kind: KindPdfCreationFailed}
}

// OcrFailed wraps the first recognition failure; cause may be nil.
func OcrFailed(cause error) *Error {
	e := &Error{Kind: KindOcrFailed, Cause: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

func ImageConversionFailed(detail string) *Error {
	return &Error{Kind: KindImageConversionFailed, Detail: detail}
}

func InvalidRequest(detail string) *Error {
	return &Error{Kind: KindInvalidRequest, Detail: detail}
}

func BridgeCommunicationError(detail string) *Error {
	return &Error{Kind: KindBridgeCommunicationError, Detail: detail}
}

func InvalidConfiguration(detail string) *Error {
	return &Error{Kind: KindInvalidConfiguration, Detail: detail}
}

// As normalizes any error into the taxonomy. Errors outside it become InternalError.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindInternalError, Detail: err.Error(), Cause: err}
}

// Is reports whether err belongs to the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
