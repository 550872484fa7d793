package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

const apperrTestPrefix = "apperr:apperr_test"

func TestError_Messages(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"cancelled", UserCancelled(), "cancelled by the user"},
		{"feature", FeatureNotAvailable("camera"), "camera is not available"},
		{"permission", PermissionDenied(), "access was denied"},
		{"internal", InternalError("boom"), "internal error occurred: boom"},
		{"pdf", PdfCreationFailed(), "PDF document could not be created"},
		{"ocr without cause", OcrFailed(nil), "Text recognition (OCR) failed."},
		{"ocr with cause", OcrFailed(errors.New("page 2 unreadable")), "page 2 unreadable"},
		{"image", ImageConversionFailed("jpeg"), "could not be converted: jpeg"},
		{"invalid request", InvalidRequest("missing action"), "missing action"},
		{"bridge", BridgeCommunicationError("not json"), "not json"},
		{"config", InvalidConfiguration("security token mismatch"), "security token mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if !strings.Contains(got, tt.want) {
				t.Errorf("%s - Error() = %q, want it to contain %q", apperrTestPrefix, got, tt.want)
			}
		})
	}
}

func TestAs_WrapsForeignErrors(t *testing.T) {
	got := As(errors.New("disk full"))
	if got.Kind != KindInternalError {
		t.Errorf("%s - Kind = %s, want %s", apperrTestPrefix, got.Kind, KindInternalError)
	}
	if got.Detail != "disk full" {
		t.Errorf("%s - Detail = %q, want %q", apperrTestPrefix, got.Detail, "disk full")
	}
}

func TestAs_KeepsTaxonomyErrors(t *testing.T) {
	wrapped := fmt.Errorf("scanner: %w", PermissionDenied())
	got := As(wrapped)
	if got.Kind != KindPermissionDenied {
		t.Errorf("%s - Kind = %s, want %s", apperrTestPrefix, got.Kind, KindPermissionDenied)
	}
	if As(nil) != nil {
		t.Errorf("%s - As(nil) should be nil", apperrTestPrefix)
	}
}

func TestIs(t *testing.T) {
	if !Is(UserCancelled(), KindUserCancelled) {
		t.Errorf("%s - expected UserCancelled to match its kind", apperrTestPrefix)
	}
	if Is(errors.New("x"), KindInternalError) {
		t.Errorf("%s - plain errors must not match any kind", apperrTestPrefix)
	}
}
