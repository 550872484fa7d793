// Package normalize turns raw capability outcomes into envelope fields and
// maps their failures into the error taxonomy.
package normalize

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/morezero/webshell-bridge/pkg/apperr"
	"github.com/morezero/webshell-bridge/pkg/capability"
)

const logPrefix = "normalize:normalize"

// Normalizer builds success fields for each action.
type Normalizer struct {
	ocr capability.TextRecognizer
	enc capability.Encoder
}

// New creates a Normalizer. ocr may be nil when text recognition is unavailable.
func New(ocr capability.TextRecognizer, enc capability.Encoder) *Normalizer {
	return &Normalizer{ocr: ocr, enc: enc}
}

// Document normalizes a document scan. Text recognition and file conversion
// run concurrently; an OCR failure fails the whole result.
func (n *Normalizer) Document(ctx context.Context, pages []image.Image, p capability.DocumentParams) (map[string]any, error) {
	if len(pages) == 0 {
		return nil, apperr.InternalError("the document scanner returned no pages")
	}

	var (
		wg      sync.WaitGroup
		text    string
		ocrErr  error
		fields  map[string]any
		convErr error
	)

	if p.OCR {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, ocrErr = n.recognize(ctx, pages)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		fields, convErr = n.convertPages(pages, p)
	}()

	wg.Wait()

	if ocrErr != nil {
		return nil, ocrErr
	}
	if convErr != nil {
		return nil, convErr
	}

	fields["pages"] = len(pages)
	if text != "" {
		fields["text"] = text
	}
	return fields, nil
}

// recognize runs OCR on every page concurrently and waits for all of them.
// Pages do not cancel each other; the first failure is reported.
func (n *Normalizer) recognize(ctx context.Context, pages []image.Image) (string, error) {
	if n.ocr == nil {
		return "", apperr.OcrFailed(fmt.Errorf("no text recognizer is configured"))
	}

	texts := make([]string, len(pages))
	var g errgroup.Group
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			t, err := n.ocr.RecognizeText(ctx, page)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			texts[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn(fmt.Sprintf("%s - text recognition failed: %v", logPrefix, err))
		return "", apperr.OcrFailed(err)
	}
	return joinPages(texts), nil
}

// joinPages concatenates page texts in order; multi-page documents get a header per page.
func joinPages(texts []string) string {
	if len(texts) == 1 {
		return texts[0]
	}
	parts := make([]string, len(texts))
	for i, t := range texts {
		parts[i] = fmt.Sprintf("--- Page %d ---\n%s", i+1, t)
	}
	return strings.Join(parts, "\n\n")
}

func (n *Normalizer) convertPages(pages []image.Image, p capability.DocumentParams) (map[string]any, error) {
	if p.OutputPDF {
		data, err := n.enc.EncodePDF(pages)
		if err != nil || len(data) == 0 {
			slog.Error(fmt.Sprintf("%s - PDF assembly failed: %v", logPrefix, err))
			return nil, apperr.PdfCreationFailed()
		}
		return map[string]any{
			"pdfData": DataURL("application/pdf", data),
			"format":  "pdf",
		}, nil
	}

	images := make([]string, 0, len(pages))
	for i, page := range pages {
		data, err := n.enc.EncodeImage(page, p.Format)
		if err != nil || len(data) == 0 {
			slog.Warn(fmt.Sprintf("%s - page %d could not be converted to %s: %v", logPrefix, i+1, p.Format, err))
			continue
		}
		images = append(images, DataURL(p.Format.MimeType(), data))
	}
	if len(images) == 0 {
		return nil, apperr.ImageConversionFailed(fmt.Sprintf("no page could be converted to %s", p.Format))
	}
	return map[string]any{
		"images": images,
		"format": string(p.Format),
	}, nil
}

// Photo normalizes a captured photo.
func (n *Normalizer) Photo(img image.Image, p capability.PhotoParams) (map[string]any, error) {
	if img == nil {
		return nil, apperr.InternalError("the camera returned no image")
	}
	data, err := n.enc.EncodeImage(img, p.Format)
	if err != nil || len(data) == 0 {
		slog.Error(fmt.Sprintf("%s - photo conversion to %s failed: %v", logPrefix, p.Requested, err))
		return nil, apperr.ImageConversionFailed(p.Requested)
	}
	return map[string]any{
		"imageData": DataURL(p.Format.MimeType(), data),
		"format":    string(p.Format),
	}, nil
}

// Barcode normalizes an ordinary decoded barcode.
func Barcode(code string, symbology capability.Symbology) map[string]any {
	return map[string]any{
		"code":   code,
		"format": symbology.DisplayName(),
	}
}

// ConfigChanged is the distinguished result reported instead of the scanned
// text after a successful reconfiguration.
func ConfigChanged() map[string]any {
	return map[string]any{
		"code":          "configChanged",
		"format":        "JSONConfig",
		"configChanged": true,
	}
}

// DataURL renders bytes as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
