package normalize

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/go-pdf/fpdf"

	"github.com/morezero/webshell-bridge/pkg/capability"
)

const encoderLogPrefix = "normalize:encoder"

// DefaultJPEGQuality matches the shell's compression setting (0.8).
const DefaultJPEGQuality = 80

// Encoder encodes images as PNG or JPEG and assembles page images into a PDF
// with one page per image, each sized to its image.
type Encoder struct {
	JPEGQuality int
	// Creator is written into the PDF document info.
	Creator string
}

// NewEncoder returns an Encoder with the given JPEG quality (1-100).
func NewEncoder(jpegQuality int) *Encoder {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &Encoder{JPEGQuality: jpegQuality, Creator: "webshell-bridge"}
}

// EncodeImage encodes img in format.
func (e *Encoder) EncodeImage(img image.Image, format capability.ImageFormat) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%s - nil image", encoderLogPrefix)
	}
	var buf bytes.Buffer
	var err error
	switch format {
	case capability.FormatPNG:
		err = png.Encode(&buf, img)
	case capability.FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.JPEGQuality})
	default:
		return nil, fmt.Errorf("%s - unsupported format %q", encoderLogPrefix, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - %s encoding failed: %w", encoderLogPrefix, format, err)
	}
	return buf.Bytes(), nil
}

// EncodePDF assembles pages into one PDF document.
func (e *Encoder) EncodePDF(pages []image.Image) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("%s - no pages", encoderLogPrefix)
	}

	first := pages[0].Bounds()
	pdf := fpdf.NewCustom(&fpdf.InitType{
		UnitStr: "pt",
		Size:    fpdf.SizeType{Wd: float64(first.Dx()), Ht: float64(first.Dy())},
	})
	pdf.SetCreator(e.Creator, true)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)

	opts := fpdf.ImageOptions{ImageType: "JPG"}
	for i, page := range pages {
		if page == nil {
			return nil, fmt.Errorf("%s - page %d is nil", encoderLogPrefix, i+1)
		}
		data, err := e.EncodeImage(page, capability.FormatJPEG)
		if err != nil {
			return nil, err
		}
		b := page.Bounds()
		w, h := float64(b.Dx()), float64(b.Dy())
		name := fmt.Sprintf("page-%d", i+1)

		pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
		pdf.ImageOptions(name, 0, 0, w, h, false, opts, 0, "")
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("%s - PDF assembly failed: %w", encoderLogPrefix, err)
	}
	return out.Bytes(), nil
}
