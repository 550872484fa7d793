package capability

import (
	"fmt"
	"log/slog"
	"strings"
)

const symbologyLogPrefix = "capability:symbology"

// Symbology is a barcode symbology identifier.
type Symbology string

const (
	SymbologyQR         Symbology = "qr"
	SymbologyEAN13      Symbology = "ean13"
	SymbologyEAN8       Symbology = "ean8"
	SymbologyCode128    Symbology = "code128"
	SymbologyCode39     Symbology = "code39"
	SymbologyCode93     Symbology = "code93"
	SymbologyUPCE       Symbology = "upce"
	SymbologyPDF417     Symbology = "pdf417"
	SymbologyAztec      Symbology = "aztec"
	SymbologyITF14      Symbology = "itf14"
	SymbologyDataMatrix Symbology = "datamatrix"
)

var displayNames = map[Symbology]string{
	SymbologyQR:         "QR Code",
	SymbologyEAN13:      "EAN-13",
	SymbologyEAN8:       "EAN-8",
	SymbologyCode128:    "Code 128",
	SymbologyCode39:     "Code 39",
	SymbologyCode93:     "Code 93",
	SymbologyUPCE:       "UPC-E",
	SymbologyPDF417:     "PDF417",
	SymbologyAztec:      "Aztec",
	SymbologyITF14:      "ITF-14",
	SymbologyDataMatrix: "Data Matrix",
}

// DisplayName returns the human name of a symbology, or its raw identifier when unknown.
func (s Symbology) DisplayName() string {
	if name, ok := displayNames[s]; ok {
		return name
	}
	return string(s)
}

// Supported reports whether the symbology is in the supported table.
func (s Symbology) Supported() bool {
	_, ok := displayNames[s]
	return ok
}

// ParseSymbologies maps requested names to symbologies, case-insensitively and
// without duplicates. Unknown names are dropped with a warning. An empty result
// means "scan all supported symbologies".
func ParseSymbologies(names []string) ([]Symbology, []string) {
	if len(names) == 0 {
		return nil, nil
	}

	var out []Symbology
	var dropped []string
	seen := make(map[Symbology]bool, len(names))
	for _, name := range names {
		s := Symbology(strings.ToLower(strings.TrimSpace(name)))
		if !s.Supported() {
			slog.Warn(fmt.Sprintf("%s - Unsupported or unknown barcode type requested: %s", symbologyLogPrefix, name))
			dropped = append(dropped, name)
			continue
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}

	if len(out) == 0 {
		slog.Warn(fmt.Sprintf("%s - None of the requested barcode types are supported, scanning for all", symbologyLogPrefix))
	}
	return out, dropped
}
