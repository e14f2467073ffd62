package designcheck

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the declared type of a raw design file. The set is closed:
// every switch over Format lists all values.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatAI  Format = "ai" // Illustrator; PDF-compatible
	FormatSVG Format = "svg"
	FormatEPS Format = "eps"
	FormatCDR Format = "cdr" // CorelDRAW; no open decode path, always skipped
)

// Formats lists every supported format tag.
var Formats = []Format{FormatPDF, FormatAI, FormatSVG, FormatEPS, FormatCDR}

// ParseFormat maps a tag (case-insensitive, optional leading dot) to a Format.
func ParseFormat(tag string) (Format, error) {
	f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tag)), "."))
	switch f {
	case FormatPDF, FormatAI, FormatSVG, FormatEPS, FormatCDR:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, tag)
}

// FormatFromPath derives the Format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// MIMEType returns the conventional content type of the format.
func (f Format) MIMEType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatAI:
		return "application/illustrator"
	case FormatSVG:
		return "image/svg+xml"
	case FormatEPS:
		return "application/postscript"
	case FormatCDR:
		return "application/vnd.corel-draw"
	}
	return "application/octet-stream"
}
