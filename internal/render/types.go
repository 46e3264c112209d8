// Package render projects a comment forest into HTML and PDF.
package render

import (
	"errors"

	"readingroom/api/internal/comments"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Request contains parameters for an export operation
type Request struct {
	Title    string
	Page     string
	Comments comments.Forest
	Format   Format
}

// View is the data handed to the comments template.
type View struct {
	Title    string
	Page     string
	Count    int
	Comments comments.Forest
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnsupportedFormat indicates an export format other than html or pdf.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// ParseFormat maps a query value to a Format. The empty string means HTML.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}
