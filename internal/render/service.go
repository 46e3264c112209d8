package render

import (
	"context"
	"fmt"
)

// PDFPrinter turns rendered HTML into a PDF result.
type PDFPrinter func(ctx context.Context, html, title string) (*Result, error)

// Service renders comment exports.
type Service struct {
	printPDF PDFPrinter
}

// NewService creates an export service that prints PDFs with headless Chrome.
func NewService() *Service {
	return &Service{printPDF: ExportPDF}
}

// NewServiceWithPrinter creates an export service with a custom PDF printer.
func NewServiceWithPrinter(printer PDFPrinter) *Service {
	return &Service{printPDF: printer}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	view := NewView(req.Title, req.Page, req.Comments)
	html, err := RenderHTML(view)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case "", FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(view.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.printPDF(ctx, html, view.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
