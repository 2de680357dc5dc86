package extract

import (
	"bytes"
	"context"
)

var pdfMagic = []byte("%PDF-")

// Auto picks the PDF extractor for data carrying the PDF header and treats
// everything else as plain text.
type Auto struct {
	pdf  *PDF
	text *Text
}

// NewAuto returns an extractor that dispatches on the content type.
func NewAuto() *Auto {
	return &Auto{pdf: NewPDF(), text: NewText()}
}

// IsPDF reports whether data starts with the PDF header, ignoring leading whitespace.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), pdfMagic)
}

// Extract implements domain.Extractor.
func (a *Auto) Extract(ctx context.Context, data []byte) (string, error) {
	if IsPDF(data) {
		return a.pdf.Extract(ctx, data)
	}
	return a.text.Extract(ctx, data)
}
