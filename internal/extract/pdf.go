// Package extract turns uploaded document bytes into plain text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"pdfrag/internal/domain"
	"pdfrag/internal/logger"
)

// PDF extracts the text layer of a PDF, page by page, in page order.
// Pages without extractable text contribute nothing.
type PDF struct{}

// NewPDF returns a PDF extractor.
func NewPDF() *PDF { return &PDF{} }

// Extract returns the concatenated text of every page, pages separated by a newline.
func (PDF) Extract(ctx context.Context, data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", domain.ErrExtraction)
	}
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: malformed pdf: %v", domain.ErrExtraction, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}

	pages := r.NumPage()
	logger.Debug("extract: pdf has %d pages", pages)
	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		s, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", domain.ErrExtraction, i, err)
		}
		if strings.TrimSpace(s) == "" {
			logger.Debug("extract: page %d has no text layer", i)
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n"), nil
}
