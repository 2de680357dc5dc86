package extract

import (
	"context"
	"fmt"
	"unicode/utf8"

	"pdfrag/internal/domain"
)

// Text accepts UTF-8 plain text documents as-is.
type Text struct{}

// NewText returns a plain text extractor.
func NewText() *Text { return &Text{} }

// Extract validates the bytes as UTF-8 and returns them as a string.
func (Text) Extract(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", domain.ErrExtraction)
	}
	return string(data), nil
}
