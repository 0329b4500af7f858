// Package ocr turns document bytes into plain text for text-mode
// classification and extraction.
package ocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ledger-cli/internal/config"
)

// Extractor extracts text content from document bytes.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// ErrUnsupportedMedia is returned for content an extractor cannot read.
var ErrUnsupportedMedia = eris.New("ocr: unsupported media type")

// NewExtractor creates an Extractor based on config. Text-like content is
// passed through unchanged regardless of provider.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	var inner Extractor
	switch cfg.Provider {
	case "local", "":
		inner = NewPdfToText(cfg.PdfToTextPath)
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		inner = NewMistralOCR(cfg.MistralKey, cfg.MistralModel)
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
	return &passthrough{next: inner}, nil
}

// IsText reports whether content of this type is already plain text.
func IsText(mimeType string) bool {
	mt, _, _ := strings.Cut(mimeType, ";")
	mt = strings.TrimSpace(mt)
	return strings.HasPrefix(mt, "text/") || mt == "application/json" || mt == "application/xml"
}

type passthrough struct {
	next Extractor
}

func (p *passthrough) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	if IsText(mimeType) {
		return string(data), nil
	}
	return p.next.ExtractText(ctx, data, mimeType)
}
