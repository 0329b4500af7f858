package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

const defaultPdfToText = "pdftotext"

// PdfToText reads the embedded text layer of a PDF with poppler's pdftotext.
// Scanned PDFs without a text layer come back empty.
type PdfToText struct {
	binPath string
}

// NewPdfToText uses the binary at binPath, or pdftotext from PATH.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = defaultPdfToText
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText streams the document through stdin and keeps the page layout,
// which holds table columns of invoices and statements together.
func (p *PdfToText) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	if mimeType != "application/pdf" {
		return "", eris.Wrapf(ErrUnsupportedMedia, "ocr: pdftotext cannot read %s", mimeType)
	}
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(data)

	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: %s exited: %s", p.binPath, strings.TrimSpace(errOut.String()))
	}
	return out.String(), nil
}
