// Package docai sends a stored document to the language model with a stage
// prompt and decodes the JSON answer. Classification and extraction share it.
package docai

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/config"
	"github.com/sells-group/ledger-cli/internal/ocr"
	"github.com/sells-group/ledger-cli/internal/resilience"
	"github.com/sells-group/ledger-cli/pkg/anthropic"
)

// Content presentation modes.
const (
	ModeNative = "native"
	ModeText   = "text"
)

// maxTextBytes caps text sent inline.
const maxTextBytes = 400_000

// ErrMalformed is returned when the model answer is not the expected JSON.
var ErrMalformed = eris.New("docai: malformed model response")

// Caller presents documents to the model.
type Caller struct {
	client    anthropic.Client
	ocr       ocr.Extractor
	mode      string
	maxTokens int64
}

// New creates a Caller. extractor may be nil when mode is native; content the
// model cannot read natively then fails for non-text media.
func New(client anthropic.Client, extractor ocr.Extractor, mode string, maxTokens int64) *Caller {
	if mode == "" {
		mode = ModeNative
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Caller{client: client, ocr: extractor, mode: mode, maxTokens: maxTokens}
}

// FromConfig creates a Caller from the anthropic and ocr settings.
func FromConfig(client anthropic.Client, cfg *config.Config) (*Caller, error) {
	var extractor ocr.Extractor
	if cfg.OCR.Mode == ModeText || cfg.OCR.Provider != "" {
		ex, err := ocr.NewExtractor(cfg.OCR)
		if err != nil {
			return nil, err
		}
		extractor = ex
	}
	return New(client, extractor, cfg.OCR.Mode, cfg.Anthropic.MaxTokens), nil
}

// Request is one stage call.
type Request struct {
	Stage       string
	Model       string
	System      string
	Instruction string
	Content     []byte
	MimeType    string
}

// Call sends req and decodes the JSON answer into out. Transport failures
// that may succeed later are returned as *resilience.TransientError.
func (c *Caller) Call(ctx context.Context, req Request, out any) error {
	msg, err := c.message(ctx, req)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     req.Model,
		MaxTokens: c.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(req.System),
		Messages:  []anthropic.Message{msg},
	})
	if err != nil {
		return classifyErr(req.Stage, err)
	}
	resp.Usage.LogCost(req.Model, req.Stage)
	zap.L().Debug("docai: model call complete",
		zap.String("stage", req.Stage),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("stop_reason", resp.StopReason),
	)

	if err := anthropic.DecodeJSON(resp, out); err != nil {
		return eris.Wrapf(errors.Join(ErrMalformed, err), "docai: %s", req.Stage)
	}
	return nil
}

// message builds the user message, attaching the document natively or as text.
func (c *Caller) message(ctx context.Context, req Request) (anthropic.Message, error) {
	if c.mode == ModeNative && anthropic.SupportsMediaType(req.MimeType) {
		return anthropic.Message{
			Role:        "user",
			Content:     req.Instruction,
			Attachments: []anthropic.Attachment{{MediaType: req.MimeType, Data: req.Content}},
		}, nil
	}

	var text string
	switch {
	case ocr.IsText(req.MimeType):
		text = string(req.Content)
	case c.ocr != nil:
		t, err := c.ocr.ExtractText(ctx, req.Content, req.MimeType)
		if err != nil {
			return anthropic.Message{}, eris.Wrapf(err, "docai: %s text extraction", req.Stage)
		}
		text = t
	default:
		return anthropic.Message{}, eris.Wrapf(ocr.ErrUnsupportedMedia, "docai: %s cannot present %s", req.Stage, req.MimeType)
	}
	if len(text) > maxTextBytes {
		text = text[:maxTextBytes]
	}

	return anthropic.Message{
		Role:    "user",
		Content: req.Instruction + "\n\n<document>\n" + text + "\n</document>",
	}, nil
}

// classifyErr marks retryable API failures as transient.
func classifyErr(stage string, err error) error {
	wrapped := eris.Wrapf(err, "docai: %s", stage)
	if errors.Is(err, context.Canceled) {
		return wrapped
	}
	status := anthropic.StatusCode(err)
	switch {
	case status != 0 && resilience.IsTransientHTTPStatus(status):
		return resilience.NewTransientError(wrapped, status)
	case status == 0 && (errors.Is(err, context.DeadlineExceeded) || resilience.IsTransient(err)):
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}
