// Package classify determines a document's type and whose side of the
// transaction the operating company is on.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/docai"
	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/resilience"
)

// ErrUnavailable means the scoring service could not be reached. It is
// transient and distinct from a document classified as unknown.
var ErrUnavailable = eris.New("classify: classification service unavailable")

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return ErrUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Unwrap() []error {
	var te *resilience.TransientError
	if errors.As(e.cause, &te) {
		return []error{ErrUnavailable, te}
	}
	return []error{ErrUnavailable, resilience.NewTransientError(e.cause, 0)}
}

// ErrorCode implements model.Coded.
func (e *unavailableError) ErrorCode() model.ErrorCode { return model.ErrCodeClassificationUnavailable }

// Classifier assigns a DocumentType and Perspective to raw documents.
type Classifier struct {
	caller *docai.Caller
	model  string
	now    func() time.Time
}

// New creates a Classifier using the given model id.
func New(caller *docai.Caller, modelID string) *Classifier {
	return &Classifier{caller: caller, model: modelID, now: time.Now}
}

type response struct {
	DocumentType string  `json:"document_type"`
	Issuer       string  `json:"issuer"`
	Recipient    string  `json:"recipient"`
	CompanyRole  string  `json:"company_role"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

// Classify scores one document for the given company. A malformed answer is
// classified as unknown with zero confidence; an unreachable service returns
// an error matching ErrUnavailable.
func (c *Classifier) Classify(ctx context.Context, company model.CompanyContext, documentID string, content []byte, mimeType string) (*model.ClassificationResult, error) {
	log := zap.L().With(zap.String("document_id", documentID), zap.String("company_id", company.ID))

	var resp response
	err := c.caller.Call(ctx, docai.Request{
		Stage:       string(model.StageClassify),
		Model:       c.model,
		System:      systemPrompt,
		Instruction: instruction(company),
		Content:     content,
		MimeType:    mimeType,
	}, &resp)

	switch {
	case err == nil:
	case errors.Is(err, docai.ErrMalformed):
		log.Warn("classify: malformed model response", zap.Error(err))
		return &model.ClassificationResult{
			DocumentID:   documentID,
			Type:         model.DocumentTypeUnknown,
			Perspective:  model.PerspectiveNeutral,
			Reason:       "model response could not be parsed",
			ClassifiedAt: c.now(),
		}, nil
	case resilience.IsTransient(err):
		return nil, &unavailableError{cause: err}
	default:
		return nil, eris.Wrap(err, "classify: classify document")
	}

	result := Normalize(resp, documentID)
	result.ClassifiedAt = c.now()
	log.Debug("classify: document classified",
		zap.String("type", string(result.Type)),
		zap.String("perspective", string(result.Perspective)),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}

// Normalize maps the raw model answer onto the closed type and perspective
// sets. An invoice addressed to the company is a bill and a bill issued by
// it is an invoice.
func Normalize(r response, documentID string) *model.ClassificationResult {
	dt := model.ParseDocumentType(strings.ToLower(strings.TrimSpace(r.DocumentType)))

	var p model.Perspective
	switch strings.ToLower(strings.TrimSpace(r.CompanyRole)) {
	case "issuer":
		p = model.PerspectiveOutbound
	case "recipient":
		p = model.PerspectiveInbound
	default:
		p = model.PerspectiveNeutral
	}

	switch {
	case dt == model.DocumentTypeInvoice && p == model.PerspectiveInbound:
		dt = model.DocumentTypeBill
	case dt == model.DocumentTypeBill && p == model.PerspectiveOutbound:
		dt = model.DocumentTypeInvoice
	case dt == model.DocumentTypeBill:
		p = model.PerspectiveInbound
	case dt == model.DocumentTypeInvoice:
		p = model.PerspectiveOutbound
	case dt == model.DocumentTypeBankStatement, dt == model.DocumentTypePayroll,
		dt == model.DocumentTypeOnboarding, dt == model.DocumentTypeUnknown:
		p = model.PerspectiveNeutral
	}

	counterparty := ""
	switch p {
	case model.PerspectiveOutbound:
		counterparty = r.Recipient
	case model.PerspectiveInbound:
		counterparty = r.Issuer
	}

	conf := r.Confidence
	if conf > 1 && conf <= 100 {
		conf /= 100
	}
	conf = min(max(conf, 0), 1)

	return &model.ClassificationResult{
		DocumentID:       documentID,
		Type:             dt,
		Perspective:      p,
		Confidence:       conf,
		CounterpartyName: strings.TrimSpace(counterparty),
		Reason:           r.Reason,
	}
}

func instruction(company model.CompanyContext) string {
	name := company.Name
	if name == "" {
		name = company.ID
	}
	return fmt.Sprintf("The operating company is %q. Classify the attached document and reply with the JSON object only.", name)
}

const systemPrompt = `You classify financial documents for a bookkeeping pipeline.

Document types:
- bill: a supplier invoice or bill the company must pay
- invoice: a sales invoice the company issued to a customer
- payroll: a payroll report or payslip summary for a period
- bank_statement: a bank account statement listing transactions
- share_transaction: share allotment, subscription or transfer documents
- onboarding: company registration or incorporation documents
- unknown: anything else

Decide whether the operating company issued the document (company_role "issuer"),
received it (company_role "recipient"), or neither ("none").

Reply with JSON:
{"document_type": "...", "issuer": "...", "recipient": "...", "company_role": "issuer|recipient|none",
 "confidence": 0.0-1.0, "reason": "one sentence"}`
