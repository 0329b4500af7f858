// Package extract pulls type-specific structured fields out of classified
// documents. Each document type has its own strategy with a prompt and a
// list of mandatory fields.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/docai"
	"github.com/sells-group/ledger-cli/internal/model"
)

// ErrUnsupportedType is returned for document types without a strategy.
var ErrUnsupportedType = eris.New("extract: unsupported document type")

// IncompleteError lists mandatory fields the extraction could not find. The
// partial fields are returned alongside it.
type IncompleteError struct {
	Type    model.DocumentType
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("extract: %s is missing mandatory fields: %s", e.Type, strings.Join(e.Missing, ", "))
}

// ErrorCode implements model.Coded.
func (e *IncompleteError) ErrorCode() model.ErrorCode { return model.ErrCodeExtractionIncomplete }

// Violations renders the missing fields for the pipeline state.
func (e *IncompleteError) Violations() []model.Violation {
	out := make([]model.Violation, len(e.Missing))
	for i, f := range e.Missing {
		out[i] = model.Violation{Field: f, Rule: "required", Message: f + " was not found on the document"}
	}
	return out
}

// Extractor runs the strategy registered for a document type.
type Extractor struct {
	caller     *docai.Caller
	model      string
	strategies map[model.DocumentType]strategy
}

// New creates an Extractor with the built-in strategies.
func New(caller *docai.Caller, modelID string) *Extractor {
	return &Extractor{caller: caller, model: modelID, strategies: defaultStrategies()}
}

// Supports reports whether a strategy exists for dt.
func (e *Extractor) Supports(dt model.DocumentType) bool {
	_, ok := e.strategies[dt]
	return ok
}

// Extract returns the fields of one document. When mandatory fields are
// missing it returns both the partial fields and an *IncompleteError.
func (e *Extractor) Extract(ctx context.Context, company model.CompanyContext, documentID string, content []byte, mimeType string, dt model.DocumentType, perspective model.Perspective) (*model.ExtractedFields, error) {
	s, ok := e.strategies[dt]
	if !ok {
		return nil, eris.Wrapf(ErrUnsupportedType, "extract: %q", dt)
	}

	var raw rawFields
	err := e.caller.Call(ctx, docai.Request{
		Stage:       string(model.StageExtract),
		Model:       e.model,
		System:      baseSystemPrompt + "\n\n" + s.prompt,
		Instruction: instruction(company, perspective),
		Content:     content,
		MimeType:    mimeType,
	}, &raw)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: %s", dt)
	}

	fields := raw.toFields(documentID, dt, perspective)
	fields.Presence = s.presence(&raw, fields)

	if !fields.Presence.Complete() {
		zap.L().Info("extract: mandatory fields missing",
			zap.String("document_id", documentID),
			zap.String("type", string(dt)),
			zap.Strings("missing", fields.Presence.Missing),
		)
		return fields, &IncompleteError{Type: dt, Missing: fields.Presence.Missing}
	}
	return fields, nil
}

func instruction(company model.CompanyContext, p model.Perspective) string {
	name := company.Name
	if name == "" {
		name = company.ID
	}
	role := "is neither issuer nor recipient"
	switch p {
	case model.PerspectiveInbound:
		role = "received this document; the counterparty is the issuer"
	case model.PerspectiveOutbound:
		role = "issued this document; the counterparty is the recipient"
	}
	cur := ""
	if company.BaseCurrency != "" {
		cur = fmt.Sprintf(" Its base currency is %s.", company.BaseCurrency)
	}
	return fmt.Sprintf("The operating company is %q and %s.%s Extract the fields and reply with the JSON object only.", name, role, cur)
}
