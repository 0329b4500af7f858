package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ledger-cli/internal/docai"
	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/resilience"
	"github.com/sells-group/ledger-cli/pkg/anthropic"
	anthropicmocks "github.com/sells-group/ledger-cli/pkg/anthropic/mocks"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestClassifier(t *testing.T) (*Classifier, *anthropicmocks.MockClient) {
	client := anthropicmocks.NewMockClient(t)
	c := New(docai.New(client, nil, docai.ModeNative, 512), "claude-haiku-4-5-20251001")
	c.now = func() time.Time { return fixedNow }
	return c, client
}

func reply(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: text}}}
}

var acme = model.CompanyContext{ID: "acme", Name: "Acme Holdings Ltd"}

func TestClassify_Bill(t *testing.T) {
	c, client := newTestClassifier(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			assert.Contains(t, req.Messages[0].Content, `"Acme Holdings Ltd"`)
	})).Return(reply(`{"document_type":"bill","issuer":"Power Co","recipient":"Acme Holdings Ltd",
		"company_role":"recipient","confidence":0.93,"reason":"electricity bill"}`), nil)

	got, err := c.Classify(context.Background(), acme, "doc-1", []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentTypeBill, got.Type)
	assert.Equal(t, model.PerspectiveInbound, got.Perspective)
	assert.Equal(t, "Power Co", got.CounterpartyName)
	assert.InDelta(t, 0.93, got.Confidence, 1e-9)
	assert.Equal(t, "doc-1", got.DocumentID)
	assert.Equal(t, fixedNow, got.ClassifiedAt)
	assert.False(t, got.Manual)
}

func TestClassify_MalformedIsUnknown(t *testing.T) {
	c, client := newTestClassifier(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(reply("Sorry, I can't tell."), nil)

	got, err := c.Classify(context.Background(), acme, "doc-1", []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentTypeUnknown, got.Type)
	assert.Zero(t, got.Confidence)
}

func TestClassify_Unavailable(t *testing.T) {
	for _, cause := range []error{context.DeadlineExceeded, errors.New("dial tcp 1.2.3.4:443: i/o timeout")} {
		c, client := newTestClassifier(t)
		client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, cause)

		_, err := c.Classify(context.Background(), acme, "doc-1", []byte("%PDF"), "application/pdf")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.True(t, resilience.IsTransient(err))
		assert.Equal(t, model.ErrCodeClassificationUnavailable, model.CodeOf(err))
	}
}

func TestClassify_PermanentAPIError(t *testing.T) {
	c, client := newTestClassifier(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("invalid x-api-key"))

	_, err := c.Classify(context.Background(), acme, "doc-1", []byte("%PDF"), "application/pdf")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.False(t, resilience.IsTransient(err))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		in          response
		wantType    model.DocumentType
		wantPersp   model.Perspective
		wantCounter string
		wantConf    float64
	}{
		{"invoice addressed to company is a bill",
			response{DocumentType: "Invoice", Issuer: "Law LLC", Recipient: "Acme", CompanyRole: "recipient", Confidence: 0.8},
			model.DocumentTypeBill, model.PerspectiveInbound, "Law LLC", 0.8},
		{"bill issued by company is an invoice",
			response{DocumentType: "bill", Issuer: "Acme", Recipient: "Client SA", CompanyRole: "issuer", Confidence: 0.7},
			model.DocumentTypeInvoice, model.PerspectiveOutbound, "Client SA", 0.7},
		{"sales invoice alias",
			response{DocumentType: "sales_invoice", CompanyRole: "issuer", Recipient: "Client SA", Confidence: 0.9},
			model.DocumentTypeInvoice, model.PerspectiveOutbound, "Client SA", 0.9},
		{"bank statement is neutral",
			response{DocumentType: "bank_statement", CompanyRole: "recipient", Issuer: "Bank", Confidence: 0.99},
			model.DocumentTypeBankStatement, model.PerspectiveNeutral, "", 0.99},
		{"percent confidence",
			response{DocumentType: "payroll", Confidence: 85},
			model.DocumentTypePayroll, model.PerspectiveNeutral, "", 0.85},
		{"clamped confidence",
			response{DocumentType: "memo", Confidence: -3},
			model.DocumentTypeUnknown, model.PerspectiveNeutral, "", 0},
		{"bill without role defaults inbound",
			response{DocumentType: "bill", Issuer: "Vendor", Confidence: 0.5},
			model.DocumentTypeBill, model.PerspectiveInbound, "Vendor", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in, "doc")
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantPersp, got.Perspective)
			assert.Equal(t, tt.wantCounter, got.CounterpartyName)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
		})
	}
}
