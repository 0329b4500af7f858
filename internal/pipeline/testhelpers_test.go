package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ledger-cli/internal/docstore"
	"github.com/sells-group/ledger-cli/internal/extract"
	"github.com/sells-group/ledger-cli/internal/lease"
	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/resilience"
	"github.com/sells-group/ledger-cli/internal/store"
	"github.com/sells-group/ledger-cli/internal/validate"
)

type harness struct {
	orch       *Orchestrator
	st         *store.SQLiteStore
	classifier *mockClassifier
	extractor  *mockExtractor
	poster     *mockPoster
	publisher  *mockPublisher
}

func noSleep(context.Context, time.Duration) error { return nil }

func testConfig() Config {
	retry := resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, Sleep: noSleep}
	return Config{
		ConfidenceThreshold: 0.6,
		LeaseTTL:            time.Minute,
		ClassifyRetry:       retry,
		ExtractRetry:        retry,
		WorkerID:            "test-worker",
		Concurrency:         2,
		PollInterval:        10 * time.Millisecond,
		BatchSize:           10,
	}
}

func acme() model.CompanyContext {
	return model.CompanyContext{
		ID:           "acme",
		Name:         "Acme Ltd",
		BaseCurrency: "EUR",
		Controls:     model.DefaultControlAccounts(),
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	docs, err := docstore.NewLocal(filepath.Join(dir, "documents"))
	require.NoError(t, err)

	h := &harness{
		st:         st,
		classifier: new(mockClassifier),
		extractor:  new(mockExtractor),
		poster:     new(mockPoster),
		publisher:  new(mockPublisher),
	}
	h.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()

	h.orch = New(testConfig(), Deps{
		Store:      st,
		Docs:       docs,
		Locker:     lease.NewStoreLocker(st, "test-worker"),
		Classifier: h.classifier,
		Extractor:  h.extractor,
		Validator:  validate.New(validate.DefaultConfig()),
		Poster:     h.poster,
		Publisher:  h.publisher,
		Companies:  map[string]model.CompanyContext{"acme": acme()},
	})
	return h
}

func (h *harness) ingest(t *testing.T, content string) string {
	t.Helper()
	doc, created, err := h.orch.Ingest(context.Background(), IngestRequest{
		CompanyID: "acme",
		Filename:  "doc.pdf",
		MimeType:  "application/pdf",
		Content:   []byte(content),
	})
	require.NoError(t, err)
	require.True(t, created)
	return doc.ID
}

func (h *harness) state(t *testing.T, id string) *model.PipelineState {
	t.Helper()
	st, err := h.st.GetState(context.Background(), id)
	require.NoError(t, err)
	return st
}

func classified(dt model.DocumentType, confidence float64) *model.ClassificationResult {
	return &model.ClassificationResult{
		Type:        dt,
		Perspective: model.PerspectiveInbound,
		Confidence:  confidence,
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func today() string { return time.Now().UTC().Format(time.DateOnly) }

// billFields is a 1000 consulting bill at 15% tax.
func billFields(id string) *model.ExtractedFields {
	total := d("1150")
	return &model.ExtractedFields{
		DocumentID:     id,
		Type:           model.DocumentTypeBill,
		Perspective:    model.PerspectiveInbound,
		Counterparty:   &model.Party{Name: "Advisors Ltd"},
		DocumentNumber: "B-100",
		IssueDate:      today(),
		Currency:       "EUR",
		LineItems: []model.LineItem{
			{Description: "Consulting services", Quantity: d("1"), UnitAmount: d("1000"), TaxRate: d("0.15")},
		},
		Total:    &total,
		Presence: model.FieldPresence{Present: []string{"vendor_identity", "line_items", "total"}},
	}
}

// bankFields has one incoming line no default rule matches.
func bankFields(id string) *model.ExtractedFields {
	return &model.ExtractedFields{
		DocumentID:  id,
		Type:        model.DocumentTypeBankStatement,
		Perspective: model.PerspectiveNeutral,
		IssueDate:   today(),
		Currency:    "EUR",
		LineItems: []model.LineItem{
			{Description: "Transfer 88213", Quantity: d("1"), UnitAmount: d("250"), Direction: model.DirectionIn},
		},
	}
}

func incompleteVendor() *extract.IncompleteError {
	return &extract.IncompleteError{Type: model.DocumentTypeBill, Missing: []string{"vendor_identity"}}
}

func postedRecord(key string) *model.PostingRecord {
	return &model.PostingRecord{
		IdempotencyKey: key,
		ERPReferenceID: "501",
		AttemptCount:   1,
		Status:         model.PostingStatusPosted,
	}
}

// expectPost makes the poster succeed for any entry.
func (h *harness) expectPost() *mock.Call {
	return h.poster.On("Post", mock.Anything, mock.AnythingOfType("*model.JournalEntry"), mock.AnythingOfType("string")).
		Return(postedRecord("any"), nil)
}
