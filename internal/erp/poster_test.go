package erp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ledger-cli/internal/config"
	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/resilience"
	"github.com/sells-group/ledger-cli/pkg/odoo"
)

// fakeOdoo implements odoo.Client in memory.
type fakeOdoo struct {
	mu              sync.Mutex
	moveSearchErrs  []error
	existing        []odoo.Record
	accounts        map[string]int64
	partnerIDs      map[string]int64
	taxes           map[string]int64
	currencies      map[string]int64
	rates           map[int64]float64
	createErr       error
	created         []map[string]any
	partners        []string
	partnerVals     []map[string]any
	partnerSearches []string
	moveDomain      []any
	posted          []int64
	searches        int
}

func newFakeOdoo() *fakeOdoo {
	return &fakeOdoo{
		accounts:   map[string]int64{"7602": 11, "2202": 12, "2100": 13, "8000": 14},
		partnerIDs: map[string]int64{},
		taxes:      map[string]int64{"purchase:15": 31, "sale:19": 32},
		currencies: map[string]int64{"EUR": 1, "USD": 2},
		rates:      map[int64]float64{},
	}
}

func (f *fakeOdoo) Authenticate(context.Context) (int64, error) { return 2, nil }

func (f *fakeOdoo) Search(_ context.Context, model string, domain []any, _ *odoo.Options) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch model {
	case "account.journal":
		return []int64{7}, nil
	case "res.partner":
		term := domain[0].([]any)
		field, value := term[0].(string), term[2].(string)
		f.partnerSearches = append(f.partnerSearches, field)
		if id, ok := f.partnerIDs[field+":"+value]; ok {
			return []int64{id}, nil
		}
		return nil, nil
	case "account.tax":
		use := domain[0].([]any)[2].(string)
		pct := domain[2].([]any)[2].(float64)
		if id, ok := f.taxes[fmt.Sprintf("%s:%g", use, pct)]; ok {
			return []int64{id}, nil
		}
		return nil, nil
	case "res.currency":
		if id, ok := f.currencies[domain[0].([]any)[2].(string)]; ok {
			return []int64{id}, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func (f *fakeOdoo) Read(context.Context, string, []int64, []string) ([]odoo.Record, error) {
	return nil, nil
}

func (f *fakeOdoo) SearchRead(_ context.Context, model string, domain []any, _ []string, _ *odoo.Options) ([]odoo.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch model {
	case "account.move":
		f.searches++
		f.moveDomain = domain
		if len(f.moveSearchErrs) > 0 {
			err := f.moveSearchErrs[0]
			f.moveSearchErrs = f.moveSearchErrs[1:]
			return nil, err
		}
		return f.existing, nil
	case "account.account":
		codes := domain[0].([]any)[2].([]string)
		var out []odoo.Record
		for _, c := range codes {
			if id, ok := f.accounts[c]; ok {
				out = append(out, odoo.Record{"id": id, "code": c})
			}
		}
		return out, nil
	case "res.currency.rate":
		id := domain[0].([]any)[2].(int64)
		if r, ok := f.rates[id]; ok {
			return []odoo.Record{{"name": "2026-02-01", "rate": r}}, nil
		}
		return nil, nil
	}
	return nil, nil
}

func (f *fakeOdoo) Create(_ context.Context, model string, values map[string]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch model {
	case "res.partner":
		f.partners = append(f.partners, values["name"].(string))
		f.partnerVals = append(f.partnerVals, values)
		return 55, nil
	case "account.move":
		if f.createErr != nil {
			return 0, f.createErr
		}
		f.created = append(f.created, values)
		return 100 + int64(len(f.created)), nil
	}
	return 0, errors.New("unexpected model " + model)
}

func (f *fakeOdoo) Write(context.Context, string, []int64, map[string]any) error { return nil }

func (f *fakeOdoo) Unlink(context.Context, string, []int64) error { return nil }

func (f *fakeOdoo) Execute(_ context.Context, model, method string, args []any, _ map[string]any, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if model == "account.move" && method == "action_post" {
		f.posted = append(f.posted, args[0].([]int64)...)
	}
	return nil
}

// memStore implements PostingStore in memory.
type memStore struct {
	mu    sync.Mutex
	recs  map[string]model.PostingRecord
	saves int
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]model.PostingRecord)}
}

func (m *memStore) GetPosting(_ context.Context, key string) (*model.PostingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memStore) SavePosting(_ context.Context, rec *model.PostingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.recs[rec.IdempotencyKey] = *rec
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func billEntry() *model.JournalEntry {
	return &model.JournalEntry{
		ID:          "entry-1",
		DocumentID:  "doc-1",
		CompanyID:   "acme",
		Sequence:    1,
		Currency:    "EUR",
		Period:      "2026-02",
		Date:        time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		Reference:   "INV-881",
		Partner:     &model.Party{Name: "Smith & Co"},
		Lines: []model.JournalLine{
			{AccountCode: "7602", Description: "Legal services", Debit: d("1000"), Credit: decimal.Zero},
			{AccountCode: "2202", Description: "Input VAT", Debit: d("150"), Credit: decimal.Zero},
			{AccountCode: "2100", Description: "Payable", Debit: decimal.Zero, Credit: d("1150")},
		},
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestPoster(f *fakeOdoo, st *memStore) *Poster {
	return NewPoster(st, map[string]Company{"acme": {Client: f, ERPCompanyID: 1, BaseCurrency: "EUR"}},
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, Sleep: noSleep}),
		WithBreakers(resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 10})),
	)
}

func TestPost_CreatesAndPostsMove(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	p := newTestPoster(f, st)

	rec, err := p.Post(context.Background(), billEntry(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, model.PostingStatusPosted, rec.Status)
	assert.Equal(t, "101", rec.ERPReferenceID)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Empty(t, rec.LastError)
	assert.Equal(t, "entry-1", rec.JournalEntryID)
	assert.Equal(t, "doc-1", rec.DocumentID)

	require.Len(t, f.created, 1)
	move := f.created[0]
	assert.Equal(t, "entry", move["move_type"])
	assert.Equal(t, "INV-881 [key-1]", move["ref"])
	assert.Equal(t, "2026-02-10", move["date"])
	assert.Equal(t, int64(7), move["journal_id"])
	assert.Equal(t, int64(1), move["company_id"])
	assert.Equal(t, int64(55), move["partner_id"])
	assert.NotContains(t, move, "currency_id", "base-currency entries need no conversion")
	assert.Equal(t, []any{[]any{"ref", "like", "key-1"}}, f.moveDomain)

	lines := move["line_ids"].([]any)
	require.Len(t, lines, 3)
	first := lines[0].([]any)
	assert.Equal(t, 0, first[0])
	vals := first[2].(map[string]any)
	assert.Equal(t, int64(11), vals["account_id"])
	assert.InDelta(t, 1000.0, vals["debit"], 1e-9)
	assert.InDelta(t, 0.0, vals["credit"], 1e-9)
	assert.Equal(t, int64(55), vals["partner_id"])
	assert.NotContains(t, vals, "amount_currency")

	assert.Equal(t, []string{"Smith & Co"}, f.partners)
	assert.Equal(t, []int64{101}, f.posted)

	stored, _ := st.GetPosting(context.Background(), "key-1")
	assert.Equal(t, model.PostingStatusPosted, stored.Status)
}

func TestPost_RetriesTimeouts(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	f.moveSearchErrs = []error{context.DeadlineExceeded, context.DeadlineExceeded}
	p := newTestPoster(f, st)

	rec, err := p.Post(context.Background(), billEntry(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, model.PostingStatusPosted, rec.Status)
	assert.Equal(t, 3, rec.AttemptCount)
	assert.Len(t, f.created, 1)
}

func TestPost_DoublePostCallsERPOnce(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	p := newTestPoster(f, st)

	first, err := p.Post(context.Background(), billEntry(), "key-1")
	require.NoError(t, err)
	second, err := p.Post(context.Background(), billEntry(), "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ERPReferenceID, second.ERPReferenceID)
	assert.Equal(t, 1, f.searches)
	assert.Len(t, f.created, 1)
}

func TestPost_ConcurrentSameKey(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	p := newTestPoster(f, st)

	var wg sync.WaitGroup
	refs := make([]string, 8)
	for i := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := p.Post(context.Background(), billEntry(), "key-1")
			if assert.NoError(t, err) {
				refs[i] = rec.ERPReferenceID
			}
		}()
	}
	wg.Wait()

	assert.Len(t, f.created, 1)
	for _, r := range refs {
		assert.Equal(t, "101", r)
	}
}

func TestPost_RecoversExistingDraftMove(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	f.existing = []odoo.Record{{"id": int64(77), "state": "draft"}}
	p := newTestPoster(f, st)

	rec, err := p.Post(context.Background(), billEntry(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "77", rec.ERPReferenceID)
	assert.Empty(t, f.created)
	assert.Equal(t, []int64{77}, f.posted)
}

func TestPost_RecoversExistingPostedMove(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	f.existing = []odoo.Record{{"id": int64(78), "state": "posted"}}
	p := newTestPoster(f, st)

	rec, err := p.Post(context.Background(), billEntry(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "78", rec.ERPReferenceID)
	assert.Empty(t, f.created)
	assert.Empty(t, f.posted)
}

func TestPost_PermanentFault(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	f.createErr = errors.New("Fault(2): ValidationError: The entry is not balanced")
	p := newTestPoster(f, st)

	rec, err := p.Post(context.Background(), billEntry(), "key-1")
	require.Error(t, err)

	var pfe *PostingFailedError
	require.True(t, errors.As(err, &pfe))
	assert.Equal(t, 1, pfe.Attempts)
	assert.Equal(t, model.ErrCodePostingFailed, model.CodeOf(err))
	assert.Equal(t, model.PostingStatusFailed, rec.Status)
	assert.Contains(t, rec.LastError, "not balanced")

	stored, _ := st.GetPosting(context.Background(), "key-1")
	assert.Equal(t, model.PostingStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
}

func TestPost_ExhaustedRetries(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	f.moveSearchErrs = []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded}
	p := newTestPoster(f, st)

	rec, err := p.Post(context.Background(), billEntry(), "key-1")
	var pfe *PostingFailedError
	require.True(t, errors.As(err, &pfe))
	assert.Equal(t, 3, pfe.Attempts)
	assert.Equal(t, model.PostingStatusFailed, rec.Status)
	assert.Equal(t, 3, rec.AttemptCount)
	assert.Empty(t, f.created)
}

func TestPost_FailedRecordIsRetriedOnNextCall(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	f.moveSearchErrs = []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded}
	p := newTestPoster(f, st)

	_, err := p.Post(context.Background(), billEntry(), "key-1")
	require.Error(t, err)

	rec, err := p.Post(context.Background(), billEntry(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, model.PostingStatusPosted, rec.Status)
	assert.Equal(t, 4, rec.AttemptCount)
}

func TestPost_UnknownAccount(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	delete(f.accounts, "2202")
	p := newTestPoster(f, st)

	rec, err := p.Post(context.Background(), billEntry(), "key-1")
	require.Error(t, err)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Contains(t, rec.LastError, "2202")
	assert.Empty(t, f.created)
}

func TestPost_UnknownCompany(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	p := newTestPoster(f, st)
	entry := billEntry()
	entry.CompanyID = "globex"

	rec, err := p.Post(context.Background(), entry, "key-1")
	var pfe *PostingFailedError
	require.True(t, errors.As(err, &pfe))
	assert.Equal(t, model.PostingStatusFailed, rec.Status)
	assert.Zero(t, rec.AttemptCount)
}

func TestPost_OpenBreakerStopsCalls(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	f.moveSearchErrs = []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded}
	p := NewPoster(st, map[string]Company{"acme": {Client: f}},
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, Sleep: noSleep}),
		WithBreakers(resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})),
	)

	rec, err := p.Post(context.Background(), billEntry(), "key-1")
	require.Error(t, err)
	assert.Equal(t, 3, rec.AttemptCount)
	assert.Equal(t, 1, f.searches, "the open breaker rejects later attempts")
	assert.Contains(t, rec.LastError, "circuit breaker")
}

func vendorBill() *model.JournalEntry {
	e := billEntry()
	e.MoveType = model.MoveTypeInInvoice
	e.DueDate = time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	e.Partner = &model.Party{Name: "Smith & Co", TaxID: "DE811907980", Email: "ap@smith.example"}
	e.Lines = []model.JournalLine{
		{AccountCode: "7602", Description: "Legal services", Debit: d("1000"), Credit: decimal.Zero, Kind: model.LineKindMapped, TaxRate: d("0.15")},
		{AccountCode: "2202", Description: "VAT input", Debit: d("150"), Credit: decimal.Zero, Kind: model.LineKindTax},
		{AccountCode: "2100", Description: "Accounts payable", Debit: decimal.Zero, Credit: d("1150"), Kind: model.LineKindControl},
	}
	return e
}

func customerInvoice() *model.JournalEntry {
	e := billEntry()
	e.MoveType = model.MoveTypeOutInvoice
	e.Reference = "SO-2026-014"
	e.Partner = &model.Party{Name: "Globex GmbH", TaxID: "DE129273398"}
	e.Lines = []model.JournalLine{
		{AccountCode: "2100", Description: "Accounts receivable", Debit: d("595"), Credit: decimal.Zero, Kind: model.LineKindControl},
		{AccountCode: "8000", Description: "Consulting", Debit: decimal.Zero, Credit: d("500"), Kind: model.LineKindMapped, TaxRate: d("0.19")},
		{AccountCode: "2202", Description: "VAT output", Debit: decimal.Zero, Credit: d("95"), Kind: model.LineKindTax},
	}
	return e
}

func TestPost_VendorBillAsInInvoice(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	f.partnerIDs["vat:DE811907980"] = 42
	p := newTestPoster(f, st)

	_, err := p.Post(context.Background(), vendorBill(), "key-1")
	require.NoError(t, err)

	require.Len(t, f.created, 1)
	move := f.created[0]
	assert.Equal(t, "in_invoice", move["move_type"])
	assert.Equal(t, "INV-881 [key-1]", move["ref"])
	assert.Equal(t, "2026-02-10", move["invoice_date"])
	assert.Equal(t, "2026-03-12", move["invoice_date_due"])
	assert.Equal(t, int64(42), move["partner_id"])
	assert.Equal(t, int64(1), move["currency_id"])
	assert.NotContains(t, move, "line_ids")
	assert.NotContains(t, move, "journal_id", "the ERP picks the purchase journal")

	lines := move["invoice_line_ids"].([]any)
	require.Len(t, lines, 1, "tax and payable lines are derived by the ERP")
	vals := lines[0].([]any)[2].(map[string]any)
	assert.Equal(t, int64(11), vals["account_id"])
	assert.Equal(t, "Legal services", vals["name"])
	assert.Equal(t, 1, vals["quantity"])
	assert.InDelta(t, 1000.0, vals["price_unit"], 1e-9)
	assert.Equal(t, []any{[]any{6, 0, []int64{31}}}, vals["tax_ids"])

	assert.Equal(t, []string{"vat"}, f.partnerSearches)
	assert.Empty(t, f.partners)
	assert.Equal(t, []int64{101}, f.posted)
}

func TestPost_CustomerInvoiceAsOutInvoice(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	p := newTestPoster(f, st)
	entry := customerInvoice()
	entry.Currency = "USD"

	_, err := p.Post(context.Background(), entry, "key-2")
	require.NoError(t, err)

	move := f.created[0]
	assert.Equal(t, "out_invoice", move["move_type"])
	assert.Equal(t, "SO-2026-014 [key-2]", move["ref"])
	assert.NotContains(t, move, "invoice_date_due")
	assert.Equal(t, int64(2), move["currency_id"], "the ERP converts invoices itself")

	lines := move["invoice_line_ids"].([]any)
	require.Len(t, lines, 1)
	vals := lines[0].([]any)[2].(map[string]any)
	assert.Equal(t, int64(14), vals["account_id"])
	assert.InDelta(t, 500.0, vals["price_unit"], 1e-9, "document currency amount")
	assert.Equal(t, []any{[]any{6, 0, []int64{32}}}, vals["tax_ids"])

	require.Len(t, f.partnerVals, 1)
	created := f.partnerVals[0]
	assert.Equal(t, "Globex GmbH", created["name"])
	assert.Equal(t, "DE129273398", created["vat"])
	assert.Equal(t, 1, created["customer_rank"])
	assert.Equal(t, int64(1), created["company_id"])
	assert.Equal(t, []string{"vat", "name"}, f.partnerSearches)
}

func TestPost_PartnerFallsBackToName(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	f.partnerIDs["name:Smith & Co"] = 43
	p := newTestPoster(f, st)

	_, err := p.Post(context.Background(), vendorBill(), "key-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"vat", "email", "name"}, f.partnerSearches)
	assert.Equal(t, int64(43), f.created[0]["partner_id"])
	assert.Empty(t, f.partners)

	// Cached under the VAT number for the next document.
	_, err = p.Post(context.Background(), vendorBill(), "key-3")
	require.NoError(t, err)
	assert.Len(t, f.partnerSearches, 3)
}

func TestPost_ZeroRatedLineClearsTaxes(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	p := newTestPoster(f, st)
	entry := vendorBill()
	entry.Lines[0].TaxRate = decimal.Zero

	_, err := p.Post(context.Background(), entry, "key-1")
	require.NoError(t, err)

	vals := f.created[0]["invoice_line_ids"].([]any)[0].([]any)[2].(map[string]any)
	assert.Equal(t, []any{[]any{6, 0, []int64{}}}, vals["tax_ids"])
}

func TestPost_InvoiceWithoutConfiguredTaxFails(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	p := newTestPoster(f, st)
	entry := customerInvoice()
	entry.Lines[1].TaxRate = d("0.07")

	rec, err := p.Post(context.Background(), entry, "key-1")
	var pfe *PostingFailedError
	require.ErrorAs(t, err, &pfe)
	assert.Equal(t, 1, rec.AttemptCount, "missing configuration is not retried")
	assert.Contains(t, rec.LastError, "no sale tax at 7%")
	assert.Empty(t, f.created)
}

func TestPost_InvoiceWithoutPartnerFails(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	p := newTestPoster(f, st)
	entry := customerInvoice()
	entry.Partner = nil

	rec, err := p.Post(context.Background(), entry, "key-1")
	require.Error(t, err)
	assert.Equal(t, model.PostingStatusFailed, rec.Status)
	assert.Contains(t, rec.LastError, "no partner")
}

func TestPost_ForeignCurrencyEntryRestated(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	f.rates[2] = 1.25
	p := newTestPoster(f, st)
	entry := billEntry()
	entry.Currency = "USD"

	_, err := p.Post(context.Background(), entry, "key-1")
	require.NoError(t, err)

	move := f.created[0]
	assert.Equal(t, "entry", move["move_type"])
	assert.Equal(t, int64(2), move["currency_id"])

	lines := move["line_ids"].([]any)
	require.Len(t, lines, 3)
	want := []struct{ debit, credit, amountCurrency float64 }{
		{800, 0, 1000},
		{120, 0, 150},
		{0, 920, -1150},
	}
	for i, w := range want {
		vals := lines[i].([]any)[2].(map[string]any)
		assert.InDelta(t, w.debit, vals["debit"], 1e-9, "line %d", i)
		assert.InDelta(t, w.credit, vals["credit"], 1e-9, "line %d", i)
		assert.InDelta(t, w.amountCurrency, vals["amount_currency"], 1e-9, "line %d", i)
		assert.Equal(t, int64(2), vals["currency_id"])
	}
}

func TestPost_ForeignCurrencyWithoutRateFails(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	p := newTestPoster(f, st)
	entry := billEntry()
	entry.Currency = "USD"

	rec, err := p.Post(context.Background(), entry, "key-1")
	require.Error(t, err)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Contains(t, rec.LastError, "no USD rate on or before 2026-02-10")
	assert.Empty(t, f.created)
}

func TestPost_InactiveCurrencyFails(t *testing.T) {
	f, st := newFakeOdoo(), newMemStore()
	p := newTestPoster(f, st)
	entry := vendorBill()
	entry.Currency = "CHF"

	rec, err := p.Post(context.Background(), entry, "key-1")
	require.Error(t, err)
	assert.Contains(t, rec.LastError, `currency "CHF" is not active`)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.True(t, resilience.IsTransient(classify(context.DeadlineExceeded)))
	assert.True(t, resilience.IsTransient(classify(errors.New("Fault(1): could not serialize access due to concurrent update"))))
	assert.False(t, resilience.IsTransient(classify(errors.New("Fault(3): Access Denied"))))
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		ERP: config.ERPConfig{URL: "https://odoo.example", Database: "prod", Username: "bot", APIKey: "k", RateLimit: 5},
		Companies: map[string]config.CompanyConfig{
			"acme":   {ERPCompanyID: 1, JournalCode: "GEN", BaseCurrency: "EUR"},
			"globex": {ERPCompanyID: 2, ERPUsername: "globex-bot", ERPAPIKey: "k2"},
		},
	}
	p, err := FromConfig(cfg, newMemStore())
	require.NoError(t, err)
	require.Len(t, p.companies, 2)
	assert.Equal(t, "GEN", p.companies["acme"].JournalCode)
	assert.Equal(t, "EUR", p.companies["acme"].BaseCurrency)
	assert.Equal(t, int64(2), p.companies["globex"].ERPCompanyID)

	_, err = FromConfig(&config.Config{}, newMemStore())
	assert.Error(t, err)
}
