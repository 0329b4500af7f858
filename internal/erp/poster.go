// Package erp posts balanced journal entries to Odoo exactly once per
// idempotency key.
package erp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/resilience"
	"github.com/sells-group/ledger-cli/pkg/odoo"
)

// PostingFailedError is returned when an entry could not be posted after all
// attempts. The posting record carries the same information.
type PostingFailedError struct {
	Key      string
	Attempts int
	Cause    error
}

func (e *PostingFailedError) Error() string {
	return fmt.Sprintf("erp: posting %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Cause)
}

func (e *PostingFailedError) Unwrap() error { return e.Cause }

// ErrorCode implements model.Coded.
func (e *PostingFailedError) ErrorCode() model.ErrorCode { return model.ErrCodePostingFailed }

// PostingStore persists posting records.
type PostingStore interface {
	GetPosting(ctx context.Context, idempotencyKey string) (*model.PostingRecord, error)
	SavePosting(ctx context.Context, rec *model.PostingRecord) error
}

// Company is the ERP side of one operating company.
type Company struct {
	Client       odoo.Client
	ERPCompanyID int64
	JournalCode  string
	BaseCurrency string
}

// Poster submits journal entries to the ERP.
type Poster struct {
	store     PostingStore
	companies map[string]Company
	retry     resilience.RetryConfig
	breakers  *resilience.Breakers
	keys      keyedMutex
	caches    *caches
}

// Option configures a Poster.
type Option func(*Poster)

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Poster) { p.retry = cfg }
}

// WithBreakers overrides the per-company circuit breakers.
func WithBreakers(b *resilience.Breakers) Option {
	return func(p *Poster) { p.breakers = b }
}

// NewPoster creates a Poster over the given companies.
func NewPoster(st PostingStore, companies map[string]Company, opts ...Option) *Poster {
	p := &Poster{
		store:     st,
		companies: companies,
		retry:     resilience.DefaultRetryConfig(),
		breakers:  resilience.NewBreakers(resilience.DefaultBreakerConfig()),
		caches:    newCaches(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Post submits entry under key. A key that is already posted returns its
// record without contacting the ERP. Concurrent calls for the same key are
// serialized so at most one remote move is created.
func (p *Poster) Post(ctx context.Context, entry *model.JournalEntry, key string) (*model.PostingRecord, error) {
	unlock := p.keys.Lock(key)
	defer unlock()

	rec, err := p.store.GetPosting(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "erp: load posting %s", key)
	}
	if rec != nil && rec.Status == model.PostingStatusPosted {
		zap.L().Debug("erp: entry already posted",
			zap.String("key", key),
			zap.String("erp_reference_id", rec.ERPReferenceID),
		)
		return rec, nil
	}
	if rec == nil {
		rec = &model.PostingRecord{
			JournalEntryID: entry.ID,
			DocumentID:     entry.DocumentID,
			CompanyID:      entry.CompanyID,
			IdempotencyKey: key,
		}
	}
	rec.Status = model.PostingStatusPending
	if err := p.store.SavePosting(ctx, rec); err != nil {
		return nil, eris.Wrapf(err, "erp: save pending posting %s", key)
	}

	co, ok := p.companies[entry.CompanyID]
	if !ok {
		return p.fail(ctx, rec, resilience.NewPermanentError(eris.Errorf("erp: company %q has no ERP connection", entry.CompanyID)))
	}

	log := zap.L().With(zap.String("key", key), zap.String("company_id", entry.CompanyID), zap.String("document_id", entry.DocumentID))
	br := p.breakers.Get(entry.CompanyID)
	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger("erp", "post", zap.String("key", key))

	moveID, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (int64, error) {
		rec.AttemptCount++
		if serr := p.store.SavePosting(ctx, rec); serr != nil {
			return 0, resilience.NewPermanentError(eris.Wrap(serr, "erp: save attempt"))
		}
		if aerr := br.Allow(); aerr != nil {
			rec.LastError = string(model.ErrCodePostingTransientFailure) + ": " + aerr.Error()
			return 0, aerr
		}
		id, aerr := p.attempt(ctx, co, entry, key)
		aerr = classify(aerr)
		br.Record(aerr)
		if aerr != nil {
			rec.LastError = aerr.Error()
			if resilience.IsTransient(aerr) {
				rec.LastError = string(model.ErrCodePostingTransientFailure) + ": " + aerr.Error()
			}
		}
		return id, aerr
	})
	if err != nil {
		log.Warn("erp: posting failed", zap.Int("attempts", rec.AttemptCount), zap.Error(err))
		return p.fail(ctx, rec, err)
	}

	rec.Status = model.PostingStatusPosted
	rec.ERPReferenceID = strconv.FormatInt(moveID, 10)
	rec.LastError = ""
	if err := p.store.SavePosting(context.WithoutCancel(ctx), rec); err != nil {
		return nil, eris.Wrapf(err, "erp: save posted record %s", key)
	}
	log.Info("erp: entry posted", zap.String("erp_reference_id", rec.ERPReferenceID), zap.Int("attempts", rec.AttemptCount))
	return rec, nil
}

func (p *Poster) fail(ctx context.Context, rec *model.PostingRecord, cause error) (*model.PostingRecord, error) {
	rec.Status = model.PostingStatusFailed
	rec.LastError = cause.Error()
	if err := p.store.SavePosting(context.WithoutCancel(ctx), rec); err != nil {
		return nil, eris.Wrapf(err, "erp: save failed posting %s", rec.IdempotencyKey)
	}
	return rec, &PostingFailedError{Key: rec.IdempotencyKey, Attempts: rec.AttemptCount, Cause: cause}
}

// attempt recovers a move created by an earlier attempt or creates a new one,
// then makes sure it is posted.
func (p *Poster) attempt(ctx context.Context, co Company, entry *model.JournalEntry, key string) (int64, error) {
	existing, err := co.Client.SearchRead(ctx, "account.move",
		[]any{[]any{"ref", "like", key}}, []string{"id", "state"}, &odoo.Options{Limit: 1})
	if err != nil {
		return 0, err
	}

	var id int64
	state := "draft"
	if len(existing) > 0 {
		id, _ = existing[0].ID("id")
		state = existing[0].String("state")
		zap.L().Info("erp: recovered existing move", zap.String("key", key), zap.Int64("move_id", id), zap.String("state", state))
	} else {
		vals, err := p.moveValues(ctx, co, entry, key)
		if err != nil {
			return 0, err
		}
		id, err = co.Client.Create(ctx, "account.move", vals)
		if err != nil {
			return 0, err
		}
	}

	if state == "draft" {
		var reply any
		if err := co.Client.Execute(ctx, "account.move", "action_post", []any{[]int64{id}}, nil, &reply); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// moveValues builds the account.move for entry. Invoices and bills go in as
// their invoice types with the mapped lines as invoice lines, so the ERP
// derives the tax and receivable or payable lines from its own tax setup.
// Everything else posts its lines exactly as built.
func (p *Poster) moveValues(ctx context.Context, co Company, entry *model.JournalEntry, key string) (map[string]any, error) {
	cache := p.caches.forCompany(entry.CompanyID)
	kind := entry.Kind()

	move := map[string]any{
		"move_type": string(kind),
		"ref":       moveRef(entry.Reference, key),
		"date":      entry.Date.Format(time.DateOnly),
	}
	if co.ERPCompanyID > 0 {
		move["company_id"] = co.ERPCompanyID
	}

	var partnerID int64
	if entry.PartnerName() != "" {
		id, err := cache.partner(ctx, co, entry.Partner, partnerRank(kind))
		if err != nil {
			return nil, err
		}
		partnerID = id
		move["partner_id"] = id
	}

	if kind.IsInvoice() {
		if partnerID == 0 {
			return nil, resilience.NewPermanentError(eris.Errorf("erp: %s %s has no partner", kind, entry.Reference))
		}
		if entry.Currency != "" {
			currencyID, err := cache.currency(ctx, co, entry.Currency)
			if err != nil {
				return nil, err
			}
			move["currency_id"] = currencyID
		}
		lines, err := invoiceLines(ctx, cache, co, entry)
		if err != nil {
			return nil, err
		}
		move["invoice_date"] = move["date"]
		if !entry.DueDate.IsZero() {
			move["invoice_date_due"] = entry.DueDate.Format(time.DateOnly)
		}
		move["invoice_line_ids"] = lines
		return move, nil
	}

	journalID, err := cache.journal(ctx, co)
	if err != nil {
		return nil, err
	}
	move["journal_id"] = journalID

	lines, currencyID, err := entryLines(ctx, cache, co, entry, partnerID)
	if err != nil {
		return nil, err
	}
	if currencyID > 0 {
		move["currency_id"] = currencyID
	}
	move["line_ids"] = lines
	return move, nil
}

// entryLines renders the entry's lines. A foreign-currency entry keeps its
// document amounts in amount_currency and is restated in company currency at
// the ERP's rate for the entry date.
func entryLines(ctx context.Context, cache *companyCache, co Company, entry *model.JournalEntry, partnerID int64) ([]any, int64, error) {
	codes := make([]string, 0, len(entry.Lines))
	for _, l := range entry.Lines {
		codes = append(codes, l.AccountCode)
	}
	accounts, err := cache.accounts(ctx, co, codes)
	if err != nil {
		return nil, 0, err
	}

	booked := entry.Lines
	var currencyID int64
	if foreign(entry.Currency, co.BaseCurrency) {
		if currencyID, err = cache.currency(ctx, co, entry.Currency); err != nil {
			return nil, 0, err
		}
		rate, err := cache.rate(ctx, co, currencyID, entry.Currency, entry.Date)
		if err != nil {
			return nil, 0, err
		}
		booked = toCompanyCurrency(entry.Lines, rate)
	}

	lines := make([]any, 0, len(entry.Lines))
	for i, l := range entry.Lines {
		name := l.Description
		if name == "" {
			name = entry.Reference
		}
		vals := map[string]any{
			"account_id": accounts[l.AccountCode],
			"name":       name,
			"debit":      booked[i].Debit.InexactFloat64(),
			"credit":     booked[i].Credit.InexactFloat64(),
		}
		if currencyID > 0 {
			vals["currency_id"] = currencyID
			vals["amount_currency"] = l.Debit.Sub(l.Credit).InexactFloat64()
		}
		if partnerID > 0 {
			vals["partner_id"] = partnerID
		}
		lines = append(lines, []any{0, 0, vals})
	}
	return lines, currencyID, nil
}

// invoiceLines renders the mapped lines of an invoice or bill at their net
// amount with the matching sale or purchase tax.
func invoiceLines(ctx context.Context, cache *companyCache, co Company, entry *model.JournalEntry) ([]any, error) {
	var mapped []model.JournalLine
	codes := make([]string, 0, len(entry.Lines))
	for _, l := range entry.Lines {
		if l.Kind == model.LineKindMapped {
			mapped = append(mapped, l)
			codes = append(codes, l.AccountCode)
		}
	}
	if len(mapped) == 0 {
		return nil, resilience.NewPermanentError(eris.Errorf("erp: %s %s has no invoice lines", entry.Kind(), entry.Reference))
	}
	accounts, err := cache.accounts(ctx, co, codes)
	if err != nil {
		return nil, err
	}

	use := "sale"
	if entry.Kind() == model.MoveTypeInInvoice {
		use = "purchase"
	}
	lines := make([]any, 0, len(mapped))
	for _, l := range mapped {
		taxes := []int64{}
		if l.TaxRate.IsPositive() {
			id, err := cache.tax(ctx, co, use, l.TaxRate)
			if err != nil {
				return nil, err
			}
			taxes = append(taxes, id)
		}
		name := l.Description
		if name == "" {
			name = entry.Reference
		}
		lines = append(lines, []any{0, 0, map[string]any{
			"account_id": accounts[l.AccountCode],
			"name":       name,
			"quantity":   1,
			"price_unit": l.Debit.Add(l.Credit).InexactFloat64(),
			"tax_ids":    []any{[]any{6, 0, taxes}},
		}})
	}
	return lines, nil
}

// moveRef is the move's ref: the document reference followed by the
// idempotency key, which recovery searches for.
func moveRef(reference, key string) string {
	if reference == "" {
		return key
	}
	return reference + " [" + key + "]"
}

func partnerRank(kind model.MoveType) string {
	switch kind {
	case model.MoveTypeInInvoice:
		return "supplier_rank"
	case model.MoveTypeOutInvoice:
		return "customer_rank"
	}
	return ""
}

// classify marks ERP failures that may clear on retry as transient.
func classify(err error) error {
	if err == nil || resilience.Classify(err, nil) == resilience.Transient {
		return err
	}
	if odoo.Retryable(err) {
		return resilience.NewTransientError(err, odoo.StatusCode(err))
	}
	return err
}
