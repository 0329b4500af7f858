package erp

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/resilience"
	"github.com/sells-group/ledger-cli/pkg/odoo"
)

// DefaultJournalCode is the miscellaneous operations journal.
const DefaultJournalCode = "MISC"

// caches holds per-company ERP id lookups.
type caches struct {
	mu   sync.Mutex
	byCo map[string]*companyCache
}

func newCaches() *caches {
	return &caches{byCo: make(map[string]*companyCache)}
}

func (c *caches) forCompany(companyID string) *companyCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	cc, ok := c.byCo[companyID]
	if !ok {
		cc = &companyCache{
			accountIDs:  make(map[string]int64),
			partnerIDs:  make(map[string]int64),
			taxIDs:      make(map[string]int64),
			currencyIDs: make(map[string]int64),
			rates:       make(map[string]decimal.Decimal),
		}
		c.byCo[companyID] = cc
	}
	return cc
}

// companyCache resolves account codes, the journal, partners, taxes and
// currencies to ERP ids. Only successful lookups are cached.
type companyCache struct {
	mu          sync.Mutex
	journalID   int64
	accountIDs  map[string]int64
	partnerIDs  map[string]int64
	taxIDs      map[string]int64
	currencyIDs map[string]int64
	rates       map[string]decimal.Decimal
}

func companyDomain(co Company, domain []any) []any {
	if co.ERPCompanyID > 0 {
		domain = append(domain, []any{"company_id", "=", co.ERPCompanyID})
	}
	return domain
}

func (c *companyCache) journal(ctx context.Context, co Company) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.journalID != 0 {
		return c.journalID, nil
	}

	code := co.JournalCode
	if code == "" {
		code = DefaultJournalCode
	}
	ids, err := co.Client.Search(ctx, "account.journal",
		companyDomain(co, []any{[]any{"code", "=", code}}), &odoo.Options{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, resilience.NewPermanentError(eris.Errorf("erp: journal %q not found", code))
	}
	c.journalID = ids[0]
	return c.journalID, nil
}

func (c *companyCache) accounts(ctx context.Context, co Company, codes []string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var missing []string
	for _, code := range codes {
		if _, ok := c.accountIDs[code]; !ok && !slices.Contains(missing, code) {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		recs, err := co.Client.SearchRead(ctx, "account.account",
			companyDomain(co, []any{[]any{"code", "in", missing}}), []string{"id", "code"}, nil)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if id, ok := r.ID("id"); ok {
				c.accountIDs[r.String("code")] = id
			}
		}
	}

	out := make(map[string]int64, len(codes))
	var unknown []string
	for _, code := range codes {
		id, ok := c.accountIDs[code]
		if !ok {
			if !slices.Contains(unknown, code) {
				unknown = append(unknown, code)
			}
			continue
		}
		out[code] = id
	}
	if len(unknown) > 0 {
		return nil, resilience.NewPermanentError(eris.Errorf("erp: accounts not found in chart: %v", unknown))
	}
	return out, nil
}

// partner resolves the counterparty by VAT number, then email, then exact
// name, and creates it when nothing matches. rank, when set, marks a created
// partner as supplier or customer.
func (c *companyCache) partner(ctx context.Context, co Company, party *model.Party, rank string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := partnerKeys(party)
	for _, k := range keys {
		if id, ok := c.partnerIDs[k[0]+":"+k[1]]; ok {
			return id, nil
		}
	}

	for _, k := range keys {
		domain := []any{[]any{k[0], "=", k[1]}}
		if co.ERPCompanyID > 0 {
			// Partners shared across companies have no company_id.
			domain = append(domain, "|", []any{"company_id", "=", co.ERPCompanyID}, []any{"company_id", "=", false})
		}
		ids, err := co.Client.Search(ctx, "res.partner", domain, &odoo.Options{Limit: 1})
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			c.partnerIDs[keys[0][0]+":"+keys[0][1]] = ids[0]
			return ids[0], nil
		}
	}

	vals := map[string]any{"name": party.Name, "is_company": true}
	for field, v := range map[string]string{
		"vat":    party.TaxID,
		"email":  party.Email,
		"phone":  party.Phone,
		"street": party.Street,
		"city":   party.City,
		"zip":    party.Zip,
	} {
		if v != "" {
			vals[field] = v
		}
	}
	if rank != "" {
		vals[rank] = 1
	}
	if co.ERPCompanyID > 0 {
		vals["company_id"] = co.ERPCompanyID
	}
	id, err := co.Client.Create(ctx, "res.partner", vals)
	if err != nil {
		return 0, err
	}
	c.partnerIDs[keys[0][0]+":"+keys[0][1]] = id
	return id, nil
}

// partnerKeys lists the lookups for a party, most specific first.
func partnerKeys(p *model.Party) [][2]string {
	var keys [][2]string
	if p.TaxID != "" {
		keys = append(keys, [2]string{"vat", p.TaxID})
	}
	if p.Email != "" {
		keys = append(keys, [2]string{"email", p.Email})
	}
	return append(keys, [2]string{"name", p.Name})
}

// tax finds the percentage tax of the given use ("sale" or "purchase") at rate,
// a fraction such as 0.19.
func (c *companyCache) tax(ctx context.Context, co Company, use string, rate decimal.Decimal) (int64, error) {
	pct := rate.Shift(2)
	key := use + ":" + pct.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.taxIDs[key]; ok {
		return id, nil
	}

	ids, err := co.Client.Search(ctx, "account.tax", companyDomain(co, []any{
		[]any{"type_tax_use", "=", use},
		[]any{"amount_type", "=", "percent"},
		[]any{"amount", "=", pct.InexactFloat64()},
	}), &odoo.Options{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, resilience.NewPermanentError(eris.Errorf("erp: no %s tax at %s%% configured", use, pct.String()))
	}
	c.taxIDs[key] = ids[0]
	return ids[0], nil
}

// currency finds an active currency by ISO code.
func (c *companyCache) currency(ctx context.Context, co Company, code string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.currencyIDs[code]; ok {
		return id, nil
	}

	ids, err := co.Client.Search(ctx, "res.currency", []any{[]any{"name", "=", code}}, &odoo.Options{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, resilience.NewPermanentError(eris.Errorf("erp: currency %q is not active", code))
	}
	c.currencyIDs[code] = ids[0]
	return ids[0], nil
}

// rate returns units of the currency per unit of company currency on date,
// taken from the latest rate on or before it.
func (c *companyCache) rate(ctx context.Context, co Company, currencyID int64, code string, date time.Time) (decimal.Decimal, error) {
	day := date.Format(time.DateOnly)
	key := code + "@" + day

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.rates[key]; ok {
		return r, nil
	}

	domain := []any{
		[]any{"currency_id", "=", currencyID},
		[]any{"name", "<=", day},
	}
	if co.ERPCompanyID > 0 {
		domain = append(domain, "|", []any{"company_id", "=", co.ERPCompanyID}, []any{"company_id", "=", false})
	}
	recs, err := co.Client.SearchRead(ctx, "res.currency.rate", domain, []string{"name", "rate"},
		&odoo.Options{Limit: 1, Order: "name desc"})
	if err != nil {
		return decimal.Zero, err
	}
	if len(recs) == 0 {
		return decimal.Zero, resilience.NewPermanentError(eris.Errorf("erp: no %s rate on or before %s", code, day))
	}
	f, ok := recs[0].Float("rate")
	if !ok || f <= 0 {
		return decimal.Zero, resilience.NewPermanentError(eris.Errorf("erp: %s rate on %s is not positive", code, day))
	}
	r := decimal.NewFromFloat(f)
	c.rates[key] = r
	return r, nil
}
