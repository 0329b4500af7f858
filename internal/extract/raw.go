package extract

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/ledger-cli/internal/model"
)

// rawFields is the JSON shape the model answers with.
type rawFields struct {
	Counterparty   *model.Party     `json:"counterparty"`
	DocumentNumber string           `json:"document_number"`
	IssueDate      string           `json:"issue_date"`
	DueDate        string           `json:"due_date"`
	Period         string           `json:"period"`
	StatementDate  string           `json:"statement_date"`
	Currency       string           `json:"currency"`
	LineItems      []rawLine        `json:"line_items"`
	TaxLines       []model.TaxLine  `json:"tax_lines"`
	Subtotal       *decimal.Decimal `json:"subtotal"`
	TaxTotal       *decimal.Decimal `json:"tax_total"`
	Total          *decimal.Decimal `json:"total"`
	ReverseCharge  bool             `json:"reverse_charge"`
	Withholdings   *rawWithholdings `json:"withholdings"`
	Description    string           `json:"description"`
}

type rawLine struct {
	Description  string           `json:"description"`
	Quantity     *decimal.Decimal `json:"quantity"`
	UnitAmount   *decimal.Decimal `json:"unit_amount"`
	TaxRate      *decimal.Decimal `json:"tax_rate"`
	CategoryHint string           `json:"category_hint"`
	Direction    string           `json:"direction"`
	Group        string           `json:"group"`
}

type rawWithholdings struct {
	SocialInsurance *decimal.Decimal `json:"social_insurance"`
	IncomeTax       *decimal.Decimal `json:"income_tax"`
}

var hundred = decimal.NewFromInt(100)

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// normalizeRate converts a percentage to a fraction. Any value of 1 or more
// is read as a percentage: no tax runs at 100%, while 1% rates exist.
func normalizeRate(d *decimal.Decimal) decimal.Decimal {
	r := orZero(d)
	if r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return r.Div(hundred)
	}
	return r
}

func (r *rawFields) toFields(documentID string, dt model.DocumentType, p model.Perspective) *model.ExtractedFields {
	f := &model.ExtractedFields{
		DocumentID:     documentID,
		Type:           dt,
		Perspective:    p,
		DocumentNumber: strings.TrimSpace(r.DocumentNumber),
		IssueDate:      strings.TrimSpace(r.IssueDate),
		DueDate:        strings.TrimSpace(r.DueDate),
		Period:         strings.TrimSpace(r.Period),
		Currency:       strings.ToUpper(strings.TrimSpace(r.Currency)),
		TaxLines:       r.TaxLines,
		Subtotal:       r.Subtotal,
		TaxTotal:       r.TaxTotal,
		Total:          r.Total,
		ReverseCharge:  r.ReverseCharge,
		Description:    r.Description,
	}

	if r.Counterparty != nil && strings.TrimSpace(r.Counterparty.Name) != "" {
		cp := *r.Counterparty
		cp.Name = strings.TrimSpace(cp.Name)
		cp.CountryCode = strings.ToUpper(strings.TrimSpace(cp.CountryCode))
		f.Counterparty = &cp
	}

	for _, l := range r.LineItems {
		qty := orZero(l.Quantity)
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		item := model.LineItem{
			Description:  strings.TrimSpace(l.Description),
			Quantity:     qty,
			UnitAmount:   orZero(l.UnitAmount),
			TaxRate:      normalizeRate(l.TaxRate),
			CategoryHint: strings.ToLower(strings.TrimSpace(l.CategoryHint)),
			Group:        strings.TrimSpace(l.Group),
		}
		if dt == model.DocumentTypeBankStatement {
			item.Direction = model.DirectionIn
			if strings.EqualFold(strings.TrimSpace(l.Direction), "out") {
				item.Direction = model.DirectionOut
			}
			// Signed amounts carry the direction.
			if item.UnitAmount.IsNegative() {
				item.UnitAmount = item.UnitAmount.Neg()
				item.Direction = model.DirectionOut
			}
		}
		f.LineItems = append(f.LineItems, item)
	}

	if w := r.Withholdings; w != nil && (w.SocialInsurance != nil || w.IncomeTax != nil) {
		f.Withholdings = &model.Withholdings{
			SocialInsurance: orZero(w.SocialInsurance),
			IncomeTax:       orZero(w.IncomeTax),
		}
	}

	switch dt {
	case model.DocumentTypeBankStatement:
		if r.StatementDate != "" {
			f.IssueDate = strings.TrimSpace(r.StatementDate)
		}
		// The printed total is a balance, not a sum of lines.
		f.Total, f.Subtotal, f.TaxTotal = nil, nil, nil
	case model.DocumentTypePayroll:
		if f.IssueDate == "" && f.Period != "" {
			if t, err := time.Parse("2006-01", f.Period); err == nil {
				f.IssueDate = t.AddDate(0, 1, -1).Format(time.DateOnly)
			}
		}
	}
	return f
}
