package model

import (
	"github.com/shopspring/decimal"
)

// Direction is the money flow of a bank statement line.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Party identifies a counterparty on a document.
type Party struct {
	Name        string `json:"name" validate:"required"`
	TaxID       string `json:"tax_id,omitempty"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string `json:"phone,omitempty"`
	Street      string `json:"street,omitempty"`
	City        string `json:"city,omitempty"`
	Zip         string `json:"zip,omitempty"`
	CountryCode string `json:"country_code,omitempty" validate:"omitempty,iso3166_1_alpha2"`
}

// LineItem is a single priced line on a document. Amounts are never negative;
// bank lines carry their sign in Direction.
type LineItem struct {
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitAmount   decimal.Decimal `json:"unit_amount"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	CategoryHint string          `json:"category_hint,omitempty"`
	Direction    Direction       `json:"direction,omitempty"`
	Group        string          `json:"group,omitempty"`
}

// Amount returns quantity × unit amount rounded to cents.
func (li LineItem) Amount() decimal.Decimal {
	q := li.Quantity
	if q.IsZero() {
		q = decimal.NewFromInt(1)
	}
	return q.Mul(li.UnitAmount).Round(2)
}

// SignedAmount is Amount, negated for outgoing bank lines.
func (li LineItem) SignedAmount() decimal.Decimal {
	if li.Direction == DirectionOut {
		return li.Amount().Neg()
	}
	return li.Amount()
}

// Tax returns Amount × TaxRate rounded to cents.
func (li LineItem) Tax() decimal.Decimal {
	return li.Amount().Mul(li.TaxRate).Round(2)
}

// TaxLine is a tax figure stated on the document.
type TaxLine struct {
	Rate   decimal.Decimal `json:"rate"`
	Base   decimal.Decimal `json:"base"`
	Amount decimal.Decimal `json:"amount"`
}

// Withholdings are payroll deductions owed to authorities.
type Withholdings struct {
	SocialInsurance decimal.Decimal `json:"social_insurance"`
	IncomeTax       decimal.Decimal `json:"income_tax"`
}

// FieldPresence reports which mandatory fields were found.
type FieldPresence struct {
	Present []string `json:"present"`
	Missing []string `json:"missing"`
}

// Complete reports whether no mandatory field is missing.
func (p FieldPresence) Complete() bool {
	return len(p.Missing) == 0
}

// ExtractedFields is the type-specific structured record of a document. It is
// replaced wholesale on re-extraction, never patched.
type ExtractedFields struct {
	DocumentID     string           `json:"document_id"`
	Type           DocumentType     `json:"type"`
	Perspective    Perspective      `json:"perspective"`
	Counterparty   *Party           `json:"counterparty,omitempty" validate:"omitempty"`
	DocumentNumber string           `json:"document_number,omitempty"`
	IssueDate      string           `json:"issue_date" validate:"required"`
	DueDate        string           `json:"due_date,omitempty"`
	Period         string           `json:"period,omitempty"`
	Currency       string           `json:"currency" validate:"required,iso4217"`
	LineItems      []LineItem       `json:"line_items"`
	TaxLines       []TaxLine        `json:"tax_lines,omitempty"`
	Subtotal       *decimal.Decimal `json:"subtotal,omitempty"`
	TaxTotal       *decimal.Decimal `json:"tax_total,omitempty"`
	Total          *decimal.Decimal `json:"total,omitempty"`
	ReverseCharge  bool             `json:"reverse_charge,omitempty"`
	Withholdings   *Withholdings    `json:"withholdings,omitempty"`
	Description    string           `json:"description,omitempty"`
	Presence       FieldPresence    `json:"presence"`
}

// LineTotal sums Amount over all line items.
func (f *ExtractedFields) LineTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, li := range f.LineItems {
		sum = sum.Add(li.Amount())
	}
	return sum
}

// LineTax sums Tax over all line items.
func (f *ExtractedFields) LineTax() decimal.Decimal {
	sum := decimal.Zero
	for _, li := range f.LineItems {
		sum = sum.Add(li.Tax())
	}
	return sum
}
