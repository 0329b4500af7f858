package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineKind tags why a journal line exists.
type LineKind string

const (
	LineKindMapped  LineKind = "mapped"
	LineKindTax     LineKind = "tax"
	LineKindControl LineKind = "control"
	LineKindBank    LineKind = "bank"
	LineKindBalance LineKind = "balance"
)

// MoveType is the kind of ERP move an entry is posted as.
type MoveType string

const (
	// MoveTypeEntry posts the lines exactly as built.
	MoveTypeEntry MoveType = "entry"
	// MoveTypeInInvoice is a vendor bill; the ERP derives tax and payable lines.
	MoveTypeInInvoice MoveType = "in_invoice"
	// MoveTypeOutInvoice is a customer invoice; the ERP derives tax and
	// receivable lines.
	MoveTypeOutInvoice MoveType = "out_invoice"
)

// IsInvoice reports whether the ERP computes tax and control lines itself.
func (t MoveType) IsInvoice() bool {
	return t == MoveTypeInInvoice || t == MoveTypeOutInvoice
}

// JournalLine is one side of a double-entry posting. Exactly one of Debit and
// Credit is positive.
type JournalLine struct {
	AccountCode string          `json:"account_code"`
	Description string          `json:"description,omitempty"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Kind        LineKind        `json:"kind,omitempty"`
	TaxRate     decimal.Decimal `json:"tax_rate,omitzero"`
}

// JournalEntry is a balanced set of lines recording one economic event.
type JournalEntry struct {
	ID          string        `json:"id"`
	DocumentID  string        `json:"document_id"`
	CompanyID   string        `json:"company_id"`
	Sequence    int           `json:"sequence"`
	MoveType    MoveType      `json:"move_type,omitempty"`
	Lines       []JournalLine `json:"lines"`
	Currency    string        `json:"currency"`
	Period      string        `json:"period"`
	Date        time.Time     `json:"date"`
	DueDate     time.Time     `json:"due_date,omitzero"`
	Reference   string        `json:"reference,omitempty"`
	Partner     *Party        `json:"partner,omitempty"`
}

// PartnerName is the counterparty's name, or "" when there is none.
func (e *JournalEntry) PartnerName() string {
	if e.Partner == nil {
		return ""
	}
	return e.Partner.Name
}

// Kind returns the move type, defaulting to a plain journal entry.
func (e *JournalEntry) Kind() MoveType {
	if e.MoveType == "" {
		return MoveTypeEntry
	}
	return e.MoveType
}

// TotalDebit sums the debit side.
func (e *JournalEntry) TotalDebit() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range e.Lines {
		sum = sum.Add(l.Debit)
	}
	return sum
}

// TotalCredit sums the credit side.
func (e *JournalEntry) TotalCredit() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range e.Lines {
		sum = sum.Add(l.Credit)
	}
	return sum
}

// Balanced reports whether debits equal credits exactly.
func (e *JournalEntry) Balanced() bool {
	return e.TotalDebit().Equal(e.TotalCredit())
}
