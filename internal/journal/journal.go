// Package journal turns mapped line items into balanced double-entry journal
// entries. All arithmetic is decimal and every entry is checked before it is
// returned.
package journal

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/ledger-cli/internal/model"
)

// entryNamespace seeds deterministic entry ids.
var entryNamespace = uuid.MustParse("3b8f6a52-6c1d-4f8e-9a57-2f1c0d7e4b90")

// Options tune entry construction.
type Options struct {
	// SplitByGroup builds one entry per line-item group instead of one per document.
	SplitByGroup bool
}

// UnbalancedError is returned when an entry fails the double-entry checks.
// It is never retried.
type UnbalancedError struct {
	Sequence int
	Debit    decimal.Decimal
	Credit   decimal.Decimal
	Reason   string
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("journal: entry %d unbalanced (debit %s, credit %s): %s",
		e.Sequence, e.Debit.StringFixed(2), e.Credit.StringFixed(2), e.Reason)
}

// ErrorCode implements model.Coded.
func (e *UnbalancedError) ErrorCode() model.ErrorCode { return model.ErrCodeUnbalancedEntry }

// InputError is returned when the extracted fields cannot produce an entry.
// Only corrected fields resolve it.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("journal: %s: %s", e.Field, e.Reason)
}

// ErrorCode implements model.Coded.
func (e *InputError) ErrorCode() model.ErrorCode { return model.ErrCodeValidationFailed }

// Violation describes the error against the offending field.
func (e *InputError) Violation() model.Violation {
	return model.Violation{Field: e.Field, Rule: "journal", Message: e.Reason}
}

// ErrUnsupportedType is returned for document types that produce no entry.
var ErrUnsupportedType = eris.New("journal: document type has no ledger event")

type lineBuilder func(lines []model.MappedLine, fields *model.ExtractedFields, c model.ControlAccounts) ([]model.JournalLine, error)

var builders = map[model.DocumentType]lineBuilder{
	model.DocumentTypeBill:             billLines,
	model.DocumentTypeInvoice:          invoiceLines,
	model.DocumentTypePayroll:          payrollLines,
	model.DocumentTypeShareTransaction: shareLines,
	model.DocumentTypeBankStatement:    bankLines,
}

// Build produces the journal entries for a document. mapped must cover every
// line item of fields.
func Build(fields *model.ExtractedFields, mapped []model.MappedLine, company model.CompanyContext, opts Options) ([]model.JournalEntry, error) {
	if fields == nil {
		return nil, &InputError{Field: "fields", Reason: "no extracted fields"}
	}
	build, ok := builders[fields.Type]
	if !ok {
		return nil, eris.Wrapf(ErrUnsupportedType, "journal: type %q", fields.Type)
	}

	date, err := time.Parse(time.DateOnly, fields.IssueDate)
	if err != nil {
		return nil, &InputError{Field: "issue_date", Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", fields.IssueDate)}
	}
	period := fields.Period
	if period == "" {
		period = date.Format("2006-01")
	}

	groups := [][]model.MappedLine{mapped}
	if opts.SplitByGroup {
		groups = splitGroups(mapped)
		if fields.Type == model.DocumentTypePayroll && len(groups) > 1 {
			return nil, &InputError{Field: "line_items", Reason: "payroll documents cannot be split by group"}
		}
	}

	var due time.Time
	if fields.DueDate != "" {
		if due, err = time.Parse(time.DateOnly, fields.DueDate); err != nil {
			return nil, &InputError{Field: "due_date", Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", fields.DueDate)}
		}
	}
	var partner *model.Party
	if fields.Counterparty != nil {
		p := *fields.Counterparty
		partner = &p
	}

	entries := make([]model.JournalEntry, 0, len(groups))
	for i, group := range groups {
		seq := i + 1
		lines, err := build(group, fields, company.Controls)
		if err != nil {
			var ue *UnbalancedError
			if errors.As(err, &ue) {
				ue.Sequence = seq
			}
			return nil, err
		}

		entry := model.JournalEntry{
			ID:          EntryID(fields.DocumentID, seq),
			DocumentID:  fields.DocumentID,
			CompanyID:   company.ID,
			Sequence:  seq,
			MoveType:  moveTypeOf(fields),
			Lines:     lines,
			Currency:  fields.Currency,
			Period:    period,
			Date:      date,
			DueDate:   due,
			Reference: reference(fields.DocumentNumber, seq, len(groups)),
			Partner:   partner,
		}
		if err := Check(&entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// moveTypeOf picks how the ERP records the document. Reverse-charge bills stay
// plain entries because their self-assessed VAT lines must post as built.
func moveTypeOf(fields *model.ExtractedFields) model.MoveType {
	switch fields.Type {
	case model.DocumentTypeBill:
		if fields.ReverseCharge {
			return model.MoveTypeEntry
		}
		return model.MoveTypeInInvoice
	case model.DocumentTypeInvoice:
		return model.MoveTypeOutInvoice
	}
	return model.MoveTypeEntry
}

// EntryID is the deterministic id of the seq-th entry of a document.
func EntryID(documentID string, seq int) string {
	return uuid.NewSHA1(entryNamespace, []byte(documentID+":"+strconv.Itoa(seq))).String()
}

// Check verifies that every line has exactly one positive side and that
// debits equal credits exactly.
func Check(e *model.JournalEntry) error {
	if len(e.Lines) < 2 {
		return &UnbalancedError{Sequence: e.Sequence, Debit: e.TotalDebit(), Credit: e.TotalCredit(),
			Reason: "entry needs at least two lines"}
	}
	for i, l := range e.Lines {
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return &UnbalancedError{Sequence: e.Sequence, Debit: e.TotalDebit(), Credit: e.TotalCredit(),
				Reason: fmt.Sprintf("line %d (%s) has a negative amount", i, l.AccountCode)}
		}
		if l.Debit.IsPositive() == l.Credit.IsPositive() {
			return &UnbalancedError{Sequence: e.Sequence, Debit: e.TotalDebit(), Credit: e.TotalCredit(),
				Reason: fmt.Sprintf("line %d (%s) must carry exactly one of debit or credit", i, l.AccountCode)}
		}
		if l.AccountCode == "" {
			return &UnbalancedError{Sequence: e.Sequence, Debit: e.TotalDebit(), Credit: e.TotalCredit(),
				Reason: fmt.Sprintf("line %d has no account", i)}
		}
	}
	if !e.Balanced() {
		return &UnbalancedError{Sequence: e.Sequence, Debit: e.TotalDebit(), Credit: e.TotalCredit(),
			Reason: "debits do not equal credits"}
	}
	return nil
}

// splitGroups partitions lines by Group in order of first appearance.
func splitGroups(mapped []model.MappedLine) [][]model.MappedLine {
	var order []string
	byGroup := make(map[string][]model.MappedLine)
	for _, m := range mapped {
		g := m.Item.Group
		if _, ok := byGroup[g]; !ok {
			order = append(order, g)
		}
		byGroup[g] = append(byGroup[g], m)
	}
	out := make([][]model.MappedLine, 0, len(order))
	for _, g := range order {
		out = append(out, byGroup[g])
	}
	if len(out) == 0 {
		out = append(out, nil)
	}
	return out
}

func reference(number string, seq, total int) string {
	if total <= 1 || number == "" {
		return number
	}
	return fmt.Sprintf("%s/%d", number, seq)
}
