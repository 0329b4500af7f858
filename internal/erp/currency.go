package erp

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/ledger-cli/internal/model"
)

func foreign(currency, base string) bool {
	return currency != "" && base != "" && !strings.EqualFold(currency, base)
}

// toCompanyCurrency restates lines at rate, the units of document currency
// per unit of company currency. Rounding residue goes to the largest line on
// the short side so the restated lines still balance.
func toCompanyCurrency(lines []model.JournalLine, rate decimal.Decimal) []model.JournalLine {
	out := make([]model.JournalLine, len(lines))
	debit, credit := decimal.Zero, decimal.Zero
	for i, l := range lines {
		l.Debit = l.Debit.Div(rate).Round(2)
		l.Credit = l.Credit.Div(rate).Round(2)
		out[i] = l
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}

	diff := debit.Sub(credit)
	if diff.IsZero() {
		return out
	}
	short := func(l model.JournalLine) decimal.Decimal {
		if diff.IsPositive() {
			return l.Credit
		}
		return l.Debit
	}
	idx := -1
	for i, l := range out {
		if s := short(l); s.IsPositive() && (idx < 0 || s.GreaterThan(short(out[idx]))) {
			idx = i
		}
	}
	switch {
	case idx < 0:
	case diff.IsPositive():
		out[idx].Credit = out[idx].Credit.Add(diff)
	default:
		out[idx].Debit = out[idx].Debit.Sub(diff)
	}
	return out
}
