package journal

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/ledger-cli/internal/model"
)

func debit(code, desc string, amt decimal.Decimal, kind model.LineKind) model.JournalLine {
	return model.JournalLine{AccountCode: code, Description: desc, Debit: amt, Credit: decimal.Zero, Kind: kind}
}

func credit(code, desc string, amt decimal.Decimal, kind model.LineKind) model.JournalLine {
	return model.JournalLine{AccountCode: code, Description: desc, Debit: decimal.Zero, Credit: amt, Kind: kind}
}

// totals sums net amount and line tax.
func totals(lines []model.MappedLine) (net, tax decimal.Decimal) {
	net, tax = decimal.Zero, decimal.Zero
	for _, m := range lines {
		net = net.Add(m.Item.Amount())
		tax = tax.Add(m.Item.Tax())
	}
	return net, tax
}

// billLines: Dr expense (net), Dr VAT input (tax), Cr payable (gross). Under
// reverse charge the notional VAT is both recoverable and owed, and the
// payable is net.
func billLines(lines []model.MappedLine, fields *model.ExtractedFields, c model.ControlAccounts) ([]model.JournalLine, error) {
	var out []model.JournalLine
	for _, m := range lines {
		if amt := m.Item.Amount(); amt.IsPositive() {
			l := debit(m.AccountCode, m.Item.Description, amt, model.LineKindMapped)
			l.TaxRate = m.Item.TaxRate
			out = append(out, l)
		}
	}
	net, tax := totals(lines)

	payable := net
	if tax.IsPositive() {
		out = append(out, debit(c.VATInput, "VAT input", tax, model.LineKindTax))
		if fields.ReverseCharge {
			out = append(out, credit(c.VATOutput, "VAT output (reverse charge)", tax, model.LineKindTax))
		} else {
			payable = net.Add(tax)
		}
	}
	if payable.IsPositive() {
		out = append(out, credit(c.Payable, "Accounts payable", payable, model.LineKindControl))
	}
	return out, nil
}

// invoiceLines: Dr receivable (gross), Cr revenue (net), Cr VAT output (tax).
// Reverse-charge invoices carry no VAT.
func invoiceLines(lines []model.MappedLine, fields *model.ExtractedFields, c model.ControlAccounts) ([]model.JournalLine, error) {
	net, tax := totals(lines)
	if fields.ReverseCharge {
		tax = decimal.Zero
	}

	var out []model.JournalLine
	if gross := net.Add(tax); gross.IsPositive() {
		out = append(out, debit(c.Receivable, "Accounts receivable", gross, model.LineKindControl))
	}
	for _, m := range lines {
		if amt := m.Item.Amount(); amt.IsPositive() {
			l := credit(m.AccountCode, m.Item.Description, amt, model.LineKindMapped)
			if !fields.ReverseCharge {
				l.TaxRate = m.Item.TaxRate
			}
			out = append(out, l)
		}
	}
	if tax.IsPositive() {
		out = append(out, credit(c.VATOutput, "VAT output", tax, model.LineKindTax))
	}
	return out, nil
}

// payrollLines: Dr cost lines, Cr contributions, Cr income tax, Cr net wages
// as the balancing liability.
func payrollLines(lines []model.MappedLine, fields *model.ExtractedFields, c model.ControlAccounts) ([]model.JournalLine, error) {
	var out []model.JournalLine
	cost := decimal.Zero
	for _, m := range lines {
		if amt := m.Item.Amount(); amt.IsPositive() {
			out = append(out, debit(m.AccountCode, m.Item.Description, amt, model.LineKindMapped))
			cost = cost.Add(amt)
		}
	}

	social, incomeTax := decimal.Zero, decimal.Zero
	if w := fields.Withholdings; w != nil {
		social = w.SocialInsurance.Round(2)
		incomeTax = w.IncomeTax.Round(2)
	}
	if social.IsPositive() {
		out = append(out, credit(c.PayrollSocial, "Social insurance payable", social, model.LineKindControl))
	}
	if incomeTax.IsPositive() {
		out = append(out, credit(c.PayrollTax, "Income tax payable", incomeTax, model.LineKindControl))
	}

	net := cost.Sub(social).Sub(incomeTax)
	if net.IsNegative() {
		return nil, &UnbalancedError{Debit: cost, Credit: social.Add(incomeTax),
			Reason: "withholdings exceed payroll cost, net wages would be negative"}
	}
	if net.IsPositive() {
		out = append(out, credit(c.NetWages, "Net wages payable", net, model.LineKindBalance))
	}
	return out, nil
}

// shareLines: Dr receivable (total), Cr capital and premium lines.
func shareLines(lines []model.MappedLine, _ *model.ExtractedFields, c model.ControlAccounts) ([]model.JournalLine, error) {
	net, _ := totals(lines)

	var out []model.JournalLine
	if net.IsPositive() {
		out = append(out, debit(c.Receivable, "Share subscription receivable", net, model.LineKindControl))
	}
	for _, m := range lines {
		if amt := m.Item.Amount(); amt.IsPositive() {
			out = append(out, credit(m.AccountCode, m.Item.Description, amt, model.LineKindMapped))
		}
	}
	return out, nil
}

// bankLines: money in debits the bank account; money out credits it.
func bankLines(lines []model.MappedLine, _ *model.ExtractedFields, c model.ControlAccounts) ([]model.JournalLine, error) {
	var out []model.JournalLine
	for _, m := range lines {
		amt := m.Item.Amount()
		if !amt.IsPositive() {
			continue
		}
		if m.Item.Direction == model.DirectionOut {
			out = append(out,
				debit(m.AccountCode, m.Item.Description, amt, model.LineKindMapped),
				credit(c.Bank, m.Item.Description, amt, model.LineKindBank))
			continue
		}
		out = append(out,
			debit(c.Bank, m.Item.Description, amt, model.LineKindBank),
			credit(m.AccountCode, m.Item.Description, amt, model.LineKindMapped))
	}
	return out, nil
}
