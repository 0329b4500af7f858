package extract

import (
	"strings"

	"github.com/sells-group/ledger-cli/internal/model"
)

// Mandatory field names reported in FieldPresence.
const (
	FieldVendorIdentity      = "vendor_identity"
	FieldCustomerIdentity    = "customer_identity"
	FieldShareholderIdentity = "shareholder_identity"
	FieldLineItems           = "line_items"
	FieldTotal               = "total"
	FieldPeriod              = "period"
	FieldStatementDate       = "statement_date"
)

type check func(raw *rawFields, f *model.ExtractedFields) bool

type strategy struct {
	prompt    string
	mandatory []string
	checks    map[string]check
}

func (s strategy) presence(raw *rawFields, f *model.ExtractedFields) model.FieldPresence {
	p := model.FieldPresence{Present: []string{}, Missing: []string{}}
	for _, name := range s.mandatory {
		if s.checks[name](raw, f) {
			p.Present = append(p.Present, name)
		} else {
			p.Missing = append(p.Missing, name)
		}
	}
	return p
}

func hasCounterparty(_ *rawFields, f *model.ExtractedFields) bool {
	return f.Counterparty != nil && strings.TrimSpace(f.Counterparty.Name) != ""
}

func hasLines(_ *rawFields, f *model.ExtractedFields) bool { return len(f.LineItems) > 0 }

func hasTotal(_ *rawFields, f *model.ExtractedFields) bool { return f.Total != nil }

func hasPeriod(_ *rawFields, f *model.ExtractedFields) bool { return f.Period != "" }

func hasStatementDate(raw *rawFields, _ *model.ExtractedFields) bool {
	return raw.StatementDate != "" || raw.IssueDate != ""
}

func defaultStrategies() map[model.DocumentType]strategy {
	return map[model.DocumentType]strategy{
		model.DocumentTypeBill: {
			prompt:    billPrompt,
			mandatory: []string{FieldVendorIdentity, FieldLineItems, FieldTotal},
			checks:    map[string]check{FieldVendorIdentity: hasCounterparty, FieldLineItems: hasLines, FieldTotal: hasTotal},
		},
		model.DocumentTypeInvoice: {
			prompt:    invoicePrompt,
			mandatory: []string{FieldCustomerIdentity, FieldLineItems, FieldTotal},
			checks:    map[string]check{FieldCustomerIdentity: hasCounterparty, FieldLineItems: hasLines, FieldTotal: hasTotal},
		},
		model.DocumentTypePayroll: {
			prompt:    payrollPrompt,
			mandatory: []string{FieldPeriod, FieldLineItems},
			checks:    map[string]check{FieldPeriod: hasPeriod, FieldLineItems: hasLines},
		},
		model.DocumentTypeBankStatement: {
			prompt:    bankPrompt,
			mandatory: []string{FieldStatementDate, FieldLineItems},
			checks:    map[string]check{FieldStatementDate: hasStatementDate, FieldLineItems: hasLines},
		},
		model.DocumentTypeShareTransaction: {
			prompt:    sharePrompt,
			mandatory: []string{FieldShareholderIdentity, FieldLineItems, FieldTotal},
			checks:    map[string]check{FieldShareholderIdentity: hasCounterparty, FieldLineItems: hasLines, FieldTotal: hasTotal},
		},
	}
}

const baseSystemPrompt = `You extract structured data from financial documents for double-entry bookkeeping.
Use null for anything not printed on the document; never guess amounts or names.
Dates are YYYY-MM-DD. Currency is an ISO 4217 code. Amounts are decimal numbers
without thousands separators. tax_rate is a fraction (0.19 for 19%).

Reply with JSON:
{"counterparty": {"name": "", "tax_id": "", "email": "", "phone": "", "street": "", "city": "", "zip": "", "country_code": ""},
 "document_number": "", "issue_date": "", "due_date": "", "period": "", "statement_date": "", "currency": "",
 "line_items": [{"description": "", "quantity": 1, "unit_amount": 0, "tax_rate": 0, "category_hint": "", "direction": "", "group": ""}],
 "tax_lines": [{"rate": 0, "base": 0, "amount": 0}],
 "subtotal": null, "tax_total": null, "total": null, "reverse_charge": false,
 "withholdings": {"social_insurance": 0, "income_tax": 0}, "description": ""}`

const billPrompt = `This is a supplier bill. counterparty is the vendor that issued it.
One line item per priced line, net of tax. Set reverse_charge when the bill states
that VAT is accounted for by the recipient (reverse charge, article 196).
category_hint is a short lowercase label such as "legal", "rent", "software".`

const invoicePrompt = `This is a sales invoice issued by the operating company. counterparty is the customer.
One line item per priced line, net of tax. Set reverse_charge when VAT is not charged
because the customer accounts for it. When the document bundles several invoices,
set group to the invoice number of each line.`

const payrollPrompt = `This is a payroll report. period is the payroll month as YYYY-MM.
Emit one line item per employer cost: gross wages, bonuses, employer social insurance,
employer healthcare contributions and allowances, each with tax_rate 0.
withholdings.social_insurance is the total of employee plus employer contributions owed
to the social insurance fund; withholdings.income_tax is the income tax withheld.
counterparty may be null.`

const bankPrompt = `This is a bank statement. statement_date is the closing date of the statement.
Emit one line item per transaction with quantity 1, unit_amount as a positive number,
tax_rate 0 and direction "in" for money received or "out" for money paid.
category_hint is "customer_payment", "vendor_payment", "interest", "fee", "transfer" or "other".
counterparty is the bank. total is the closing balance when printed.`

const sharePrompt = `This is a share transaction document (allotment, subscription or transfer).
counterparty is the shareholder. Emit one line item for the nominal value of the shares
and, if any, one line item described as "share premium" for the amount paid above nominal.
total is the total consideration.`
