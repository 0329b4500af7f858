// Package accounts resolves extracted line items to chart-of-accounts codes
// using a tiered rule set. Mapping is a pure function of its inputs.
package accounts

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ledger-cli/internal/model"
)

// UnmappedError reports a line item no rule matched. LineIndex is the first
// such line; Unmapped lists all of them.
type UnmappedError struct {
	LineIndex    int
	Description  string
	CategoryHint string
	Unmapped     []int
}

func (e *UnmappedError) Error() string {
	msg := fmt.Sprintf("accounts: no rule matches line %d (%q", e.LineIndex, e.Description)
	if e.CategoryHint != "" {
		msg += ", category " + e.CategoryHint
	}
	msg += ")"
	if len(e.Unmapped) > 1 {
		msg += fmt.Sprintf(" and %d more line(s)", len(e.Unmapped)-1)
	}
	return msg
}

// ErrorCode implements model.Coded.
func (e *UnmappedError) ErrorCode() model.ErrorCode { return model.ErrCodeUnmappedLineItem }

// Violations renders the unmapped lines for the pipeline state.
func (e *UnmappedError) Violations(fields *model.ExtractedFields) []model.Violation {
	out := make([]model.Violation, 0, len(e.Unmapped))
	for _, idx := range e.Unmapped {
		i := idx
		desc := ""
		if fields != nil && idx < len(fields.LineItems) {
			desc = fields.LineItems[idx].Description
		}
		out = append(out, model.Violation{
			Field:     "line_items.account",
			Rule:      "unmapped",
			LineIndex: &i,
			Message:   fmt.Sprintf("no account rule matches %q", desc),
		})
	}
	return out
}

// SortRules returns a copy of rules in evaluation order: tier (specialized
// first), then priority ascending, then id.
func SortRules(rules []model.Rule) []model.Rule {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b model.Rule) int {
		return cmp.Or(
			cmp.Compare(a.Tier.Rank(), b.Tier.Rank()),
			cmp.Compare(a.Priority, b.Priority),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return sorted
}

// Map assigns an account code to every line item of fields. Entries in
// overrides (line index to account code) win over rules. The first matching
// rule in evaluation order wins.
func Map(fields *model.ExtractedFields, rules []model.Rule, company model.CompanyContext, overrides map[int]string) ([]model.MappedLine, error) {
	if fields == nil {
		return nil, eris.New("accounts: nil fields")
	}
	ordered := SortRules(rules)

	mapped := make([]model.MappedLine, 0, len(fields.LineItems))
	var unmapped []int
	for i, item := range fields.LineItems {
		if code := strings.TrimSpace(overrides[i]); code != "" {
			mapped = append(mapped, model.MappedLine{
				Index:       i,
				Item:        item,
				AccountCode: code,
				RuleID:      model.RuleIDManual,
			})
			continue
		}

		rule, ok := firstMatch(ordered, fields, item, company)
		if !ok {
			unmapped = append(unmapped, i)
			continue
		}
		mapped = append(mapped, model.MappedLine{
			Index:       i,
			Item:        item,
			AccountCode: rule.AccountCode,
			RuleID:      rule.ID,
			Tier:        rule.Tier,
		})
	}

	if len(unmapped) > 0 {
		first := fields.LineItems[unmapped[0]]
		return nil, &UnmappedError{
			LineIndex:    unmapped[0],
			Description:  first.Description,
			CategoryHint: first.CategoryHint,
			Unmapped:     unmapped,
		}
	}
	return mapped, nil
}

func firstMatch(ordered []model.Rule, fields *model.ExtractedFields, item model.LineItem, company model.CompanyContext) (model.Rule, bool) {
	for _, r := range ordered {
		if Matches(r.Match, fields, item, company) {
			return r, true
		}
	}
	return model.Rule{}, false
}

// Matches reports whether every non-empty predicate of m holds for item.
// Keywords match case-insensitively at word starts in the description and
// category hint.
func Matches(m model.Match, fields *model.ExtractedFields, item model.LineItem, company model.CompanyContext) bool {
	if len(m.DocumentTypes) > 0 && !slices.Contains(m.DocumentTypes, fields.Type) {
		return false
	}
	if len(m.Perspectives) > 0 && !slices.Contains(m.Perspectives, fields.Perspective) {
		return false
	}
	if len(m.CategoryHints) > 0 && !containsFold(m.CategoryHints, item.CategoryHint) {
		return false
	}
	if len(m.Keywords) > 0 && !anyKeyword(m.Keywords, item.Description+" "+item.CategoryHint) {
		return false
	}
	switch m.Sign {
	case model.SignPositive:
		if item.SignedAmount().IsNegative() {
			return false
		}
	case model.SignNegative:
		if !item.SignedAmount().IsNegative() {
			return false
		}
	}
	if len(m.Currencies) > 0 && !containsFold(m.Currencies, fields.Currency) {
		return false
	}
	if m.ForeignCurrency != nil && *m.ForeignCurrency != isForeign(fields.Currency, company.BaseCurrency) {
		return false
	}
	if m.ZeroRated != nil && *m.ZeroRated != item.TaxRate.IsZero() {
		return false
	}
	for _, flag := range m.CompanyFlags {
		if !company.HasFlag(flag) {
			return false
		}
	}
	return true
}

func isForeign(currency, base string) bool {
	if base == "" {
		return false
	}
	return !strings.EqualFold(currency, base)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// anyKeyword reports whether any keyword occurs in text at the start of a word.
func anyKeyword(keywords []string, text string) bool {
	text = strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		for from := 0; from < len(text); {
			i := strings.Index(text[from:], kw)
			if i < 0 {
				break
			}
			at := from + i
			if at == 0 || !isWordChar(text[at-1]) {
				return true
			}
			from = at + 1
		}
	}
	return false
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c >= 0x80
}
