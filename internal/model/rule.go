package model

// Tier orders rule evaluation. Specialized rules are evaluated before common
// rules and the first match wins.
type Tier string

const (
	TierSpecialized Tier = "specialized"
	TierCommon      Tier = "common"
)

// Rank returns the evaluation order of a tier (lower first). Unknown tiers
// sort last.
func (t Tier) Rank() int {
	switch t {
	case TierSpecialized:
		return 0
	case TierCommon:
		return 1
	default:
		return 2
	}
}

// Sign restricts a rule to positive or negative signed line amounts.
type Sign string

const (
	SignAny      Sign = ""
	SignPositive Sign = "positive"
	SignNegative Sign = "negative"
)

// Match is a rule predicate. Every non-empty field must hold for the rule to
// apply; an empty Match matches everything.
type Match struct {
	DocumentTypes   []DocumentType `json:"document_types,omitempty" yaml:"document_types,omitempty"`
	Perspectives    []Perspective  `json:"perspectives,omitempty" yaml:"perspectives,omitempty"`
	CategoryHints   []string       `json:"category_hints,omitempty" yaml:"category_hints,omitempty"`
	Keywords        []string       `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Sign            Sign           `json:"sign,omitempty" yaml:"sign,omitempty"`
	Currencies      []string       `json:"currencies,omitempty" yaml:"currencies,omitempty"`
	ForeignCurrency *bool          `json:"foreign_currency,omitempty" yaml:"foreign_currency,omitempty"`
	ZeroRated       *bool          `json:"zero_rated,omitempty" yaml:"zero_rated,omitempty"`
	CompanyFlags    []string       `json:"company_flags,omitempty" yaml:"company_flags,omitempty"`
}

// Rule maps matching line items to a chart-of-accounts code.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Tier        Tier   `json:"tier" yaml:"tier"`
	Priority    int    `json:"priority" yaml:"priority"`
	Match       Match  `json:"match" yaml:"match"`
	AccountCode string `json:"account_code" yaml:"account"`
}

// MappedLine is a line item resolved to an account code.
type MappedLine struct {
	Index       int      `json:"index"`
	Item        LineItem `json:"item"`
	AccountCode string   `json:"account_code"`
	RuleID      string   `json:"rule_id"`
	Tier        Tier     `json:"tier,omitempty"`
}

// RuleIDManual marks a line assigned by an operator rather than a rule.
const RuleIDManual = "manual"
