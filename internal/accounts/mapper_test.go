package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ledger-cli/internal/model"
)

func line(desc string, amount string) model.LineItem {
	return model.LineItem{
		Description: desc,
		Quantity:    decimal.NewFromInt(1),
		UnitAmount:  decimal.RequireFromString(amount),
		TaxRate:     decimal.RequireFromString("0.19"),
	}
}

func billFields(items ...model.LineItem) *model.ExtractedFields {
	return &model.ExtractedFields{
		Type:        model.DocumentTypeBill,
		Perspective: model.PerspectiveInbound,
		Currency:    "EUR",
		LineItems:   items,
	}
}

func company(flags ...string) model.CompanyContext {
	return model.CompanyContext{
		ID:           "acme",
		BaseCurrency: "EUR",
		Flags:        flags,
		Controls:     model.DefaultControlAccounts(),
	}
}

func TestMap_DefaultRules(t *testing.T) {
	t.Parallel()

	fields := billFields(
		line("Legal services - contract review", "500"),
		line("Monthly office rent", "1200"),
		line("Current account reconciliation", "80"),
	)
	got, err := Map(fields, DefaultRules(), company(), nil)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "7600", got[0].AccountCode)
	assert.Equal(t, "bill-legal", got[0].RuleID)
	assert.Equal(t, "7100", got[1].AccountCode)
	assert.Equal(t, "8200", got[2].AccountCode, "rent keyword must not match inside 'current'")
	assert.Equal(t, 2, got[2].Index)
}

func TestMap_SpecializedBeatsCommonRegardlessOfOrder(t *testing.T) {
	t.Parallel()

	common := model.Rule{
		ID: "common-architect", Tier: model.TierCommon, Priority: 1, AccountCode: "7603",
		Match: model.Match{Keywords: []string{"architect"}},
	}
	specialized := model.Rule{
		ID: "property-architect", Tier: model.TierSpecialized, Priority: 99, AccountCode: "0060",
		Match: model.Match{Keywords: []string{"architect"}},
	}
	fields := billFields(line("Architect fees - plot 12", "3000"))

	for _, rules := range [][]model.Rule{{common, specialized}, {specialized, common}} {
		got, err := Map(fields, rules, company(), nil)
		require.NoError(t, err)
		assert.Equal(t, "0060", got[0].AccountCode)
		assert.Equal(t, model.TierSpecialized, got[0].Tier)
	}
}

func TestMap_PropertyDevelopmentFlag(t *testing.T) {
	t.Parallel()

	fields := billFields(line("Topographical survey of plot 42", "2500"))

	got, err := Map(fields, DefaultRules(), company(model.FlagPropertyDevelopment), nil)
	require.NoError(t, err)
	assert.Equal(t, "0060", got[0].AccountCode)

	got, err = Map(fields, DefaultRules(), company(), nil)
	require.NoError(t, err)
	assert.Equal(t, "8200", got[0].AccountCode, "without the flag the common fallback applies")
}

func TestMap_Deterministic(t *testing.T) {
	t.Parallel()

	fields := billFields(line("Broadband internet", "40"), line("Courier delivery", "15"))
	rules := DefaultRules()

	first, err := Map(fields, rules, company(), nil)
	require.NoError(t, err)
	for range 20 {
		again, err := Map(fields, rules, company(), nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMap_PriorityThenID(t *testing.T) {
	t.Parallel()

	rules := []model.Rule{
		{ID: "b", Tier: model.TierCommon, Priority: 5, AccountCode: "B"},
		{ID: "a", Tier: model.TierCommon, Priority: 5, AccountCode: "A"},
		{ID: "z", Tier: model.TierCommon, Priority: 1, AccountCode: "Z", Match: model.Match{Keywords: []string{"nothing-matches"}}},
	}
	got, err := Map(billFields(line("anything", "1")), rules, company(), nil)
	require.NoError(t, err)
	assert.Equal(t, "A", got[0].AccountCode)
}

func TestMap_OverridesWin(t *testing.T) {
	t.Parallel()

	fields := billFields(line("Legal services", "500"), line("Mystery item", "10"))
	rules := []model.Rule{{ID: "legal", Tier: model.TierCommon, AccountCode: "7600",
		Match: model.Match{Keywords: []string{"legal"}}}}

	got, err := Map(fields, rules, company(), map[int]string{0: "7603", 1: "8200"})
	require.NoError(t, err)
	assert.Equal(t, "7603", got[0].AccountCode)
	assert.Equal(t, model.RuleIDManual, got[0].RuleID)
	assert.Equal(t, "8200", got[1].AccountCode)
}

func TestMap_Unmapped(t *testing.T) {
	t.Parallel()

	fields := &model.ExtractedFields{
		Type:     model.DocumentTypeBankStatement,
		Currency: "EUR",
		LineItems: []model.LineItem{
			{Description: "Interest credit", UnitAmount: decimal.NewFromInt(3), Direction: model.DirectionIn},
			{Description: "Transfer to J. Smith", UnitAmount: decimal.NewFromInt(250), Direction: model.DirectionOut, CategoryHint: "transfer"},
			{Description: "Unknown debit", UnitAmount: decimal.NewFromInt(9), Direction: model.DirectionOut},
		},
	}
	_, err := Map(fields, DefaultRules(), company(), nil)
	require.Error(t, err)

	var ue *UnmappedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 1, ue.LineIndex)
	assert.Equal(t, "Transfer to J. Smith", ue.Description)
	assert.Equal(t, "transfer", ue.CategoryHint)
	assert.Equal(t, []int{1, 2}, ue.Unmapped)
	assert.Equal(t, model.ErrCodeUnmappedLineItem, model.CodeOf(err))

	v := ue.Violations(fields)
	require.Len(t, v, 2)
	assert.Equal(t, 2, *v[1].LineIndex)
	assert.Contains(t, v[1].Message, "Unknown debit")
}

func TestMatches_Predicates(t *testing.T) {
	t.Parallel()

	yes, no := true, false
	item := line("Wire fee", "12")
	item.Direction = model.DirectionOut
	item.TaxRate = decimal.Zero
	fields := &model.ExtractedFields{Type: model.DocumentTypeBankStatement, Perspective: model.PerspectiveNeutral, Currency: "USD"}

	tests := []struct {
		name  string
		match model.Match
		want  bool
	}{
		{"empty matches all", model.Match{}, true},
		{"type", model.Match{DocumentTypes: []model.DocumentType{model.DocumentTypeBill}}, false},
		{"perspective", model.Match{Perspectives: []model.Perspective{model.PerspectiveNeutral}}, true},
		{"negative sign", model.Match{Sign: model.SignNegative}, true},
		{"positive sign", model.Match{Sign: model.SignPositive}, false},
		{"currency case-insensitive", model.Match{Currencies: []string{"usd"}}, true},
		{"foreign", model.Match{ForeignCurrency: &yes}, true},
		{"not foreign", model.Match{ForeignCurrency: &no}, false},
		{"zero rated", model.Match{ZeroRated: &yes}, true},
		{"keyword", model.Match{Keywords: []string{"FEE"}}, true},
		{"company flag missing", model.Match{CompanyFlags: []string{model.FlagVATRegistered}}, false},
		{"all must hold", model.Match{Keywords: []string{"fee"}, Sign: model.SignPositive}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.match, fields, item, company()))
		})
	}
}

func TestSortRules(t *testing.T) {
	t.Parallel()

	in := []model.Rule{
		{ID: "c2", Tier: model.TierCommon, Priority: 2},
		{ID: "s9", Tier: model.TierSpecialized, Priority: 9},
		{ID: "c1", Tier: model.TierCommon, Priority: 1},
		{ID: "s1", Tier: model.TierSpecialized, Priority: 1},
	}
	got := SortRules(in)
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"s1", "s9", "c1", "c2"}, ids)
	assert.Equal(t, "c2", in[0].ID, "input is not reordered")
}

func TestDefaultRulesValid(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	require.NotEmpty(t, rules)
	require.NoError(t, ValidateRules(rules))

	// Every pipeline document type has a fallback except bank statements.
	for _, dt := range []model.DocumentType{model.DocumentTypeBill, model.DocumentTypeInvoice,
		model.DocumentTypePayroll, model.DocumentTypeShareTransaction} {
		fields := &model.ExtractedFields{Type: dt, Currency: "EUR",
			LineItems: []model.LineItem{line("zzz", "1")}}
		_, err := Map(fields, rules, company(), nil)
		assert.NoError(t, err, dt)
	}
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: hotel
    tier: specialized
    priority: 5
    account: "7402"
    match:
      document_types: [bill]
      keywords: [hotel]
`), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "7402", rules[0].AccountCode)
	assert.Equal(t, model.TierSpecialized, rules[0].Tier)
	assert.Equal(t, []string{"hotel"}, rules[0].Match.Keywords)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRules_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing id":   "rules: [{tier: common, account: '1'}]",
		"duplicate":    "rules: [{id: a, tier: common, account: '1'}, {id: a, tier: common, account: '2'}]",
		"bad tier":     "rules: [{id: a, tier: rare, account: '1'}]",
		"no account":   "rules: [{id: a, tier: common}]",
		"bad sign":     "rules: [{id: a, tier: common, account: '1', match: {sign: up}}]",
		"invalid yaml": "rules: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules([]byte(doc))
			assert.Error(t, err)
		})
	}
}
