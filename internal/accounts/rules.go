package accounts

import (
	_ "embed"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ledger-cli/internal/model"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

var loadDefaults = sync.OnceValues(func() ([]model.Rule, error) {
	return ParseRules(defaultRulesYAML)
})

// RuleFile is the on-disk rule format.
type RuleFile struct {
	Rules []model.Rule `yaml:"rules"`
}

// DefaultRules returns the built-in rule set for the standard chart. Callers
// may modify the returned slice.
func DefaultRules() []model.Rule {
	rules, err := loadDefaults()
	if err != nil {
		panic(err)
	}
	return cloneRules(rules)
}

// LoadRules reads a YAML rule file.
func LoadRules(path string) ([]model.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "accounts: read rules %s", path)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, eris.Wrapf(err, "accounts: rules %s", path)
	}
	return rules, nil
}

// ParseRules decodes and checks a YAML rule document.
func ParseRules(data []byte) ([]model.Rule, error) {
	var f RuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "accounts: parse rules")
	}
	if err := ValidateRules(f.Rules); err != nil {
		return nil, err
	}
	return f.Rules, nil
}

// ValidateRules checks ids are present and unique, tiers are known and every
// rule names an account.
func ValidateRules(rules []model.Rule) error {
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return eris.Errorf("accounts: rule %d has no id", i)
		}
		if seen[r.ID] {
			return eris.Errorf("accounts: duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Tier != model.TierCommon && r.Tier != model.TierSpecialized {
			return eris.Errorf("accounts: rule %q has unknown tier %q", r.ID, r.Tier)
		}
		if r.AccountCode == "" {
			return eris.Errorf("accounts: rule %q has no account", r.ID)
		}
		switch r.Match.Sign {
		case model.SignAny, model.SignPositive, model.SignNegative:
		default:
			return eris.Errorf("accounts: rule %q has unknown sign %q", r.ID, r.Match.Sign)
		}
	}
	return nil
}

func cloneRules(rules []model.Rule) []model.Rule {
	out := make([]model.Rule, len(rules))
	copy(out, rules)
	return out
}
