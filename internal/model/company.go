package model

import "slices"

// Company flags recognized by the default rule set.
const (
	FlagPropertyDevelopment = "property_development"
	FlagVATRegistered       = "vat_registered"
)

// ControlAccounts are the balancing accounts the journal builder posts
// against. Keys in configuration use the json tag names.
type ControlAccounts struct {
	Payable       string `json:"payable" yaml:"payable"`
	Receivable    string `json:"receivable" yaml:"receivable"`
	VATOutput     string `json:"vat_output" yaml:"vat_output"`
	VATInput      string `json:"vat_input" yaml:"vat_input"`
	Bank          string `json:"bank" yaml:"bank"`
	PayrollSocial string `json:"payroll_social" yaml:"payroll_social"`
	PayrollTax    string `json:"payroll_tax" yaml:"payroll_tax"`
	NetWages      string `json:"net_wages" yaml:"net_wages"`
	ShareCapital  string `json:"share_capital" yaml:"share_capital"`
}

// DefaultControlAccounts returns the control accounts of the standard chart.
func DefaultControlAccounts() ControlAccounts {
	return ControlAccounts{
		Payable:       "2100",
		Receivable:    "1100",
		VATOutput:     "2201",
		VATInput:      "2202",
		Bank:          "1200",
		PayrollSocial: "2210",
		PayrollTax:    "2220",
		NetWages:      "2250",
		ShareCapital:  "3000",
	}
}

// WithOverrides returns a copy with any non-empty override applied.
func (c ControlAccounts) WithOverrides(overrides map[string]string) ControlAccounts {
	set := func(dst *string, key string) {
		if v, ok := overrides[key]; ok && v != "" {
			*dst = v
		}
	}
	set(&c.Payable, "payable")
	set(&c.Receivable, "receivable")
	set(&c.VATOutput, "vat_output")
	set(&c.VATInput, "vat_input")
	set(&c.Bank, "bank")
	set(&c.PayrollSocial, "payroll_social")
	set(&c.PayrollTax, "payroll_tax")
	set(&c.NetWages, "net_wages")
	set(&c.ShareCapital, "share_capital")
	return c
}

// CompanyContext is everything the mapper and builder may know about the
// operating company. Nothing outside it is consulted.
type CompanyContext struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	BaseCurrency string          `json:"base_currency"`
	Flags        []string        `json:"flags,omitempty"`
	Rules        []Rule          `json:"rules,omitempty"`
	Controls     ControlAccounts `json:"controls"`
}

// HasFlag reports whether the company carries the given flag.
func (c CompanyContext) HasFlag(flag string) bool {
	return slices.Contains(c.Flags, flag)
}
