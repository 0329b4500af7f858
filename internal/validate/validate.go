// Package validate checks extracted fields against structural and business
// rules before any account mapping happens.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/ledger-cli/internal/config"
	"github.com/sells-group/ledger-cli/internal/model"
)

// Rule names recorded on violations.
const (
	RuleNegativeAmount = "non_negative"
	RuleTaxRate        = "tax_rate_range"
	RuleNoLines        = "line_items_required"
	RuleTotalMismatch  = "total_reconciles"
	RuleSubtotal       = "subtotal_reconciles"
	RuleTaxTotal       = "tax_total_reconciles"
	RuleDateFormat     = "date_format"
	RuleDateRange      = "date_range"
	RuleDueBeforeIssue = "due_after_issue"
	RulePeriodFormat   = "period_format"
)

// Config bounds the business rules.
type Config struct {
	Tolerance      decimal.Decimal
	MaxPastYears   int
	MaxFutureYears int
}

// DefaultConfig returns a one-cent tolerance and a 10 year past / 1 year future window.
func DefaultConfig() Config {
	return Config{Tolerance: decimal.New(1, -2), MaxPastYears: 10, MaxFutureYears: 1}
}

// FromConfig builds a Config from pipeline settings.
func FromConfig(cfg config.PipelineConfig) (Config, error) {
	out := DefaultConfig()
	if cfg.AmountTolerance != "" {
		tol, err := decimal.NewFromString(cfg.AmountTolerance)
		if err != nil {
			return Config{}, eris.Wrapf(err, "validate: amount tolerance %q", cfg.AmountTolerance)
		}
		if tol.IsNegative() {
			return Config{}, eris.Errorf("validate: amount tolerance must not be negative, got %s", tol)
		}
		out.Tolerance = tol
	}
	if cfg.MaxPastYears > 0 {
		out.MaxPastYears = cfg.MaxPastYears
	}
	if cfg.MaxFutureYears > 0 {
		out.MaxFutureYears = cfg.MaxFutureYears
	}
	return out, nil
}

// Result is the outcome of Validate. OK is true iff Violations is empty.
type Result struct {
	OK         bool
	Violations []model.Violation
}

// Err returns a *Error for a failed result and nil otherwise.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &Error{Violations: r.Violations}
}

// Error carries every violation of a failed validation.
type Error struct {
	Violations []model.Violation
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Message)
	}
	return fmt.Sprintf("validate: %d violation(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// ErrorCode implements model.Coded.
func (e *Error) ErrorCode() model.ErrorCode { return model.ErrCodeValidationFailed }

// Validator applies struct tags and business rules to extracted fields.
type Validator struct {
	cfg      Config
	validate *validator.Validate
	now      func() time.Time
}

// New creates a Validator.
func New(cfg Config) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{cfg: cfg, validate: v, now: time.Now}
}

// Validate checks fields and returns every violation found.
func (v *Validator) Validate(fields *model.ExtractedFields) Result {
	if fields == nil {
		return Result{Violations: []model.Violation{{Field: "fields", Rule: "required", Message: "no extracted fields"}}}
	}

	var out []model.Violation
	out = append(out, v.structViolations(fields)...)
	out = append(out, v.lineViolations(fields)...)
	out = append(out, v.totalViolations(fields)...)
	out = append(out, v.dateViolations(fields)...)

	return Result{OK: len(out) == 0, Violations: out}
}

func (v *Validator) structViolations(fields *model.ExtractedFields) []model.Violation {
	err := v.validate.Struct(fields)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []model.Violation{{Field: "fields", Rule: "struct", Message: err.Error()}}
	}

	out := make([]model.Violation, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		msg := fmt.Sprintf("%s failed %s", field, fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		if fe.Value() != nil && fe.Tag() != "required" {
			msg += fmt.Sprintf(" (got %v)", fe.Value())
		}
		out = append(out, model.Violation{Field: field, Rule: fe.Tag(), Message: msg})
	}
	return out
}

func (v *Validator) lineViolations(fields *model.ExtractedFields) []model.Violation {
	if len(fields.LineItems) == 0 {
		return []model.Violation{{Field: "line_items", Rule: RuleNoLines, Message: "document has no line items"}}
	}

	var out []model.Violation
	one := decimal.NewFromInt(1)
	for i, li := range fields.LineItems {
		idx := i
		for _, f := range []struct {
			name string
			val  decimal.Decimal
		}{{"quantity", li.Quantity}, {"unit_amount", li.UnitAmount}, {"tax_rate", li.TaxRate}} {
			if f.val.IsNegative() {
				out = append(out, model.Violation{
					Field: "line_items." + f.name, Rule: RuleNegativeAmount, LineIndex: &idx,
					Message: fmt.Sprintf("line %d %s is negative (%s)", i, f.name, f.val),
				})
			}
		}
		if li.TaxRate.GreaterThan(one) {
			out = append(out, model.Violation{
				Field: "line_items.tax_rate", Rule: RuleTaxRate, LineIndex: &idx,
				Message: fmt.Sprintf("line %d tax rate %s exceeds 1", i, li.TaxRate),
			})
		}
	}
	if w := fields.Withholdings; w != nil {
		if w.SocialInsurance.IsNegative() || w.IncomeTax.IsNegative() {
			out = append(out, model.Violation{Field: "withholdings", Rule: RuleNegativeAmount,
				Message: "payroll withholdings must not be negative"})
		}
	}
	return out
}

// totalViolations reconciles stated totals with the line sums. A stated
// total may include or exclude tax. Bank statement totals are balances and
// are not reconciled.
func (v *Validator) totalViolations(fields *model.ExtractedFields) []model.Violation {
	if fields.Type == model.DocumentTypeBankStatement || len(fields.LineItems) == 0 {
		return nil
	}
	net := fields.LineTotal()
	tax := fields.LineTax()
	tol := v.cfg.Tolerance
	within := func(a, b, tol decimal.Decimal) bool { return a.Sub(b).Abs().LessThanOrEqual(tol) }

	var out []model.Violation
	if s := fields.Subtotal; s != nil && !within(*s, net, tol) {
		out = append(out, model.Violation{Field: "subtotal", Rule: RuleSubtotal,
			Message: fmt.Sprintf("stated subtotal %s does not match line sum %s", s.StringFixed(2), net.StringFixed(2))})
	}

	// Per-line rounding may drift by up to the tolerance per line.
	taxTol := tol.Mul(decimal.NewFromInt(int64(len(fields.LineItems))))
	if tt := fields.TaxTotal; tt != nil {
		if !within(*tt, tax, taxTol) && !(fields.ReverseCharge && tt.IsZero()) {
			out = append(out, model.Violation{Field: "tax_total", Rule: RuleTaxTotal,
				Message: fmt.Sprintf("stated tax %s does not match computed tax %s", tt.StringFixed(2), tax.StringFixed(2))})
		}
		tax = *tt
	}

	if t := fields.Total; t != nil && !within(*t, net, tol) && !within(*t, net.Add(tax), taxTol) {
		out = append(out, model.Violation{Field: "total", Rule: RuleTotalMismatch,
			Message: fmt.Sprintf("stated total %s matches neither net %s nor gross %s",
				t.StringFixed(2), net.StringFixed(2), net.Add(tax).StringFixed(2))})
	}
	return out
}

func (v *Validator) dateViolations(fields *model.ExtractedFields) []model.Violation {
	now := v.now()
	earliest := now.AddDate(-v.cfg.MaxPastYears, 0, 0)
	latest := now.AddDate(v.cfg.MaxFutureYears, 0, 0)

	var out []model.Violation
	check := func(name, val string) (time.Time, bool) {
		t, err := time.Parse(time.DateOnly, val)
		if err != nil {
			out = append(out, model.Violation{Field: name, Rule: RuleDateFormat,
				Message: fmt.Sprintf("%s %q is not YYYY-MM-DD", name, val)})
			return time.Time{}, false
		}
		if t.Before(earliest) || t.After(latest) {
			out = append(out, model.Violation{Field: name, Rule: RuleDateRange,
				Message: fmt.Sprintf("%s %s is outside %s..%s", name, val,
					earliest.Format(time.DateOnly), latest.Format(time.DateOnly))})
		}
		return t, true
	}

	var issue time.Time
	var issueOK bool
	if fields.IssueDate != "" {
		issue, issueOK = check("issue_date", fields.IssueDate)
	}
	if fields.DueDate != "" {
		if due, ok := check("due_date", fields.DueDate); ok && issueOK && due.Before(issue) {
			out = append(out, model.Violation{Field: "due_date", Rule: RuleDueBeforeIssue,
				Message: fmt.Sprintf("due date %s is before issue date %s", fields.DueDate, fields.IssueDate)})
		}
	}
	if fields.Period != "" {
		if _, err := time.Parse("2006-01", fields.Period); err != nil {
			out = append(out, model.Violation{Field: "period", Rule: RulePeriodFormat,
				Message: fmt.Sprintf("period %q is not YYYY-MM", fields.Period)})
		}
	}
	return out
}
