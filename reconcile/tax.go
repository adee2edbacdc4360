package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// defaultTaxPercent applies when an invoice carries no usable tax rate.
// Engines may be configured with a different default (Options).
const defaultTaxPercent = 5

// DefaultTaxPercent returns the built-in default rate.
func DefaultTaxPercent() decimal.Decimal {
	return decimal.NewFromInt(defaultTaxPercent)
}

// ValidTaxPercent reports whether pct lies in [0, 100).
func ValidTaxPercent(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThan(hundred)
}

// SplitTax divides a tax-inclusive gross amount into its net and tax parts:
//
//	net = gross / (1 + pct/100)
//	tax = gross - net
//
// Results are unrounded so that sums across many invoices do not drift.
func SplitTax(gross, taxPercent decimal.Decimal) (net, tax decimal.Decimal, err error) {
	if !ValidTaxPercent(taxPercent) {
		return decimal.Zero, decimal.Zero, &FieldError{
			Field: "tax_percent",
			Value: taxPercent.String(),
			Err:   ErrInvalidTaxRate,
		}
	}
	divisor := decimal.NewFromInt(1).Add(taxPercent.Div(hundred))
	net = gross.Div(divisor)
	tax = gross.Sub(net)
	return net, tax, nil
}

// resolveTaxPercent picks the rate used for an invoice. An absent rate
// silently takes the default; an out-of-range rate takes the default and
// returns an issue describing the substitution.
func (e *Engine) resolveTaxPercent(inv Invoice) (decimal.Decimal, *Issue) {
	if !inv.TaxPercent.Valid {
		return e.defaultTax, nil
	}
	if ValidTaxPercent(inv.TaxPercent.Decimal) {
		return inv.TaxPercent.Decimal, nil
	}
	return e.defaultTax, &Issue{
		Code:      IssueInvalidTaxRate,
		InvoiceID: inv.ID,
		Field:     "tax_percent",
		Message: fmt.Sprintf("tax rate %s outside [0,100), using default %s",
			inv.TaxPercent.Decimal.String(), e.defaultTax.String()),
	}
}
