package reconcile

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point helpers
// =============================================================================

// MoneyPlaces is the number of decimal places money is displayed with.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Round rounds to MoneyPlaces using half away from zero (half-up for
// positive amounts). Call it once, at display time.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// FormatMoney renders d with exactly two decimals.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

// ParseMoney parses a decimal string. Empty or non-numeric input reports ok=false.
func ParseMoney(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// MustParseDecimal parses s or returns zero. For literals in tests and scenarios.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Money is shorthand for a valid NullDecimal parsed from s.
func Money(s string) decimal.NullDecimal {
	d, ok := ParseMoney(s)
	return decimal.NullDecimal{Decimal: d, Valid: ok}
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
