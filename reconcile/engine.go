package reconcile

import "github.com/shopspring/decimal"

// Options configures an Engine. The zero value uses DefaultTaxPercent.
type Options struct {
	DefaultTaxPercent decimal.NullDecimal
}

// Engine runs reconciliation computations. It holds only immutable
// configuration, so one Engine can serve concurrent requests.
type Engine struct {
	defaultTax decimal.Decimal
}

// New builds an Engine. A configured default rate outside [0,100) is
// rejected with ErrInvalidTaxRate.
func New(opts Options) (*Engine, error) {
	def := DefaultTaxPercent()
	if opts.DefaultTaxPercent.Valid {
		if !ValidTaxPercent(opts.DefaultTaxPercent.Decimal) {
			return nil, &FieldError{
				Field: "default_tax_percent",
				Value: opts.DefaultTaxPercent.Decimal.String(),
				Err:   ErrInvalidTaxRate,
			}
		}
		def = opts.DefaultTaxPercent.Decimal
	}
	return &Engine{defaultTax: def}, nil
}

// Default returns an Engine using DefaultTaxPercent.
func Default() *Engine {
	return &Engine{defaultTax: DefaultTaxPercent()}
}

// DefaultTax is the rate substituted for absent or invalid invoice rates.
func (e *Engine) DefaultTax() decimal.Decimal {
	return e.defaultTax
}
