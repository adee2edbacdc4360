package reconcile

import "github.com/shopspring/decimal"

// Status is the settlement state of an invoice or a selection.
type Status string

const (
	StatusUnpaid        Status = "unpaid"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
)

func (s Status) String() string { return string(s) }

// Classify maps a paid amount against the total owed to a Status.
//
// The checks run in a fixed order. A non-positive total counts as settled
// once anything was paid, so a fully returned invoice with a residual payment
// is Paid, while paid == total == 0 resolves to Unpaid.
func Classify(paid, total decimal.Decimal) Status {
	if !total.IsPositive() {
		if paid.IsPositive() {
			return StatusPaid
		}
		return StatusUnpaid
	}
	if !paid.IsPositive() {
		return StatusUnpaid
	}
	if paid.GreaterThanOrEqual(total) {
		return StatusPaid
	}
	return StatusPartiallyPaid
}
