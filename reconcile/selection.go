package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SELECTION AGGREGATE - Invoices settled together in one voucher
// =============================================================================

// AggregateSelection sums the figures of the selected invoices and applies
// a return amount (goods returned, reducing what is owed).
//
//	adjustedTotal = max(grossTotal - min(returnAmount, grossTotal), 0)
//	balance       = adjustedTotal - paidTotal     (not floored)
//	status        = Classify(paidTotal, adjustedTotal)
//
// A negative return amount fails the whole computation before anything is
// summed. An empty selection yields the zero aggregate with status Unpaid.
func (e *Engine) AggregateSelection(invoices []Invoice, index *LinkageIndex, returnAmount decimal.Decimal) (SelectionAggregate, error) {
	if returnAmount.IsNegative() {
		return SelectionAggregate{}, &FieldError{
			Field: "return_amount",
			Value: returnAmount.String(),
			Err:   ErrInvalidReturnAmount,
		}
	}

	sel := SelectionAggregate{
		NetTotal:      decimal.Zero,
		TaxTotal:      decimal.Zero,
		GrossTotal:    decimal.Zero,
		ReturnAmount:  decimal.Zero,
		AdjustedTotal: decimal.Zero,
		PaidTotal:     decimal.Zero,
		BalanceAmount: decimal.Zero,
		Status:        StatusUnpaid,
		Lines:         make([]InvoiceAggregate, 0, len(invoices)),
	}
	if len(invoices) == 0 {
		return sel, nil
	}

	for _, inv := range invoices {
		line, err := e.BuildInvoiceAggregate(inv, index.Links(inv.ID))
		if err != nil {
			sel.Issues = append(sel.Issues, invalidAmountIssue(inv))
			continue
		}
		sel.Lines = append(sel.Lines, line)
		sel.Issues = append(sel.Issues, line.Issues...)
		sel.NetTotal = sel.NetTotal.Add(line.NetAmount)
		sel.TaxTotal = sel.TaxTotal.Add(line.TaxAmount)
		sel.GrossTotal = sel.GrossTotal.Add(line.GrossAmount)
		sel.PaidTotal = sel.PaidTotal.Add(line.PaidAmount)
	}

	sel.ReturnAmount = maxDecimal(minDecimal(returnAmount, sel.GrossTotal), decimal.Zero)
	sel.AdjustedTotal = maxDecimal(sel.GrossTotal.Sub(sel.ReturnAmount), decimal.Zero)
	sel.BalanceAmount = sel.AdjustedTotal.Sub(sel.PaidTotal)
	sel.Status = Classify(sel.PaidTotal, sel.AdjustedTotal)

	if sel.PaidTotal.GreaterThan(sel.AdjustedTotal) {
		sel.Issues = append(sel.Issues, Issue{
			Code:  IssueInconsistentLinkage,
			Field: "paid_total",
			Message: fmt.Sprintf("linked payments %s exceed adjusted total %s",
				FormatMoney(sel.PaidTotal), FormatMoney(sel.AdjustedTotal)),
		})
	}
	return sel, nil
}
