/*
invoice.go - Single invoice aggregate

PURPOSE:

	Answers "what is left to pay on this invoice?" from the invoice record and
	the voucher links that reference it.

CALCULATION:

	(net, tax) = SplitTax(gross, taxPercent)
	paid       = sum of linked amounts
	balance    = gross - paid           (never floored at zero)
	status     = Classify(paid, gross)

	A negative balance is an overpayment. It is returned as is and flagged
	with an inconsistent_linkage issue so a reviewer can see it.

BATCHES:

	AggregateInvoices runs the builder over a list. Invoices with a missing or
	non-numeric gross amount are excluded from the totals and listed in
	BatchResult.Excluded; the rest of the batch completes.

SEE ALSO:
  - selection.go: the same figures summed over a selection
  - linkage.go: where the links come from
*/
package reconcile

import "fmt"

// BuildInvoiceAggregate derives the figures for one invoice. links must be
// the entries referencing inv (typically index.Links(inv.ID)).
func (e *Engine) BuildInvoiceAggregate(inv Invoice, links []Link) (InvoiceAggregate, error) {
	if !inv.GrossAmount.Valid {
		return InvoiceAggregate{}, &InvoiceError{InvoiceID: inv.ID, Err: ErrInvalidInvoiceAmount}
	}
	gross := inv.GrossAmount.Decimal

	var issues []Issue
	pct, taxIssue := e.resolveTaxPercent(inv)
	if taxIssue != nil {
		issues = append(issues, *taxIssue)
	}

	net, tax, err := SplitTax(gross, pct)
	if err != nil {
		// resolveTaxPercent only returns valid rates
		return InvoiceAggregate{}, &InvoiceError{InvoiceID: inv.ID, Err: err}
	}

	paid := sumLinks(links)
	agg := InvoiceAggregate{
		InvoiceID:      inv.ID,
		DocumentNumber: inv.DocumentNumber,
		Date:           inv.Date,
		TaxPercent:     pct,
		NetAmount:      net,
		TaxAmount:      tax,
		GrossAmount:    gross,
		PaidAmount:     paid,
		BalanceAmount:  gross.Sub(paid),
		Status:         Classify(paid, gross),
		Links:          links,
	}

	if owed := gross.Sub(inv.ReturnAmount); paid.GreaterThan(owed) {
		issues = append(issues, Issue{
			Code:      IssueInconsistentLinkage,
			InvoiceID: inv.ID,
			Field:     "paid_amount",
			Message: fmt.Sprintf("linked payments %s exceed amount owed %s",
				FormatMoney(paid), FormatMoney(owed)),
		})
	}
	agg.Issues = issues
	return agg, nil
}

// AggregateInvoices builds aggregates for every invoice using the index.
// Output order follows the input order.
func (e *Engine) AggregateInvoices(invoices []Invoice, index *LinkageIndex) BatchResult {
	result := BatchResult{
		Invoices: make([]InvoiceAggregate, 0, len(invoices)),
		Totals:   zeroTotals(),
	}
	for _, inv := range invoices {
		agg, err := e.BuildInvoiceAggregate(inv, index.Links(inv.ID))
		if err != nil {
			result.Excluded = append(result.Excluded, inv.ID)
			result.Issues = append(result.Issues, invalidAmountIssue(inv))
			continue
		}
		result.Invoices = append(result.Invoices, agg)
		result.Issues = append(result.Issues, agg.Issues...)
		result.Totals = result.Totals.add(agg)
	}
	return result
}

func invalidAmountIssue(inv Invoice) Issue {
	return Issue{
		Code:      IssueInvalidInvoiceAmount,
		InvoiceID: inv.ID,
		Field:     "gross_amount",
		Message:   "gross amount missing or non-numeric; invoice excluded from totals",
	}
}
