package reconcile

import "github.com/shopspring/decimal"

// =============================================================================
// LINKAGE INDEX - invoice -> voucher links, rebuilt on every pass
// =============================================================================

// Link is one voucher's allocation to an invoice.
type Link struct {
	VoucherID VoucherID
	Amount    decimal.Decimal
}

// LinkageIndex is the reverse of the voucher -> invoice relationship.
// It has no incremental update path; build a fresh one per reconciliation pass.
type LinkageIndex struct {
	links map[InvoiceID][]Link
	order []InvoiceID
}

// BuildLinkageIndex walks every voucher and every linked invoice once.
// Links for an invoice keep the order in which the vouchers were supplied.
func BuildLinkageIndex(vouchers []PaymentVoucher) *LinkageIndex {
	idx := &LinkageIndex{links: make(map[InvoiceID][]Link)}
	for _, v := range vouchers {
		for _, li := range v.LinkedInvoices {
			if _, seen := idx.links[li.InvoiceID]; !seen {
				idx.order = append(idx.order, li.InvoiceID)
			}
			idx.links[li.InvoiceID] = append(idx.links[li.InvoiceID], Link{
				VoucherID: v.ID,
				Amount:    li.Amount,
			})
		}
	}
	return idx
}

// Links returns a copy of the links referencing id. A nil index has none.
func (idx *LinkageIndex) Links(id InvoiceID) []Link {
	if idx == nil {
		return nil
	}
	src := idx.links[id]
	if len(src) == 0 {
		return nil
	}
	out := make([]Link, len(src))
	copy(out, src)
	return out
}

// Paid sums the amounts linked to id.
func (idx *LinkageIndex) Paid(id InvoiceID) decimal.Decimal {
	if idx == nil {
		return decimal.Zero
	}
	return sumLinks(idx.links[id])
}

// InvoiceIDs lists linked invoices in first-seen order.
func (idx *LinkageIndex) InvoiceIDs() []InvoiceID {
	if idx == nil {
		return nil
	}
	out := make([]InvoiceID, len(idx.order))
	copy(out, idx.order)
	return out
}

// Len is the number of distinct invoices referenced.
func (idx *LinkageIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.order)
}

func sumLinks(links []Link) decimal.Decimal {
	total := decimal.Zero
	for _, l := range links {
		total = total.Add(l.Amount)
	}
	return total
}
