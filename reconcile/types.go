/*
Package reconcile provides the invoice/payment reconciliation engine.

PURPOSE:

	Given a party's invoices and the payment vouchers that reference them, the
	engine derives each invoice's net amount, tax amount, paid amount,
	outstanding balance and payment status. It derives the same figures for a
	selection of invoices that a user is settling together in one voucher.

KEY CONCEPTS IN THIS FILE (types.go):
  - Invoice: a commercial document owed by/to a party (read-only input)
  - PaymentVoucher: money paid or received, linking zero or more invoices
  - LinkedInvoice: one voucher -> invoice allocation
  - InvoiceAggregate / SelectionAggregate: derived, never persisted

DESIGN PRINCIPLES:
 1. Purity: no I/O, no shared state, inputs are never mutated
 2. Precision: decimal.Decimal everywhere, rounding only at display
 3. Tolerance: one bad record never blocks a whole list view
 4. Visibility: overpayments surface as negative balances, never hidden

USAGE:

	engine := reconcile.New(reconcile.Options{})
	index := reconcile.BuildLinkageIndex(vouchers)
	batch := engine.AggregateInvoices(invoices, index)

SEE ALSO:
  - money.go / tax.go: decimal helpers and the tax split
  - status.go: Classify
  - linkage.go: reverse index invoice -> voucher links
  - invoice.go: single invoice aggregate
  - selection.go: multi-invoice selection aggregate
*/
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type InvoiceID string
type VoucherID string
type PartyID string

// PartyKind tells whether the party is a vendor (payables) or a customer
// (receivables). The engine treats both the same way.
type PartyKind string

const (
	PartyVendor   PartyKind = "vendor"
	PartyCustomer PartyKind = "customer"
)

// IsValid reports whether k is vendor or customer.
func (k PartyKind) IsValid() bool {
	return k == PartyVendor || k == PartyCustomer
}

// =============================================================================
// INVOICE - Input record, owned by the caller
// =============================================================================

// LineItem is one priced line of an invoice.
type LineItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxPercent  decimal.NullDecimal
}

// Invoice is a commercial document owed by or to a party.
//
// GrossAmount is the authoritative tax-inclusive total. It is a NullDecimal
// because upstream records may carry a missing or non-numeric amount; the
// engine flags those rather than failing the batch.
type Invoice struct {
	ID             InvoiceID
	DocumentNumber string
	PartyID        PartyID
	Date           time.Time
	GrossAmount    decimal.NullDecimal
	TaxPercent     decimal.NullDecimal // absent = DefaultTaxPercent
	ReturnAmount   decimal.Decimal     // goods returned against this invoice, zero if none
	LineItems      []LineItem
}

// =============================================================================
// PAYMENT VOUCHER - Input record, owned by the caller
// =============================================================================

type PaymentMode string

const (
	ModeCash   PaymentMode = "cash"
	ModeBank   PaymentMode = "bank"
	ModeCheque PaymentMode = "cheque"
	ModeOnline PaymentMode = "online"
)

func (m PaymentMode) IsValid() bool {
	switch m {
	case ModeCash, ModeBank, ModeCheque, ModeOnline:
		return true
	}
	return false
}

// LinkedInvoice applies part of a voucher's amount to one invoice.
type LinkedInvoice struct {
	InvoiceID InvoiceID
	Amount    decimal.Decimal
}

// PaymentVoucher records money paid out or received. One voucher may split
// its amount across several invoices.
type PaymentVoucher struct {
	ID             VoucherID
	DocumentNumber string
	PartyID        PartyID
	Date           time.Time
	Mode           PaymentMode
	Amount         decimal.Decimal
	LinkedInvoices []LinkedInvoice
}

// LinkedTotal returns the sum of amounts this voucher applies to invoices.
func (v PaymentVoucher) LinkedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range v.LinkedInvoices {
		total = total.Add(li.Amount)
	}
	return total
}

// =============================================================================
// DERIVED AGGREGATES - Produced fresh on every query
// =============================================================================

// InvoiceAggregate holds the derived figures for one invoice. Amounts are
// kept at full precision; use Rounded for display.
type InvoiceAggregate struct {
	InvoiceID      InvoiceID
	DocumentNumber string
	Date           time.Time
	TaxPercent     decimal.Decimal
	NetAmount      decimal.Decimal
	TaxAmount      decimal.Decimal
	GrossAmount    decimal.Decimal
	PaidAmount     decimal.Decimal
	BalanceAmount  decimal.Decimal
	Status         Status
	Links          []Link
	Issues         []Issue
}

// Rounded returns a copy with every money field rounded to two places.
func (a InvoiceAggregate) Rounded() InvoiceAggregate {
	a.NetAmount = Round(a.NetAmount)
	a.TaxAmount = Round(a.TaxAmount)
	a.GrossAmount = Round(a.GrossAmount)
	a.PaidAmount = Round(a.PaidAmount)
	a.BalanceAmount = Round(a.BalanceAmount)
	return a
}

// SelectionAggregate sums InvoiceAggregate figures across invoices selected
// together, adjusted by a manually entered return amount.
type SelectionAggregate struct {
	NetTotal      decimal.Decimal
	TaxTotal      decimal.Decimal
	GrossTotal    decimal.Decimal
	ReturnAmount  decimal.Decimal // effective amount after clamping to GrossTotal
	AdjustedTotal decimal.Decimal
	PaidTotal     decimal.Decimal
	BalanceAmount decimal.Decimal
	Status        Status
	Lines         []InvoiceAggregate
	Issues        []Issue
}

// Rounded returns a copy with totals and every line rounded to two places.
func (s SelectionAggregate) Rounded() SelectionAggregate {
	s.NetTotal = Round(s.NetTotal)
	s.TaxTotal = Round(s.TaxTotal)
	s.GrossTotal = Round(s.GrossTotal)
	s.ReturnAmount = Round(s.ReturnAmount)
	s.AdjustedTotal = Round(s.AdjustedTotal)
	s.PaidTotal = Round(s.PaidTotal)
	s.BalanceAmount = Round(s.BalanceAmount)
	lines := make([]InvoiceAggregate, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = l.Rounded()
	}
	s.Lines = lines
	return s
}

// Totals sums the figures of a batch of invoice aggregates.
type Totals struct {
	Net     decimal.Decimal
	Tax     decimal.Decimal
	Gross   decimal.Decimal
	Paid    decimal.Decimal
	Balance decimal.Decimal
}

func zeroTotals() Totals {
	return Totals{
		Net:     decimal.Zero,
		Tax:     decimal.Zero,
		Gross:   decimal.Zero,
		Paid:    decimal.Zero,
		Balance: decimal.Zero,
	}
}

func (t Totals) add(a InvoiceAggregate) Totals {
	return Totals{
		Net:     t.Net.Add(a.NetAmount),
		Tax:     t.Tax.Add(a.TaxAmount),
		Gross:   t.Gross.Add(a.GrossAmount),
		Paid:    t.Paid.Add(a.PaidAmount),
		Balance: t.Balance.Add(a.BalanceAmount),
	}
}

// BatchResult is the outcome of aggregating a list of invoices.
// Excluded holds ids of invoices that could not be aggregated.
type BatchResult struct {
	Invoices []InvoiceAggregate
	Excluded []InvoiceID
	Issues   []Issue
	Totals   Totals
}
