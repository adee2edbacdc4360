/*
source.go - Interfaces to the invoice and voucher record sources

PURPOSE:

	The engine never fetches data itself. Callers load records through these
	interfaces and hand them to the engine. Different implementations back
	them with SQLite or memory.

CONSISTENCY:

	Invoices and vouchers used in one computation must be a consistent
	snapshot. LoadSnapshot fetches both for the same party back to back; the
	engine does not re-fetch mid-computation.

ORDERING:

	ListVouchers returns vouchers newest first. The linkage index keeps that
	order for each invoice's links.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - reconcile/store/memory.go: in-memory for tests and the CLI report

SEE ALSO:
  - settlement/service.go: the main consumer
*/
package reconcile

import (
	"context"
	"fmt"
)

// InvoiceSource supplies invoice records.
type InvoiceSource interface {
	// ListInvoices returns a party's invoices. An empty partyID lists all.
	ListInvoices(ctx context.Context, partyID PartyID) ([]Invoice, error)

	// GetInvoices returns the invoices with the given ids, in request order.
	// Unknown ids are skipped, not reported as errors.
	GetInvoices(ctx context.Context, ids []InvoiceID) ([]Invoice, error)
}

// VoucherSource supplies payment vouchers.
type VoucherSource interface {
	// ListVouchers returns a party's vouchers, newest first.
	ListVouchers(ctx context.Context, partyID PartyID) ([]PaymentVoucher, error)
}

// Source combines both record sources.
type Source interface {
	InvoiceSource
	VoucherSource
}

// Snapshot is one consistent read of a party's records.
type Snapshot struct {
	PartyID  PartyID
	Invoices []Invoice
	Vouchers []PaymentVoucher
}

// Index builds the linkage index for the snapshot's vouchers.
func (s Snapshot) Index() *LinkageIndex {
	return BuildLinkageIndex(s.Vouchers)
}

// LoadSnapshot fetches a party's invoices and vouchers together.
func LoadSnapshot(ctx context.Context, src Source, partyID PartyID) (Snapshot, error) {
	invoices, err := src.ListInvoices(ctx, partyID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load invoices: %w", err)
	}
	vouchers, err := src.ListVouchers(ctx, partyID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load vouchers: %w", err)
	}
	return Snapshot{PartyID: partyID, Invoices: invoices, Vouchers: vouchers}, nil
}
