// Package store provides in-memory record sources.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/reconciliation-engine/reconcile"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds invoices and vouchers in maps. Invoices are upserted;
// vouchers are append-only.
type Memory struct {
	mu           sync.RWMutex
	invoices     map[reconcile.InvoiceID]reconcile.Invoice
	invoiceOrder []reconcile.InvoiceID
	vouchers     []reconcile.PaymentVoucher
	voucherIDs   map[reconcile.VoucherID]bool
}

func NewMemory() *Memory {
	return &Memory{
		invoices:   make(map[reconcile.InvoiceID]reconcile.Invoice),
		voucherIDs: make(map[reconcile.VoucherID]bool),
	}
}

// NewMemoryFrom seeds a store, e.g. with records decoded from files. A
// later invoice with the same id replaces the earlier one. Records without
// an id fail with reconcile.ErrMissingID.
func NewMemoryFrom(invoices []reconcile.Invoice, vouchers []reconcile.PaymentVoucher) (*Memory, error) {
	m := NewMemory()
	for i, inv := range invoices {
		if err := m.putInvoiceLocked(inv); err != nil {
			return nil, fmt.Errorf("invoice[%d]: %w", i, err)
		}
	}
	for i, v := range vouchers {
		if err := m.appendVoucherLocked(v); err != nil {
			return nil, fmt.Errorf("voucher[%d]: %w", i, err)
		}
	}
	return m, nil
}

func (m *Memory) putInvoiceLocked(inv reconcile.Invoice) error {
	if inv.ID == "" {
		return reconcile.ErrMissingID
	}
	if _, ok := m.invoices[inv.ID]; !ok {
		m.invoiceOrder = append(m.invoiceOrder, inv.ID)
	}
	m.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

// SaveVoucher appends a voucher. Returns reconcile.ErrMissingID for an empty
// id and reconcile.ErrDuplicateVoucher if the id was already recorded.
func (m *Memory) SaveVoucher(_ context.Context, v reconcile.PaymentVoucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendVoucherLocked(v)
}

func (m *Memory) appendVoucherLocked(v reconcile.PaymentVoucher) error {
	if v.ID == "" {
		return reconcile.ErrMissingID
	}
	if m.voucherIDs[v.ID] {
		return reconcile.ErrDuplicateVoucher
	}
	m.voucherIDs[v.ID] = true
	m.vouchers = append(m.vouchers, cloneVoucher(v))
	return nil
}

// ListInvoices returns invoices in insertion order.
func (m *Memory) ListInvoices(_ context.Context, partyID reconcile.PartyID) ([]reconcile.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]reconcile.Invoice, 0, len(m.invoiceOrder))
	for _, id := range m.invoiceOrder {
		inv := m.invoices[id]
		if partyID == "" || inv.PartyID == partyID {
			result = append(result, cloneInvoice(inv))
		}
	}
	return result, nil
}

func (m *Memory) GetInvoices(_ context.Context, ids []reconcile.InvoiceID) ([]reconcile.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]reconcile.Invoice, 0, len(ids))
	for _, id := range ids {
		if inv, ok := m.invoices[id]; ok {
			result = append(result, cloneInvoice(inv))
		}
	}
	return result, nil
}

// ListVouchers returns vouchers newest first. Vouchers on the same date keep
// reverse insertion order.
func (m *Memory) ListVouchers(_ context.Context, partyID reconcile.PartyID) ([]reconcile.PaymentVoucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reconcile.PaymentVoucher
	for i := len(m.vouchers) - 1; i >= 0; i-- {
		v := m.vouchers[i]
		if partyID == "" || v.PartyID == partyID {
			result = append(result, cloneVoucher(v))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Date.After(result[j].Date)
	})
	return result, nil
}

func cloneInvoice(inv reconcile.Invoice) reconcile.Invoice {
	if inv.LineItems != nil {
		inv.LineItems = append([]reconcile.LineItem(nil), inv.LineItems...)
	}
	return inv
}

func cloneVoucher(v reconcile.PaymentVoucher) reconcile.PaymentVoucher {
	if v.LinkedInvoices != nil {
		v.LinkedInvoices = append([]reconcile.LinkedInvoice(nil), v.LinkedInvoices...)
	}
	return v
}

var _ reconcile.Source = (*Memory)(nil)
