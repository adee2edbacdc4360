package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reconciliation-engine/reconcile"
	"github.com/warp/reconciliation-engine/reconcile/store"
)

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func inv(id, party string) reconcile.Invoice {
	return reconcile.Invoice{
		ID:             reconcile.InvoiceID(id),
		DocumentNumber: "PI-" + id,
		PartyID:        reconcile.PartyID(party),
		Date:           day(1),
		GrossAmount:    reconcile.Money("100"),
	}
}

func voucher(id, party string, date time.Time) reconcile.PaymentVoucher {
	return reconcile.PaymentVoucher{
		ID:             reconcile.VoucherID(id),
		DocumentNumber: "PV-" + id,
		PartyID:        reconcile.PartyID(party),
		Date:           date,
		Mode:           reconcile.ModeBank,
		LinkedInvoices: []reconcile.LinkedInvoice{{InvoiceID: "a", Amount: reconcile.MustParseDecimal("10")}},
	}
}

func TestNewMemoryFrom_MissingID(t *testing.T) {
	_, err := store.NewMemoryFrom([]reconcile.Invoice{inv("a", "p"), {DocumentNumber: "PI-x"}}, nil)
	assert.ErrorIs(t, err, reconcile.ErrMissingID)
	assert.Contains(t, err.Error(), "invoice[1]")

	_, err = store.NewMemoryFrom(nil, []reconcile.PaymentVoucher{voucher("", "p", day(2))})
	assert.ErrorIs(t, err, reconcile.ErrMissingID)
	assert.Contains(t, err.Error(), "voucher[0]")
}

func TestMemory_SaveVoucher(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.SaveVoucher(ctx, voucher("v1", "p", day(2))))
	assert.ErrorIs(t, m.SaveVoucher(ctx, voucher("v1", "p", day(3))), reconcile.ErrDuplicateVoucher)

	// two empty ids are a missing id, not a duplicate
	assert.ErrorIs(t, m.SaveVoucher(ctx, voucher("", "p", day(2))), reconcile.ErrMissingID)
	assert.ErrorIs(t, m.SaveVoucher(ctx, voucher("", "p", day(2))), reconcile.ErrMissingID)

	got, err := m.ListVouchers(ctx, "p")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, reconcile.VoucherID("v1"), got[0].ID)
}

func TestMemory_Reads(t *testing.T) {
	ctx := context.Background()
	a2 := inv("a", "p")
	a2.DocumentNumber = "PI-a-rev"
	m, err := store.NewMemoryFrom(
		[]reconcile.Invoice{inv("a", "p"), inv("b", "q"), inv("c", "p"), a2},
		[]reconcile.PaymentVoucher{voucher("v1", "p", day(2)), voucher("v2", "p", day(5)), voucher("v3", "q", day(3))},
	)
	require.NoError(t, err)

	list, err := m.ListInvoices(ctx, "p")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, reconcile.InvoiceID("a"), list[0].ID, "replacement keeps first position")
	assert.Equal(t, "PI-a-rev", list[0].DocumentNumber)
	assert.Equal(t, reconcile.InvoiceID("c"), list[1].ID)

	all, err := m.ListInvoices(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := m.GetInvoices(ctx, []reconcile.InvoiceID{"c", "zz", "b"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, reconcile.InvoiceID("c"), got[0].ID)
	assert.Equal(t, reconcile.InvoiceID("b"), got[1].ID)

	vs, err := m.ListVouchers(ctx, "p")
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, reconcile.VoucherID("v2"), vs[0].ID, "newest first")

	// reads are copies
	vs[0].LinkedInvoices[0].InvoiceID = "mutated"
	again, err := m.ListVouchers(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, reconcile.InvoiceID("a"), again[0].LinkedInvoices[0].InvoiceID)
}
