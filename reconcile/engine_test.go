package reconcile_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reconciliation-engine/reconcile"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return reconcile.MustParseDecimal(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want, reconcile.FormatMoney(got), msgAndArgs...)
}

func invoice(id string, gross string) reconcile.Invoice {
	return reconcile.Invoice{
		ID:             reconcile.InvoiceID(id),
		DocumentNumber: "INV-" + id,
		PartyID:        "vendor-1",
		Date:           time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		GrossAmount:    reconcile.Money(gross),
	}
}

func voucher(id string, links ...reconcile.LinkedInvoice) reconcile.PaymentVoucher {
	v := reconcile.PaymentVoucher{
		ID:             reconcile.VoucherID(id),
		DocumentNumber: "PV-" + id,
		PartyID:        "vendor-1",
		Date:           time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		Mode:           reconcile.ModeBank,
		LinkedInvoices: links,
	}
	v.Amount = v.LinkedTotal()
	return v
}

func link(invoiceID, amount string) reconcile.LinkedInvoice {
	return reconcile.LinkedInvoice{InvoiceID: reconcile.InvoiceID(invoiceID), Amount: dec(amount)}
}

// =============================================================================
// TAX SPLIT
// =============================================================================

func TestSplitTax_FivePercent(t *testing.T) {
	net, tax, err := reconcile.SplitTax(dec("105.00"), dec("5"))
	require.NoError(t, err)
	assertMoney(t, "100.00", net)
	assertMoney(t, "5.00", tax)
}

func TestSplitTax_ZeroRate(t *testing.T) {
	net, tax, err := reconcile.SplitTax(dec("42.10"), decimal.Zero)
	require.NoError(t, err)
	assertMoney(t, "42.10", net)
	assert.True(t, tax.IsZero())
}

func TestSplitTax_RejectsOutOfRangeRates(t *testing.T) {
	for _, pct := range []string{"-1", "100", "150.5"} {
		_, _, err := reconcile.SplitTax(dec("100"), dec(pct))
		assert.ErrorIs(t, err, reconcile.ErrInvalidTaxRate, "rate %s", pct)

		var fe *reconcile.FieldError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, "tax_percent", fe.Field)
	}
}

func TestSplitTax_NetPlusTaxEqualsGross(t *testing.T) {
	grosses := []string{"0", "0.01", "1", "9.99", "105", "333.33", "1000", "12345.67", "999999.99"}
	rates := []string{"0", "0.5", "5", "7.25", "12", "18", "20", "33.333", "99.99"}
	tolerance := dec("0.01")

	for _, g := range grosses {
		for _, r := range rates {
			gross := dec(g)
			net, tax, err := reconcile.SplitTax(gross, dec(r))
			require.NoError(t, err)

			assert.True(t, net.Add(tax).Equal(gross), "full precision: gross=%s rate=%s", g, r)
			roundedSum := reconcile.Round(net).Add(reconcile.Round(tax))
			assert.True(t, roundedSum.Sub(gross).Abs().LessThanOrEqual(tolerance),
				"rounded: gross=%s rate=%s sum=%s", g, r, roundedSum)
			assert.False(t, net.IsNegative(), "net negative: gross=%s rate=%s", g, r)
			assert.False(t, tax.IsNegative(), "tax negative: gross=%s rate=%s", g, r)
		}
	}
}

func TestRound_HalfUp(t *testing.T) {
	assertMoney(t, "0.13", reconcile.Round(dec("0.125")))
	assertMoney(t, "0.12", reconcile.Round(dec("0.1249")))
	assertMoney(t, "2.50", dec("2.5"))
}

func TestEngine_ConfiguredDefaultTax(t *testing.T) {
	e, err := reconcile.New(reconcile.Options{DefaultTaxPercent: reconcile.Money("10")})
	require.NoError(t, err)

	agg, err := e.BuildInvoiceAggregate(invoice("a", "110"), nil)
	require.NoError(t, err)
	assertMoney(t, "100.00", agg.NetAmount)
	assertMoney(t, "10.00", agg.TaxAmount)

	_, err = reconcile.New(reconcile.Options{DefaultTaxPercent: reconcile.Money("100")})
	assert.ErrorIs(t, err, reconcile.ErrInvalidTaxRate)
}

func TestEngine_BuiltInDefaultTax(t *testing.T) {
	assertMoney(t, "5.00", reconcile.DefaultTaxPercent())

	zero, err := reconcile.New(reconcile.Options{})
	require.NoError(t, err)
	for _, e := range []*reconcile.Engine{reconcile.Default(), zero} {
		assert.True(t, e.DefaultTax().Equal(reconcile.DefaultTaxPercent()))

		agg, err := e.BuildInvoiceAggregate(invoice("x", "105"), nil)
		require.NoError(t, err)
		assertMoney(t, "100.00", agg.NetAmount)
		assertMoney(t, "5.00", agg.TaxAmount)
	}
}

// =============================================================================
// STATUS CLASSIFIER
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		paid  string
		total string
		want  reconcile.Status
	}{
		{"nothing paid", "0", "100", reconcile.StatusUnpaid},
		{"negative paid", "-5", "100", reconcile.StatusUnpaid},
		{"partial", "40", "100", reconcile.StatusPartiallyPaid},
		{"a cent short", "99.99", "100", reconcile.StatusPartiallyPaid},
		{"exact", "100", "100", reconcile.StatusPaid},
		{"overpaid", "120", "100", reconcile.StatusPaid},
		{"zero total zero paid", "0", "0", reconcile.StatusUnpaid},
		{"zero total residual payment", "10", "0", reconcile.StatusPaid},
		{"negative total nothing paid", "0", "-20", reconcile.StatusUnpaid},
		{"negative total paid", "5", "-20", reconcile.StatusPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reconcile.Classify(dec(tt.paid), dec(tt.total)))
		})
	}
}

func TestClassify_Monotonic(t *testing.T) {
	total := dec("250")
	step := dec("0.5")
	for paid := dec("-10"); paid.LessThanOrEqual(dec("300")); paid = paid.Add(step) {
		got := reconcile.Classify(paid, total)
		switch {
		case !paid.IsPositive():
			assert.Equal(t, reconcile.StatusUnpaid, got, "paid=%s", paid)
		case paid.LessThan(total):
			assert.Equal(t, reconcile.StatusPartiallyPaid, got, "paid=%s", paid)
		default:
			assert.Equal(t, reconcile.StatusPaid, got, "paid=%s", paid)
		}
	}
}

// =============================================================================
// LINKAGE INDEX
// =============================================================================

func TestLinkageIndex_KeepsVoucherOrder(t *testing.T) {
	vouchers := []reconcile.PaymentVoucher{
		voucher("v3", link("inv-1", "100")),
		voucher("v2", link("inv-1", "50"), link("inv-2", "20")),
		voucher("v1", link("inv-1", "25")),
		voucher("v0"),
	}

	idx := reconcile.BuildLinkageIndex(vouchers)

	links := idx.Links("inv-1")
	require.Len(t, links, 3)
	assert.Equal(t, reconcile.VoucherID("v3"), links[0].VoucherID)
	assert.Equal(t, reconcile.VoucherID("v2"), links[1].VoucherID)
	assert.Equal(t, reconcile.VoucherID("v1"), links[2].VoucherID)
	assertMoney(t, "175.00", idx.Paid("inv-1"))
	assertMoney(t, "20.00", idx.Paid("inv-2"))
	assertMoney(t, "0.00", idx.Paid("missing"))
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, []reconcile.InvoiceID{"inv-1", "inv-2"}, idx.InvoiceIDs())
}

func TestLinkageIndex_DoesNotShareInput(t *testing.T) {
	vouchers := []reconcile.PaymentVoucher{voucher("v1", link("inv-1", "10"))}
	idx := reconcile.BuildLinkageIndex(vouchers)

	links := idx.Links("inv-1")
	links[0].Amount = dec("999")

	assertMoney(t, "10.00", idx.Paid("inv-1"))
	assertMoney(t, "10.00", vouchers[0].LinkedInvoices[0].Amount)
}

func TestLinkageIndex_NilIsEmpty(t *testing.T) {
	var idx *reconcile.LinkageIndex
	assert.Nil(t, idx.Links("x"))
	assert.True(t, idx.Paid("x").IsZero())
	assert.Equal(t, 0, idx.Len())
}
