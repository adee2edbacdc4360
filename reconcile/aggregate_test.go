package reconcile_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reconciliation-engine/reconcile"
)

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarioA_TaxInclusiveSplit(t *testing.T) {
	// GIVEN: gross 105.00 at 5%
	inv := invoice("a", "105.00")
	inv.TaxPercent = reconcile.Money("5")

	// WHEN: aggregating without payments
	agg, err := reconcile.Default().BuildInvoiceAggregate(inv, nil)
	require.NoError(t, err)

	// THEN: net 100.00, tax 5.00, nothing paid
	assertMoney(t, "100.00", agg.NetAmount)
	assertMoney(t, "5.00", agg.TaxAmount)
	assertMoney(t, "105.00", agg.BalanceAmount)
	assert.Equal(t, reconcile.StatusUnpaid, agg.Status)
	assert.Empty(t, agg.Issues)
}

func TestScenarioB_TwoPartialPayments(t *testing.T) {
	idx := reconcile.BuildLinkageIndex([]reconcile.PaymentVoucher{
		voucher("v2", link("b", "400.00")),
		voucher("v1", link("b", "300.00")),
	})

	agg, err := reconcile.Default().BuildInvoiceAggregate(invoice("b", "1000.00"), idx.Links("b"))
	require.NoError(t, err)

	assertMoney(t, "700.00", agg.PaidAmount)
	assertMoney(t, "300.00", agg.BalanceAmount)
	assert.Equal(t, reconcile.StatusPartiallyPaid, agg.Status)
	assert.Len(t, agg.Links, 2)
}

func TestScenarioC_ThirdPaymentSettles(t *testing.T) {
	idx := reconcile.BuildLinkageIndex([]reconcile.PaymentVoucher{
		voucher("v3", link("b", "300.00")),
		voucher("v2", link("b", "400.00")),
		voucher("v1", link("b", "300.00")),
	})

	agg, err := reconcile.Default().BuildInvoiceAggregate(invoice("b", "1000.00"), idx.Links("b"))
	require.NoError(t, err)

	assertMoney(t, "1000.00", agg.PaidAmount)
	assertMoney(t, "0.00", agg.BalanceAmount)
	assert.Equal(t, reconcile.StatusPaid, agg.Status)
	assert.False(t, reconcile.HasIssue(agg.Issues, reconcile.IssueInconsistentLinkage))
}

func TestScenarioD_SelectionWithReturn(t *testing.T) {
	invoices := []reconcile.Invoice{invoice("d1", "500.00"), invoice("d2", "300.00")}

	sel, err := reconcile.Default().AggregateSelection(invoices, reconcile.BuildLinkageIndex(nil), dec("100.00"))
	require.NoError(t, err)

	assertMoney(t, "800.00", sel.GrossTotal)
	assertMoney(t, "100.00", sel.ReturnAmount)
	assertMoney(t, "700.00", sel.AdjustedTotal)
	assertMoney(t, "0.00", sel.PaidTotal)
	assertMoney(t, "700.00", sel.BalanceAmount)
	assert.Equal(t, reconcile.StatusUnpaid, sel.Status)
	assert.Len(t, sel.Lines, 2)
}

func TestScenarioE_OverpaymentIsSurfaced(t *testing.T) {
	idx := reconcile.BuildLinkageIndex([]reconcile.PaymentVoucher{
		voucher("v1", link("e", "250.00")),
	})

	agg, err := reconcile.Default().BuildInvoiceAggregate(invoice("e", "200.00"), idx.Links("e"))
	require.NoError(t, err)

	assertMoney(t, "-50.00", agg.BalanceAmount)
	assert.Equal(t, reconcile.StatusPaid, agg.Status)
	require.True(t, reconcile.HasIssue(agg.Issues, reconcile.IssueInconsistentLinkage))
	assert.ErrorIs(t, agg.Issues[0].Err(), reconcile.ErrInconsistentLinkage)
}

// =============================================================================
// INVOICE AGGREGATE
// =============================================================================

func TestInvoiceAggregate_MissingGross(t *testing.T) {
	inv := invoice("x", "")
	require.False(t, inv.GrossAmount.Valid)

	_, err := reconcile.Default().BuildInvoiceAggregate(inv, nil)
	assert.ErrorIs(t, err, reconcile.ErrInvalidInvoiceAmount)

	var ie *reconcile.InvoiceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, reconcile.InvoiceID("x"), ie.InvoiceID)
}

func TestInvoiceAggregate_InvalidTaxRateFallsBackToDefault(t *testing.T) {
	inv := invoice("t", "105.00")
	inv.TaxPercent = reconcile.Money("120")

	agg, err := reconcile.Default().BuildInvoiceAggregate(inv, nil)
	require.NoError(t, err)

	assertMoney(t, "100.00", agg.NetAmount)
	assert.True(t, agg.TaxPercent.Equal(decimal.NewFromInt(5)))
	require.Len(t, agg.Issues, 1)
	assert.Equal(t, reconcile.IssueInvalidTaxRate, agg.Issues[0].Code)
}

func TestInvoiceAggregate_ReturnAmountLowersWhatIsOwed(t *testing.T) {
	// GIVEN: gross 500 with 100 returned, 450 paid
	inv := invoice("r", "500.00")
	inv.ReturnAmount = dec("100.00")
	links := []reconcile.Link{{VoucherID: "v1", Amount: dec("450.00")}}

	agg, err := reconcile.Default().BuildInvoiceAggregate(inv, links)
	require.NoError(t, err)

	// THEN: balance still gross - paid, but the overrun against 400 owed is flagged
	assertMoney(t, "50.00", agg.BalanceAmount)
	assert.True(t, reconcile.HasIssue(agg.Issues, reconcile.IssueInconsistentLinkage))
}

func TestAggregateInvoices_BadRecordDoesNotBlockBatch(t *testing.T) {
	invoices := []reconcile.Invoice{
		invoice("ok-1", "105.00"),
		invoice("bad", "not-a-number"),
		invoice("ok-2", "210.00"),
	}
	idx := reconcile.BuildLinkageIndex([]reconcile.PaymentVoucher{
		voucher("v1", link("ok-1", "105.00"), link("bad", "10.00")),
	})

	batch := reconcile.Default().AggregateInvoices(invoices, idx)

	require.Len(t, batch.Invoices, 2)
	assert.Equal(t, reconcile.InvoiceID("ok-1"), batch.Invoices[0].InvoiceID)
	assert.Equal(t, reconcile.InvoiceID("ok-2"), batch.Invoices[1].InvoiceID)
	assert.Equal(t, []reconcile.InvoiceID{"bad"}, batch.Excluded)
	assert.True(t, reconcile.HasIssue(batch.Issues, reconcile.IssueInvalidInvoiceAmount))

	assertMoney(t, "315.00", batch.Totals.Gross)
	assertMoney(t, "300.00", batch.Totals.Net)
	assertMoney(t, "105.00", batch.Totals.Paid)
	assertMoney(t, "210.00", batch.Totals.Balance)
}

func TestAggregateInvoices_EmptyInput(t *testing.T) {
	batch := reconcile.Default().AggregateInvoices(nil, nil)
	assert.Empty(t, batch.Invoices)
	assert.Empty(t, batch.Issues)
	assert.True(t, batch.Totals.Gross.IsZero())
}

// =============================================================================
// SELECTION AGGREGATE
// =============================================================================

func TestSelection_Empty(t *testing.T) {
	sel, err := reconcile.Default().AggregateSelection(nil, nil, decimal.Zero)
	require.NoError(t, err)

	for _, d := range []decimal.Decimal{sel.NetTotal, sel.TaxTotal, sel.GrossTotal, sel.PaidTotal, sel.BalanceAmount} {
		assert.True(t, d.IsZero())
	}
	assert.Equal(t, reconcile.StatusUnpaid, sel.Status)
}

func TestSelection_NegativeReturnFailsFast(t *testing.T) {
	_, err := reconcile.Default().AggregateSelection(
		[]reconcile.Invoice{invoice("a", "100")}, nil, dec("-0.01"))
	require.ErrorIs(t, err, reconcile.ErrInvalidReturnAmount)

	var fe *reconcile.FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "return_amount", fe.Field)
}

func TestSelection_ReturnClampedToGross(t *testing.T) {
	invoices := []reconcile.Invoice{invoice("a", "100.00"), invoice("b", "50.00")}
	idx := reconcile.BuildLinkageIndex([]reconcile.PaymentVoucher{voucher("v1", link("a", "20.00"))})

	sel, err := reconcile.Default().AggregateSelection(invoices, idx, dec("500.00"))
	require.NoError(t, err)

	assertMoney(t, "150.00", sel.ReturnAmount)
	assertMoney(t, "0.00", sel.AdjustedTotal)
	assertMoney(t, "-20.00", sel.BalanceAmount)
	assert.Equal(t, reconcile.StatusPaid, sel.Status)
	assert.True(t, reconcile.HasIssue(sel.Issues, reconcile.IssueInconsistentLinkage))
}

func TestSelection_PartialPaymentsAcrossInvoices(t *testing.T) {
	invoices := []reconcile.Invoice{invoice("a", "1050.00"), invoice("b", "525.00")}
	idx := reconcile.BuildLinkageIndex([]reconcile.PaymentVoucher{
		voucher("v2", link("a", "500.00"), link("b", "100.00")),
		voucher("v1", link("a", "50.00")),
	})

	sel, err := reconcile.Default().AggregateSelection(invoices, idx, decimal.Zero)
	require.NoError(t, err)

	assertMoney(t, "1500.00", sel.NetTotal)
	assertMoney(t, "75.00", sel.TaxTotal)
	assertMoney(t, "1575.00", sel.GrossTotal)
	assertMoney(t, "650.00", sel.PaidTotal)
	assertMoney(t, "925.00", sel.BalanceAmount)
	assert.Equal(t, reconcile.StatusPartiallyPaid, sel.Status)

	require.Len(t, sel.Lines, 2)
	assertMoney(t, "550.00", sel.Lines[0].PaidAmount)
	assertMoney(t, "425.00", sel.Lines[1].BalanceAmount)
}

func TestSelection_InvalidInvoiceExcluded(t *testing.T) {
	invoices := []reconcile.Invoice{invoice("a", "100.00"), invoice("bad", "")}

	sel, err := reconcile.Default().AggregateSelection(invoices, nil, decimal.Zero)
	require.NoError(t, err)

	assertMoney(t, "100.00", sel.GrossTotal)
	assert.Len(t, sel.Lines, 1)
	assert.True(t, reconcile.HasIssue(sel.Issues, reconcile.IssueInvalidInvoiceAmount))
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestSelection_Additivity(t *testing.T) {
	invoices := []reconcile.Invoice{
		invoice("a", "19.99"), invoice("b", "0.03"), invoice("c", "1234.56"),
		invoice("d", "77.77"), invoice("e", "5000.01"),
	}
	invoices[1].TaxPercent = reconcile.Money("18")
	invoices[3].TaxPercent = reconcile.Money("12.5")

	engine := reconcile.Default()
	sel, err := engine.AggregateSelection(invoices, nil, decimal.Zero)
	require.NoError(t, err)

	net, tax, gross := decimal.Zero, decimal.Zero, decimal.Zero
	for _, inv := range invoices {
		agg, err := engine.BuildInvoiceAggregate(inv, nil)
		require.NoError(t, err)
		net = net.Add(agg.NetAmount)
		tax = tax.Add(agg.TaxAmount)
		gross = gross.Add(agg.GrossAmount)
	}

	assert.True(t, sel.NetTotal.Equal(net))
	assert.True(t, sel.TaxTotal.Equal(tax))
	assert.True(t, sel.GrossTotal.Equal(gross))
}

func TestAggregation_Idempotent(t *testing.T) {
	invoices := []reconcile.Invoice{invoice("a", "333.33"), invoice("b", "12.34")}
	vouchers := []reconcile.PaymentVoucher{
		voucher("v1", link("a", "100.00"), link("b", "12.34")),
	}
	engine := reconcile.Default()

	first := engine.AggregateInvoices(invoices, reconcile.BuildLinkageIndex(vouchers))
	second := engine.AggregateInvoices(invoices, reconcile.BuildLinkageIndex(vouchers))
	assert.Equal(t, first, second)

	s1, err := engine.AggregateSelection(invoices, reconcile.BuildLinkageIndex(vouchers), dec("10"))
	require.NoError(t, err)
	s2, err := engine.AggregateSelection(invoices, reconcile.BuildLinkageIndex(vouchers), dec("10"))
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestAggregation_DoesNotMutateInputs(t *testing.T) {
	invoices := []reconcile.Invoice{invoice("a", "100.00")}
	vouchers := []reconcile.PaymentVoucher{voucher("v1", link("a", "40.00"))}

	_, err := reconcile.Default().AggregateSelection(invoices, reconcile.BuildLinkageIndex(vouchers), dec("10"))
	require.NoError(t, err)

	assertMoney(t, "100.00", invoices[0].GrossAmount.Decimal)
	assertMoney(t, "40.00", vouchers[0].LinkedInvoices[0].Amount)
}

func TestRounded_RoundsOnce(t *testing.T) {
	// Three invoices of 10.00 at 7%: each net is 9.3457..., the sum is
	// 28.0373... which rounds to 28.04, while summing rounded nets gives 28.05.
	invoices := []reconcile.Invoice{invoice("a", "10.00"), invoice("b", "10.00"), invoice("c", "10.00")}
	for i := range invoices {
		invoices[i].TaxPercent = reconcile.Money("7")
	}

	sel, err := reconcile.Default().AggregateSelection(invoices, nil, decimal.Zero)
	require.NoError(t, err)

	rounded := sel.Rounded()
	assert.Equal(t, "28.04", rounded.NetTotal.StringFixed(2))
	assert.Equal(t, "9.35", rounded.Lines[0].NetAmount.StringFixed(2))
}
