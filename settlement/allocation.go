package settlement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reconciliation-engine/reconcile"
)

// =============================================================================
// VOUCHER COMPOSITION - Allocate one payment over a selection
// =============================================================================

// DraftRequest describes a new payment against a selection of invoices.
type DraftRequest struct {
	SelectionRequest
	VoucherID      reconcile.VoucherID
	DocumentNumber string
	Date           time.Time // zero = today
	Mode           reconcile.PaymentMode
	Amount         decimal.Decimal
}

// Allocation is the share of the payment applied to one invoice.
type Allocation struct {
	InvoiceID     reconcile.InvoiceID
	BalanceBefore decimal.Decimal
	Allocated     decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// Draft is a composed, not yet persisted, voucher.
type Draft struct {
	Voucher     reconcile.PaymentVoucher
	Selection   reconcile.SelectionAggregate
	Allocations []Allocation
}

// DraftVoucher allocates req.Amount over the selected invoices' outstanding
// balances, oldest invoice first (date, then document number). The amount
// may not exceed the selection balance, which already accounts for the
// return amount.
func (s *Service) DraftVoucher(ctx context.Context, req DraftRequest) (Draft, error) {
	if len(dedupe(req.InvoiceIDs)) == 0 {
		return Draft{}, &reconcile.FieldError{Field: "invoice_ids", Err: reconcile.ErrEmptySelection}
	}
	if !req.Amount.IsPositive() {
		return Draft{}, &reconcile.FieldError{
			Field: "amount",
			Value: req.Amount.String(),
			Err:   reconcile.ErrInvalidPaymentAmount,
		}
	}
	if !req.Mode.IsValid() {
		return Draft{}, &reconcile.FieldError{
			Field: "payment_mode",
			Value: string(req.Mode),
			Err:   reconcile.ErrInvalidPaymentMode,
		}
	}

	sel, err := s.Select(ctx, req.SelectionRequest)
	if err != nil {
		return Draft{}, err
	}
	if req.Amount.GreaterThan(sel.BalanceAmount) {
		return Draft{}, &reconcile.FieldError{
			Field: "amount",
			Value: req.Amount.String(),
			Err: fmt.Errorf("%w: outstanding %s", reconcile.ErrOverAllocation,
				reconcile.FormatMoney(sel.BalanceAmount)),
		}
	}

	allocations := allocateOldestFirst(sel.Lines, req.Amount)

	date := req.Date
	if date.IsZero() {
		now := s.now().UTC()
		date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	v := reconcile.PaymentVoucher{
		ID:             req.VoucherID,
		DocumentNumber: req.DocumentNumber,
		PartyID:        req.PartyID,
		Date:           date,
		Mode:           req.Mode,
		Amount:         req.Amount,
	}
	for _, a := range allocations {
		v.LinkedInvoices = append(v.LinkedInvoices, reconcile.LinkedInvoice{
			InvoiceID: a.InvoiceID,
			Amount:    a.Allocated,
		})
	}

	return Draft{Voucher: v, Selection: sel, Allocations: allocations}, nil
}

// CommitVoucher persists a drafted voucher.
func (s *Service) CommitVoucher(ctx context.Context, v reconcile.PaymentVoucher) error {
	if v.ID == "" {
		return &reconcile.FieldError{Field: "id", Err: reconcile.ErrMissingID}
	}
	if s.writer == nil {
		return fmt.Errorf("no voucher writer configured")
	}
	if err := s.writer.SaveVoucher(ctx, v); err != nil {
		return fmt.Errorf("save voucher %s: %w", v.ID, err)
	}
	s.log.Info("voucher committed",
		zap.String("voucher_id", string(v.ID)),
		zap.String("party_id", string(v.PartyID)),
		zap.String("amount", reconcile.FormatMoney(v.Amount)),
		zap.Int("linked_invoices", len(v.LinkedInvoices)),
	)
	return nil
}

// allocateOldestFirst walks the lines by date and applies the payment to
// each positive balance until it is used up.
func allocateOldestFirst(lines []reconcile.InvoiceAggregate, amount decimal.Decimal) []Allocation {
	sorted := make([]reconcile.InvoiceAggregate, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].DocumentNumber < sorted[j].DocumentNumber
	})

	remaining := amount
	var out []Allocation
	for _, line := range sorted {
		if !remaining.IsPositive() {
			break
		}
		if !line.BalanceAmount.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, line.BalanceAmount)
		out = append(out, Allocation{
			InvoiceID:     line.InvoiceID,
			BalanceBefore: line.BalanceAmount,
			Allocated:     take,
			BalanceAfter:  line.BalanceAmount.Sub(take),
		})
		remaining = remaining.Sub(take)
	}
	return out
}
