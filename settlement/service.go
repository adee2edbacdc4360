/*
Package settlement runs reconciliation passes against a record source.

PURPOSE:

	Every screen that needs invoice figures goes through this service: the
	per-party invoice list, the single invoice view, the multi-invoice
	selection used when composing a voucher, and the CLI report. It loads a
	consistent snapshot, builds the linkage index once per pass and hands the
	records to the reconcile engine. Nothing is re-derived locally.

OPERATIONS:

	Reconcile:     all invoices of a party with totals and issues
	Invoice:       one invoice aggregate
	Select:        selection aggregate with per-invoice breakdown
	DraftVoucher:  allocate a payment over a selection (oldest first)
	CommitVoucher: persist a drafted voucher through the VoucherWriter

LOGGING:

	Data-quality issues (bad amounts, bad tax rates, overpayments) are logged
	as warnings with the party and invoice ids. The engine itself never logs.

SEE ALSO:
  - reconcile/: the engine
  - allocation.go: payment allocation for DraftVoucher
  - api/handlers.go: HTTP entry points
*/
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reconciliation-engine/reconcile"
)

// VoucherWriter persists new vouchers.
type VoucherWriter interface {
	SaveVoucher(ctx context.Context, v reconcile.PaymentVoucher) error
}

// Service orchestrates reconciliation for the HTTP and CLI layers.
type Service struct {
	source reconcile.Source
	writer VoucherWriter
	engine *reconcile.Engine
	log    *zap.Logger
	now    func() time.Time
}

// NewService builds the service. A nil engine uses reconcile.Default, a nil
// logger discards output.
func NewService(source reconcile.Source, writer VoucherWriter, engine *reconcile.Engine, log *zap.Logger) *Service {
	if engine == nil {
		engine = reconcile.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		source: source,
		writer: writer,
		engine: engine,
		log:    log.Named("settlement"),
		now:    time.Now,
	}
}

// Engine returns the engine used by the service.
func (s *Service) Engine() *reconcile.Engine {
	return s.engine
}

// =============================================================================
// RECONCILIATION PASS
// =============================================================================

// Report is the result of reconciling one party.
type Report struct {
	PartyID  reconcile.PartyID
	Batch    reconcile.BatchResult
	Vouchers int

	// UnmatchedLinks lists invoice ids referenced by vouchers but absent
	// from the party's invoices.
	UnmatchedLinks []reconcile.InvoiceID
}

// Reconcile aggregates every invoice of a party. An empty partyID covers
// the whole ledger.
func (s *Service) Reconcile(ctx context.Context, partyID reconcile.PartyID) (Report, error) {
	snap, err := reconcile.LoadSnapshot(ctx, s.source, partyID)
	if err != nil {
		return Report{}, err
	}
	return s.ReconcileSnapshot(snap), nil
}

// ReconcileSnapshot runs a pass over records the caller already holds.
func (s *Service) ReconcileSnapshot(snap reconcile.Snapshot) Report {
	index := snap.Index()
	batch := s.engine.AggregateInvoices(snap.Invoices, index)

	known := make(map[reconcile.InvoiceID]bool, len(snap.Invoices))
	for _, inv := range snap.Invoices {
		known[inv.ID] = true
	}
	var unmatched []reconcile.InvoiceID
	for _, id := range index.InvoiceIDs() {
		if !known[id] {
			unmatched = append(unmatched, id)
		}
	}

	s.logIssues(snap.PartyID, batch.Issues)
	if len(unmatched) > 0 {
		s.log.Warn("vouchers reference unknown invoices",
			zap.String("party_id", string(snap.PartyID)),
			zap.Int("count", len(unmatched)),
		)
	}
	s.log.Debug("reconciliation pass complete",
		zap.String("party_id", string(snap.PartyID)),
		zap.Int("invoices", len(snap.Invoices)),
		zap.Int("vouchers", len(snap.Vouchers)),
		zap.Int("excluded", len(batch.Excluded)),
	)

	return Report{
		PartyID:        snap.PartyID,
		Batch:          batch,
		Vouchers:       len(snap.Vouchers),
		UnmatchedLinks: unmatched,
	}
}

// Invoice returns the aggregate for one invoice of a party.
func (s *Service) Invoice(ctx context.Context, partyID reconcile.PartyID, id reconcile.InvoiceID) (reconcile.InvoiceAggregate, error) {
	invoices, err := s.loadSelected(ctx, partyID, []reconcile.InvoiceID{id})
	if err != nil {
		return reconcile.InvoiceAggregate{}, err
	}
	vouchers, err := s.source.ListVouchers(ctx, partyID)
	if err != nil {
		return reconcile.InvoiceAggregate{}, fmt.Errorf("load vouchers: %w", err)
	}

	index := reconcile.BuildLinkageIndex(vouchers)
	agg, err := s.engine.BuildInvoiceAggregate(invoices[0], index.Links(id))
	if err != nil {
		return reconcile.InvoiceAggregate{}, err
	}
	s.logIssues(partyID, agg.Issues)
	return agg, nil
}

// =============================================================================
// SELECTION
// =============================================================================

// SelectionRequest names the invoices a user is settling together.
type SelectionRequest struct {
	PartyID      reconcile.PartyID
	InvoiceIDs   []reconcile.InvoiceID
	ReturnAmount decimal.Decimal
}

// Select computes the combined figures for a selection. A negative return
// amount fails before anything is loaded.
func (s *Service) Select(ctx context.Context, req SelectionRequest) (reconcile.SelectionAggregate, error) {
	if req.ReturnAmount.IsNegative() {
		return reconcile.SelectionAggregate{}, &reconcile.FieldError{
			Field: "return_amount",
			Value: req.ReturnAmount.String(),
			Err:   reconcile.ErrInvalidReturnAmount,
		}
	}

	invoices, err := s.loadSelected(ctx, req.PartyID, req.InvoiceIDs)
	if err != nil {
		return reconcile.SelectionAggregate{}, err
	}
	var index *reconcile.LinkageIndex
	if len(invoices) > 0 {
		vouchers, err := s.source.ListVouchers(ctx, req.PartyID)
		if err != nil {
			return reconcile.SelectionAggregate{}, fmt.Errorf("load vouchers: %w", err)
		}
		index = reconcile.BuildLinkageIndex(vouchers)
	}

	sel, err := s.engine.AggregateSelection(invoices, index, req.ReturnAmount)
	if err != nil {
		return reconcile.SelectionAggregate{}, err
	}
	s.logIssues(req.PartyID, sel.Issues)
	return sel, nil
}

// loadSelected fetches the ids in order, dropping repeats, and checks that
// every one exists and belongs to the party.
func (s *Service) loadSelected(ctx context.Context, partyID reconcile.PartyID, ids []reconcile.InvoiceID) ([]reconcile.Invoice, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	invoices, err := s.source.GetInvoices(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}
	byID := make(map[reconcile.InvoiceID]reconcile.Invoice, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
	}

	ordered := make([]reconcile.Invoice, 0, len(ids))
	for _, id := range ids {
		inv, ok := byID[id]
		if !ok {
			return nil, &reconcile.InvoiceError{InvoiceID: id, Err: reconcile.ErrInvoiceNotFound}
		}
		if partyID != "" && inv.PartyID != partyID {
			return nil, &reconcile.InvoiceError{InvoiceID: id, Err: reconcile.ErrPartyMismatch}
		}
		ordered = append(ordered, inv)
	}
	return ordered, nil
}

func dedupe(ids []reconcile.InvoiceID) []reconcile.InvoiceID {
	seen := make(map[reconcile.InvoiceID]bool, len(ids))
	out := make([]reconcile.InvoiceID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (s *Service) logIssues(partyID reconcile.PartyID, issues []reconcile.Issue) {
	for _, issue := range issues {
		s.log.Warn("reconciliation issue",
			zap.String("party_id", string(partyID)),
			zap.String("code", string(issue.Code)),
			zap.String("invoice_id", string(issue.InvoiceID)),
			zap.String("field", issue.Field),
			zap.String("detail", issue.Message),
		)
	}
}
