/*
handlers.go - HTTP API handlers for the reconciliation engine

PURPOSE:

	Exposes the settlement service over REST. Handlers parse the request,
	validate it, call the service (which calls the engine) and serialize the
	result. No handler computes net, tax, paid, balance or status itself.

ENDPOINTS:

	Parties:
	  GET    /api/parties                              List parties
	  POST   /api/parties                              Create or update a party
	  GET    /api/parties/{id}                         Get party
	  GET    /api/parties/{id}/invoices                Invoice aggregates + totals
	  GET    /api/parties/{id}/invoices/{invoiceID}    One invoice aggregate
	  GET    /api/parties/{id}/vouchers                Vouchers, newest first

	Records:
	  POST   /api/invoices                             Record an invoice
	  POST   /api/vouchers                             Record a payment voucher

	Selections:
	  POST   /api/selections                           Selection aggregate
	  POST   /api/selections/voucher                   Draft (and optionally commit)
	                                                   a voucher over a selection

	Stateless:
	  POST   /api/reconcile                            Reconcile posted records

	Scenarios / audit / health:
	  GET    /api/scenarios, GET /api/scenarios/current
	  POST   /api/scenarios/load, POST /api/scenarios/reset
	  GET    /api/audit, POST /api/audit/run
	  GET    /api/healthz

ERROR HANDLING:

	Errors are returned as JSON ErrorResponse with:
	- 400: malformed body, validation errors, invalid amounts or modes
	- 404: unknown party or invoice
	- 409: duplicate voucher id
	- 413: body larger than the configured limit
	- 500: store failures

SECURITY NOTE:

	No authentication. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - audit.go: Background audit
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reconciliation-engine/factory"
	"github.com/warp/reconciliation-engine/logger"
	"github.com/warp/reconciliation-engine/reconcile"
	"github.com/warp/reconciliation-engine/settlement"
	"github.com/warp/reconciliation-engine/store/sqlite"
)

// DefaultMaxBodySize limits request bodies when no limit is configured.
const DefaultMaxBodySize int64 = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Service     *settlement.Service
	Factory     *factory.RecordFactory
	Log         *zap.Logger
	MaxBodySize int64

	mu              sync.RWMutex
	currentScenario string
	auditor         *Auditor
}

// NewHandler creates a handler over the store. A nil engine uses the
// default 5% tax rate; a nil logger discards output.
func NewHandler(store *sqlite.Store, engine *reconcile.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:       store,
		Service:     settlement.NewService(store, store, engine, log),
		Factory:     factory.NewRecordFactory(),
		Log:         log.Named("api"),
		MaxBodySize: DefaultMaxBodySize,
	}
}

// SetAuditor attaches the background auditor served by /api/audit.
func (h *Handler) SetAuditor(a *Auditor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.auditor = a
}

func (h *Handler) getAuditor() *Auditor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.auditor
}

// =============================================================================
// PARTY HANDLERS
// =============================================================================

// ListParties returns all parties.
// GET /api/parties
func (h *Handler) ListParties(w http.ResponseWriter, r *http.Request) {
	parties, err := h.Store.ListParties(r.Context())
	if err != nil {
		h.fail(w, r, fmt.Errorf("list parties: %w", err))
		return
	}
	dtos := make([]PartyDTO, len(parties))
	for i, p := range parties {
		dtos[i] = toPartyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateParty creates or updates a party.
// POST /api/parties
func (h *Handler) CreateParty(w http.ResponseWriter, r *http.Request) {
	var req CreatePartyRequest
	if !h.decode(w, r, &req) {
		return
	}

	p := sqlite.Party{
		ID:        reconcile.PartyID(req.ID),
		Name:      req.Name,
		Kind:      reconcile.PartyKind(req.Kind),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveParty(r.Context(), p); err != nil {
		h.fail(w, r, fmt.Errorf("save party: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, toPartyDTO(p))
}

// GetParty returns one party.
// GET /api/parties/{id}
func (h *Handler) GetParty(w http.ResponseWriter, r *http.Request) {
	id := reconcile.PartyID(chi.URLParam(r, "id"))
	p, err := h.Store.GetParty(r.Context(), id)
	if err != nil {
		h.fail(w, r, fmt.Errorf("get party: %w", err))
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Party not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPartyDTO(*p))
}

// ListPartyInvoices reconciles every invoice of a party.
// GET /api/parties/{id}/invoices
func (h *Handler) ListPartyInvoices(w http.ResponseWriter, r *http.Request) {
	partyID := reconcile.PartyID(chi.URLParam(r, "id"))
	report, err := h.Service.Reconcile(r.Context(), partyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(report))
}

// GetPartyInvoice returns the aggregate for one invoice.
// GET /api/parties/{id}/invoices/{invoiceID}
func (h *Handler) GetPartyInvoice(w http.ResponseWriter, r *http.Request) {
	partyID := reconcile.PartyID(chi.URLParam(r, "id"))
	invoiceID := reconcile.InvoiceID(chi.URLParam(r, "invoiceID"))

	agg, err := h.Service.Invoice(r.Context(), partyID, invoiceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(agg))
}

// ListPartyVouchers returns a party's vouchers, newest first.
// GET /api/parties/{id}/vouchers
func (h *Handler) ListPartyVouchers(w http.ResponseWriter, r *http.Request) {
	partyID := reconcile.PartyID(chi.URLParam(r, "id"))
	vouchers, err := h.Store.ListVouchers(r.Context(), partyID)
	if err != nil {
		h.fail(w, r, fmt.Errorf("list vouchers: %w", err))
		return
	}
	dtos := make([]VoucherDTO, len(vouchers))
	for i, v := range vouchers {
		dtos[i] = toVoucherDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// CreateInvoice records an invoice and returns its aggregate.
// POST /api/invoices
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	inv, err := h.Factory.ParseInvoice(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// Stored batches may carry a bad amount; a new invoice may not.
	if !inv.GrossAmount.Valid {
		h.fail(w, r, &reconcile.FieldError{Field: "gross_amount", Err: reconcile.ErrInvalidInvoiceAmount})
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveInvoice(ctx, inv); err != nil {
		h.fail(w, r, fmt.Errorf("save invoice: %w", err))
		return
	}
	agg, err := h.Service.Invoice(ctx, inv.PartyID, inv.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(agg))
}

// CreateVoucher records a payment voucher.
// POST /api/vouchers
func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	v, err := h.Factory.ParseVoucher(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Service.CommitVoucher(r.Context(), v); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVoucherDTO(v))
}

// =============================================================================
// SELECTION HANDLERS
// =============================================================================

// Select computes the combined figures for the selected invoices.
// POST /api/selections
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	sr, err := req.toService()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sel, err := h.Service.Select(r.Context(), sr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSelectionDTO(sel))
}

// DraftVoucher allocates a payment over a selection, oldest invoice first.
// With commit set the voucher is stored.
// POST /api/selections/voucher
func (h *Handler) DraftVoucher(w http.ResponseWriter, r *http.Request) {
	var req DraftVoucherRequest
	if !h.decode(w, r, &req) {
		return
	}

	sr, err := req.SelectionRequest.toService()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := flexAmount("amount", req.Amount, reconcile.ErrInvalidPaymentAmount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dr := settlement.DraftRequest{
		SelectionRequest: sr,
		VoucherID:        reconcile.VoucherID(req.VoucherID),
		DocumentNumber:   req.DocumentNumber,
		Mode:             reconcile.PaymentMode(req.PaymentMode),
		Amount:           amount,
	}
	if req.Date != "" {
		// already checked by the datetime tag
		dr.Date, _ = time.Parse(factory.DateLayout, req.Date)
	}
	if req.Commit && dr.VoucherID == "" {
		dr.VoucherID = reconcile.VoucherID(uuid.NewString())
	}
	if dr.DocumentNumber == "" && dr.VoucherID != "" {
		dr.DocumentNumber = documentNumberFor(dr.VoucherID)
	}

	ctx := r.Context()
	draft, err := h.Service.DraftVoucher(ctx, dr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !req.Commit {
		writeJSON(w, http.StatusOK, toDraftResponse(draft, false))
		return
	}
	if err := h.Service.CommitVoucher(ctx, draft.Voucher); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDraftResponse(draft, true))
}

func documentNumberFor(id reconcile.VoucherID) string {
	s := string(id)
	if len(s) > 8 {
		s = s[:8]
	}
	return "PV-" + s
}

// =============================================================================
// STATELESS RECONCILIATION
// =============================================================================

// Reconcile derives aggregates for posted records without storing them.
// POST /api/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if !h.decode(w, r, &req) {
		return
	}

	snap := reconcile.Snapshot{
		Invoices: make([]reconcile.Invoice, 0, len(req.Invoices)),
		Vouchers: make([]reconcile.PaymentVoucher, 0, len(req.Vouchers)),
	}
	for i, j := range req.Invoices {
		inv, err := h.Factory.Invoice(j, false)
		if err != nil {
			h.fail(w, r, fmt.Errorf("invoices[%d]: %w", i, err))
			return
		}
		snap.Invoices = append(snap.Invoices, inv)
	}
	for i, j := range req.Vouchers {
		v, err := h.Factory.Voucher(j)
		if err != nil {
			h.fail(w, r, fmt.Errorf("vouchers[%d]: %w", i, err))
			return
		}
		snap.Vouchers = append(snap.Vouchers, v)
	}

	resp := ReconcileResponse{InvoiceListResponse: toReportResponse(h.Service.ReconcileSnapshot(snap))}
	if len(req.Selection) > 0 {
		selected, err := pick(snap.Invoices, invoiceIDs(req.Selection))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		ret, err := flexAmount("return_amount", req.ReturnAmount, reconcile.ErrInvalidReturnAmount)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		sel, err := h.Service.Engine().AggregateSelection(selected, snap.Index(), ret)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		dto := toSelectionDTO(sel)
		resp.Selection = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// pick returns the named invoices in request order, skipping repeats.
func pick(invoices []reconcile.Invoice, ids []reconcile.InvoiceID) ([]reconcile.Invoice, error) {
	byID := make(map[reconcile.InvoiceID]reconcile.Invoice, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
	}
	seen := make(map[reconcile.InvoiceID]bool, len(ids))
	out := make([]reconcile.Invoice, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		inv, ok := byID[id]
		if !ok {
			return nil, &reconcile.InvoiceError{InvoiceID: id, Err: reconcile.ErrInvoiceNotFound}
		}
		out = append(out, inv)
	}
	return out, nil
}

// =============================================================================
// AUDIT / HEALTH
// =============================================================================

// GetAudit returns the last background audit.
// GET /api/audit
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	a := h.getAuditor()
	if a == nil {
		writeError(w, http.StatusNotFound, "Audit not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTO(a.Last()))
}

// RunAudit runs an audit now and returns its result.
// POST /api/audit/run
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	a := h.getAuditor()
	if a == nil {
		writeError(w, http.StatusNotFound, "Audit not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTO(a.RunNow(r.Context())))
}

// Health reports whether the database answers.
// GET /api/healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (r SelectionRequest) toService() (settlement.SelectionRequest, error) {
	ret, err := flexAmount("return_amount", r.ReturnAmount, reconcile.ErrInvalidReturnAmount)
	if err != nil {
		return settlement.SelectionRequest{}, err
	}
	return settlement.SelectionRequest{
		PartyID:      reconcile.PartyID(r.PartyID),
		InvoiceIDs:   invoiceIDs(r.InvoiceIDs),
		ReturnAmount: ret,
	}, nil
}

// flexAmount reads an optional money field. Absent means zero; present but
// not numeric is a FieldError wrapping sentinel.
func flexAmount(field string, f factory.FlexDecimal, sentinel error) (decimal.Decimal, error) {
	if f.Present && !f.Valid {
		return decimal.Zero, &reconcile.FieldError{Field: field, Value: f.Raw, Err: sentinel}
	}
	return f.OrZero(), nil
}

// readBody reads at most MaxBodySize bytes of the request body.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limit := h.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	return body, true
}

// decode reads a JSON body into v and validates its tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := h.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.Factory.Check(v); err != nil {
		h.fail(w, r, err)
		return false
	}
	return true
}

// fail maps err to a status code and writes it. Server errors are logged
// with the request-scoped logger; details stay out of the response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: http.StatusText(status), Details: err.Error()}

	var fe *reconcile.FieldError
	if errors.As(err, &fe) {
		resp.Field = fe.Field
	}
	if status >= http.StatusInternalServerError {
		log, ok := logger.Lookup(r.Context())
		if !ok {
			log = h.Log
		}
		log.Error("request failed", zap.Error(err))
		resp.Details = nil
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, reconcile.ErrDuplicateVoucher):
		return http.StatusConflict
	case reconcile.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, factory.ErrInvalidRecord), reconcile.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
