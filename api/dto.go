/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:

	Defines the JSON structures for API communication. These types decouple
	the engine's types from the external API contract.

MONEY:

	Every money field in a response is a string with exactly two decimals
	("1050.00"). Rounding happens here, once, never inside the engine.
	Request money fields accept numbers or numeric strings (factory.FlexDecimal).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:

	Request types carry validate tags, checked with the record factory's
	validator before any work is done.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/records.go: InvoiceJSON, VoucherJSON wire types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/reconciliation-engine/factory"
	"github.com/warp/reconciliation-engine/reconcile"
	"github.com/warp/reconciliation-engine/settlement"
	"github.com/warp/reconciliation-engine/store/sqlite"
)

// =============================================================================
// PARTIES
// =============================================================================

// PartyDTO represents a vendor or customer.
type PartyDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreatePartyRequest is the request to create a party.
type CreatePartyRequest struct {
	ID   string `json:"id" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=200"`
	Kind string `json:"kind" validate:"required,oneof=vendor customer"`
}

// =============================================================================
// INVOICE AGGREGATES
// =============================================================================

// PaymentLinkDTO is one voucher payment applied to an invoice.
type PaymentLinkDTO struct {
	VoucherID string `json:"voucher_id"`
	Amount    string `json:"amount"`
}

// IssueDTO is a non-fatal data-quality flag.
type IssueDTO struct {
	Code      string `json:"code"`
	InvoiceID string `json:"invoice_id,omitempty"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message"`
}

// InvoiceAggregateDTO is the derived view of one invoice.
type InvoiceAggregateDTO struct {
	InvoiceID      string           `json:"invoice_id"`
	DocumentNumber string           `json:"document_number"`
	Date           string           `json:"date"`
	TaxPercent     string           `json:"tax_percent"`
	NetAmount      string           `json:"net_amount"`
	TaxAmount      string           `json:"tax_amount"`
	GrossAmount    string           `json:"gross_amount"`
	PaidAmount     string           `json:"paid_amount"`
	BalanceAmount  string           `json:"balance_amount"`
	Status         string           `json:"status"`
	Payments       []PaymentLinkDTO `json:"payments"`
	Issues         []IssueDTO       `json:"issues,omitempty"`
}

// TotalsDTO sums a list of invoice aggregates.
type TotalsDTO struct {
	Net     string `json:"net"`
	Tax     string `json:"tax"`
	Gross   string `json:"gross"`
	Paid    string `json:"paid"`
	Balance string `json:"balance"`
}

// InvoiceListResponse is the per-party invoice list view.
type InvoiceListResponse struct {
	PartyID        string                `json:"party_id,omitempty"`
	Invoices       []InvoiceAggregateDTO `json:"invoices"`
	Excluded       []string              `json:"excluded,omitempty"`
	Issues         []IssueDTO            `json:"issues,omitempty"`
	Totals         TotalsDTO             `json:"totals"`
	VoucherCount   int                   `json:"voucher_count"`
	UnmatchedLinks []string              `json:"unmatched_links,omitempty"`
}

// =============================================================================
// SELECTIONS AND VOUCHER DRAFTS
// =============================================================================

// SelectionRequest names the invoices settled together.
type SelectionRequest struct {
	PartyID      string              `json:"party_id" validate:"required"`
	InvoiceIDs   []string            `json:"invoice_ids" validate:"dive,required"`
	ReturnAmount factory.FlexDecimal `json:"return_amount"`
}

// SelectionDTO is the combined view of a selection.
type SelectionDTO struct {
	NetTotal      string                `json:"net_total"`
	TaxTotal      string                `json:"tax_total"`
	GrossTotal    string                `json:"gross_total"`
	ReturnAmount  string                `json:"return_amount"`
	AdjustedTotal string                `json:"adjusted_total"`
	PaidTotal     string                `json:"paid_total"`
	BalanceAmount string                `json:"balance_amount"`
	Status        string                `json:"status"`
	Lines         []InvoiceAggregateDTO `json:"lines"`
	Issues        []IssueDTO            `json:"issues,omitempty"`
}

// DraftVoucherRequest allocates a payment over a selection. With Commit
// set the voucher is stored; a missing voucher id is generated.
type DraftVoucherRequest struct {
	SelectionRequest
	VoucherID      string              `json:"voucher_id" validate:"max=64"`
	DocumentNumber string              `json:"document_number" validate:"max=64"`
	Date           string              `json:"date" validate:"omitempty,datetime=2006-01-02"`
	PaymentMode    string              `json:"payment_mode" validate:"required"`
	Amount         factory.FlexDecimal `json:"amount"`
	Commit         bool                `json:"commit"`
}

// AllocationDTO is the share of a drafted payment applied to one invoice.
type AllocationDTO struct {
	InvoiceID     string `json:"invoice_id"`
	BalanceBefore string `json:"balance_before"`
	Allocated     string `json:"allocated"`
	BalanceAfter  string `json:"balance_after"`
}

// VoucherDTO is a stored or drafted payment voucher.
type VoucherDTO struct {
	ID             string            `json:"id"`
	DocumentNumber string            `json:"document_number"`
	PartyID        string            `json:"party_id"`
	Date           string            `json:"date"`
	PaymentMode    string            `json:"payment_mode"`
	Amount         string            `json:"amount"`
	LinkedInvoices []LinkedAmountDTO `json:"linked_invoices"`
}

// LinkedAmountDTO is the part of a voucher applied to one invoice.
type LinkedAmountDTO struct {
	InvoiceID string `json:"invoice_id"`
	Amount    string `json:"amount"`
}

// DraftVoucherResponse is the drafted (or committed) voucher.
type DraftVoucherResponse struct {
	Voucher     VoucherDTO      `json:"voucher"`
	Allocations []AllocationDTO `json:"allocations"`
	Selection   SelectionDTO    `json:"selection"`
	Committed   bool            `json:"committed"`
}

// =============================================================================
// STATELESS RECONCILIATION
// =============================================================================

// ReconcileRequest carries records to reconcile without storing them.
// When Selection is non-empty a selection aggregate is computed as well.
type ReconcileRequest struct {
	Invoices     []factory.InvoiceJSON `json:"invoices"`
	Vouchers     []factory.VoucherJSON `json:"vouchers"`
	Selection    []string              `json:"selection,omitempty"`
	ReturnAmount factory.FlexDecimal   `json:"return_amount"`
}

// ReconcileResponse is the result of a stateless pass.
type ReconcileResponse struct {
	InvoiceListResponse
	Selection *SelectionDTO `json:"selection,omitempty"`
}

// =============================================================================
// SCENARIOS / AUDIT / ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// AuditDTO summarizes the last background audit.
type AuditDTO struct {
	RanAt          string         `json:"ran_at,omitempty"`
	Parties        int            `json:"parties"`
	Invoices       int            `json:"invoices"`
	IssueCounts    map[string]int `json:"issue_counts"`
	UnmatchedLinks int            `json:"unmatched_links"`
	Error          string         `json:"error,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string {
	return reconcile.FormatMoney(d)
}

func toPartyDTO(p sqlite.Party) PartyDTO {
	dto := PartyDTO{ID: string(p.ID), Name: p.Name, Kind: string(p.Kind)}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = p.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toIssueDTOs(issues []reconcile.Issue) []IssueDTO {
	if len(issues) == 0 {
		return nil
	}
	out := make([]IssueDTO, len(issues))
	for i, is := range issues {
		out[i] = IssueDTO{
			Code:      string(is.Code),
			InvoiceID: string(is.InvoiceID),
			Field:     is.Field,
			Message:   is.Message,
		}
	}
	return out
}

func toInvoiceDTO(a reconcile.InvoiceAggregate) InvoiceAggregateDTO {
	a = a.Rounded()
	payments := make([]PaymentLinkDTO, len(a.Links))
	for i, l := range a.Links {
		payments[i] = PaymentLinkDTO{VoucherID: string(l.VoucherID), Amount: money(l.Amount)}
	}
	return InvoiceAggregateDTO{
		InvoiceID:      string(a.InvoiceID),
		DocumentNumber: a.DocumentNumber,
		Date:           a.Date.Format(factory.DateLayout),
		TaxPercent:     a.TaxPercent.String(),
		NetAmount:      money(a.NetAmount),
		TaxAmount:      money(a.TaxAmount),
		GrossAmount:    money(a.GrossAmount),
		PaidAmount:     money(a.PaidAmount),
		BalanceAmount:  money(a.BalanceAmount),
		Status:         a.Status.String(),
		Payments:       payments,
		Issues:         toIssueDTOs(a.Issues),
	}
}

func toInvoiceDTOs(aggs []reconcile.InvoiceAggregate) []InvoiceAggregateDTO {
	out := make([]InvoiceAggregateDTO, len(aggs))
	for i, a := range aggs {
		out[i] = toInvoiceDTO(a)
	}
	return out
}

func toBatchResponse(partyID reconcile.PartyID, batch reconcile.BatchResult) InvoiceListResponse {
	resp := InvoiceListResponse{
		PartyID:  string(partyID),
		Invoices: toInvoiceDTOs(batch.Invoices),
		Issues:   toIssueDTOs(batch.Issues),
		Totals: TotalsDTO{
			Net:     money(batch.Totals.Net),
			Tax:     money(batch.Totals.Tax),
			Gross:   money(batch.Totals.Gross),
			Paid:    money(batch.Totals.Paid),
			Balance: money(batch.Totals.Balance),
		},
	}
	for _, id := range batch.Excluded {
		resp.Excluded = append(resp.Excluded, string(id))
	}
	return resp
}

func toReportResponse(report settlement.Report) InvoiceListResponse {
	resp := toBatchResponse(report.PartyID, report.Batch)
	resp.VoucherCount = report.Vouchers
	for _, id := range report.UnmatchedLinks {
		resp.UnmatchedLinks = append(resp.UnmatchedLinks, string(id))
	}
	return resp
}

// ReportResponse renders a reconciliation report the way the API does.
func ReportResponse(report settlement.Report) InvoiceListResponse {
	return toReportResponse(report)
}

// SelectionResponse renders a selection aggregate the way the API does.
func SelectionResponse(s reconcile.SelectionAggregate) SelectionDTO {
	return toSelectionDTO(s)
}

func toSelectionDTO(s reconcile.SelectionAggregate) SelectionDTO {
	s = s.Rounded()
	return SelectionDTO{
		NetTotal:      money(s.NetTotal),
		TaxTotal:      money(s.TaxTotal),
		GrossTotal:    money(s.GrossTotal),
		ReturnAmount:  money(s.ReturnAmount),
		AdjustedTotal: money(s.AdjustedTotal),
		PaidTotal:     money(s.PaidTotal),
		BalanceAmount: money(s.BalanceAmount),
		Status:        s.Status.String(),
		Lines:         toInvoiceDTOs(s.Lines),
		Issues:        toIssueDTOs(s.Issues),
	}
}

func toDraftResponse(d settlement.Draft, committed bool) DraftVoucherResponse {
	allocs := make([]AllocationDTO, len(d.Allocations))
	for i, a := range d.Allocations {
		allocs[i] = AllocationDTO{
			InvoiceID:     string(a.InvoiceID),
			BalanceBefore: money(a.BalanceBefore),
			Allocated:     money(a.Allocated),
			BalanceAfter:  money(a.BalanceAfter),
		}
	}
	return DraftVoucherResponse{
		Voucher:     toVoucherDTO(d.Voucher),
		Allocations: allocs,
		Selection:   toSelectionDTO(d.Selection),
		Committed:   committed,
	}
}

func toVoucherDTO(v reconcile.PaymentVoucher) VoucherDTO {
	links := make([]LinkedAmountDTO, len(v.LinkedInvoices))
	for i, l := range v.LinkedInvoices {
		links[i] = LinkedAmountDTO{InvoiceID: string(l.InvoiceID), Amount: money(l.Amount)}
	}
	return VoucherDTO{
		ID:             string(v.ID),
		DocumentNumber: v.DocumentNumber,
		PartyID:        string(v.PartyID),
		Date:           v.Date.Format(factory.DateLayout),
		PaymentMode:    string(v.Mode),
		Amount:         money(v.Amount),
		LinkedInvoices: links,
	}
}

func invoiceIDs(ids []string) []reconcile.InvoiceID {
	out := make([]reconcile.InvoiceID, len(ids))
	for i, id := range ids {
		out[i] = reconcile.InvoiceID(id)
	}
	return out
}
