/*
Package factory converts raw JSON records into typed reconcile records.

PURPOSE:

	Invoices and vouchers arrive from upstream systems as loosely typed JSON:
	amounts as numbers or strings, tax rates on the header or only on line
	items, dates as strings. The factory is the single place where those
	records are decoded and validated, so nothing downstream has to inspect
	response shapes or guess at types.

JSON SCHEMA (invoice):

	{
	  "id": "inv-1001",
	  "document_number": "PI-1001",
	  "party_id": "vendor-acme",
	  "date": "2025-03-01",
	  "gross_amount": "1050.00",
	  "tax_percent": 5,
	  "return_amount": "0",
	  "line_items": [
	    {"description": "Widgets", "quantity": 10, "unit_price": "100", "tax_percent": 5}
	  ]
	}

JSON SCHEMA (voucher):

	{
	  "id": "pv-1",
	  "document_number": "PV-1",
	  "party_id": "vendor-acme",
	  "date": "2025-03-15",
	  "payment_mode": "bank",
	  "amount": "700.00",
	  "linked_invoices": [{"invoice_id": "inv-1001", "amount": "700.00"}]
	}

KEY RULES:
  - gross_amount missing, null or non-numeric is NOT a decode error. The
    invoice is kept with an invalid amount so the engine can flag and
    exclude it without dropping the rest of the batch.
  - Tax rate: header tax_percent, else the first line item's rate, else
    absent (the engine applies its default).
  - New invoices may not be dated in the future (ParseInvoice). Stored or
    imported batches skip that check (DecodeInvoices).
  - Voucher amounts must be numeric; a voucher without an amount takes the
    sum of its linked amounts.

SEE ALSO:
  - reconcile/types.go: the typed records
  - api/handlers.go: POST /api/invoices, POST /api/vouchers
  - cmd/server/report.go: offline reconciliation of JSON files
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/reconciliation-engine/reconcile"
)

// ErrInvalidRecord is wrapped by every decode or validation failure.
var ErrInvalidRecord = errors.New("invalid record")

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// InvoiceJSON is the wire representation of an invoice.
type InvoiceJSON struct {
	ID             string         `json:"id" validate:"required"`
	DocumentNumber string         `json:"document_number" validate:"required"`
	PartyID        string         `json:"party_id" validate:"required"`
	Date           string         `json:"date" validate:"required,datetime=2006-01-02"`
	GrossAmount    FlexDecimal    `json:"gross_amount"`
	TaxPercent     FlexDecimal    `json:"tax_percent"`
	ReturnAmount   FlexDecimal    `json:"return_amount"`
	LineItems      []LineItemJSON `json:"line_items,omitempty" validate:"dive"`
}

// LineItemJSON is one invoice line.
type LineItemJSON struct {
	Description string      `json:"description" validate:"max=500"`
	Quantity    FlexDecimal `json:"quantity"`
	UnitPrice   FlexDecimal `json:"unit_price"`
	TaxPercent  FlexDecimal `json:"tax_percent"`
}

// VoucherJSON is the wire representation of a payment voucher.
type VoucherJSON struct {
	ID             string              `json:"id" validate:"required"`
	DocumentNumber string              `json:"document_number" validate:"required"`
	PartyID        string              `json:"party_id" validate:"required"`
	Date           string              `json:"date" validate:"required,datetime=2006-01-02"`
	PaymentMode    string              `json:"payment_mode" validate:"required,oneof=cash bank cheque online"`
	Amount         FlexDecimal         `json:"amount"`
	LinkedInvoices []LinkedInvoiceJSON `json:"linked_invoices" validate:"dive"`
}

// LinkedInvoiceJSON allocates part of a voucher to one invoice.
type LinkedInvoiceJSON struct {
	InvoiceID string      `json:"invoice_id" validate:"required"`
	Amount    FlexDecimal `json:"amount"`
}

// =============================================================================
// FACTORY
// =============================================================================

// RecordFactory decodes and validates records. Safe for concurrent use.
type RecordFactory struct {
	validate *validator.Validate
	now      func() time.Time
}

// NewRecordFactory creates a factory using the wall clock.
func NewRecordFactory() *RecordFactory {
	return NewRecordFactoryWithClock(time.Now)
}

// NewRecordFactoryWithClock creates a factory with an injected clock, used
// for the "date must not be in the future" rule.
func NewRecordFactoryWithClock(now func() time.Time) *RecordFactory {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RecordFactory{validate: v, now: now}
}

// ParseInvoice decodes a single newly created invoice.
func (f *RecordFactory) ParseInvoice(data []byte) (reconcile.Invoice, error) {
	var j InvoiceJSON
	if err := decodeStrict(data, &j); err != nil {
		return reconcile.Invoice{}, err
	}
	return f.Invoice(j, true)
}

// ParseVoucher decodes a single voucher.
func (f *RecordFactory) ParseVoucher(data []byte) (reconcile.PaymentVoucher, error) {
	var j VoucherJSON
	if err := decodeStrict(data, &j); err != nil {
		return reconcile.PaymentVoucher{}, err
	}
	return f.Voucher(j)
}

// DecodeInvoices decodes a JSON array of already recorded invoices.
func (f *RecordFactory) DecodeInvoices(data []byte) ([]reconcile.Invoice, error) {
	var list []InvoiceJSON
	if err := decodeStrict(data, &list); err != nil {
		return nil, err
	}
	out := make([]reconcile.Invoice, 0, len(list))
	for i, j := range list {
		inv, err := f.Invoice(j, false)
		if err != nil {
			return nil, fmt.Errorf("invoice[%d]: %w", i, err)
		}
		out = append(out, inv)
	}
	return out, nil
}

// DecodeVouchers decodes a JSON array of vouchers, keeping their order.
func (f *RecordFactory) DecodeVouchers(data []byte) ([]reconcile.PaymentVoucher, error) {
	var list []VoucherJSON
	if err := decodeStrict(data, &list); err != nil {
		return nil, err
	}
	out := make([]reconcile.PaymentVoucher, 0, len(list))
	for i, j := range list {
		v, err := f.Voucher(j)
		if err != nil {
			return nil, fmt.Errorf("voucher[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Invoice converts a decoded invoice. With checkDate set, a date after
// today is rejected.
func (f *RecordFactory) Invoice(j InvoiceJSON, checkDate bool) (reconcile.Invoice, error) {
	if err := f.Check(j); err != nil {
		return reconcile.Invoice{}, err
	}

	date, _ := time.Parse(DateLayout, j.Date)
	if checkDate && date.After(today(f.now())) {
		return reconcile.Invoice{}, fieldErr("date", j.Date, "must not be in the future")
	}

	inv := reconcile.Invoice{
		ID:             reconcile.InvoiceID(j.ID),
		DocumentNumber: j.DocumentNumber,
		PartyID:        reconcile.PartyID(j.PartyID),
		Date:           date,
		GrossAmount:    j.GrossAmount.NullDecimal,
		ReturnAmount:   decimal.Zero,
	}

	if j.ReturnAmount.Present {
		if !j.ReturnAmount.Valid || j.ReturnAmount.Decimal.IsNegative() {
			return reconcile.Invoice{}, fieldErr("return_amount", j.ReturnAmount.Raw, "must be a non-negative number")
		}
		inv.ReturnAmount = j.ReturnAmount.Decimal
	}

	for _, li := range j.LineItems {
		inv.LineItems = append(inv.LineItems, reconcile.LineItem{
			Description: li.Description,
			Quantity:    li.Quantity.OrZero(),
			UnitPrice:   li.UnitPrice.OrZero(),
			TaxPercent:  li.TaxPercent.NullDecimal,
		})
	}
	inv.TaxPercent = invoiceTaxPercent(j)
	return inv, nil
}

// invoiceTaxPercent applies the header-then-first-line rule. Line items with
// different rates still use the first item's rate. A non-numeric header rate
// leaves the rate absent so the engine default applies; the line items are
// not consulted.
func invoiceTaxPercent(j InvoiceJSON) decimal.NullDecimal {
	if j.TaxPercent.Valid {
		return j.TaxPercent.NullDecimal
	}
	if j.TaxPercent.Raw != "" {
		return decimal.NullDecimal{}
	}
	if len(j.LineItems) > 0 && j.LineItems[0].TaxPercent.Valid {
		return j.LineItems[0].TaxPercent.NullDecimal
	}
	return decimal.NullDecimal{}
}

// Voucher converts a decoded voucher.
func (f *RecordFactory) Voucher(j VoucherJSON) (reconcile.PaymentVoucher, error) {
	if err := f.Check(j); err != nil {
		return reconcile.PaymentVoucher{}, err
	}
	date, _ := time.Parse(DateLayout, j.Date)

	v := reconcile.PaymentVoucher{
		ID:             reconcile.VoucherID(j.ID),
		DocumentNumber: j.DocumentNumber,
		PartyID:        reconcile.PartyID(j.PartyID),
		Date:           date,
		Mode:           reconcile.PaymentMode(j.PaymentMode),
	}
	for i, li := range j.LinkedInvoices {
		if !li.Amount.Valid {
			return reconcile.PaymentVoucher{}, fieldErr(
				fmt.Sprintf("linked_invoices[%d].amount", i), li.Amount.Raw, "must be a number")
		}
		v.LinkedInvoices = append(v.LinkedInvoices, reconcile.LinkedInvoice{
			InvoiceID: reconcile.InvoiceID(li.InvoiceID),
			Amount:    li.Amount.Decimal,
		})
	}

	switch {
	case j.Amount.Valid:
		v.Amount = j.Amount.Decimal
	case j.Amount.Present:
		return reconcile.PaymentVoucher{}, fieldErr("amount", j.Amount.Raw, "must be a number")
	default:
		v.Amount = v.LinkedTotal()
	}
	return v, nil
}

// =============================================================================
// ENCODING - typed record back to wire form
// =============================================================================

// InvoiceToJSON renders an invoice in wire form.
func InvoiceToJSON(inv reconcile.Invoice) InvoiceJSON {
	j := InvoiceJSON{
		ID:             string(inv.ID),
		DocumentNumber: inv.DocumentNumber,
		PartyID:        string(inv.PartyID),
		Date:           inv.Date.Format(DateLayout),
		GrossAmount:    flexOf(inv.GrossAmount),
		TaxPercent:     flexOf(inv.TaxPercent),
		ReturnAmount:   flexOf(decimal.NullDecimal{Decimal: inv.ReturnAmount, Valid: true}),
	}
	for _, li := range inv.LineItems {
		j.LineItems = append(j.LineItems, LineItemJSON{
			Description: li.Description,
			Quantity:    flexOf(decimal.NullDecimal{Decimal: li.Quantity, Valid: true}),
			UnitPrice:   flexOf(decimal.NullDecimal{Decimal: li.UnitPrice, Valid: true}),
			TaxPercent:  flexOf(li.TaxPercent),
		})
	}
	return j
}

// VoucherToJSON renders a voucher in wire form.
func VoucherToJSON(v reconcile.PaymentVoucher) VoucherJSON {
	j := VoucherJSON{
		ID:             string(v.ID),
		DocumentNumber: v.DocumentNumber,
		PartyID:        string(v.PartyID),
		Date:           v.Date.Format(DateLayout),
		PaymentMode:    string(v.Mode),
		Amount:         flexOf(decimal.NullDecimal{Decimal: v.Amount, Valid: true}),
		LinkedInvoices: []LinkedInvoiceJSON{},
	}
	for _, li := range v.LinkedInvoices {
		j.LinkedInvoices = append(j.LinkedInvoices, LinkedInvoiceJSON{
			InvoiceID: string(li.InvoiceID),
			Amount:    flexOf(decimal.NullDecimal{Decimal: li.Amount, Valid: true}),
		})
	}
	return j
}

// =============================================================================
// HELPERS
// =============================================================================

// Check validates a struct against its validate tags. The first failure is
// returned as a *reconcile.FieldError wrapping ErrInvalidRecord.
func (f *RecordFactory) Check(s any) error {
	err := f.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &reconcile.FieldError{
			Field: fieldPath(fe),
			Value: fmt.Sprint(fe.Value()),
			Err:   fmt.Errorf("%w: failed %q", ErrInvalidRecord, fe.Tag()),
		}
	}
	return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldErr(field, value, msg string) error {
	return &reconcile.FieldError{
		Field: field,
		Value: value,
		Err:   fmt.Errorf("%w: %s", ErrInvalidRecord, msg),
	}
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

func today(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
