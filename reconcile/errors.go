/*
errors.go - Error types for the reconciliation engine

PURPOSE:

	All error types in one place. Two kinds of conditions exist:

	1. Per-record conditions (bad invoice amount, bad tax rate, overpayment).
	   These never abort a batch. They are reported as Issue values inside
	   results, and as InvoiceError when a single-invoice call cannot proceed.

	2. Computation-level validation failures (negative return amount, empty
	   selection where one is required). These abort that one computation and
	   are returned as FieldError carrying the field at fault.

USAGE:

	if errors.Is(err, reconcile.ErrInvalidReturnAmount) {
	    var fe *reconcile.FieldError
	    errors.As(err, &fe) // fe.Field == "return_amount"
	}

SEE ALSO:
  - invoice.go, selection.go: produce these errors and issues
  - api/handlers.go: maps them to HTTP status codes
*/
package reconcile

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInvoiceAmount is returned when an invoice's gross amount is
	// missing or non-numeric.
	ErrInvalidInvoiceAmount = errors.New("invalid invoice amount")

	// ErrInvalidTaxRate is returned when a tax percent is outside [0,100).
	ErrInvalidTaxRate = errors.New("invalid tax rate")

	// ErrInvalidReturnAmount is returned for a negative return amount.
	ErrInvalidReturnAmount = errors.New("invalid return amount")

	// ErrInconsistentLinkage marks linked payments exceeding what is owed.
	// It is a warning: results still carry the negative balance.
	ErrInconsistentLinkage = errors.New("inconsistent linkage")

	// ErrEmptySelection is returned when an operation needs at least one invoice.
	ErrEmptySelection = errors.New("empty invoice selection")

	// ErrInvoiceNotFound is returned when a selected invoice id is unknown.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrPartyMismatch is returned when a selected invoice belongs to another party.
	ErrPartyMismatch = errors.New("invoice belongs to another party")

	// ErrInvalidPaymentAmount is returned when a voucher amount is not positive.
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")

	// ErrInvalidPaymentMode is returned for a mode other than cash/bank/cheque/online.
	ErrInvalidPaymentMode = errors.New("invalid payment mode")

	// ErrOverAllocation is returned when a payment exceeds the outstanding balance.
	ErrOverAllocation = errors.New("payment exceeds outstanding balance")

	// ErrInvalidPartyKind is returned for a party that is neither vendor nor customer.
	ErrInvalidPartyKind = errors.New("invalid party kind")

	// ErrMissingID is returned when a record to be stored has no id.
	ErrMissingID = errors.New("missing record id")

	// ErrDuplicateVoucher is returned when a voucher id is already recorded.
	// Vouchers are append-only; corrections are new vouchers.
	ErrDuplicateVoucher = errors.New("duplicate voucher id")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvoiceError ties a per-record failure to the invoice it came from.
type InvoiceError struct {
	InvoiceID InvoiceID
	Err       error
}

func (e *InvoiceError) Error() string {
	return fmt.Sprintf("invoice %s: %v", e.InvoiceID, e.Err)
}

func (e *InvoiceError) Unwrap() error {
	return e.Err
}

// FieldError is a validation failure on a single input field.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s=%s: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ISSUES - Non-fatal, per-record data-quality flags
// =============================================================================

type IssueCode string

const (
	IssueInvalidInvoiceAmount IssueCode = "invalid_invoice_amount"
	IssueInvalidTaxRate       IssueCode = "invalid_tax_rate"
	IssueInconsistentLinkage  IssueCode = "inconsistent_linkage"
)

// Issue flags a data-quality condition found while aggregating.
// InvoiceID is empty for selection-wide issues.
type Issue struct {
	Code      IssueCode
	InvoiceID InvoiceID
	Field     string
	Message   string
}

// Err returns the sentinel error matching the issue code.
func (i Issue) Err() error {
	switch i.Code {
	case IssueInvalidInvoiceAmount:
		return ErrInvalidInvoiceAmount
	case IssueInvalidTaxRate:
		return ErrInvalidTaxRate
	case IssueInconsistentLinkage:
		return ErrInconsistentLinkage
	}
	return nil
}

// HasIssue reports whether issues contains one with the given code.
func HasIssue(issues []Issue, code IssueCode) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInvoiceAmount) ||
		errors.Is(err, ErrInvalidTaxRate) ||
		errors.Is(err, ErrInvalidReturnAmount) ||
		errors.Is(err, ErrEmptySelection) ||
		errors.Is(err, ErrPartyMismatch) ||
		errors.Is(err, ErrInvalidPaymentAmount) ||
		errors.Is(err, ErrInvalidPaymentMode) ||
		errors.Is(err, ErrOverAllocation) ||
		errors.Is(err, ErrInvalidPartyKind) ||
		errors.Is(err, ErrMissingID) ||
		errors.Is(err, ErrDuplicateVoucher)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound)
}
