/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built ledgers that show how the engine derives amounts
	and status. Each scenario creates parties, invoices and vouchers; the
	derived figures are never stored and come from the engine on read.

AVAILABLE SCENARIOS:

	tax-split:         105.00 at 5% splits into 100.00 net + 5.00 tax
	partial-payment:   1000.00 invoice with 300.00 + 400.00 paid
	full-payment:      the same invoice with a third 300.00 payment
	selection-return:  500.00 + 300.00 invoices to select with a 100.00 return
	overpayment:       200.00 invoice with 250.00 linked to it
	data-quality:      several parties with a missing amount, a bad tax rate
	                   and a voucher pointing at an unknown invoice

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Build the scenario's parties, invoices and vouchers
 3. Import them in one transaction

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "partial-payment"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: the views that read the loaded data
  - store/sqlite: Import, Reset
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/reconciliation-engine/reconcile"
	"github.com/warp/reconciliation-engine/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "tax-split",
		Name:        "Tax Split",
		Description: "One 105.00 invoice at 5% tax: net 100.00, tax 5.00, unpaid",
	},
	{
		ID:          "partial-payment",
		Name:        "Partial Payment",
		Description: "1000.00 invoice paid by two vouchers of 300.00 and 400.00: balance 300.00",
	},
	{
		ID:          "full-payment",
		Name:        "Full Payment",
		Description: "The partial-payment invoice settled by a third 300.00 voucher",
	},
	{
		ID:          "selection-return",
		Name:        "Selection With Return",
		Description: "Invoices of 500.00 and 300.00; select both with a 100.00 return to owe 700.00",
	},
	{
		ID:          "overpayment",
		Name:        "Overpayment",
		Description: "200.00 invoice with 250.00 linked: balance -50.00, flagged",
	},
	{
		ID:          "data-quality",
		Name:        "Data Quality",
		Description: "Two vendors and a customer with bad amounts, a bad tax rate and an orphan payment",
	},
}

// scenarioData is everything a scenario imports.
type scenarioData struct {
	parties  []sqlite.Party
	invoices []reconcile.Invoice
	vouchers []reconcile.PaymentVoucher
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	data, ok := buildScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID, data); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loadScenario(ctx context.Context, id string, data scenarioData) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""
	if err := h.Store.Import(ctx, data.parties, data.invoices, data.vouchers); err != nil {
		return fmt.Errorf("import %s: %w", id, err)
	}
	h.currentScenario = id
	return nil
}

// =============================================================================
// SCENARIO BUILDERS
// =============================================================================

func buildScenario(id string) (scenarioData, bool) {
	switch id {
	case "tax-split":
		return taxSplitScenario(), true
	case "partial-payment":
		return partialPaymentScenario(), true
	case "full-payment":
		return fullPaymentScenario(), true
	case "selection-return":
		return selectionReturnScenario(), true
	case "overpayment":
		return overpaymentScenario(), true
	case "data-quality":
		return dataQualityScenario(), true
	}
	return scenarioData{}, false
}

func taxSplitScenario() scenarioData {
	return scenarioData{
		parties: []sqlite.Party{vendor("vendor-acme", "Acme Supplies")},
		invoices: []reconcile.Invoice{
			invoice("inv-a1", "PI-1001", "vendor-acme", date(3, 1), "105.00", "5"),
		},
	}
}

func partialPaymentScenario() scenarioData {
	return scenarioData{
		parties: []sqlite.Party{vendor("vendor-acme", "Acme Supplies")},
		invoices: []reconcile.Invoice{
			invoice("inv-b1", "PI-2001", "vendor-acme", date(3, 1), "1000.00", "5"),
		},
		vouchers: []reconcile.PaymentVoucher{
			voucher("pv-b1", "PV-2001", "vendor-acme", date(3, 10), reconcile.ModeBank, link("inv-b1", "300.00")),
			voucher("pv-b2", "PV-2002", "vendor-acme", date(3, 20), reconcile.ModeCheque, link("inv-b1", "400.00")),
		},
	}
}

func fullPaymentScenario() scenarioData {
	data := partialPaymentScenario()
	data.vouchers = append(data.vouchers,
		voucher("pv-b3", "PV-2003", "vendor-acme", date(3, 30), reconcile.ModeOnline, link("inv-b1", "300.00")))
	return data
}

func selectionReturnScenario() scenarioData {
	return scenarioData{
		parties: []sqlite.Party{vendor("vendor-globex", "Globex Trading")},
		invoices: []reconcile.Invoice{
			invoice("inv-d1", "PI-3001", "vendor-globex", date(4, 2), "500.00", "5"),
			invoice("inv-d2", "PI-3002", "vendor-globex", date(4, 5), "300.00", "5"),
		},
	}
}

func overpaymentScenario() scenarioData {
	return scenarioData{
		parties: []sqlite.Party{vendor("vendor-initech", "Initech")},
		invoices: []reconcile.Invoice{
			invoice("inv-e1", "PI-4001", "vendor-initech", date(5, 1), "200.00", "5"),
		},
		vouchers: []reconcile.PaymentVoucher{
			voucher("pv-e1", "PV-4001", "vendor-initech", date(5, 3), reconcile.ModeCash, link("inv-e1", "250.00")),
		},
	}
}

func dataQualityScenario() scenarioData {
	missing := invoice("inv-q2", "PI-5002", "vendor-acme", date(2, 14), "", "5")
	badRate := invoice("inv-q3", "PI-5003", "vendor-acme", date(2, 20), "210.00", "150")
	return scenarioData{
		parties: []sqlite.Party{
			vendor("vendor-acme", "Acme Supplies"),
			vendor("vendor-globex", "Globex Trading"),
			{ID: "cust-umbrella", Name: "Umbrella Retail", Kind: reconcile.PartyCustomer, CreatedAt: date(1, 1)},
		},
		invoices: []reconcile.Invoice{
			invoice("inv-q1", "PI-5001", "vendor-acme", date(2, 1), "1050.00", "5"),
			missing,
			badRate,
			invoice("inv-q4", "PI-5004", "vendor-globex", date(2, 3), "118.00", "18"),
			invoice("inv-q5", "SI-9001", "cust-umbrella", date(2, 9), "2400.00", "12"),
		},
		vouchers: []reconcile.PaymentVoucher{
			voucher("pv-q1", "PV-5001", "vendor-acme", date(2, 15), reconcile.ModeBank,
				link("inv-q1", "500.00"), link("inv-q3", "210.00")),
			voucher("pv-q2", "PV-5002", "vendor-acme", date(2, 28), reconcile.ModeBank,
				link("inv-q9", "75.00")),
			voucher("pv-q3", "RV-9001", "cust-umbrella", date(2, 25), reconcile.ModeOnline,
				link("inv-q5", "2400.00")),
		},
	}
}

// =============================================================================
// BUILDING BLOCKS
// =============================================================================

func date(month time.Month, day int) time.Time {
	return time.Date(2025, month, day, 0, 0, 0, 0, time.UTC)
}

func vendor(id, name string) sqlite.Party {
	return sqlite.Party{
		ID:        reconcile.PartyID(id),
		Name:      name,
		Kind:      reconcile.PartyVendor,
		CreatedAt: date(1, 1),
	}
}

// invoice builds an invoice; an empty gross leaves the amount invalid.
func invoice(id, doc, party string, on time.Time, gross, taxPercent string) reconcile.Invoice {
	return reconcile.Invoice{
		ID:             reconcile.InvoiceID(id),
		DocumentNumber: doc,
		PartyID:        reconcile.PartyID(party),
		Date:           on,
		GrossAmount:    reconcile.Money(gross),
		TaxPercent:     reconcile.Money(taxPercent),
		ReturnAmount:   decimal.Zero,
	}
}

func link(invoiceID, amount string) reconcile.LinkedInvoice {
	return reconcile.LinkedInvoice{
		InvoiceID: reconcile.InvoiceID(invoiceID),
		Amount:    reconcile.MustParseDecimal(amount),
	}
}

func voucher(id, doc, party string, on time.Time, mode reconcile.PaymentMode, links ...reconcile.LinkedInvoice) reconcile.PaymentVoucher {
	v := reconcile.PaymentVoucher{
		ID:             reconcile.VoucherID(id),
		DocumentNumber: doc,
		PartyID:        reconcile.PartyID(party),
		Date:           on,
		Mode:           mode,
		LinkedInvoices: links,
	}
	v.Amount = v.LinkedTotal()
	return v
}
