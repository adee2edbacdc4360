package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/reconciliation-engine/api"
	"github.com/warp/reconciliation-engine/factory"
	"github.com/warp/reconciliation-engine/reconcile"
	"github.com/warp/reconciliation-engine/reconcile/store"
	"github.com/warp/reconciliation-engine/settlement"
)

type reportOptions struct {
	invoices     string
	vouchers     string
	party        string
	selection    []string
	returnAmount string
	format       string
}

func newReportCmd(a *app) *cobra.Command {
	opts := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Reconcile invoice and voucher JSON files",
		Long: `Reads a JSON array of invoices and, optionally, a JSON array of payment
vouchers, then prints every invoice with its net, tax, paid and balance
amounts and its status. With --select, also prints the combined figures for
the selected invoices after the return amount.`,
		Example: `  recon report --invoices invoices.json --vouchers vouchers.json
  recon report --invoices invoices.json --party vendor-globex --select inv-d1,inv-d2 --return 100
  recon report --invoices invoices.json --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.invoices, "invoices", "", "invoice JSON file (required)")
	f.StringVar(&opts.vouchers, "vouchers", "", "payment voucher JSON file")
	f.StringVar(&opts.party, "party", "", "only this party's records")
	f.StringSliceVar(&opts.selection, "select", nil, "invoice ids to aggregate as a selection")
	f.StringVar(&opts.returnAmount, "return", "0", "return amount deducted from the selection")
	f.StringVar(&opts.format, "format", "table", "output format: table or json")
	_ = cmd.MarkFlagRequired("invoices")
	return cmd
}

func (a *app) report(ctx context.Context, out io.Writer, opts *reportOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.format != "table" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}
	ret, err := decimal.NewFromString(strings.TrimSpace(opts.returnAmount))
	if err != nil {
		return fmt.Errorf("--return: %q is not a number", opts.returnAmount)
	}

	records := factory.NewRecordFactory()
	data, err := os.ReadFile(opts.invoices)
	if err != nil {
		return err
	}
	invoices, err := records.DecodeInvoices(data)
	if err != nil {
		return fmt.Errorf("%s: %w", opts.invoices, err)
	}
	var vouchers []reconcile.PaymentVoucher
	if opts.vouchers != "" {
		data, err := os.ReadFile(opts.vouchers)
		if err != nil {
			return err
		}
		if vouchers, err = records.DecodeVouchers(data); err != nil {
			return fmt.Errorf("%s: %w", opts.vouchers, err)
		}
	}

	mem, err := store.NewMemoryFrom(invoices, vouchers)
	if err != nil {
		return err
	}
	engine, err := a.engine()
	if err != nil {
		return err
	}
	svc := settlement.NewService(mem, mem, engine, a.log)

	party := reconcile.PartyID(opts.party)
	rep, err := svc.Reconcile(ctx, party)
	if err != nil {
		return err
	}

	var sel *reconcile.SelectionAggregate
	if len(opts.selection) > 0 {
		ids := make([]reconcile.InvoiceID, len(opts.selection))
		for i, id := range opts.selection {
			ids[i] = reconcile.InvoiceID(strings.TrimSpace(id))
		}
		s, err := svc.Select(ctx, settlement.SelectionRequest{PartyID: party, InvoiceIDs: ids, ReturnAmount: ret})
		if err != nil {
			return err
		}
		sel = &s
	}

	if opts.format == "json" {
		return writeReportJSON(out, rep, sel)
	}
	return writeReportTable(out, rep, sel)
}

func writeReportJSON(out io.Writer, rep settlement.Report, sel *reconcile.SelectionAggregate) error {
	doc := struct {
		api.InvoiceListResponse
		Selection *api.SelectionDTO `json:"selection,omitempty"`
	}{InvoiceListResponse: api.ReportResponse(rep)}
	if sel != nil {
		dto := api.SelectionResponse(*sel)
		doc.Selection = &dto
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeReportTable(out io.Writer, rep settlement.Report, sel *reconcile.SelectionAggregate) error {
	m := reconcile.FormatMoney
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintln(tw, "INVOICE\tDATE\tTAX %\tNET\tTAX\tGROSS\tPAID\tBALANCE\tSTATUS\t")
	for _, inv := range rep.Batch.Invoices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			label(inv), inv.Date.Format("2006-01-02"), inv.TaxPercent.String(),
			m(inv.NetAmount), m(inv.TaxAmount), m(inv.GrossAmount),
			m(inv.PaidAmount), m(inv.BalanceAmount), inv.Status)
	}
	t := rep.Batch.Totals
	fmt.Fprintf(tw, "TOTAL\t\t\t%s\t%s\t%s\t%s\t%s\t\t\n",
		m(t.Net), m(t.Tax), m(t.Gross), m(t.Paid), m(t.Balance))
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d invoices, %d vouchers\n", len(rep.Batch.Invoices), rep.Vouchers)
	for _, id := range rep.Batch.Excluded {
		fmt.Fprintf(out, "excluded: %s\n", id)
	}
	for _, id := range rep.UnmatchedLinks {
		fmt.Fprintf(out, "unmatched link: %s\n", id)
	}
	for _, is := range rep.Batch.Issues {
		fmt.Fprintf(out, "issue: %s %s: %s\n", is.Code, is.InvoiceID, is.Message)
	}

	if sel == nil {
		return nil
	}
	fmt.Fprintln(out, "\nSelection")
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, row := range [][2]string{
		{"net", m(sel.NetTotal)},
		{"tax", m(sel.TaxTotal)},
		{"gross", m(sel.GrossTotal)},
		{"return", m(sel.ReturnAmount)},
		{"adjusted", m(sel.AdjustedTotal)},
		{"paid", m(sel.PaidTotal)},
		{"balance", m(sel.BalanceAmount)},
		{"status", string(sel.Status)},
	} {
		fmt.Fprintf(tw, "  %s\t%s\n", row[0], row[1])
	}
	return tw.Flush()
}

func label(inv reconcile.InvoiceAggregate) string {
	if inv.DocumentNumber != "" && inv.DocumentNumber != string(inv.InvoiceID) {
		return fmt.Sprintf("%s (%s)", inv.InvoiceID, inv.DocumentNumber)
	}
	return string(inv.InvoiceID)
}
