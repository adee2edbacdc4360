/*
audit.go - Periodic ledger audit

PURPOSE:

	Reconciles every party on a timer and keeps a summary of the data-quality
	issues found (invalid amounts, invalid tax rates, overpayments, vouchers
	linked to unknown invoices). Nothing is written back: the audit only
	reads and logs, and the last result is served at GET /api/audit.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start
  - Each run is an independent reconciliation pass per party
  - A failing party is logged and skipped; the run continues

USAGE:

	auditor := NewAuditor(store, service, time.Hour, log)
	auditor.Start()
	// ... later
	auditor.Stop()

SEE ALSO:
  - settlement/service.go: Reconcile
  - handlers.go: GetAudit, RunAudit
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/reconciliation-engine/reconcile"
	"github.com/warp/reconciliation-engine/settlement"
	"github.com/warp/reconciliation-engine/store/sqlite"
)

// PartyLister lists the parties to audit.
type PartyLister interface {
	ListParties(ctx context.Context) ([]sqlite.Party, error)
}

// AuditResult summarizes one audit run.
type AuditResult struct {
	RanAt          time.Time
	Parties        int
	Invoices       int
	IssueCounts    map[reconcile.IssueCode]int
	UnmatchedLinks int
	Err            error
}

// Auditor reconciles all parties periodically.
type Auditor struct {
	Parties  PartyLister
	Service  *settlement.Service
	Interval time.Duration

	log    *zap.Logger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   AuditResult
}

// NewAuditor creates an auditor. An interval of zero disables the timer;
// RunNow still works.
func NewAuditor(parties PartyLister, svc *settlement.Service, interval time.Duration, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{
		Parties:  parties,
		Service:  svc,
		Interval: interval,
		log:      log.Named("audit"),
		now:      time.Now,
	}
}

// Start begins the periodic audit.
func (a *Auditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Interval <= 0 {
		a.log.Info("audit disabled")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.Interval)
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run(a.ticker, a.stop)

	a.log.Info("audit started", zap.Duration("interval", a.Interval))
}

// Stop stops the periodic audit and waits for a running pass to finish.
func (a *Auditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker == nil {
		return
	}
	a.ticker.Stop()
	close(a.stop)
	a.wg.Wait()
	a.ticker = nil
	a.log.Info("audit stopped")
}

func (a *Auditor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	a.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			a.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow runs one audit pass and records it as the last result.
func (a *Auditor) RunNow(ctx context.Context) AuditResult {
	res := a.audit(ctx)

	a.lastMu.Lock()
	a.last = res
	a.lastMu.Unlock()
	return res
}

// Last returns the most recent result. RanAt is zero before the first run.
func (a *Auditor) Last() AuditResult {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	return a.last
}

func (a *Auditor) audit(ctx context.Context) AuditResult {
	res := AuditResult{
		RanAt:       a.now().UTC(),
		IssueCounts: make(map[reconcile.IssueCode]int),
	}

	parties, err := a.Parties.ListParties(ctx)
	if err != nil {
		a.log.Error("list parties", zap.Error(err))
		res.Err = err
		return res
	}

	failed := 0
	for _, p := range parties {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}
		report, err := a.Service.Reconcile(ctx, p.ID)
		if err != nil {
			a.log.Error("reconcile party", zap.String("party_id", string(p.ID)), zap.Error(err))
			failed++
			continue
		}
		res.Parties++
		res.Invoices += len(report.Batch.Invoices) + len(report.Batch.Excluded)
		res.UnmatchedLinks += len(report.UnmatchedLinks)
		for _, is := range report.Batch.Issues {
			res.IssueCounts[is.Code]++
		}
	}

	fields := []zap.Field{
		zap.Int("parties", res.Parties),
		zap.Int("invoices", res.Invoices),
		zap.Int("unmatched_links", res.UnmatchedLinks),
		zap.Int("failed", failed),
	}
	for code, n := range res.IssueCounts {
		fields = append(fields, zap.Int(string(code), n))
	}
	a.log.Info("audit complete", fields...)
	return res
}

func toAuditDTO(r AuditResult) AuditDTO {
	dto := AuditDTO{
		Parties:        r.Parties,
		Invoices:       r.Invoices,
		IssueCounts:    make(map[string]int, len(r.IssueCounts)),
		UnmatchedLinks: r.UnmatchedLinks,
	}
	if !r.RanAt.IsZero() {
		dto.RanAt = r.RanAt.Format(time.RFC3339)
	}
	for code, n := range r.IssueCounts {
		dto.IssueCounts[string(code)] = n
	}
	if r.Err != nil {
		dto.Error = r.Err.Error()
	}
	return dto
}
