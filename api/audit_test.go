package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/reconciliation-engine/reconcile"
	"github.com/warp/reconciliation-engine/store/sqlite"
)

type failingParties struct{}

func (failingParties) ListParties(context.Context) ([]sqlite.Party, error) {
	return nil, errors.New("disk on fire")
}

func TestAuditor_RunNow(t *testing.T) {
	h, srv := newTestServer(t)
	loadScenario(t, srv, "data-quality")

	core, logs := observer.New(zapcore.InfoLevel)
	a := NewAuditor(h.Store, h.Service, 0, zap.New(core))
	a.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }

	res := a.RunNow(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Parties)
	assert.Equal(t, 5, res.Invoices)
	assert.Equal(t, 1, res.UnmatchedLinks)
	assert.Equal(t, map[reconcile.IssueCode]int{
		reconcile.IssueInvalidInvoiceAmount: 1,
		reconcile.IssueInvalidTaxRate:       1,
	}, res.IssueCounts)
	assert.Equal(t, res, a.Last())

	entries := logs.FilterMessage("audit complete").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ContextMap()["parties"])
}

func TestAuditor_ListFailure(t *testing.T) {
	h, _ := newTestServer(t)
	a := NewAuditor(failingParties{}, h.Service, 0, nil)

	res := a.RunNow(context.Background())
	assert.EqualError(t, res.Err, "disk on fire")
	assert.Zero(t, res.Parties)
}

func TestAuditor_StartStop(t *testing.T) {
	h, srv := newTestServer(t)
	loadScenario(t, srv, "overpayment")

	a := NewAuditor(h.Store, h.Service, time.Hour, nil)
	a.Start()
	a.Start() // second start is a no-op

	// the first pass runs right away
	require.Eventually(t, func() bool { return !a.Last().RanAt.IsZero() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, a.Last().IssueCounts[reconcile.IssueInconsistentLinkage])

	a.Stop()
	a.Stop()
}

func TestAuditor_DisabledDoesNotStart(t *testing.T) {
	h, _ := newTestServer(t)
	a := NewAuditor(h.Store, h.Service, 0, nil)
	a.Start()
	defer a.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, a.Last().RanAt.IsZero())
}

func TestAuditEndpoints(t *testing.T) {
	h, srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/audit", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no auditor attached")

	h.SetAuditor(NewAuditor(h.Store, h.Service, 0, nil))
	loadScenario(t, srv, "overpayment")

	rec = do(t, srv, http.MethodGet, "/api/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeAs[AuditDTO](t, rec).RanAt, "nothing has run yet")

	rec = do(t, srv, http.MethodPost, "/api/audit/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeAs[AuditDTO](t, rec)
	assert.NotEmpty(t, dto.RanAt)
	assert.Equal(t, 1, dto.Parties)
	assert.Equal(t, map[string]int{"inconsistent_linkage": 1}, dto.IssueCounts)

	rec = do(t, srv, http.MethodGet, "/api/audit", "")
	assert.Equal(t, dto, decodeAs[AuditDTO](t, rec))
}
