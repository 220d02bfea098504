package recon

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	errors "disburse-engine/errors"
	models "disburse-engine/models"
	providers "disburse-engine/providers"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type reconLedger struct {
	mu  sync.Mutex
	txs map[string]models.Transaction // keyed by provider ref
}

func newReconLedger(txs ...models.Transaction) *reconLedger {
	l := &reconLedger{txs: make(map[string]models.Transaction)}
	for _, tx := range txs {
		l.txs[tx.ProviderRef] = tx
	}
	return l
}

func (l *reconLedger) GetByProviderRef(ctx context.Context, providerID, providerRef string) (models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[providerRef]
	if !ok {
		return models.Transaction{}, errors.TransactionNotFoundErr(providerRef)
	}
	return tx, nil
}

func (l *reconLedger) FindStale(ctx context.Context, states []models.TxState, olderThan time.Time) ([]models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Transaction
	for _, tx := range l.txs {
		for _, s := range states {
			if tx.State == s && tx.LastTransitionAt.Before(olderThan) {
				out = append(out, tx)
				break
			}
		}
	}
	return out, nil
}

type memExceptions struct {
	mu       sync.Mutex
	inserted []models.ReconciliationException
}

func (e *memExceptions) InsertException(ctx context.Context, ex models.ReconciliationException) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inserted = append(e.inserted, ex)
	return nil
}

func (e *memExceptions) ResolveException(ctx context.Context, exceptionID, resolvedBy string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.inserted {
		if e.inserted[i].ExceptionID == exceptionID && e.inserted[i].ResolvedAt == nil {
			now := time.Now()
			e.inserted[i].ResolvedAt = &now
			e.inserted[i].ResolvedBy = resolvedBy
			return nil
		}
	}
	return errors.E(errors.NotFound, "no open exception: "+exceptionID, nil)
}

func (e *memExceptions) ListOpen(ctx context.Context) ([]models.ReconciliationException, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.ReconciliationException
	for _, ex := range e.inserted {
		if ex.ResolvedAt == nil {
			out = append(out, ex)
		}
	}
	return out, nil
}

type memSettlements struct {
	mu      sync.Mutex
	records []models.SettlementRecord
}

func (s *memSettlements) InsertSettlements(ctx context.Context, records []models.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *memSettlements) SettlementsByRef(ctx context.Context, providerID, providerRef string) ([]models.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SettlementRecord
	for _, rec := range s.records {
		if rec.ProviderID == providerID && rec.ProviderRef == providerRef {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memQuarantine struct {
	mu   sync.Mutex
	rows []string
}

func (q *memQuarantine) Add(ctx context.Context, providerID, rawLine, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rows = append(q.rows, rawLine)
	return nil
}

type memLifecycle struct {
	mu      sync.Mutex
	applied []providers.Event
}

func (l *memLifecycle) Apply(ctx context.Context, ev providers.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applied = append(l.applied, ev)
	return nil
}

type reconAdapter struct {
	mu      sync.Mutex
	status  providers.StatusResult
	queries int
}

func (a *reconAdapter) Code() string                     { return "MOCKBANK" }
func (a *reconAdapter) Kind() providers.AdapterKind      { return providers.KindPolling }
func (a *reconAdapter) Healthy(ctx context.Context) bool { return true }

func (a *reconAdapter) Submit(ctx context.Context, batch providers.SubmitBatch) (providers.SubmissionResult, error) {
	return providers.SubmissionResult{}, nil
}

func (a *reconAdapter) QueryStatus(ctx context.Context, providerRef string) (providers.StatusResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries++
	return a.status, nil
}

func (a *reconAdapter) Cancel(ctx context.Context, providerRef string) (providers.CancelResult, error) {
	return providers.CancelResult{}, nil
}

type reconSource struct{ adapter providers.Adapter }

func (s *reconSource) Get(code string) (providers.Adapter, error) { return s.adapter, nil }

type reconHarness struct {
	engine      *Engine
	ledger      *reconLedger
	exceptions  *memExceptions
	settlements *memSettlements
	quarantine  *memQuarantine
	lifecycle   *memLifecycle
	adapter     *reconAdapter
}

func newHarness(txs ...models.Transaction) *reconHarness {
	h := &reconHarness{
		ledger:      newReconLedger(txs...),
		exceptions:  &memExceptions{},
		settlements: &memSettlements{},
		quarantine:  &memQuarantine{},
		lifecycle:   &memLifecycle{},
		adapter:     &reconAdapter{},
	}
	h.engine = NewEngine(h.ledger, h.exceptions, h.settlements, h.quarantine,
		h.lifecycle, &reconSource{adapter: h.adapter}, time.Hour, zap.NewNop())
	return h
}

const reportHeader = "provider_reference,amount,currency,settled_at\n"

func TestIngestCleanMatchSettles(t *testing.T) {
	t.Parallel()

	h := newHarness(models.Transaction{
		TransactionID: "tx-1", ProviderID: "MOCKBANK", ProviderRef: "MOCKBANK-0001",
		Amount: decimal.RequireFromString("1500.00"), State: models.StateAcknowledged,
	})

	report := reportHeader + "MOCKBANK-0001,1500.00,PHP,2026-08-15T10:00:00Z\n"
	summary, err := h.engine.IngestReport(context.Background(), "MOCKBANK", strings.NewReader(report))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.RowsRead)
	assert.Equal(t, 1, summary.Applied)
	assert.Zero(t, summary.Exceptions)
	assert.Zero(t, summary.Quarantined)

	require.Len(t, h.lifecycle.applied, 1)
	assert.Equal(t, providers.EventSettled, h.lifecycle.applied[0].Status)
	assert.Len(t, h.settlements.records, 1)
}

func TestIngestAmountMismatchRaisesOneException(t *testing.T) {
	t.Parallel()

	h := newHarness(models.Transaction{
		TransactionID: "tx-1", ProviderID: "MOCKBANK", ProviderRef: "MOCKBANK-0001",
		Amount: decimal.RequireFromString("1500.00"), State: models.StateAcknowledged,
	})

	report := reportHeader + "MOCKBANK-0001,1400.00,PHP,2026-08-15T10:00:00Z\n"
	summary, err := h.engine.IngestReport(context.Background(), "MOCKBANK", strings.NewReader(report))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Exceptions)
	assert.Zero(t, summary.Applied)

	require.Len(t, h.exceptions.inserted, 1)
	ex := h.exceptions.inserted[0]
	assert.Equal(t, models.AmountMismatch, ex.Type)
	assert.Equal(t, models.SeverityHigh, ex.Severity)
	assert.Equal(t, "tx-1", ex.TransactionID)

	// The transaction is untouched: no settlement applied.
	assert.Empty(t, h.lifecycle.applied)
}

func TestIngestMissingInternallyIsCritical(t *testing.T) {
	t.Parallel()

	h := newHarness()

	report := reportHeader + "MOCKBANK-GHOST,500.00,PHP,2026-08-15T10:00:00Z\n"
	summary, err := h.engine.IngestReport(context.Background(), "MOCKBANK", strings.NewReader(report))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Exceptions)
	require.Len(t, h.exceptions.inserted, 1)
	assert.Equal(t, models.MissingInternally, h.exceptions.inserted[0].Type)
	assert.Equal(t, models.SeverityCritical, h.exceptions.inserted[0].Severity)
}

func TestIngestDuplicateSettlement(t *testing.T) {
	t.Parallel()

	h := newHarness(models.Transaction{
		TransactionID: "tx-1", ProviderID: "MOCKBANK", ProviderRef: "MOCKBANK-0001",
		Amount: decimal.RequireFromString("1500.00"), State: models.StateAcknowledged,
	})

	report := reportHeader +
		"MOCKBANK-0001,1500.00,PHP,2026-08-15T10:00:00Z\n" +
		"MOCKBANK-0001,1500.00,PHP,2026-08-15T11:00:00Z\n"
	summary, err := h.engine.IngestReport(context.Background(), "MOCKBANK", strings.NewReader(report))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.RowsRead)
	assert.Equal(t, 1, summary.Exceptions)
	assert.Zero(t, summary.Applied, "duplicated references are never auto-applied")

	require.Len(t, h.exceptions.inserted, 1)
	assert.Equal(t, models.DuplicateSettlement, h.exceptions.inserted[0].Type)
	assert.Empty(t, h.lifecycle.applied)
}

func TestIngestQuarantinesMalformedRows(t *testing.T) {
	t.Parallel()

	h := newHarness(models.Transaction{
		TransactionID: "tx-1", ProviderID: "MOCKBANK", ProviderRef: "MOCKBANK-0001",
		Amount: decimal.RequireFromString("1500.00"), State: models.StateAcknowledged,
	})

	report := reportHeader +
		"MOCKBANK-0001,1500.00,PHP,2026-08-15T10:00:00Z\n" +
		",100.00,PHP,2026-08-15T10:00:00Z\n" + // empty reference
		"MOCKBANK-0002,not-a-number,PHP,2026-08-15T10:00:00Z\n" +
		"MOCKBANK-0003,-5.00,PHP,2026-08-15T10:00:00Z\n" +
		"MOCKBANK-0004,50.00,PHP,yesterday\n" +
		"MOCKBANK-0005,50.00\n" // too few columns

	summary, err := h.engine.IngestReport(context.Background(), "MOCKBANK", strings.NewReader(report))
	require.NoError(t, err)

	assert.Equal(t, 6, summary.RowsRead)
	assert.Equal(t, 5, summary.Quarantined)
	assert.Equal(t, 1, summary.Applied)
	assert.Len(t, h.quarantine.rows, 5)

	// Only the clean row is retained as a settlement record.
	assert.Len(t, h.settlements.records, 1)
}

func TestIngestSettledTransactionIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(models.Transaction{
		TransactionID: "tx-1", ProviderID: "MOCKBANK", ProviderRef: "MOCKBANK-0001",
		Amount: decimal.RequireFromString("1500.00"), State: models.StateSettled,
	})

	report := reportHeader + "MOCKBANK-0001,1500.00,PHP,2026-08-15T10:00:00Z\n"
	summary, err := h.engine.IngestReport(context.Background(), "MOCKBANK", strings.NewReader(report))
	require.NoError(t, err)

	assert.Zero(t, summary.Applied)
	assert.Zero(t, summary.Exceptions)
	assert.Empty(t, h.lifecycle.applied)
}

func TestIngestDuplicateAcrossReports(t *testing.T) {
	t.Parallel()

	h := newHarness(models.Transaction{
		TransactionID: "tx-1", ProviderID: "MOCKBANK", ProviderRef: "MOCKBANK-0001",
		Amount: decimal.RequireFromString("1500.00"), State: models.StateAcknowledged,
	})

	report := reportHeader + "MOCKBANK-0001,1500.00,PHP,2026-08-15T10:00:00Z\n"
	summary, err := h.engine.IngestReport(context.Background(), "MOCKBANK", strings.NewReader(report))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Applied)

	// The settlement landed; the next report carries the same reference.
	h.ledger.mu.Lock()
	tx := h.ledger.txs["MOCKBANK-0001"]
	tx.State = models.StateSettled
	h.ledger.txs["MOCKBANK-0001"] = tx
	h.ledger.mu.Unlock()

	summary, err = h.engine.IngestReport(context.Background(), "MOCKBANK", strings.NewReader(report))
	require.NoError(t, err)

	assert.Zero(t, summary.Applied)
	assert.Equal(t, 1, summary.Exceptions)
	require.Len(t, h.exceptions.inserted, 1)
	assert.Equal(t, models.DuplicateSettlement, h.exceptions.inserted[0].Type)
	assert.Equal(t, "tx-1", h.exceptions.inserted[0].TransactionID)
	assert.Len(t, h.lifecycle.applied, 1, "the second settlement is never applied")
}

func TestSweepMissingRaisesAndForcesQuery(t *testing.T) {
	t.Parallel()

	h := newHarness(models.Transaction{
		TransactionID: "tx-1", ProviderID: "MOCKBANK", ProviderRef: "MOCKBANK-0001",
		State: models.StateSubmitted, LastTransitionAt: time.Now().Add(-3 * time.Hour),
	})
	h.adapter.status = providers.StatusResult{Found: true, Status: providers.EventSettled}

	h.engine.SweepMissing(context.Background())

	require.Len(t, h.exceptions.inserted, 1)
	assert.Equal(t, models.MissingAtProvider, h.exceptions.inserted[0].Type)
	assert.Equal(t, 1, h.adapter.queries, "a forced status query follows the exception")
	require.Len(t, h.lifecycle.applied, 1)
	assert.Equal(t, providers.EventSettled, h.lifecycle.applied[0].Status)
}

func TestSweepMissingSkipsSettledReferences(t *testing.T) {
	t.Parallel()

	h := newHarness(models.Transaction{
		TransactionID: "tx-1", ProviderID: "MOCKBANK", ProviderRef: "MOCKBANK-0001",
		State: models.StateSubmitted, LastTransitionAt: time.Now().Add(-3 * time.Hour),
	})
	require.NoError(t, h.settlements.InsertSettlements(context.Background(), []models.SettlementRecord{{
		ProviderID: "MOCKBANK", ProviderRef: "MOCKBANK-0001",
		SettledAmount: decimal.RequireFromString("10"),
	}}))

	h.engine.SweepMissing(context.Background())
	assert.Empty(t, h.exceptions.inserted)
	assert.Zero(t, h.adapter.queries)
}

func TestResolveExceptionOnce(t *testing.T) {
	t.Parallel()

	h := newHarness()
	require.NoError(t, h.exceptions.InsertException(context.Background(), models.ReconciliationException{
		ExceptionID: "ex-1", Type: models.AmountMismatch,
	}))

	require.NoError(t, h.engine.Resolve(context.Background(), "ex-1", "ops@dsr"))

	open, err := h.engine.OpenExceptions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)

	err = h.engine.Resolve(context.Background(), "ex-1", "ops@dsr")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotFound))
}
