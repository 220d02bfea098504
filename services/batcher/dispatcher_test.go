package batcher

import (
	"context"
	"fmt"
	"sync"
	"testing"

	errors "disburse-engine/errors"
	models "disburse-engine/models"
	providers "disburse-engine/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedAdapter fails the first failSubmits calls, then acknowledges
// every item. It counts dispatched items so tests can assert exactly one
// successful dispatch per transaction.
type scriptedAdapter struct {
	mu          sync.Mutex
	code        string
	failSubmits int
	dispatched  map[string]int
	cancelled   []string
}

func newScriptedAdapter(code string, failSubmits int) *scriptedAdapter {
	return &scriptedAdapter{code: code, failSubmits: failSubmits, dispatched: make(map[string]int)}
}

func (a *scriptedAdapter) Code() string                     { return a.code }
func (a *scriptedAdapter) Kind() providers.AdapterKind      { return providers.KindPolling }
func (a *scriptedAdapter) Healthy(ctx context.Context) bool { return true }

func (a *scriptedAdapter) Submit(ctx context.Context, batch providers.SubmitBatch) (providers.SubmissionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failSubmits > 0 {
		a.failSubmits--
		return providers.SubmissionResult{}, fmt.Errorf("dial timeout")
	}
	res := providers.SubmissionResult{}
	for i, item := range batch.Items {
		a.dispatched[item.TransactionID]++
		res.Acks = append(res.Acks, providers.ItemAck{
			TransactionID: item.TransactionID,
			ProviderRef:   fmt.Sprintf("%s-%04d", a.code, i),
			Status:        providers.EventAcknowledged,
		})
	}
	return res, nil
}

func (a *scriptedAdapter) QueryStatus(ctx context.Context, providerRef string) (providers.StatusResult, error) {
	return providers.StatusResult{ProviderRef: providerRef, Found: true, Status: providers.EventAcknowledged}, nil
}

func (a *scriptedAdapter) Cancel(ctx context.Context, providerRef string) (providers.CancelResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = append(a.cancelled, providerRef)
	return providers.CancelResult{Cancelled: true}, nil
}

type fakeAdapterSource struct {
	adapter   providers.Adapter
	unhealthy bool
}

func (s *fakeAdapterSource) Get(code string) (providers.Adapter, error) {
	if s.adapter == nil {
		return nil, errors.AdapterNotFoundErr(code)
	}
	return s.adapter, nil
}

func (s *fakeAdapterSource) Healthy(code string) bool { return !s.unhealthy }

// dispatchLedger keeps transactions in memory and applies AdvanceFrom
// transitions the way the real engine and repo would.
type dispatchLedger struct {
	mu  sync.Mutex
	txs map[string]models.Transaction
}

func newDispatchLedger(txs ...models.Transaction) *dispatchLedger {
	l := &dispatchLedger{txs: make(map[string]models.Transaction)}
	for _, tx := range txs {
		l.txs[tx.TransactionID] = tx
	}
	return l
}

func (l *dispatchLedger) FindByBatch(ctx context.Context, batchID string) ([]models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Transaction
	for _, tx := range l.txs {
		if tx.BatchID == batchID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (l *dispatchLedger) IncrementAttempt(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := l.txs[id]
	tx.AttemptCount++
	l.txs[id] = tx
	return nil
}

func (l *dispatchLedger) AdvanceFrom(ctx context.Context, tx models.Transaction, from, to models.TxState, actor, reason string, upd models.TransitionUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.txs[tx.TransactionID]
	if current.State != from {
		return errors.StaleTransitionErr(tx.TransactionID, string(current.State), string(to))
	}
	if !from.CanTransitionTo(to) {
		return errors.IllegalTransitionErr(tx.TransactionID, string(from), string(to))
	}
	current.State = to
	if upd.ProviderRef != "" {
		current.ProviderRef = upd.ProviderRef
	}
	if upd.FailureReason != "" {
		current.FailureReason = upd.FailureReason
	}
	if upd.IncAttempt {
		current.AttemptCount++
	}
	l.txs[tx.TransactionID] = current
	return nil
}

func (l *dispatchLedger) get(id string) models.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.txs[id]
}

type fakeBatchUpdater struct {
	mu        sync.Mutex
	statuses  map[string]models.BatchStatus
	submitted []models.Batch
}

func newFakeBatchUpdater(batches ...models.Batch) *fakeBatchUpdater {
	u := &fakeBatchUpdater{statuses: make(map[string]models.BatchStatus)}
	for _, b := range batches {
		u.statuses[b.BatchID] = b.Status
		u.submitted = append(u.submitted, b)
	}
	return u
}

func (u *fakeBatchUpdater) UpdateStatus(ctx context.Context, batchID string, from, to models.BatchStatus) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.statuses[batchID] != from {
		return errors.StaleTransitionErr(batchID, string(from), string(to))
	}
	u.statuses[batchID] = to
	return nil
}

func (u *fakeBatchUpdater) UpdateCounts(ctx context.Context, batchID string, settled, rejected, pending int) error {
	return nil
}

func (u *fakeBatchUpdater) FindByStatus(ctx context.Context, status models.BatchStatus) ([]models.Batch, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []models.Batch
	for _, b := range u.submitted {
		if u.statuses[b.BatchID] == status {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakePlanner struct {
	mu        sync.Mutex
	scheduled []struct {
		txID    string
		attempt int
	}
}

func (p *fakePlanner) ScheduleNext(ctx context.Context, transactionID string, attempt int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scheduled = append(p.scheduled, struct {
		txID    string
		attempt int
	}{transactionID, attempt})
	return nil
}

func TestDispatchSubmitsReservedMembers(t *testing.T) {
	t.Parallel()

	batch := models.Batch{BatchID: "b-1", ProviderID: "MOCKBANK", Status: models.BatchClosed}
	tx := models.Transaction{TransactionID: "tx-1", BatchID: "b-1", ProviderID: "MOCKBANK", State: models.StateReserved}

	adapter := newScriptedAdapter("MOCKBANK", 0)
	ledger := newDispatchLedger(tx)
	updater := newFakeBatchUpdater(batch)
	planner := &fakePlanner{}
	events := make(chan providers.Event, 8)

	d := NewDispatcher(&fakeAdapterSource{adapter: adapter}, ledger, ledger, updater, planner, events, 4, zap.NewNop())

	require.NoError(t, d.process(context.Background(), batch))

	got := ledger.get("tx-1")
	assert.Equal(t, models.StateSubmitted, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.NotEmpty(t, got.ProviderRef)
	assert.Equal(t, 1, adapter.dispatched["tx-1"])

	ev := <-events
	assert.Equal(t, providers.EventAcknowledged, ev.Status)
	assert.Equal(t, "tx-1", ev.TransactionID)

	// Acknowledged items get a status-query wake-up.
	require.Len(t, planner.scheduled, 1)
}

func TestDispatchNeverResubmitsPastReserved(t *testing.T) {
	t.Parallel()

	batch := models.Batch{BatchID: "b-1", ProviderID: "MOCKBANK", Status: models.BatchClosed}
	tx := models.Transaction{TransactionID: "tx-1", BatchID: "b-1", ProviderID: "MOCKBANK", State: models.StateReserved}

	adapter := newScriptedAdapter("MOCKBANK", 0)
	ledger := newDispatchLedger(tx)
	updater := newFakeBatchUpdater(batch)
	events := make(chan providers.Event, 8)

	d := NewDispatcher(&fakeAdapterSource{adapter: adapter}, ledger, ledger, updater, &fakePlanner{}, events, 4, zap.NewNop())

	// Repeated wake-ups for the same batch must dispatch each member once.
	require.NoError(t, d.process(context.Background(), batch))
	require.NoError(t, d.process(context.Background(), batch))
	require.NoError(t, d.process(context.Background(), batch))

	assert.Equal(t, 1, adapter.dispatched["tx-1"])
	assert.Equal(t, 1, ledger.get("tx-1").AttemptCount)
}

func TestDispatchTransportFailureThenSuccess(t *testing.T) {
	t.Parallel()

	batch := models.Batch{BatchID: "b-1", ProviderID: "MOCKBANK", Status: models.BatchClosed}
	tx := models.Transaction{TransactionID: "tx-1", BatchID: "b-1", ProviderID: "MOCKBANK", State: models.StateReserved}

	adapter := newScriptedAdapter("MOCKBANK", 1)
	ledger := newDispatchLedger(tx)
	updater := newFakeBatchUpdater(batch)
	planner := &fakePlanner{}
	events := make(chan providers.Event, 8)

	d := NewDispatcher(&fakeAdapterSource{adapter: adapter}, ledger, ledger, updater, planner, events, 4, zap.NewNop())

	// First dispatch times out: state stays Reserved, the attempt counts,
	// a retry is scheduled, nothing reached the provider.
	require.NoError(t, d.process(context.Background(), batch))
	got := ledger.get("tx-1")
	assert.Equal(t, models.StateReserved, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Zero(t, adapter.dispatched["tx-1"])
	require.Len(t, planner.scheduled, 1)

	// The retry re-drives submit from Reserved and succeeds.
	require.NoError(t, d.Resubmit(context.Background(), got))
	got = ledger.get("tx-1")
	assert.Equal(t, models.StateSubmitted, got.State)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, 1, adapter.dispatched["tx-1"], "exactly one successful dispatch")
}

func TestResubmitRequiresReserved(t *testing.T) {
	t.Parallel()

	adapter := newScriptedAdapter("MOCKBANK", 0)
	ledger := newDispatchLedger()
	d := NewDispatcher(&fakeAdapterSource{adapter: adapter}, ledger, ledger, newFakeBatchUpdater(), &fakePlanner{},
		make(chan providers.Event, 1), 4, zap.NewNop())

	err := d.Resubmit(context.Background(), models.Transaction{TransactionID: "tx-1", State: models.StateSubmitted})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Internal))
}

func TestDispatchDefersWhenProviderUnhealthy(t *testing.T) {
	t.Parallel()

	batch := models.Batch{BatchID: "b-1", ProviderID: "MOCKBANK", Status: models.BatchClosed}
	tx := models.Transaction{TransactionID: "tx-1", BatchID: "b-1", ProviderID: "MOCKBANK", State: models.StateReserved}

	adapter := newScriptedAdapter("MOCKBANK", 0)
	ledger := newDispatchLedger(tx)
	planner := &fakePlanner{}

	d := NewDispatcher(&fakeAdapterSource{adapter: adapter, unhealthy: true}, ledger, ledger,
		newFakeBatchUpdater(batch), planner, make(chan providers.Event, 1), 4, zap.NewNop())

	require.NoError(t, d.process(context.Background(), batch))

	got := ledger.get("tx-1")
	assert.Equal(t, models.StateReserved, got.State)
	// The dispatch was never attempted, so the budget is untouched.
	assert.Zero(t, got.AttemptCount)
	require.Len(t, planner.scheduled, 1)
}

func TestSweepCompletion(t *testing.T) {
	t.Parallel()

	batch := models.Batch{BatchID: "b-1", ProviderID: "MOCKBANK", Status: models.BatchSubmitted}
	settled := models.Transaction{TransactionID: "tx-1", BatchID: "b-1", State: models.StateSettled}
	rejected := models.Transaction{TransactionID: "tx-2", BatchID: "b-1", State: models.StateRejected}
	pending := models.Transaction{TransactionID: "tx-3", BatchID: "b-1", State: models.StateSubmitted}

	ledger := newDispatchLedger(settled, rejected, pending)
	updater := newFakeBatchUpdater(batch)

	d := NewDispatcher(&fakeAdapterSource{}, ledger, ledger, updater, &fakePlanner{},
		make(chan providers.Event, 1), 4, zap.NewNop())

	d.SweepCompletion(context.Background())
	assert.Equal(t, models.BatchSubmitted, updater.statuses["b-1"], "pending member blocks completion")

	// Last member settles; the next sweep completes the batch.
	require.NoError(t, ledger.AdvanceFrom(context.Background(), pending,
		models.StateSubmitted, models.StateSettled, models.ActorProviderEvent, "", models.TransitionUpdate{}))
	d.SweepCompletion(context.Background())
	assert.Equal(t, models.BatchCompleted, updater.statuses["b-1"])
}
