package providers

import (
	"context"
	"fmt"
	"sync"
	"testing"

	errors "disburse-engine/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memGuard struct {
	mu   sync.Mutex
	held map[string]bool
	down bool
}

func newMemGuard() *memGuard {
	return &memGuard{held: make(map[string]bool)}
}

func (g *memGuard) Acquire(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return false, errors.E(errors.Unavailable, "guard store down", nil)
	}
	if g.held[key] {
		return false, nil
	}
	g.held[key] = true
	return true, nil
}

func (g *memGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
	return nil
}

type countingAdapter struct {
	mu        sync.Mutex
	submitted []string
	fail      bool
}

func (a *countingAdapter) Code() string                     { return "MOCKBANK" }
func (a *countingAdapter) Kind() AdapterKind                { return KindPolling }
func (a *countingAdapter) Healthy(ctx context.Context) bool { return true }

func (a *countingAdapter) Submit(ctx context.Context, batch SubmitBatch) (SubmissionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return SubmissionResult{}, fmt.Errorf("connection reset")
	}
	res := SubmissionResult{}
	for _, item := range batch.Items {
		a.submitted = append(a.submitted, item.TransactionID)
		res.Acks = append(res.Acks, ItemAck{TransactionID: item.TransactionID, Status: EventAcknowledged})
	}
	return res, nil
}

func (a *countingAdapter) QueryStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	return StatusResult{}, nil
}

func (a *countingAdapter) Cancel(ctx context.Context, providerRef string) (CancelResult, error) {
	return CancelResult{}, nil
}

func item(id string) SubmitItem {
	return SubmitItem{TransactionID: id, Amount: decimal.RequireFromString("100"), Currency: "PHP"}
}

func TestGuardedDropsAlreadyDispatchedItems(t *testing.T) {
	t.Parallel()

	guard := newMemGuard()
	inner := &countingAdapter{}
	g := NewGuarded(inner, guard, zap.NewNop())

	_, err := g.Submit(context.Background(), SubmitBatch{Items: []SubmitItem{item("tx-1"), item("tx-2")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"tx-1", "tx-2"}, inner.submitted)

	// A second submission of tx-1 is silently dropped; tx-3 goes through.
	res, err := g.Submit(context.Background(), SubmitBatch{Items: []SubmitItem{item("tx-1"), item("tx-3")}})
	require.NoError(t, err)
	require.Len(t, res.Acks, 1)
	assert.Equal(t, "tx-3", res.Acks[0].TransactionID)
	assert.Equal(t, []string{"tx-1", "tx-2", "tx-3"}, inner.submitted)
}

func TestGuardedAllDroppedSubmitsNothing(t *testing.T) {
	t.Parallel()

	guard := newMemGuard()
	inner := &countingAdapter{}
	g := NewGuarded(inner, guard, zap.NewNop())

	_, err := g.Submit(context.Background(), SubmitBatch{Items: []SubmitItem{item("tx-1")}})
	require.NoError(t, err)

	res, err := g.Submit(context.Background(), SubmitBatch{Items: []SubmitItem{item("tx-1")}})
	require.NoError(t, err)
	assert.Empty(t, res.Acks)
	assert.Equal(t, []string{"tx-1"}, inner.submitted, "no second dispatch")
}

func TestGuardedReleasesOnTransportFailure(t *testing.T) {
	t.Parallel()

	guard := newMemGuard()
	inner := &countingAdapter{fail: true}
	g := NewGuarded(inner, guard, zap.NewNop())

	_, err := g.Submit(context.Background(), SubmitBatch{Items: []SubmitItem{item("tx-1")}})
	require.Error(t, err)

	// The guard is freed so a later retry from Reserved can dispatch.
	inner.fail = false
	res, err := g.Submit(context.Background(), SubmitBatch{Items: []SubmitItem{item("tx-1")}})
	require.NoError(t, err)
	require.Len(t, res.Acks, 1)
}

func TestGuardedFailsClosedWhenGuardDown(t *testing.T) {
	t.Parallel()

	guard := newMemGuard()
	guard.down = true
	inner := &countingAdapter{}
	g := NewGuarded(inner, guard, zap.NewNop())

	_, err := g.Submit(context.Background(), SubmitBatch{Items: []SubmitItem{item("tx-1")}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Unavailable))
	assert.Empty(t, inner.submitted, "no dispatch without a confirmed guard")
}
