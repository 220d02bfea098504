package providers

import (
	// Go Internal Packages
	"context"

	// Local Packages
	errors "disburse-engine/errors"

	// External Packages
	"go.uber.org/zap"
)

// DedupGuard is a durable first-writer-wins lock. Acquire returns true
// exactly once per key until the entry expires or is released.
type DedupGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Guarded wraps an Adapter with a local deduplication guard so that no
// payment instruction is ever dispatched twice, regardless of whether the
// remote side is idempotent. Items whose guard is already held are
// silently dropped from the outgoing batch.
type Guarded struct {
	inner  Adapter
	guard  DedupGuard
	logger *zap.Logger
}

func NewGuarded(inner Adapter, guard DedupGuard, logger *zap.Logger) *Guarded {
	return &Guarded{inner: inner, guard: guard, logger: logger}
}

func (g *Guarded) Code() string      { return g.inner.Code() }
func (g *Guarded) Kind() AdapterKind { return g.inner.Kind() }

func (g *Guarded) Healthy(ctx context.Context) bool { return g.inner.Healthy(ctx) }

// Submit acquires the per-transaction guard for every item before
// dispatch. If the guard store is unavailable the whole submit fails
// closed: a duplicate payment is worse than a delayed one.
func (g *Guarded) Submit(ctx context.Context, batch SubmitBatch) (SubmissionResult, error) {
	allowed := make([]SubmitItem, 0, len(batch.Items))
	acquired := make([]string, 0, len(batch.Items))

	for _, item := range batch.Items {
		ok, err := g.guard.Acquire(ctx, submitGuardKey(item.TransactionID))
		if err != nil {
			g.releaseAll(ctx, acquired)
			return SubmissionResult{}, errors.E(errors.Unavailable, "dedup guard unavailable", err)
		}
		if !ok {
			g.logger.Warn("dropping already-dispatched item",
				zap.String("provider", g.inner.Code()),
				zap.String("transaction_id", item.TransactionID))
			continue
		}
		allowed = append(allowed, item)
		acquired = append(acquired, item.TransactionID)
	}

	if len(allowed) == 0 {
		return SubmissionResult{}, nil
	}

	batch.Items = allowed
	res, err := g.inner.Submit(ctx, batch)
	if err != nil {
		// Nothing was dispatched; free the guards so a retry from
		// Reserved can dispatch later.
		g.releaseAll(ctx, acquired)
		return SubmissionResult{}, err
	}
	return res, nil
}

func (g *Guarded) releaseAll(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := g.guard.Release(ctx, submitGuardKey(id)); err != nil {
			g.logger.Error("failed to release submit guard",
				zap.String("transaction_id", id), zap.Error(err))
		}
	}
}

func (g *Guarded) QueryStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	return g.inner.QueryStatus(ctx, providerRef)
}

func (g *Guarded) Cancel(ctx context.Context, providerRef string) (CancelResult, error) {
	return g.inner.Cancel(ctx, providerRef)
}

func submitGuardKey(transactionID string) string {
	return "submit:" + transactionID
}
