package batcher

import (
	// Go Internal Packages
	"context"

	// Local Packages
	models "disburse-engine/models"
	providers "disburse-engine/providers"

	// External Packages
	"go.uber.org/zap"
)

// CycleLedger is the slice of the transaction store cancellation reads.
type CycleLedger interface {
	FindByCycleStates(ctx context.Context, cycleID string, states []models.TxState) ([]models.Transaction, error)
}

// CycleCanceller applies a benefit-cycle hold: unsubmitted work is
// rejected locally; anything already at a provider gets a best-effort
// cancel whose outcome is authoritative.
type CycleCanceller struct {
	builder  *Builder
	ledger   CycleLedger
	adapters AdapterSource
	engine   Advancer
	events   chan<- providers.Event
	logger   *zap.Logger
}

func NewCycleCanceller(builder *Builder, ledger CycleLedger, adapters AdapterSource,
	engine Advancer, events chan<- providers.Event, logger *zap.Logger) *CycleCanceller {
	return &CycleCanceller{
		builder:  builder,
		ledger:   ledger,
		adapters: adapters,
		engine:   engine,
		events:   events,
		logger:   logger,
	}
}

// Cancel holds a cycle. Returns how many transactions were rejected
// locally and how many provider cancels were attempted.
func (c *CycleCanceller) Cancel(ctx context.Context, cycleID string) (rejected, attempted int, err error) {
	// Unsubmitted requests still in open batches never reach a provider.
	for _, tx := range c.builder.removeCycle(cycleID) {
		if err := c.engine.AdvanceFrom(ctx, tx, models.StateReserved, models.StateRejected,
			models.ActorOperator, models.ReasonCycleCancelled,
			models.TransitionUpdate{FailureReason: models.ReasonCycleCancelled}); err != nil {
			c.logger.Error("failed to reject unsubmitted transaction",
				zap.String("transaction_id", tx.TransactionID), zap.Error(err))
			continue
		}
		rejected++
	}

	// Reserved members of already-sealed batches are likewise safe to
	// reject locally: the dedup guard has not been acquired for them.
	reserved, findErr := c.ledger.FindByCycleStates(ctx, cycleID, []models.TxState{models.StateReserved})
	if findErr != nil {
		return rejected, attempted, findErr
	}
	for _, tx := range reserved {
		if err := c.engine.AdvanceFrom(ctx, tx, models.StateReserved, models.StateRejected,
			models.ActorOperator, models.ReasonCycleCancelled,
			models.TransitionUpdate{FailureReason: models.ReasonCycleCancelled}); err != nil {
			c.logger.Error("failed to reject reserved transaction",
				zap.String("transaction_id", tx.TransactionID), zap.Error(err))
			continue
		}
		rejected++
	}

	// In-flight payments: ask the provider; its answer decides.
	inFlight, findErr := c.ledger.FindByCycleStates(ctx, cycleID,
		[]models.TxState{models.StateSubmitted, models.StateAcknowledged, models.StateRetrying})
	if findErr != nil {
		return rejected, attempted, findErr
	}
	for _, tx := range inFlight {
		adapter, aerr := c.adapters.Get(tx.ProviderID)
		if aerr != nil {
			c.logger.Error("no adapter for in-flight cancel",
				zap.String("provider", tx.ProviderID), zap.Error(aerr))
			continue
		}
		attempted++
		res, cerr := adapter.Cancel(ctx, tx.ProviderRef)
		if cerr != nil {
			c.logger.Warn("provider cancel failed, outcome stays with provider",
				zap.String("transaction_id", tx.TransactionID), zap.Error(cerr))
			continue
		}
		if res.Cancelled {
			c.events <- providers.Event{
				ProviderID:    tx.ProviderID,
				ProviderRef:   tx.ProviderRef,
				TransactionID: tx.TransactionID,
				Status:        providers.EventRejected,
				Reason:        models.ReasonCycleCancelled,
			}
		} else {
			c.logger.Info("provider refused cancel",
				zap.String("transaction_id", tx.TransactionID),
				zap.String("reason", res.Reason))
		}
	}

	return rejected, attempted, nil
}
