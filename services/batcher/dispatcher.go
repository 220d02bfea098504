package batcher

import (
	// Go Internal Packages
	"context"
	"sync"
	"time"

	// Local Packages
	errors "disburse-engine/errors"
	models "disburse-engine/models"
	providers "disburse-engine/providers"

	// External Packages
	"go.uber.org/zap"
)

// AdapterSource resolves provider adapters and their health.
type AdapterSource interface {
	Get(code string) (providers.Adapter, error)
	Healthy(code string) bool
}

// Advancer performs expected-state transitions with audit.
type Advancer interface {
	AdvanceFrom(ctx context.Context, tx models.Transaction, from, to models.TxState, actor, reason string, upd models.TransitionUpdate) error
}

// DispatchLedger is the slice of the transaction store the dispatcher uses.
type DispatchLedger interface {
	FindByBatch(ctx context.Context, batchID string) ([]models.Transaction, error)
	IncrementAttempt(ctx context.Context, id string) error
}

// BatchUpdater advances batch status and counters.
type BatchUpdater interface {
	UpdateStatus(ctx context.Context, batchID string, from, to models.BatchStatus) error
	UpdateCounts(ctx context.Context, batchID string, settled, rejected, pending int) error
	FindByStatus(ctx context.Context, status models.BatchStatus) ([]models.Batch, error)
}

// RetryPlanner schedules the next backoff-driven wake-up.
type RetryPlanner interface {
	ScheduleNext(ctx context.Context, transactionID string, attempt int) error
}

// Dispatcher drains sealed batches through per-provider workers. Each
// provider has one bounded channel, so external API quotas are respected
// and a slow provider cannot starve the others.
type Dispatcher struct {
	adapters AdapterSource
	engine   Advancer
	ledger   DispatchLedger
	batches  BatchUpdater
	retry    RetryPlanner
	events   chan<- providers.Event
	logger   *zap.Logger

	mu     sync.Mutex
	queues map[string]chan models.Batch
	qsize  int
}

func NewDispatcher(adapters AdapterSource, engine Advancer, ledger DispatchLedger, batches BatchUpdater,
	retry RetryPlanner, events chan<- providers.Event, queueSize int, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		adapters: adapters,
		engine:   engine,
		ledger:   ledger,
		batches:  batches,
		retry:    retry,
		events:   events,
		logger:   logger,
		queues:   make(map[string]chan models.Batch),
		qsize:    queueSize,
	}
}

// Start launches one submission worker per provider code.
func (d *Dispatcher) Start(ctx context.Context, providerCodes []string) {
	for _, code := range providerCodes {
		ch := d.queue(code)
		go d.worker(ctx, code, ch)
	}
}

func (d *Dispatcher) queue(code string) chan models.Batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.queues[code]
	if !ok {
		ch = make(chan models.Batch, d.qsize)
		d.queues[code] = ch
	}
	return ch
}

// Enqueue hands a sealed batch to its provider's worker. Blocks while the
// bounded queue is full, bounded by the context.
func (d *Dispatcher) Enqueue(ctx context.Context, batch models.Batch) error {
	select {
	case d.queue(batch.ProviderID) <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context, code string, ch <-chan models.Batch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-ch:
			if err := d.process(ctx, batch); err != nil {
				d.logger.Error("batch dispatch failed",
					zap.String("provider", code),
					zap.String("batch_id", batch.BatchID),
					zap.Error(err))
			}
		}
	}
}

// process submits one sealed batch. Members that cannot be dispatched
// stay Reserved with a scheduled retry; submit is never re-driven for a
// member past Reserved.
func (d *Dispatcher) process(ctx context.Context, batch models.Batch) error {
	err := d.batches.UpdateStatus(ctx, batch.BatchID, models.BatchClosed, models.BatchSubmitted)
	if err != nil && !errors.Is(err, errors.Conflict) {
		return err
	}
	// A Conflict means a previous run already marked it Submitted; the
	// per-item dedup guard makes re-processing safe.

	members, err := d.ledger.FindByBatch(ctx, batch.BatchID)
	if err != nil {
		return err
	}

	reserved := make([]models.Transaction, 0, len(members))
	for _, tx := range members {
		if tx.State == models.StateReserved {
			reserved = append(reserved, tx)
		}
	}
	if len(reserved) == 0 {
		return nil
	}

	if !d.adapters.Healthy(batch.ProviderID) {
		d.logger.Warn("provider unhealthy, deferring batch",
			zap.String("provider", batch.ProviderID), zap.String("batch_id", batch.BatchID))
		return d.deferAll(ctx, reserved)
	}

	return d.dispatch(ctx, batch, reserved)
}

// Resubmit re-drives a single Reserved transaction, the only state from
// which submit may ever be retried.
func (d *Dispatcher) Resubmit(ctx context.Context, tx models.Transaction) error {
	if tx.State != models.StateReserved {
		return errors.E(errors.Internal, "resubmit requires Reserved state, got "+string(tx.State), nil)
	}
	batch := models.Batch{
		BatchID:        tx.BatchID,
		ProviderID:     tx.ProviderID,
		BenefitCycleID: tx.BenefitCycleID,
		Currency:       tx.Currency,
	}
	return d.dispatch(ctx, batch, []models.Transaction{tx})
}

func (d *Dispatcher) dispatch(ctx context.Context, batch models.Batch, txs []models.Transaction) error {
	adapter, err := d.adapters.Get(batch.ProviderID)
	if err != nil {
		return err
	}

	sub := providers.SubmitBatch{
		BatchID:       batch.BatchID,
		BatchNumber:   batch.BatchNumber,
		ProviderID:    batch.ProviderID,
		Currency:      batch.Currency,
		DeclaredTotal: batch.DeclaredTotal,
	}
	byID := make(map[string]models.Transaction, len(txs))
	for _, tx := range txs {
		byID[tx.TransactionID] = tx
		sub.Items = append(sub.Items, providers.SubmitItem{
			TransactionID: tx.TransactionID,
			InternalRef:   tx.InternalRef,
			Amount:        tx.Amount,
			Currency:      tx.Currency,
			AccountNumber: tx.RecipientAccount,
			AccountName:   tx.RecipientName,
			MobileNumber:  tx.RecipientMobile,
		})
	}

	res, err := adapter.Submit(ctx, sub)
	if err != nil {
		// The dispatch was attempted and failed in flight: members stay
		// Reserved but the attempt counts against the budget.
		d.logger.Warn("submit dispatch failed, deferring members",
			zap.String("provider", batch.ProviderID), zap.Error(err))
		for _, tx := range txs {
			if ierr := d.ledger.IncrementAttempt(ctx, tx.TransactionID); ierr != nil {
				d.logger.Error("failed to count dispatch attempt",
					zap.String("transaction_id", tx.TransactionID), zap.Error(ierr))
			}
			if rerr := d.retry.ScheduleNext(ctx, tx.TransactionID, tx.AttemptCount+1); rerr != nil {
				return rerr
			}
		}
		return nil
	}

	for _, ack := range res.Acks {
		tx, ok := byID[ack.TransactionID]
		if !ok {
			d.logger.Error("ack for unknown transaction",
				zap.String("transaction_id", ack.TransactionID))
			continue
		}

		upd := models.TransitionUpdate{ProviderRef: ack.ProviderRef, IncAttempt: true}
		if err := d.engine.AdvanceFrom(ctx, tx, models.StateReserved, models.StateSubmitted,
			models.ActorSubmitter, "", upd); err != nil {
			d.logger.Error("failed to mark submitted",
				zap.String("transaction_id", tx.TransactionID), zap.Error(err))
			continue
		}

		// The per-item outcome flows through the same event stream as
		// webhooks and polls.
		d.events <- providers.Event{
			ProviderID:    batch.ProviderID,
			ProviderRef:   ack.ProviderRef,
			TransactionID: tx.TransactionID,
			Status:        ack.Status,
			Reason:        ack.Reason,
			Fee:           ack.Fee,
			At:            time.Now(),
		}

		if ack.Status == providers.EventAcknowledged || ack.Status == providers.EventPending {
			if err := d.retry.ScheduleNext(ctx, tx.TransactionID, tx.AttemptCount+1); err != nil {
				d.logger.Error("failed to schedule status query",
					zap.String("transaction_id", tx.TransactionID), zap.Error(err))
			}
		}
	}
	return nil
}

func (d *Dispatcher) deferAll(ctx context.Context, txs []models.Transaction) error {
	for _, tx := range txs {
		if err := d.retry.ScheduleNext(ctx, tx.TransactionID, tx.AttemptCount); err != nil {
			return err
		}
	}
	return nil
}

// SweepCompletion promotes Submitted batches whose members have all
// reached a terminal state, and refreshes member tallies.
func (d *Dispatcher) SweepCompletion(ctx context.Context) {
	batches, err := d.batches.FindByStatus(ctx, models.BatchSubmitted)
	if err != nil {
		d.logger.Error("completion sweep query failed", zap.Error(err))
		return
	}

	for _, batch := range batches {
		members, err := d.ledger.FindByBatch(ctx, batch.BatchID)
		if err != nil {
			d.logger.Error("completion sweep member query failed",
				zap.String("batch_id", batch.BatchID), zap.Error(err))
			continue
		}

		var settled, rejected, pending int
		for _, tx := range members {
			switch {
			case tx.State == models.StateSettled:
				settled++
			case tx.State == models.StateRejected || tx.State == models.StateExpired:
				rejected++
			default:
				pending++
			}
		}

		if err := d.batches.UpdateCounts(ctx, batch.BatchID, settled, rejected, pending); err != nil {
			d.logger.Error("completion sweep count update failed",
				zap.String("batch_id", batch.BatchID), zap.Error(err))
			continue
		}
		if pending == 0 {
			if err := d.batches.UpdateStatus(ctx, batch.BatchID, models.BatchSubmitted, models.BatchCompleted); err != nil {
				d.logger.Error("completion sweep status update failed",
					zap.String("batch_id", batch.BatchID), zap.Error(err))
				continue
			}
			d.logger.Info("batch completed",
				zap.String("batch_id", batch.BatchID),
				zap.Int("settled", settled), zap.Int("rejected", rejected))
		}
	}
}

// RunCompletionSweep runs SweepCompletion on an interval.
func (d *Dispatcher) RunCompletionSweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.SweepCompletion(ctx)
		}
	}
}
