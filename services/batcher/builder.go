package batcher

import (
	// Go Internal Packages
	"context"
	"sync"
	"time"

	// Local Packages
	models "disburse-engine/models"

	// External Packages
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BatchStore persists sealed batches.
type BatchStore interface {
	Insert(ctx context.Context, batch models.Batch) error
}

// Ledger stamps batch membership on transactions.
type Ledger interface {
	AssignBatch(ctx context.Context, ids []string, batchID string) error
}

// Submitter receives sealed batches for dispatch.
type Submitter interface {
	Enqueue(ctx context.Context, batch models.Batch) error
}

// Config sets the seal rules: a batch closes when it reaches MaxSize
// members or when Cutoff elapses since it opened, whichever comes first.
type Config struct {
	MaxSize int
	Cutoff  time.Duration
}

type openBatch struct {
	batch models.Batch
	items []models.Transaction
}

// Builder groups reserved transactions into provider- and cycle-scoped
// batches. Assembly is in-memory and ordered by arrival so audits are
// reproducible; a batch is durable from the moment it closes.
type Builder struct {
	cfg       Config
	store     BatchStore
	ledger    Ledger
	submitter Submitter
	logger    *zap.Logger
	now       func() time.Time

	mu   sync.Mutex
	open map[string]*openBatch // keyed by provider|cycle
}

func NewBuilder(cfg Config, store BatchStore, ledger Ledger, submitter Submitter, logger *zap.Logger) *Builder {
	return &Builder{
		cfg:       cfg,
		store:     store,
		ledger:    ledger,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
		open:      make(map[string]*openBatch),
	}
}

func batchKey(providerID, cycleID string) string {
	return providerID + "|" + cycleID
}

// Add appends a reserved transaction to its open batch, opening one if
// needed, and seals the batch when it reaches the size limit.
func (b *Builder) Add(ctx context.Context, tx models.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := batchKey(tx.ProviderID, tx.BenefitCycleID)
	ob, ok := b.open[key]
	if !ok {
		now := b.now()
		ob = &openBatch{batch: models.Batch{
			BatchID:        uuid.NewString(),
			BatchNumber:    models.NewBatchNumber(now),
			ProviderID:     tx.ProviderID,
			BenefitCycleID: tx.BenefitCycleID,
			DeclaredTotal:  decimal.Zero,
			Currency:       tx.Currency,
			Status:         models.BatchOpen,
			CutoffTime:     now.Add(b.cfg.Cutoff),
			CreatedAt:      now,
		}}
		b.open[key] = ob
	}

	ob.batch.TransactionIDs = append(ob.batch.TransactionIDs, tx.TransactionID)
	ob.batch.DeclaredTotal = ob.batch.DeclaredTotal.Add(tx.Amount)
	ob.items = append(ob.items, tx)

	if len(ob.batch.TransactionIDs) >= b.cfg.MaxSize {
		return b.sealLocked(ctx, key)
	}
	return nil
}

// Run seals batches whose cutoff deadline elapsed, until the context ends.
func (b *Builder) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sealExpired(ctx)
		}
	}
}

func (b *Builder) sealExpired(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for key, ob := range b.open {
		if !now.Before(ob.batch.CutoffTime) {
			if err := b.sealLocked(ctx, key); err != nil {
				b.logger.Error("failed to seal batch on cutoff",
					zap.String("batch_id", ob.batch.BatchID), zap.Error(err))
			}
		}
	}
}

// sealLocked closes the batch: persists it, stamps members, hands it to
// the submitter. On a persistence failure the batch stays open and the
// next tick retries. Caller holds b.mu.
func (b *Builder) sealLocked(ctx context.Context, key string) error {
	ob := b.open[key]
	ob.batch.Status = models.BatchClosed
	ob.batch.ClosedAt = b.now()
	ob.batch.PendingCount = len(ob.batch.TransactionIDs)

	if err := b.store.Insert(ctx, ob.batch); err != nil {
		ob.batch.Status = models.BatchOpen
		return err
	}
	if err := b.ledger.AssignBatch(ctx, ob.batch.TransactionIDs, ob.batch.BatchID); err != nil {
		b.logger.Error("failed to stamp batch membership",
			zap.String("batch_id", ob.batch.BatchID), zap.Error(err))
	}
	delete(b.open, key)

	b.logger.Info("sealed batch",
		zap.String("batch_id", ob.batch.BatchID),
		zap.String("batch_number", ob.batch.BatchNumber),
		zap.String("provider", ob.batch.ProviderID),
		zap.Int("members", len(ob.batch.TransactionIDs)),
		zap.String("declared_total", ob.batch.DeclaredTotal.String()))

	return b.submitter.Enqueue(ctx, ob.batch)
}

// Flush seals every open batch regardless of size or cutoff. Used on
// shutdown and in tests.
func (b *Builder) Flush(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key := range b.open {
		if err := b.sealLocked(ctx, key); err != nil {
			b.logger.Error("failed to flush batch", zap.Error(err))
		}
	}
}

// removeCycle drops every open batch of a cycle and returns their member
// transactions, for cancellation.
func (b *Builder) removeCycle(cycleID string) []models.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()

	var members []models.Transaction
	for key, ob := range b.open {
		if ob.batch.BenefitCycleID == cycleID {
			members = append(members, ob.items...)
			delete(b.open, key)
		}
	}
	return members
}
