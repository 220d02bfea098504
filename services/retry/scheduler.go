package retry

import (
	// Go Internal Packages
	"context"
	"math/rand"
	"time"

	// Local Packages
	models "disburse-engine/models"
	providers "disburse-engine/providers"

	// External Packages
	"go.uber.org/zap"
)

// Queue is the durable work queue of pending wake-ups.
type Queue interface {
	Schedule(ctx context.Context, transactionID string, at time.Time) error
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Claim(ctx context.Context, transactionID string) (bool, error)
	Remove(ctx context.Context, transactionID string) error
}

// Ledger is the slice of the transaction store the scheduler reads.
type Ledger interface {
	Get(ctx context.Context, id string) (models.Transaction, error)
	FindStale(ctx context.Context, states []models.TxState, olderThan time.Time) ([]models.Transaction, error)
}

// AdapterSource resolves provider adapters.
type AdapterSource interface {
	Get(code string) (providers.Adapter, error)
}

// Resubmitter re-drives a Reserved transaction through the dispatcher.
type Resubmitter interface {
	Resubmit(ctx context.Context, tx models.Transaction) error
}

// Lifecycle applies provider events and force-expiries.
type Lifecycle interface {
	Apply(ctx context.Context, ev providers.Event) error
	Expire(ctx context.Context, tx models.Transaction, actor, reason string) error
}

// Config tunes backoff and budgets.
type Config struct {
	BaseInterval time.Duration // first backoff step
	MaxInterval  time.Duration // backoff cap
	MaxAttempts  int           // attempts before force-expiry
	SLAWindow    time.Duration // non-terminal age before the expiry sweep acts
	PollEvery    time.Duration
	BatchLimit   int64
}

// Scheduler re-drives stuck transactions. Reserved transactions are
// re-submitted; anything from Submitted onward is only ever re-queried —
// a batch that may already be in flight is never submitted again.
type Scheduler struct {
	cfg       Config
	queue     Queue
	ledger    Ledger
	adapters  AdapterSource
	submitter Resubmitter
	lifecycle Lifecycle
	logger    *zap.Logger
	now       func() time.Time
}

func NewScheduler(cfg Config, queue Queue, ledger Ledger, adapters AdapterSource,
	lifecycle Lifecycle, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		queue:     queue,
		ledger:    ledger,
		adapters:  adapters,
		lifecycle: lifecycle,
		logger:    logger,
		now:       time.Now,
	}
}

// BindResubmitter wires the dispatcher in after construction; the
// scheduler plans the dispatcher's retries and the dispatcher serves the
// scheduler's resubmits, so one side binds late.
func (s *Scheduler) BindResubmitter(r Resubmitter) {
	s.submitter = r
}

// Backoff returns the exponential full-jitter delay for an attempt:
// a random duration in [0, base*2^attempt), capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)))
}

// ScheduleNext enqueues the wake-up after the attempt's backoff.
func (s *Scheduler) ScheduleNext(ctx context.Context, transactionID string, attempt int) error {
	at := s.now().Add(Backoff(s.cfg.BaseInterval, s.cfg.MaxInterval, attempt))
	return s.queue.Schedule(ctx, transactionID, at)
}

// Run polls the queue and the SLA sweep until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollEvery)
	defer ticker.Stop()

	sweep := time.NewTicker(s.cfg.SLAWindow / 4)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainDue(ctx)
		case <-sweep.C:
			s.ExpirySweep(ctx)
		}
	}
}

func (s *Scheduler) drainDue(ctx context.Context) {
	ids, err := s.queue.Due(ctx, s.now(), s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("retry poll failed", zap.Error(err))
		return
	}

	for _, id := range ids {
		claimed, err := s.queue.Claim(ctx, id)
		if err != nil {
			s.logger.Error("retry claim failed", zap.String("transaction_id", id), zap.Error(err))
			continue
		}
		if !claimed {
			continue // another worker owns this wake-up
		}
		if err := s.Process(ctx, id); err != nil {
			s.logger.Error("retry processing failed", zap.String("transaction_id", id), zap.Error(err))
		}
	}
}

// Process drives one wake-up for one transaction.
func (s *Scheduler) Process(ctx context.Context, transactionID string) error {
	tx, err := s.ledger.Get(ctx, transactionID)
	if err != nil {
		return err
	}

	if tx.State.Terminal() {
		return nil
	}

	if tx.AttemptCount >= s.cfg.MaxAttempts {
		s.logger.Warn("attempt budget exhausted, expiring",
			zap.String("transaction_id", tx.TransactionID),
			zap.Int("attempts", tx.AttemptCount))
		return s.lifecycle.Expire(ctx, tx, models.ActorRetry, models.ReasonRetriesExhausted)
	}

	switch tx.State {
	case models.StateReserved:
		// Dispatch never happened; submitting again is safe.
		if err := s.submitter.Resubmit(ctx, tx); err != nil {
			s.logger.Warn("resubmit failed, rescheduling",
				zap.String("transaction_id", tx.TransactionID), zap.Error(err))
			return s.ScheduleNext(ctx, tx.TransactionID, tx.AttemptCount)
		}
		return nil
	case models.StateSubmitted, models.StateAcknowledged, models.StateRetrying:
		return s.query(ctx, tx)
	}
	return nil
}

// query re-checks provider-side status; it is the only retry action for a
// transaction that may already be in flight.
func (s *Scheduler) query(ctx context.Context, tx models.Transaction) error {
	adapter, err := s.adapters.Get(tx.ProviderID)
	if err != nil {
		return err
	}

	res, err := adapter.QueryStatus(ctx, tx.ProviderRef)
	if err != nil {
		s.logger.Warn("status query failed, rescheduling",
			zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		return s.ScheduleNext(ctx, tx.TransactionID, tx.AttemptCount+1)
	}

	if !res.Found || res.Status == providers.EventPending || res.Status == providers.EventAcknowledged {
		// No terminal outcome yet; keep polling.
		if res.Found && res.Status == providers.EventAcknowledged && tx.State == models.StateSubmitted {
			_ = s.lifecycle.Apply(ctx, providers.Event{
				ProviderID:    tx.ProviderID,
				ProviderRef:   tx.ProviderRef,
				TransactionID: tx.TransactionID,
				Status:        providers.EventAcknowledged,
				At:            s.now(),
			})
		}
		return s.ScheduleNext(ctx, tx.TransactionID, tx.AttemptCount+1)
	}

	return s.lifecycle.Apply(ctx, providers.Event{
		ProviderID:    tx.ProviderID,
		ProviderRef:   tx.ProviderRef,
		TransactionID: tx.TransactionID,
		Status:        res.Status,
		Reason:        res.Reason,
		At:            s.now(),
	})
}

// ExpirySweep finds transactions stuck past the SLA window. A provider
// that may hold the payment is queried once more before the transaction
// is surfaced as Expired for mandatory manual confirmation.
func (s *Scheduler) ExpirySweep(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.SLAWindow)
	stale, err := s.ledger.FindStale(ctx,
		[]models.TxState{models.StateReserved, models.StateSubmitted, models.StateAcknowledged, models.StateRetrying},
		cutoff)
	if err != nil {
		s.logger.Error("expiry sweep query failed", zap.Error(err))
		return
	}

	for _, tx := range stale {
		if tx.ProviderRef != "" {
			// Forced confirmation before any expiry decision.
			if err := s.query(ctx, tx); err != nil {
				s.logger.Error("forced status query failed",
					zap.String("transaction_id", tx.TransactionID), zap.Error(err))
			}
			refreshed, err := s.ledger.Get(ctx, tx.TransactionID)
			if err != nil || refreshed.State.Terminal() {
				continue
			}
			tx = refreshed
		}

		if err := s.lifecycle.Expire(ctx, tx, models.ActorRetry, models.ReasonSLAWindowExceeded); err != nil {
			s.logger.Error("expiry failed",
				zap.String("transaction_id", tx.TransactionID), zap.Error(err))
			continue
		}
		_ = s.queue.Remove(ctx, tx.TransactionID)
		s.logger.Warn("transaction expired past SLA window",
			zap.String("transaction_id", tx.TransactionID),
			zap.String("state", string(tx.State)))
	}
}
