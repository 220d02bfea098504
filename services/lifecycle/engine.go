package lifecycle

import (
	// Go Internal Packages
	"context"
	"time"

	// Local Packages
	errors "disburse-engine/errors"
	models "disburse-engine/models"
	providers "disburse-engine/providers"

	// External Packages
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// casAttempts bounds local retries on a compare-and-set miss before the
// conflict is escalated.
const casAttempts = 3

// Ledger is the transaction store the engine drives.
type Ledger interface {
	Get(ctx context.Context, id string) (models.Transaction, error)
	GetByProviderRef(ctx context.Context, providerID, providerRef string) (models.Transaction, error)
	Transition(ctx context.Context, id string, from, to models.TxState, upd models.TransitionUpdate) error
}

// Auditor records exactly one event per applied transition.
type Auditor interface {
	Record(ctx context.Context, tx models.Transaction, from, to models.TxState, actor, reason string, payload []byte) error
}

// Exceptions receives durable discrepancy records.
type Exceptions interface {
	InsertException(ctx context.Context, ex models.ReconciliationException) error
}

// Engine owns every transaction state change. All provider signals —
// webhook or poll — arrive as the same Event type, so the state logic is
// agnostic to transport. Terminal states are append-only facts: a late
// conflicting signal becomes a reconciliation exception, never an
// overwrite.
type Engine struct {
	ledger     Ledger
	audit      Auditor
	exceptions Exceptions
	logger     *zap.Logger
}

func NewEngine(ledger Ledger, audit Auditor, exceptions Exceptions, logger *zap.Logger) *Engine {
	return &Engine{ledger: ledger, audit: audit, exceptions: exceptions, logger: logger}
}

// Run drains the provider event stream until the context ends.
func (e *Engine) Run(ctx context.Context, events <-chan providers.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := e.Apply(ctx, ev); err != nil {
				e.logger.Error("failed to apply provider event",
					zap.String("provider", ev.ProviderID),
					zap.String("provider_ref", ev.ProviderRef),
					zap.String("status", string(ev.Status)),
					zap.Error(err))
			}
		}
	}
}

func stateFor(status providers.EventStatus) (models.TxState, bool) {
	switch status {
	case providers.EventAcknowledged:
		return models.StateAcknowledged, true
	case providers.EventSettled:
		return models.StateSettled, true
	case providers.EventRejected:
		return models.StateRejected, true
	}
	return "", false
}

// Apply advances a transaction per one provider event.
func (e *Engine) Apply(ctx context.Context, ev providers.Event) error {
	target, ok := stateFor(ev.Status)
	if !ok {
		// Pending carries no transition; the scheduler keeps polling.
		return nil
	}

	tx, err := e.resolve(ctx, ev)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		if tx.State == target {
			return nil
		}

		if tx.State.Terminal() {
			if target.Terminal() {
				return e.recordConflict(ctx, tx, target, ev)
			}
			// Late non-terminal signal after a terminal outcome carries
			// no information; drop it.
			return nil
		}

		if !tx.State.CanTransitionTo(target) {
			return errors.IllegalTransitionErr(tx.TransactionID, string(tx.State), string(target))
		}

		upd := models.TransitionUpdate{FailureReason: ev.Reason, Fee: ev.Fee}
		if tx.ProviderRef == "" {
			upd.ProviderRef = ev.ProviderRef
		}

		err := e.ledger.Transition(ctx, tx.TransactionID, tx.State, target, upd)
		if err == nil {
			return e.audit.Record(ctx, tx, tx.State, target, models.ActorProviderEvent, ev.Reason, ev.Raw)
		}
		if !errors.Is(err, errors.Conflict) {
			return err
		}

		// Concurrent writer won the CAS; reload and re-evaluate.
		tx, err = e.ledger.Get(ctx, tx.TransactionID)
		if err != nil {
			return err
		}
	}
	return errors.E(errors.Internal, "transition retries exhausted for "+ev.ProviderRef, nil)
}

func (e *Engine) resolve(ctx context.Context, ev providers.Event) (models.Transaction, error) {
	if ev.TransactionID != "" {
		return e.ledger.Get(ctx, ev.TransactionID)
	}
	return e.ledger.GetByProviderRef(ctx, ev.ProviderID, ev.ProviderRef)
}

func (e *Engine) recordConflict(ctx context.Context, tx models.Transaction, signalled models.TxState, ev providers.Event) error {
	e.logger.Warn("conflicting terminal signal, keeping recorded state",
		zap.String("transaction_id", tx.TransactionID),
		zap.String("recorded", string(tx.State)),
		zap.String("signalled", string(signalled)))

	return e.exceptions.InsertException(ctx, models.ReconciliationException{
		ExceptionID:   uuid.NewString(),
		TransactionID: tx.TransactionID,
		ProviderID:    tx.ProviderID,
		ProviderRef:   tx.ProviderRef,
		Type:          models.ConflictingSignal,
		Severity:      models.SeverityOf(models.ConflictingSignal),
		Detail:        "provider signalled " + string(signalled) + " after " + string(tx.State) + " was recorded",
		DetectedAt:    time.Now().UTC(),
	})
}

// AdvanceFrom performs one expected transition on behalf of a caller that
// knows the current state (submission workers, operators). The caller
// handles Conflict.
func (e *Engine) AdvanceFrom(ctx context.Context, tx models.Transaction, from, to models.TxState, actor, reason string, upd models.TransitionUpdate) error {
	if !from.CanTransitionTo(to) {
		return errors.IllegalTransitionErr(tx.TransactionID, string(from), string(to))
	}
	if err := e.ledger.Transition(ctx, tx.TransactionID, from, to, upd); err != nil {
		return err
	}
	return e.audit.Record(ctx, tx, from, to, actor, reason, nil)
}

// RequeueExpired is the operator override that returns an Expired
// transaction to automated processing after the provider-side outcome has
// been confirmed manually. A never-dispatched transaction goes back to
// Reserved (safe to submit); a dispatched one goes to Retrying, from
// which only status queries are driven. Returns the state requeued to.
func (e *Engine) RequeueExpired(ctx context.Context, tx models.Transaction, actor string) (models.TxState, error) {
	if tx.State != models.StateExpired {
		return "", errors.E(errors.Invalid, "requeue requires Expired state, got "+string(tx.State), nil)
	}

	target := models.StateRetrying
	if tx.ProviderRef == "" {
		target = models.StateReserved
	}

	if err := e.ledger.Transition(ctx, tx.TransactionID, models.StateExpired, target,
		models.TransitionUpdate{}); err != nil {
		return "", err
	}
	if err := e.audit.Record(ctx, tx, models.StateExpired, target, actor, "operator requeue", nil); err != nil {
		return "", err
	}
	return target, nil
}

// Expire force-transitions a non-terminal transaction to Expired. Used by
// the retry scheduler when the attempt budget or SLA window runs out.
func (e *Engine) Expire(ctx context.Context, tx models.Transaction, actor, reason string) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		if tx.State.Terminal() {
			return nil
		}
		err := e.ledger.Transition(ctx, tx.TransactionID, tx.State, models.StateExpired,
			models.TransitionUpdate{FailureReason: reason})
		if err == nil {
			return e.audit.Record(ctx, tx, tx.State, models.StateExpired, actor, reason, nil)
		}
		if !errors.Is(err, errors.Conflict) {
			return err
		}
		tx, err = e.ledger.Get(ctx, tx.TransactionID)
		if err != nil {
			return err
		}
	}
	return errors.E(errors.Internal, "expire retries exhausted for "+tx.TransactionID, nil)
}
