package audit

import (
	// Go Internal Packages
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	// Local Packages
	models "disburse-engine/models"

	// External Packages
	"go.uber.org/zap"
)

// Store is the append-only persistence behind the recorder.
type Store interface {
	Append(ctx context.Context, ev models.AuditEvent) error
	ByCycle(ctx context.Context, cycleID string) ([]models.AuditEvent, error)
	ByTransaction(ctx context.Context, transactionID string) ([]models.AuditEvent, error)
}

// Recorder writes one audit event per state transition and exports the
// trail for compliance reporting.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record appends one transition event. The payload is digested, not
// stored, so the trail stays compact while remaining tamper-evident.
func (r *Recorder) Record(ctx context.Context, tx models.Transaction, from, to models.TxState, actor, reason string, payload []byte) error {
	ev := models.AuditEvent{
		TransactionID:  tx.TransactionID,
		BenefitCycleID: tx.BenefitCycleID,
		FromState:      from,
		ToState:        to,
		Actor:          actor,
		Reason:         reason,
		Timestamp:      time.Now().UTC(),
	}
	if len(payload) > 0 {
		sum := sha256.Sum256(payload)
		ev.PayloadDigest = hex.EncodeToString(sum[:])
	}

	if err := r.store.Append(ctx, ev); err != nil {
		// An unrecorded transition is an invariant breach worth a loud log;
		// the transition itself already happened.
		r.logger.Error("audit append failed",
			zap.String("transaction_id", tx.TransactionID),
			zap.String("from", string(from)), zap.String("to", string(to)),
			zap.Error(err))
		return err
	}
	return nil
}

// Export streams a cycle's audit trail as NDJSON in append order.
func (r *Recorder) Export(ctx context.Context, cycleID string, w io.Writer) error {
	events, err := r.store.ByCycle(ctx, cycleID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

// Trail returns one transaction's transitions in append order.
func (r *Recorder) Trail(ctx context.Context, transactionID string) ([]models.AuditEvent, error) {
	return r.store.ByTransaction(ctx, transactionID)
}
