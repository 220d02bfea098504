package intake

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"time"

	// Local Packages
	errors "disburse-engine/errors"
	models "disburse-engine/models"

	// External Packages
	"go.uber.org/zap"
)

// Ledger reserves idempotency keys atomically with transaction creation.
type Ledger interface {
	Reserve(ctx context.Context, tx models.Transaction) (models.ReserveResult, error)
}

// Batcher receives reserved transactions for batch assembly.
type Batcher interface {
	Add(ctx context.Context, tx models.Transaction) error
}

// Auditor records the reservation transition.
type Auditor interface {
	Record(ctx context.Context, tx models.Transaction, from, to models.TxState, actor, reason string, payload []byte) error
}

// Service is the single entry point for disbursement requests, whether
// they arrive over Kafka or HTTP. Validation failures are immediate; all
// later outcomes are observable only via status query or audit export.
type Service struct {
	ledger   Ledger
	batcher  Batcher
	audit    Auditor
	currency string
	scale    int32
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(ledger Ledger, batcher Batcher, audit Auditor, currency string, scale int32, logger *zap.Logger) *Service {
	return &Service{
		ledger:   ledger,
		batcher:  batcher,
		audit:    audit,
		currency: currency,
		scale:    scale,
		logger:   logger,
		now:      time.Now,
	}
}

// Accept validates and reserves one request. A duplicate key returns the
// winning transaction id under a Conflict error; callers treat that as
// the success path. Ledger unavailability fails closed.
func (s *Service) Accept(ctx context.Context, req models.DisbursementRequest) (models.Transaction, error) {
	if err := req.Validate(s.currency, s.scale); err != nil {
		return models.Transaction{}, err
	}

	tx := models.NewTransaction(req, s.now())

	res, err := s.ledger.Reserve(ctx, tx)
	if err != nil {
		return models.Transaction{}, err
	}
	if !res.Created {
		s.logger.Info("idempotency key already reserved",
			zap.String("idempotency_key", tx.IdempotencyKey),
			zap.String("transaction_id", res.TransactionID))
		tx.TransactionID = res.TransactionID
		return tx, errors.DuplicateRequestErr(tx.IdempotencyKey, res.TransactionID)
	}

	tx.State = models.StateReserved
	payload, _ := json.Marshal(req)
	if err := s.audit.Record(ctx, tx, models.StateCreated, models.StateReserved,
		models.ActorIntake, "", payload); err != nil {
		return tx, err
	}

	if err := s.batcher.Add(ctx, tx); err != nil {
		return tx, err
	}

	s.logger.Info("accepted disbursement request",
		zap.String("transaction_id", tx.TransactionID),
		zap.String("beneficiary_id", tx.BeneficiaryID),
		zap.String("provider", tx.ProviderID),
		zap.String("amount", tx.Amount.String()))
	return tx, nil
}
