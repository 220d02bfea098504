package models

import (
	// Go Internal Packages
	"fmt"
	"math/rand"
	"time"

	// External Packages
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxState is a disbursement transaction lifecycle state.
type TxState string

const (
	StateCreated      TxState = "CREATED"
	StateReserved     TxState = "RESERVED"
	StateSubmitted    TxState = "SUBMITTED"
	StateAcknowledged TxState = "ACKNOWLEDGED"
	StateRetrying     TxState = "RETRYING"
	StateSettled      TxState = "SETTLED"
	StateRejected     TxState = "REJECTED"
	StateExpired      TxState = "EXPIRED"
)

// transitions is the full lifecycle graph. Terminal states have no
// outgoing edges; a recorded terminal outcome is never reversed.
var transitions = map[TxState][]TxState{
	StateCreated:      {StateReserved},
	StateReserved:     {StateSubmitted, StateRejected, StateExpired},
	StateSubmitted:    {StateAcknowledged, StateSettled, StateRejected, StateRetrying, StateExpired},
	StateAcknowledged: {StateSettled, StateRejected, StateRetrying, StateExpired},
	StateRetrying:     {StateSubmitted, StateAcknowledged, StateSettled, StateRejected, StateExpired},
	StateSettled:      {},
	StateRejected:     {},
	StateExpired:      {},
}

// CanTransitionTo reports whether the graph allows s -> to.
func (s TxState) CanTransitionTo(to TxState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s TxState) Terminal() bool {
	return s == StateSettled || s == StateRejected || s == StateExpired
}

// Rejection reasons surfaced for manual remediation.
const (
	ReasonCycleCancelled    = "CYCLE_CANCELLED"
	ReasonRetriesExhausted  = "RETRIES_EXHAUSTED"
	ReasonSLAWindowExceeded = "SLA_WINDOW_EXCEEDED"
)

// Transaction is the engine's record of one payment to one beneficiary
// in one benefit cycle. Amount is immutable after creation; corrections
// require a new compensating transaction.
type Transaction struct {
	TransactionID    string          `json:"transaction_id"`
	IdempotencyKey   string          `json:"idempotency_key"`
	InternalRef      string          `json:"internal_ref"`
	BeneficiaryID    string          `json:"beneficiary_id"`
	BenefitCycleID   string          `json:"benefit_cycle_id"`
	ProviderID       string          `json:"provider_id"`
	BatchID          string          `json:"batch_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	State            TxState         `json:"state"`
	ProviderRef      string          `json:"provider_ref,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	Fee              decimal.Decimal `json:"fee"`
	RecipientAccount string          `json:"recipient_account,omitempty"`
	RecipientName    string          `json:"recipient_name,omitempty"`
	RecipientMobile  string          `json:"recipient_mobile,omitempty"`
	AttemptCount     int             `json:"attempt_count"`
	CreatedAt        time.Time       `json:"created_at"`
	LastTransitionAt time.Time       `json:"last_transition_at"`
}

// ReserveResult is the outcome of an idempotency reservation.
type ReserveResult struct {
	Created       bool
	TransactionID string
}

// NewTransaction builds a Reserved-pending transaction from an accepted request.
func NewTransaction(req DisbursementRequest, now time.Time) Transaction {
	return Transaction{
		TransactionID:    uuid.NewString(),
		IdempotencyKey:   req.IdempotencyKey(),
		InternalRef:      NewInternalRef(now),
		BeneficiaryID:    req.BeneficiaryID,
		BenefitCycleID:   req.BenefitCycleID,
		ProviderID:       req.ProviderID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		State:            StateCreated,
		RecipientAccount: req.RecipientAccountNumber,
		RecipientName:    req.RecipientAccountName,
		RecipientMobile:  req.RecipientMobileNumber,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
}

// NewInternalRef generates a human-quotable reference like PAY-2026-004213.
func NewInternalRef(now time.Time) string {
	return fmt.Sprintf("PAY-%d-%06d", now.Year(), rand.Intn(1000000))
}
