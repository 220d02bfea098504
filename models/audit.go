package models

import (
	// Go Internal Packages
	"time"
)

// AuditEvent records one state transition. The audit trail is append-only:
// events are never updated, deleted or rewritten.
type AuditEvent struct {
	TransactionID  string    `json:"transaction_id"`
	BenefitCycleID string    `json:"benefit_cycle_id"`
	FromState      TxState   `json:"from_state"`
	ToState        TxState   `json:"to_state"`
	Actor          string    `json:"actor"`
	Reason         string    `json:"reason,omitempty"`
	PayloadDigest  string    `json:"payload_digest,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Actors stamped on audit events.
const (
	ActorSubmitter     = "submitter"
	ActorProviderEvent = "provider-event"
	ActorRetry         = "retry-scheduler"
	ActorRecon         = "reconciliation"
	ActorOperator      = "operator"
	ActorIntake        = "intake"
)
