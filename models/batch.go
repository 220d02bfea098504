package models

import (
	// Go Internal Packages
	"fmt"
	"math/rand"
	"time"

	// External Packages
	"github.com/shopspring/decimal"
)

// BatchStatus is a batch lifecycle state.
type BatchStatus string

const (
	BatchOpen      BatchStatus = "OPEN"
	BatchClosed    BatchStatus = "CLOSED"
	BatchSubmitted BatchStatus = "SUBMITTED"
	BatchCompleted BatchStatus = "COMPLETED"
)

// CanTransitionTo reports whether the batch graph allows s -> to.
// The graph is linear: Open -> Closed -> Submitted -> Completed.
func (s BatchStatus) CanTransitionTo(to BatchStatus) bool {
	switch s {
	case BatchOpen:
		return to == BatchClosed
	case BatchClosed:
		return to == BatchSubmitted
	case BatchSubmitted:
		return to == BatchCompleted
	}
	return false
}

// Batch is a provider- and cycle-scoped group of transactions submitted
// together. Membership is fixed once the batch closes; DeclaredTotal must
// equal the sum of member amounts at all times.
type Batch struct {
	BatchID        string          `json:"batch_id"`
	BatchNumber    string          `json:"batch_number"`
	ProviderID     string          `json:"provider_id"`
	BenefitCycleID string          `json:"benefit_cycle_id"`
	TransactionIDs []string        `json:"transaction_ids"`
	DeclaredTotal  decimal.Decimal `json:"declared_total"`
	Currency       string          `json:"currency"`
	Status         BatchStatus     `json:"status"`
	CutoffTime     time.Time       `json:"cutoff_time"`
	SettledCount   int             `json:"settled_count"`
	RejectedCount  int             `json:"rejected_count"`
	PendingCount   int             `json:"pending_count"`
	CreatedAt      time.Time       `json:"created_at"`
	ClosedAt       time.Time       `json:"closed_at,omitempty"`
	CompletedAt    time.Time       `json:"completed_at,omitempty"`
}

// NewBatchNumber generates a reference like BATCH-2026-004213.
func NewBatchNumber(now time.Time) string {
	return fmt.Sprintf("BATCH-%d-%06d", now.Year(), rand.Intn(1000000))
}
