package models

import (
	// Go Internal Packages
	"time"

	// External Packages
	"github.com/shopspring/decimal"
)

// SettlementRecord is one row of a provider settlement report. RawPayload
// keeps the original row verbatim for audit.
type SettlementRecord struct {
	ProviderID    string          `json:"provider_id"`
	ProviderRef   string          `json:"provider_ref"`
	SettledAmount decimal.Decimal `json:"settled_amount"`
	Currency      string          `json:"currency"`
	SettledAt     time.Time       `json:"settled_at"`
	RawPayload    string          `json:"raw_payload"`
	IngestedAt    time.Time       `json:"ingested_at"`
}

// DiscrepancyType classifies a reconciliation exception.
type DiscrepancyType string

const (
	AmountMismatch      DiscrepancyType = "AMOUNT_MISMATCH"
	MissingAtProvider   DiscrepancyType = "MISSING_AT_PROVIDER"
	MissingInternally   DiscrepancyType = "MISSING_INTERNALLY"
	DuplicateSettlement DiscrepancyType = "DUPLICATE_SETTLEMENT"
	// ConflictingSignal records a late terminal callback that disagrees
	// with an already-recorded terminal state.
	ConflictingSignal DiscrepancyType = "CONFLICTING_SIGNAL"
)

// Severity ranks a reconciliation exception for triage.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityOf maps a discrepancy type to its triage rank. A settlement
// with no internal transaction is a possible double payment of public
// funds and outranks everything else.
func SeverityOf(t DiscrepancyType) Severity {
	switch t {
	case MissingInternally:
		return SeverityCritical
	case AmountMismatch, DuplicateSettlement:
		return SeverityHigh
	case ConflictingSignal:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ReconciliationException is a durable discrepancy record. It is never
// auto-resolved; an operator must sign off explicitly.
type ReconciliationException struct {
	ExceptionID   string          `json:"exception_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	ProviderID    string          `json:"provider_id"`
	ProviderRef   string          `json:"provider_ref,omitempty"`
	Type          DiscrepancyType `json:"type"`
	Severity      Severity        `json:"severity"`
	Detail        string          `json:"detail"`
	DetectedAt    time.Time       `json:"detected_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy    string          `json:"resolved_by,omitempty"`
}
