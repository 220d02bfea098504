package providers

import (
	// Go Internal Packages
	"context"
	"time"

	// External Packages
	"github.com/shopspring/decimal"
)

// AdapterKind distinguishes how an FSP reports asynchronous outcomes.
type AdapterKind string

const (
	// KindPolling providers are driven by the retry scheduler calling
	// QueryStatus until a terminal outcome appears.
	KindPolling AdapterKind = "polling"
	// KindWebhook providers push signed callbacks into the engine's
	// webhook receiver.
	KindWebhook AdapterKind = "webhook"
)

// EventStatus is the normalized outcome carried by a provider event.
type EventStatus string

const (
	EventAcknowledged EventStatus = "acknowledged"
	EventSettled      EventStatus = "settled"
	EventRejected     EventStatus = "rejected"
	// EventPending means the provider has the instruction but no outcome
	// yet; the state machine ignores it beyond rescheduling a query.
	EventPending EventStatus = "pending"
)

// Event is the single internal event type all provider signals are
// normalized into, whether they arrived by webhook or by poll. The state
// machine never sees the transport.
type Event struct {
	ProviderID    string
	ProviderRef   string
	TransactionID string
	Status        EventStatus
	Reason        string
	Fee           decimal.Decimal
	At            time.Time
	Raw           []byte
}

// SubmitItem is one payment instruction inside a submitted batch.
type SubmitItem struct {
	TransactionID string
	InternalRef   string
	Amount        decimal.Decimal
	Currency      string
	AccountNumber string
	AccountName   string
	MobileNumber  string
}

// SubmitBatch is the provider-facing projection of a closed batch.
type SubmitBatch struct {
	BatchID       string
	BatchNumber   string
	ProviderID    string
	Currency      string
	DeclaredTotal decimal.Decimal
	Items         []SubmitItem
}

// ItemAck is the per-item outcome of a batch submission.
type ItemAck struct {
	TransactionID string
	ProviderRef   string
	Status        EventStatus
	Reason        string
	Fee           decimal.Decimal
}

// SubmissionResult holds per-item outcomes for a dispatched batch. A
// transport-level failure is returned as an error instead, in which case
// nothing was dispatched.
type SubmissionResult struct {
	Acks []ItemAck
}

// StatusResult is the answer to a status query for one provider reference.
type StatusResult struct {
	ProviderRef string
	Found       bool
	Status      EventStatus
	Reason      string
	SettledAt   time.Time
}

// CancelResult reports whether a cancellation took effect. Once a payment
// is in flight the provider's answer is authoritative.
type CancelResult struct {
	Cancelled bool
	Reason    string
}

// Adapter normalizes one FSP's submit/query/cancel protocol. Submit must
// be safe to call again for items that were never dispatched; the engine
// additionally guards every dispatched item locally, so an adapter is
// never asked to re-submit an item that may already be in flight.
type Adapter interface {
	Code() string
	Kind() AdapterKind
	Healthy(ctx context.Context) bool
	Submit(ctx context.Context, batch SubmitBatch) (SubmissionResult, error)
	QueryStatus(ctx context.Context, providerRef string) (StatusResult, error)
	Cancel(ctx context.Context, providerRef string) (CancelResult, error)
}
