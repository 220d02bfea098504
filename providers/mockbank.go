package providers

import (
	// Go Internal Packages
	"context"
	"strings"
	"sync"
	"time"

	// External Packages
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome thresholds mirrored from the bank sandbox environment: small
// amounts settle on submission, large amounts are rejected outright,
// everything in between is accepted and settles on a later status query.
var (
	bankInstantLimit = decimal.NewFromInt(1000)
	bankDailyLimit   = decimal.NewFromInt(10000)
)

type bankEntry struct {
	item       SubmitItem
	status     EventStatus
	reason     string
	acceptedAt time.Time
	cancelled  bool
}

// MockBank is the polling reference adapter. It simulates a bank-transfer
// FSP that acknowledges submissions synchronously and settles out of band,
// observable only through QueryStatus.
type MockBank struct {
	code        string
	settleAfter time.Duration
	fee         decimal.Decimal

	mu       sync.Mutex
	payments map[string]*bankEntry
	logger   *zap.Logger
}

func NewMockBank(code string, settleAfter time.Duration, logger *zap.Logger) *MockBank {
	return &MockBank{
		code:        code,
		settleAfter: settleAfter,
		fee:         decimal.NewFromInt(5),
		payments:    make(map[string]*bankEntry),
		logger:      logger,
	}
}

func (b *MockBank) Code() string      { return b.code }
func (b *MockBank) Kind() AdapterKind { return KindPolling }

func (b *MockBank) Healthy(ctx context.Context) bool { return true }

func (b *MockBank) Submit(ctx context.Context, batch SubmitBatch) (SubmissionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := SubmissionResult{Acks: make([]ItemAck, 0, len(batch.Items))}
	for _, item := range batch.Items {
		ref := b.code + "-" + strings.ToUpper(uuid.NewString()[:8])
		ack := ItemAck{TransactionID: item.TransactionID, ProviderRef: ref, Fee: b.fee}

		switch {
		case item.Amount.GreaterThan(bankDailyLimit):
			ack.Status = EventRejected
			ack.Reason = "AMOUNT_LIMIT_EXCEEDED"
		case item.Amount.LessThan(bankInstantLimit):
			ack.Status = EventSettled
		default:
			ack.Status = EventAcknowledged
		}

		b.payments[ref] = &bankEntry{
			item:       item,
			status:     ack.Status,
			reason:     ack.Reason,
			acceptedAt: time.Now(),
		}
		res.Acks = append(res.Acks, ack)
	}

	b.logger.Info("mock bank accepted batch",
		zap.String("batch_number", batch.BatchNumber), zap.Int("items", len(batch.Items)))
	return res, nil
}

func (b *MockBank) QueryStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.payments[providerRef]
	if !ok {
		return StatusResult{ProviderRef: providerRef, Found: false}, nil
	}

	// Acknowledged payments settle once the clearing window has elapsed.
	if entry.status == EventAcknowledged && time.Since(entry.acceptedAt) >= b.settleAfter {
		entry.status = EventSettled
	}

	return StatusResult{
		ProviderRef: providerRef,
		Found:       true,
		Status:      entry.status,
		Reason:      entry.reason,
		SettledAt:   entry.acceptedAt.Add(b.settleAfter),
	}, nil
}

func (b *MockBank) Cancel(ctx context.Context, providerRef string) (CancelResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.payments[providerRef]
	if !ok {
		return CancelResult{Cancelled: false, Reason: "PAYMENT_NOT_FOUND"}, nil
	}
	if entry.status == EventSettled {
		return CancelResult{Cancelled: false, Reason: "ALREADY_SETTLED"}, nil
	}
	entry.status = EventRejected
	entry.reason = "CANCELLED"
	entry.cancelled = true
	return CancelResult{Cancelled: true}, nil
}
