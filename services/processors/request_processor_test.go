package processors

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	errors "disburse-engine/errors"
	models "disburse-engine/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedIntake struct {
	mu   sync.Mutex
	errs map[string]error // keyed by beneficiary id
	seen []string
}

func (i *scriptedIntake) Accept(ctx context.Context, req models.DisbursementRequest) (models.Transaction, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen = append(i.seen, req.BeneficiaryID)
	if err, ok := i.errs[req.BeneficiaryID]; ok {
		return models.Transaction{}, err
	}
	return models.Transaction{TransactionID: "tx-" + req.BeneficiaryID}, nil
}

type memDLQ struct {
	mu      sync.Mutex
	records []models.Record
}

func (d *memDLQ) Send(ctx context.Context, records []models.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, records...)
	return nil
}

func record(t *testing.T, beneficiary string) models.Record {
	t.Helper()
	payload, err := json.Marshal(models.DisbursementRequest{
		BeneficiaryID:  beneficiary,
		BenefitCycleID: "CYCLE-A",
		ProviderID:     "MOCKBANK",
		Amount:         decimal.RequireFromString("100"),
		Currency:       "PHP",
	})
	require.NoError(t, err)
	return models.Record{Key: []byte(beneficiary), Value: payload, Topic: "disbursement-requests"}
}

func TestProcessRecordsHappyPath(t *testing.T) {
	t.Parallel()

	intake := &scriptedIntake{}
	dlq := &memDLQ{}
	p := NewRequestProcessor(zap.NewNop(), intake, dlq)

	err := p.ProcessRecords(context.Background(), []models.Record{record(t, "BEN-1"), record(t, "BEN-2")})
	require.NoError(t, err)
	assert.Equal(t, []string{"BEN-1", "BEN-2"}, intake.seen)
	assert.Empty(t, dlq.records)
}

func TestProcessRecordsDeadLettersPoison(t *testing.T) {
	t.Parallel()

	intake := &scriptedIntake{errs: map[string]error{
		"BEN-BAD": errors.InvalidAmountErr("must be positive"),
	}}
	dlq := &memDLQ{}
	p := NewRequestProcessor(zap.NewNop(), intake, dlq)

	garbage := models.Record{Key: []byte("k"), Value: []byte("{not json")}
	err := p.ProcessRecords(context.Background(), []models.Record{garbage, record(t, "BEN-BAD"), record(t, "BEN-OK")})
	require.NoError(t, err)

	assert.Len(t, dlq.records, 2, "unparseable and invalid records are dead-lettered")
	assert.Contains(t, intake.seen, "BEN-OK")
}

func TestProcessRecordsDuplicateIsSuccess(t *testing.T) {
	t.Parallel()

	intake := &scriptedIntake{errs: map[string]error{
		"BEN-DUP": errors.DuplicateRequestErr("key", "tx-existing"),
	}}
	dlq := &memDLQ{}
	p := NewRequestProcessor(zap.NewNop(), intake, dlq)

	err := p.ProcessRecords(context.Background(), []models.Record{record(t, "BEN-DUP")})
	require.NoError(t, err)
	assert.Empty(t, dlq.records, "duplicates are not poison")
}

func TestProcessRecordsTransientErrorFailsPoll(t *testing.T) {
	t.Parallel()

	intake := &scriptedIntake{errs: map[string]error{
		"BEN-1": errors.LedgerUnavailableErr(nil),
	}}
	p := NewRequestProcessor(zap.NewNop(), intake, &memDLQ{})

	// The whole poll fails so offsets stay uncommitted and the broker
	// redelivers.
	err := p.ProcessRecords(context.Background(), []models.Record{record(t, "BEN-1")})
	require.Error(t, err)
}
