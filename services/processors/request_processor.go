package processors

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"fmt"

	// Local Packages
	errors "disburse-engine/errors"
	models "disburse-engine/models"

	// External Packages
	"go.uber.org/zap"
)

// Intake accepts validated disbursement requests.
type Intake interface {
	Accept(ctx context.Context, req models.DisbursementRequest) (models.Transaction, error)
}

// DeadLetter stores records that can never be processed.
type DeadLetter interface {
	Send(ctx context.Context, records []models.Record) error
}

// RequestProcessor feeds consumed disbursement-request records into
// intake. Duplicates are the success path; poison records go to the DLQ
// so the poll loop never wedges on one bad message.
type RequestProcessor struct {
	Logger *zap.Logger
	Intake Intake
	DLQ    DeadLetter
}

func NewRequestProcessor(logger *zap.Logger, intake Intake, dlq DeadLetter) *RequestProcessor {
	return &RequestProcessor{Logger: logger, Intake: intake, DLQ: dlq}
}

func (p *RequestProcessor) ProcessRecords(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	var poison []models.Record
	for _, record := range records {
		var req models.DisbursementRequest
		if err := json.Unmarshal(record.Value, &req); err != nil {
			p.Logger.Error("failed to unmarshal disbursement request", zap.Error(err))
			poison = append(poison, record)
			continue
		}

		_, err := p.Intake.Accept(ctx, req)
		switch {
		case err == nil:
		case errors.Is(err, errors.Conflict):
			// Already reserved; nothing more to do.
		case errors.Is(err, errors.Invalid):
			p.Logger.Warn("rejected invalid disbursement request",
				zap.String("beneficiary_id", req.BeneficiaryID), zap.Error(err))
			poison = append(poison, record)
		default:
			// Transient (e.g. ledger unavailable): fail the whole poll so
			// the offsets are not committed and the batch is redelivered.
			return fmt.Errorf("failed to accept disbursement request: %v", err)
		}
	}

	if len(poison) > 0 {
		if err := p.DLQ.Send(ctx, poison); err != nil {
			p.Logger.Error("failed to dead-letter records", zap.Error(err))
		}
	}
	return nil
}
