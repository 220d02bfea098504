package redis

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"fmt"

	// Local Packages
	models "disburse-engine/models"

	// External Packages
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DeadLetterQueue stores poison disbursement-request records so no
// inbound instruction is silently dropped.
type DeadLetterQueue struct {
	client   *redis.Client
	logger   *zap.Logger
	listName string
}

func NewDeadLetterQueue(client *redis.Client, logger *zap.Logger) *DeadLetterQueue {
	return &DeadLetterQueue{client: client, logger: logger, listName: "failed-disbursement-requests"}
}

// Send stores all failed records into Redis with the key as "req:{key}"
func (r *DeadLetterQueue) Send(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	successCount := 0
	for _, record := range records {
		jsonData, err := json.Marshal(record)
		if err != nil {
			r.logger.Error("failed to marshal record", zap.Error(err))
			continue
		}

		key := fmt.Sprintf("req:%s", record.Key)
		err = r.client.Set(ctx, key, jsonData, 0).Err()
		if err != nil {
			r.logger.Error("failed to store record", zap.String("key", key), zap.Error(err))
			continue
		}
		successCount++
	}

	if successCount > 0 {
		r.logger.Info("dead-lettered poison records", zap.Int("count", successCount))
	}

	return nil
}

// Quarantine keeps malformed settlement report rows for manual review.
// Rows are appended verbatim; they are never parsed again automatically.
type Quarantine struct {
	client   *redis.Client
	logger   *zap.Logger
	listName string
}

func NewQuarantine(client *redis.Client, logger *zap.Logger) *Quarantine {
	return &Quarantine{client: client, logger: logger, listName: "settlement-quarantine"}
}

// Add appends one malformed row with the provider and parse error attached.
func (q *Quarantine) Add(ctx context.Context, providerID, rawLine, reason string) error {
	entry, err := json.Marshal(map[string]string{
		"provider_id": providerID,
		"raw":         rawLine,
		"reason":      reason,
	})
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.listName, entry).Err(); err != nil {
		q.logger.Error("failed to quarantine settlement row",
			zap.String("provider", providerID), zap.Error(err))
		return err
	}
	return nil
}

// Size reports the number of quarantined rows.
func (q *Quarantine) Size(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.listName).Result()
}
