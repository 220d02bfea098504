package redis

import (
	// Go Internal Packages
	"context"
	"strconv"
	"time"

	// Local Packages
	errors "disburse-engine/errors"

	// External Packages
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RetryQueue is the durable work queue behind the retry scheduler: a
// sorted set of transaction ids scored by their next attempt time.
// Entries survive restarts; a claim removes the entry so exactly one
// worker drives a given wake-up.
type RetryQueue struct {
	client *redis.Client
	logger *zap.Logger
	key    string
}

func NewRetryQueue(client *redis.Client, logger *zap.Logger) *RetryQueue {
	return &RetryQueue{client: client, logger: logger, key: "retry-queue"}
}

// Schedule enqueues (or reschedules) a transaction for the given time.
func (q *RetryQueue) Schedule(ctx context.Context, transactionID string, at time.Time) error {
	err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(at.Unix()),
		Member: transactionID,
	}).Err()
	if err != nil {
		return errors.E(errors.Unavailable, "retry schedule failed", err)
	}
	return nil
}

// Due returns up to limit transaction ids whose wake-up time has passed.
func (q *RetryQueue) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, errors.E(errors.Unavailable, "retry poll failed", err)
	}
	return ids, nil
}

// Claim removes the entry; the caller owns the wake-up only when true is
// returned, so concurrent workers never double-drive one transaction.
func (q *RetryQueue) Claim(ctx context.Context, transactionID string) (bool, error) {
	removed, err := q.client.ZRem(ctx, q.key, transactionID).Result()
	if err != nil {
		return false, errors.E(errors.Unavailable, "retry claim failed", err)
	}
	return removed == 1, nil
}

// Remove drops a transaction from the queue, e.g. after a terminal state.
func (q *RetryQueue) Remove(ctx context.Context, transactionID string) error {
	if err := q.client.ZRem(ctx, q.key, transactionID).Err(); err != nil {
		return errors.E(errors.Unavailable, "retry remove failed", err)
	}
	return nil
}
