package redis

import (
	// Go Internal Packages
	"context"
	"time"

	// Local Packages
	errors "disburse-engine/errors"

	// External Packages
	"github.com/redis/go-redis/v9"
)

// guardTTL bounds how long a dispatch guard is held. Long enough to cover
// any in-flight submission, short enough that an operator requeue after
// manual confirmation can dispatch again.
const guardTTL = 24 * time.Hour

// GuardRepo implements the first-writer-wins deduplication guard with
// SET NX. Errors are Unavailable so callers fail closed.
type GuardRepo struct {
	client *redis.Client
	prefix string
}

func NewGuardRepo(client *redis.Client) *GuardRepo {
	return &GuardRepo{client: client, prefix: "guard:"}
}

// Acquire returns true exactly once per key until released or expired.
func (g *GuardRepo) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, 1, guardTTL).Result()
	if err != nil {
		return false, errors.E(errors.Unavailable, "guard acquire failed", err)
	}
	return ok, nil
}

// Release frees a key, allowing a deliberate re-dispatch.
func (g *GuardRepo) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return errors.E(errors.Unavailable, "guard release failed", err)
	}
	return nil
}
