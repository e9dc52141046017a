// Package claims mirrors the durable entitlement decision into a Redis hash
// used as the user's authorization claims. Other parts of the application
// read these claims for low-latency checks and must treat them as an
// eventually consistent cache of the durable record.
package claims

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aviary-app/entitlement-service/internal/pkg/cache"
)

const (
	FieldPlan               = "plan"
	FieldSubscriptionStatus = "subscription_status"
)

// RedisPropagator writes entitlement claims to the shared Redis instance.
type RedisPropagator struct {
	client *redis.Client
}

// NewRedisPropagator builds a propagator on the application cache client.
func NewRedisPropagator() *RedisPropagator {
	return &RedisPropagator{client: cache.GetClient()}
}

// NewRedisPropagatorWithClient is used by tests to supply their own client.
func NewRedisPropagatorWithClient(client *redis.Client) *RedisPropagator {
	return &RedisPropagator{client: client}
}

// PropagateClaims sets the plan and subscription status claims for a user.
// Callers treat failures as best-effort: the durable store already holds the
// authoritative state.
func (p *RedisPropagator) PropagateClaims(ctx context.Context, userID uint, plan, subscriptionStatus string) error {
	return p.client.HSet(ctx, Key(userID), map[string]interface{}{
		FieldPlan:               plan,
		FieldSubscriptionStatus: subscriptionStatus,
	}).Err()
}

// Lookup reads the cached claims for a user. A redis.Nil-backed miss returns
// empty strings and no error so callers can fall back to the durable record.
func (p *RedisPropagator) Lookup(ctx context.Context, userID uint) (plan, subscriptionStatus string, err error) {
	vals, err := p.client.HMGet(ctx, Key(userID), FieldPlan, FieldSubscriptionStatus).Result()
	if err != nil {
		return "", "", err
	}
	if s, ok := vals[0].(string); ok {
		plan = s
	}
	if s, ok := vals[1].(string); ok {
		subscriptionStatus = s
	}
	return plan, subscriptionStatus, nil
}

// Key returns the Redis key holding a user's claims hash.
func Key(userID uint) string {
	return fmt.Sprintf("claims:user:%d", userID)
}
