package counter

import (
	"context"
	"strconv"

	"github.com/aviary-app/entitlement-service/internal/pkg/cache"
)

const (
	webhookEventsKey = "billing:counters:webhook_events"
	validationsKey   = "billing:counters:validations"
)

// AddWebhookEvent increments the delivery counter for a relay event type.
// Counters are operational signals only; callers ignore failures.
func AddWebhookEvent(eventType string) error {
	if eventType == "" {
		eventType = "unknown"
	}
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookEventsKey, eventType, 1).Err()
}

// AddValidation increments the store receipt validation counter, split by
// platform and outcome.
func AddValidation(platform string, valid bool) error {
	ctx := context.Background()
	field := platform + ":" + strconv.FormatBool(valid)
	return cache.GetClient().HIncrBy(ctx, validationsKey, field, 1).Err()
}

// WebhookEventCounts returns the per-type webhook delivery counters.
func WebhookEventCounts() (map[string]int64, error) {
	return readCounters(webhookEventsKey)
}

// ValidationCounts returns the per-platform validation counters.
func ValidationCounts() (map[string]int64, error) {
	return readCounters(validationsKey)
}

func readCounters(key string) (map[string]int64, error) {
	ctx := context.Background()
	raw, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}
