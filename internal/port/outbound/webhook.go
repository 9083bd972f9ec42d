package outbound

import "context"

// WebhookEventStorePort records processed billing events for idempotency.
type WebhookEventStorePort interface {
	// Record marks an event as processed. It returns false when the event was already recorded.
	Record(ctx context.Context, provider, eventID, eventType string) (bool, error)

	// Forget removes a record so a failed event can be redelivered.
	Forget(ctx context.Context, provider, eventID string) error
}
