package outbound

import (
	"context"
	"time"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
)

// UsageKey identifies one usage counter.
type UsageKey struct {
	OrgID       string
	Feature     string
	PeriodStart time.Time
}

// UsageIncrement describes one atomic counter increment.
type UsageIncrement struct {
	Key    UsageKey
	Amount int64

	// Allowance is stored on the counter when it is created. A larger value
	// replaces it; a smaller one is ignored until the next period.
	Allowance *int64

	// Token deduplicates retries of one client action. Empty disables deduplication.
	Token    string
	TokenTTL time.Duration

	// ExpireAt bounds how long the store must keep the counter.
	ExpireAt time.Time

	// Enforce refuses increments that would push the count past the stored allowance.
	Enforce bool
}

// UsageIncrementResult is the counter state after an increment.
type UsageIncrementResult struct {
	Count     int64
	Allowance *int64
	Duplicate bool
	Rejected  bool
}

// UsageStorePort defines usage counter persistence with atomic increments.
type UsageStorePort interface {
	// Increment applies inc atomically.
	Increment(ctx context.Context, inc *UsageIncrement) (*UsageIncrementResult, error)

	// Get returns the counter for key, or nil when it does not exist yet.
	Get(ctx context.Context, key UsageKey) (*model.UsageCounter, error)
}
