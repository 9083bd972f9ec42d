package usage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/module/catalog"
	"github.com/ganesh-swami/prvt-sub003/internal/module/entitlement"
	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/metrics"
)

const maxTokenLength = 255

// CatalogProvider returns the current pricing catalog.
type CatalogProvider interface {
	Load(ctx context.Context) (*catalog.Catalog, error)
}

// SubscriptionProvider returns an organization's subscription.
type SubscriptionProvider interface {
	Get(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error)
}

// Config holds usage counter configuration.
type Config struct {
	// TokenTTL is how long an action token suppresses duplicate increments.
	TokenTTL time.Duration
	// Retention is how long a counter is kept after its period ends.
	Retention time.Duration
	// FetchTimeout bounds the catalog and subscription fetches of each call.
	FetchTimeout time.Duration
}

// DefaultConfig returns default counter configuration.
func DefaultConfig() Config {
	return Config{
		TokenTTL:     24 * time.Hour,
		Retention:    90 * 24 * time.Hour,
		FetchTimeout: 3 * time.Second,
	}
}

// ConsumeResult is the outcome of Counter.Consume.
type ConsumeResult struct {
	Decision  entitlement.Decision `json:"decision"`
	Consumed  bool                 `json:"consumed"`
	Duplicate bool                 `json:"duplicate"`
	Count     int64                `json:"count"`
	Remaining *int64               `json:"remaining"`
}

// Counter tracks per-organization, per-feature, per-period consumption.
type Counter struct {
	catalogs  CatalogProvider
	subs      SubscriptionProvider
	store     outbound.UsageStorePort
	evaluator *entitlement.Evaluator
	config    Config
	metrics   *metrics.Metrics
	logger    *zap.Logger

	now func() time.Time
}

// NewCounter creates a new usage counter.
func NewCounter(
	catalogs CatalogProvider,
	subs SubscriptionProvider,
	store outbound.UsageStorePort,
	evaluator *entitlement.Evaluator,
	config Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Counter {
	defaults := DefaultConfig()
	if config.TokenTTL <= 0 {
		config.TokenTTL = defaults.TokenTTL
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	if evaluator == nil {
		evaluator = &entitlement.Evaluator{}
	}
	return &Counter{
		catalogs:  catalogs,
		subs:      subs,
		store:     store,
		evaluator: evaluator,
		config:    config,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Remaining returns the unused allowance of feature in the current period,
// floored at zero. It returns nil when the feature is unmetered.
func (c *Counter) Remaining(ctx context.Context, orgID, feature string) (*int64, error) {
	cat, sub, err := c.inputs(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return c.RemainingFor(ctx, orgID, sub, feature, c.evaluator.CanUse(cat, sub, feature))
}

// RemainingFor is Remaining for a decision the caller already evaluated.
func (c *Counter) RemainingFor(ctx context.Context, orgID string, sub *model.WorkspaceSubscription, feature string, d entitlement.Decision) (*int64, error) {
	if !d.Metered || d.Allowance == nil {
		return nil, nil
	}

	key := c.key(orgID, sub, feature)
	counter, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get usage counter: %w", err)
	}

	remaining := limit(*d.Allowance, counter)
	if counter != nil {
		remaining -= counter.UsedCount
	}
	return floor(remaining), nil
}

// Bump adds amount to the current period's counter and returns the new count.
// Retries carrying the same token within the token TTL are counted once;
// an empty token disables deduplication.
func (c *Counter) Bump(ctx context.Context, orgID, feature string, amount int64, token string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if len(token) > maxTokenLength {
		return 0, ErrInvalidToken
	}

	cat, sub, err := c.inputs(ctx, orgID)
	if err != nil {
		return 0, err
	}
	d := c.evaluator.CanUse(cat, sub, feature)

	res, err := c.increment(ctx, orgID, sub, feature, amount, token, d, false)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Consume atomically checks the allowance and records amount. Nothing is
// recorded when the feature is denied or when amount would exceed the
// remaining allowance; the returned decision then explains why.
func (c *Counter) Consume(ctx context.Context, orgID, feature string, amount int64, token string) (*ConsumeResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(token) > maxTokenLength {
		return nil, ErrInvalidToken
	}

	cat, sub, err := c.inputs(ctx, orgID)
	if err != nil {
		return nil, err
	}
	d := c.evaluator.CanUse(cat, sub, feature)
	if !d.Allowed {
		return &ConsumeResult{Decision: d}, nil
	}

	res, err := c.increment(ctx, orgID, sub, feature, amount, token, d, d.Metered)
	if err != nil {
		return nil, err
	}

	out := &ConsumeResult{
		Decision:  d,
		Consumed:  !res.Rejected && !res.Duplicate,
		Duplicate: res.Duplicate,
		Count:     res.Count,
	}
	if d.Metered {
		remaining := limitOf(*d.Allowance, res.Allowance) - res.Count
		out.Remaining = floor(remaining)
		if res.Rejected {
			zero := int64(0)
			out.Decision = entitlement.WithUsage(d, &zero)
		}
	}
	return out, nil
}

func (c *Counter) increment(
	ctx context.Context,
	orgID string,
	sub *model.WorkspaceSubscription,
	feature string,
	amount int64,
	token string,
	d entitlement.Decision,
	enforce bool,
) (*outbound.UsageIncrementResult, error) {
	key := c.key(orgID, sub, feature)
	inc := &outbound.UsageIncrement{
		Key:       key,
		Amount:    amount,
		Allowance: d.Allowance,
		Token:     token,
		TokenTTL:  c.config.TokenTTL,
		ExpireAt:  PeriodEnd(anchorOf(sub), key.PeriodStart).Add(c.config.Retention),
		Enforce:   enforce,
	}

	res, err := c.store.Increment(ctx, inc)
	if err != nil {
		c.metrics.RecordUsageIncrement("error")
		return nil, fmt.Errorf("increment usage counter: %w", err)
	}

	switch {
	case res.Duplicate:
		c.metrics.RecordUsageIncrement("duplicate")
		c.logger.Debug("duplicate usage token ignored",
			zap.String("org_id", key.OrgID),
			zap.String("feature", feature),
			zap.String("token", token),
		)
	case res.Rejected:
		c.metrics.RecordUsageIncrement("rejected")
	default:
		c.metrics.RecordUsageIncrement("counted")
	}
	return res, nil
}

func (c *Counter) inputs(ctx context.Context, orgID string) (*catalog.Catalog, *model.WorkspaceSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	cat, err := c.catalogs.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load catalog: %w", err)
	}
	sub, err := c.subs.Get(ctx, orgID)
	if err != nil {
		return nil, nil, fmt.Errorf("get subscription: %w", err)
	}
	return cat, sub, nil
}

func (c *Counter) key(orgID string, sub *model.WorkspaceSubscription, feature string) outbound.UsageKey {
	return outbound.UsageKey{
		OrgID:       orgID,
		Feature:     feature,
		PeriodStart: PeriodStart(anchorOf(sub), c.now()),
	}
}

func anchorOf(sub *model.WorkspaceSubscription) time.Time {
	if sub == nil {
		return time.Time{}
	}
	return sub.AnchorAt
}

// limit is the allowance in force: the snapshot stored on the counter, raised
// to the current grant when the organization has since upgraded.
func limit(current int64, counter *model.UsageCounter) int64 {
	if counter == nil {
		return current
	}
	return limitOf(current, counter.Allowance)
}

func limitOf(current int64, snapshot *int64) int64 {
	if snapshot != nil && *snapshot > current {
		return *snapshot
	}
	return current
}

func floor(n int64) *int64 {
	if n < 0 {
		n = 0
	}
	return &n
}
