package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/module/catalog"
	"github.com/ganesh-swami/prvt-sub003/internal/module/entitlement"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/logger"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/metrics"
)

// ErrMissingOrg is logged when a check has no organization to evaluate.
var ErrMissingOrg = errors.New("missing organization id")

var errEvaluation = errors.New("evaluation failed without catalog")

// CatalogProvider returns the current pricing catalog.
type CatalogProvider interface {
	Load(ctx context.Context) (*catalog.Catalog, error)
}

// SubscriptionProvider returns an organization's subscription.
type SubscriptionProvider interface {
	Get(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error)
}

// UsageProvider reports the unused allowance of an evaluated decision.
type UsageProvider interface {
	RemainingFor(ctx context.Context, orgID string, sub *model.WorkspaceSubscription, feature string, d entitlement.Decision) (*int64, error)
}

// Checker evaluates feature access for an organization.
type Checker interface {
	Check(ctx context.Context, orgID, feature string) Result
}

// Config holds guard configuration.
type Config struct {
	// Timeout bounds each check, including catalog and subscription fetches.
	Timeout time.Duration
	// CacheSize is the number of subscriptions kept in memory. Zero disables caching.
	CacheSize int
	// CacheTTL bounds how long a cached subscription is trusted without a change event.
	CacheTTL time.Duration
}

// Result is the outcome of a guard check.
type Result struct {
	Allowed            bool                `json:"allowed"`
	UpgradeTo          []string            `json:"upgrade_to"`
	Reason             entitlement.Reason  `json:"reason,omitempty"`
	Warning            entitlement.Warning `json:"warning,omitempty"`
	Plan               string              `json:"plan,omitempty"`
	Metered            bool                `json:"metered"`
	Allowance          *int64              `json:"allowance"`
	AllowanceRemaining *int64              `json:"allowance_remaining"`
}

func resultOf(d entitlement.Decision, remaining *int64) Result {
	upgradeTo := d.UpgradeTo
	if upgradeTo == nil {
		upgradeTo = []string{}
	}
	return Result{
		Allowed:            d.Allowed,
		UpgradeTo:          upgradeTo,
		Reason:             d.Reason,
		Warning:            d.Warning,
		Plan:               d.Plan,
		Metered:            d.Metered,
		Allowance:          d.Allowance,
		AllowanceRemaining: remaining,
	}
}

func systemError() Result {
	return resultOf(entitlement.Deny(entitlement.ReasonSystemError), nil)
}

// Guard is the server-side gate. It never returns an error: every failure
// denies access with reason system-error.
type Guard struct {
	catalogs  CatalogProvider
	subs      SubscriptionProvider
	usage     UsageProvider
	evaluator *entitlement.Evaluator
	config    Config
	cache     *expirable.LRU[string, *model.WorkspaceSubscription]
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// epoch counts invalidations. A lookup that started before the latest
	// one is not cached.
	mu    sync.Mutex
	epoch uint64
}

// NewGuard creates a new guard. usage may be nil, in which case metered
// features report no remaining allowance.
func NewGuard(
	catalogs CatalogProvider,
	subs SubscriptionProvider,
	usage UsageProvider,
	evaluator *entitlement.Evaluator,
	config Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Guard {
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	if evaluator == nil {
		evaluator = &entitlement.Evaluator{}
	}
	g := &Guard{
		catalogs:  catalogs,
		subs:      subs,
		usage:     usage,
		evaluator: evaluator,
		config:    config,
		metrics:   m,
		logger:    logger,
	}
	if config.CacheSize > 0 {
		g.cache = expirable.NewLRU[string, *model.WorkspaceSubscription](config.CacheSize, nil, config.CacheTTL)
	}
	return g
}

// Check evaluates feature for orgID.
func (g *Guard) Check(ctx context.Context, orgID, feature string) (res Result) {
	start := time.Now()
	log := logger.FromContextOr(ctx, g.logger).With(zap.String("org_id", orgID), zap.String("feature", feature))

	defer func() {
		if r := recover(); r != nil {
			log.Error("gate check panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = systemError()
		}
		g.metrics.RecordGateDecision(res.Allowed, string(res.Reason), time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	res, err := g.check(ctx, orgID, feature)
	if err != nil {
		log.Error("gate check failed", zap.Error(err))
		return systemError()
	}

	switch res.Reason {
	case entitlement.ReasonFeatureUndefined:
		log.Warn("feature not defined in pricing catalog")
	case entitlement.ReasonAllowanceExceeded:
		log.Debug("allowance exhausted", zap.String("plan", res.Plan))
	}
	return res
}

func (g *Guard) check(ctx context.Context, orgID, feature string) (Result, error) {
	if orgID == "" {
		return Result{}, ErrMissingOrg
	}

	cat, err := g.catalogs.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load catalog: %w", err)
	}

	sub, err := g.subscription(ctx, orgID)
	if err != nil {
		return Result{}, err
	}

	d := g.evaluator.CanUse(cat, sub, feature)
	if d.Reason == entitlement.ReasonSystemError {
		return Result{}, errEvaluation
	}

	var remaining *int64
	if g.usage != nil && d.Allowed && d.Metered {
		remaining, err = g.usage.RemainingFor(ctx, orgID, sub, feature, d)
		if err != nil {
			return Result{}, fmt.Errorf("get remaining allowance: %w", err)
		}
	}
	return resultOf(entitlement.WithUsage(d, remaining), remaining), nil
}

func (g *Guard) subscription(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error) {
	if g.cache != nil {
		if sub, ok := g.cache.Get(orgID); ok {
			return sub, nil
		}
	}

	g.mu.Lock()
	epoch := g.epoch
	g.mu.Unlock()

	sub, err := g.subs.Get(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	if g.cache != nil {
		g.mu.Lock()
		if epoch == g.epoch {
			g.cache.Add(orgID, sub)
		}
		g.mu.Unlock()
	}
	return sub, nil
}

// SubscriptionChanged drops the cached subscription of sub's organization.
// It is registered as a subscription observer.
func (g *Guard) SubscriptionChanged(sub *model.WorkspaceSubscription) {
	if g.cache == nil || sub == nil {
		return
	}
	g.mu.Lock()
	g.epoch++
	g.cache.Remove(sub.OrgID)
	g.mu.Unlock()
}
