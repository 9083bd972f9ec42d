package subscription

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/metrics"
)

// Observer is called after a subscription changed. Observers run on the
// mutating goroutine in registration order and must return quickly.
type Observer func(sub *model.WorkspaceSubscription)

type observer struct {
	id uint64
	fn Observer
}

// Config holds subscription lifecycle configuration.
type Config struct {
	FallbackPlan string
	GracePeriod  time.Duration
}

// Change describes a plan purchase.
type Change struct {
	PlanID               string
	Addons               []string
	Trial                bool
	StripeCustomerID     string
	StripeSubscriptionID string
}

// Service owns workspace subscriptions. Subscriptions are only mutated by
// billing events; every successful mutation is published to observers.
type Service struct {
	store   outbound.SubscriptionStorePort
	config  Config
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu        sync.RWMutex
	observers []observer
	nextID    uint64

	now func() time.Time
}

// NewService creates a new subscription service.
func NewService(store outbound.SubscriptionStorePort, config Config, m *metrics.Metrics, logger *zap.Logger) *Service {
	if config.FallbackPlan == "" {
		config.FallbackPlan = "starter"
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = 14 * 24 * time.Hour
	}
	return &Service{
		store:     store,
		config:    config,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Observe registers fn for change notifications and returns a function that unregisters it.
func (s *Service) Observe(fn Observer) (unregister func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers = append(s.observers, observer{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.observers = slices.DeleteFunc(slices.Clone(s.observers), func(o observer) bool { return o.id == id })
			s.mu.Unlock()
		})
	}
}

// Get returns the subscription of orgID. An organization seen for the first
// time is provisioned on the fallback plan.
func (s *Service) Get(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error) {
	if orgID == "" {
		return nil, ErrInvalidOrgID
	}

	sub, err := s.store.Get(ctx, orgID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, outbound.ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	now := s.now().UTC()
	sub, err = s.store.CreateIfAbsent(ctx, &model.WorkspaceSubscription{
		OrgID:    orgID,
		PlanID:   s.config.FallbackPlan,
		Addons:   pq.StringArray{},
		Status:   model.SubscriptionStatusActive,
		AnchorAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("provision subscription: %w", err)
	}
	s.logger.Info("subscription provisioned", zap.String("org_id", orgID), zap.String("plan_id", sub.PlanID))
	return sub, nil
}

// GetByStripeID returns the subscription linked to a Stripe subscription id.
func (s *Service) GetByStripeID(ctx context.Context, stripeSubID string) (*model.WorkspaceSubscription, error) {
	sub, err := s.store.GetByStripeID(ctx, stripeSubID)
	if err != nil {
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return sub, nil
}

// Upgrade moves orgID to a purchased plan and addon set.
func (s *Service) Upgrade(ctx context.Context, orgID string, change Change) (*model.WorkspaceSubscription, error) {
	if change.PlanID == "" {
		return nil, ErrInvalidPlan
	}
	status := model.SubscriptionStatusActive
	if change.Trial {
		status = model.SubscriptionStatusTrialing
	}

	return s.mutate(ctx, orgID, status, func(sub *model.WorkspaceSubscription, now time.Time) {
		// A fresh purchase starts a fresh billing period.
		if sub.Status == model.SubscriptionStatusCanceled || sub.PlanID == s.config.FallbackPlan {
			sub.AnchorAt = now
		}
		sub.PlanID = change.PlanID
		sub.Addons = normalizeAddons(change.Addons)
		sub.GraceUntil = nil
		if change.StripeCustomerID != "" {
			sub.StripeCustomerID = &change.StripeCustomerID
		}
		if change.StripeSubscriptionID != "" {
			sub.StripeSubscriptionID = &change.StripeSubscriptionID
		}
	})
}

// MarkPastDue records a failed payment. Access continues until graceUntil;
// a nil graceUntil means now plus the configured grace period. Repeated
// failures never extend an existing deadline.
func (s *Service) MarkPastDue(ctx context.Context, orgID string, graceUntil *time.Time) (*model.WorkspaceSubscription, error) {
	return s.mutate(ctx, orgID, model.SubscriptionStatusPastDue, func(sub *model.WorkspaceSubscription, now time.Time) {
		deadline := now.Add(s.config.GracePeriod)
		if graceUntil != nil {
			deadline = graceUntil.UTC()
		}
		if sub.Status == model.SubscriptionStatusPastDue && sub.GraceUntil != nil && sub.GraceUntil.Before(deadline) {
			return
		}
		sub.GraceUntil = &deadline
	})
}

// Reactivate records a recovered payment.
func (s *Service) Reactivate(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error) {
	return s.mutate(ctx, orgID, model.SubscriptionStatusActive, func(sub *model.WorkspaceSubscription, _ time.Time) {
		sub.GraceUntil = nil
	})
}

// Cancel downgrades orgID to the fallback plan.
func (s *Service) Cancel(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error) {
	return s.mutate(ctx, orgID, model.SubscriptionStatusCanceled, func(sub *model.WorkspaceSubscription, _ time.Time) {
		sub.PlanID = s.config.FallbackPlan
		sub.Addons = pq.StringArray{}
		sub.GraceUntil = nil
	})
}

// ExpireGrace cancels every past_due subscription whose grace deadline has passed.
func (s *Service) ExpireGrace(ctx context.Context) (int, error) {
	expired, err := s.store.ListGraceExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list grace expired: %w", err)
	}

	canceled := 0
	var errs []error
	for _, sub := range expired {
		if _, err := s.Cancel(ctx, sub.OrgID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", sub.OrgID, err))
			continue
		}
		canceled++
	}
	return canceled, errors.Join(errs...)
}

func (s *Service) mutate(
	ctx context.Context,
	orgID string,
	to model.SubscriptionStatus,
	apply func(sub *model.WorkspaceSubscription, now time.Time),
) (*model.WorkspaceSubscription, error) {
	if orgID == "" {
		return nil, ErrInvalidOrgID
	}

	var from model.SubscriptionStatus
	change := func(sub *model.WorkspaceSubscription) error {
		from = sub.Status
		if !canTransition(from, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
		}
		apply(sub, s.now().UTC())
		sub.Status = to
		return nil
	}

	next, err := s.store.Mutate(ctx, orgID, change)
	if errors.Is(err, outbound.ErrSubscriptionNotFound) {
		if _, err = s.Get(ctx, orgID); err != nil {
			return nil, err
		}
		next, err = s.store.Mutate(ctx, orgID, change)
	}
	if errors.Is(err, ErrInvalidTransition) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	s.metrics.RecordSubscriptionTransition(string(to))
	s.logger.Info("subscription changed",
		zap.String("org_id", orgID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("plan_id", next.PlanID),
		zap.Strings("addons", next.Addons),
	)
	s.publish(next)
	return next, nil
}

func (s *Service) publish(sub *model.WorkspaceSubscription) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()

	for _, o := range observers {
		o.fn(sub.Clone())
	}
}

// transitions lists the statuses each status may move to.
var transitions = map[model.SubscriptionStatus][]model.SubscriptionStatus{
	model.SubscriptionStatusTrialing: {model.SubscriptionStatusTrialing, model.SubscriptionStatusActive, model.SubscriptionStatusPastDue, model.SubscriptionStatusCanceled},
	model.SubscriptionStatusActive:   {model.SubscriptionStatusActive, model.SubscriptionStatusPastDue, model.SubscriptionStatusCanceled},
	model.SubscriptionStatusPastDue:  {model.SubscriptionStatusPastDue, model.SubscriptionStatusActive, model.SubscriptionStatusCanceled},
	model.SubscriptionStatusCanceled: {model.SubscriptionStatusCanceled, model.SubscriptionStatusActive, model.SubscriptionStatusTrialing},
}

func canTransition(from, to model.SubscriptionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func normalizeAddons(addons []string) pq.StringArray {
	seen := make(map[string]struct{}, len(addons))
	out := pq.StringArray{}
	for _, a := range addons {
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
