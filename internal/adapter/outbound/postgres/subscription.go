package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
)

// subscriptionAdapter implements outbound.SubscriptionStorePort.
type subscriptionAdapter struct {
	db *gorm.DB
}

// NewSubscriptionAdapter creates a new subscription database adapter.
func NewSubscriptionAdapter(db *gorm.DB) outbound.SubscriptionStorePort {
	return &subscriptionAdapter{db: db}
}

func (a *subscriptionAdapter) Get(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error) {
	return a.first(ctx, "org_id = ?", orgID)
}

func (a *subscriptionAdapter) GetByStripeID(ctx context.Context, stripeSubID string) (*model.WorkspaceSubscription, error) {
	return a.first(ctx, "stripe_subscription_id = ?", stripeSubID)
}

func (a *subscriptionAdapter) CreateIfAbsent(ctx context.Context, sub *model.WorkspaceSubscription) (*model.WorkspaceSubscription, error) {
	err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(sub).Error
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return a.Get(ctx, sub.OrgID)
}

func (a *subscriptionAdapter) Mutate(
	ctx context.Context,
	orgID string,
	fn func(sub *model.WorkspaceSubscription) error,
) (*model.WorkspaceSubscription, error) {
	var sub model.WorkspaceSubscription
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&sub, "org_id = ?", orgID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return outbound.ErrSubscriptionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock subscription: %w", err)
		}

		if err := fn(&sub); err != nil {
			return err
		}
		sub.OrgID = orgID

		if err := tx.Save(&sub).Error; err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (a *subscriptionAdapter) ListGraceExpired(ctx context.Context, t time.Time) ([]*model.WorkspaceSubscription, error) {
	var subs []*model.WorkspaceSubscription
	err := a.db.WithContext(ctx).
		Where("status = ? AND grace_until IS NOT NULL AND grace_until < ?", model.SubscriptionStatusPastDue, t.UTC()).
		Order("grace_until").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list grace expired subscriptions: %w", err)
	}
	return subs, nil
}

func (a *subscriptionAdapter) first(ctx context.Context, query string, arg any) (*model.WorkspaceSubscription, error) {
	var sub model.WorkspaceSubscription
	err := a.db.WithContext(ctx).First(&sub, query, arg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, outbound.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

// Compile-time check
var _ outbound.SubscriptionStorePort = (*subscriptionAdapter)(nil)
