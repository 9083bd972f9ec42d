package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionStorePort defines workspace subscription persistence.
type SubscriptionStorePort interface {
	// Get returns the subscription of orgID or ErrSubscriptionNotFound.
	Get(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error)

	// GetByStripeID returns the subscription linked to a Stripe subscription.
	GetByStripeID(ctx context.Context, stripeSubID string) (*model.WorkspaceSubscription, error)

	// CreateIfAbsent inserts sub unless a row for its org exists, then returns the stored row.
	CreateIfAbsent(ctx context.Context, sub *model.WorkspaceSubscription) (*model.WorkspaceSubscription, error)

	// Mutate locks the subscription of orgID, applies fn and persists the
	// result atomically. An error from fn aborts the change and is returned
	// as is. A missing row yields ErrSubscriptionNotFound.
	Mutate(ctx context.Context, orgID string, fn func(sub *model.WorkspaceSubscription) error) (*model.WorkspaceSubscription, error)

	// ListGraceExpired lists past_due subscriptions whose grace deadline is before t.
	ListGraceExpired(ctx context.Context, t time.Time) ([]*model.WorkspaceSubscription, error)
}
