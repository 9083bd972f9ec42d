package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/metrics"
)

// --- Test doubles ---

type memStore struct {
	mu   sync.Mutex
	subs map[string]*model.WorkspaceSubscription
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[string]*model.WorkspaceSubscription)}
}

func (s *memStore) Get(_ context.Context, orgID string) (*model.WorkspaceSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[orgID]
	if !ok {
		return nil, outbound.ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

func (s *memStore) GetByStripeID(_ context.Context, stripeSubID string) (*model.WorkspaceSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID == stripeSubID {
			return sub.Clone(), nil
		}
	}
	return nil, outbound.ErrSubscriptionNotFound
}

func (s *memStore) CreateIfAbsent(_ context.Context, sub *model.WorkspaceSubscription) (*model.WorkspaceSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.subs[sub.OrgID]; ok {
		return existing.Clone(), nil
	}
	s.subs[sub.OrgID] = sub.Clone()
	return sub.Clone(), nil
}

func (s *memStore) Mutate(_ context.Context, orgID string, fn func(*model.WorkspaceSubscription) error) (*model.WorkspaceSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.subs[orgID]
	if !ok {
		return nil, outbound.ErrSubscriptionNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.subs[orgID] = next.Clone()
	return next, nil
}

func (s *memStore) ListGraceExpired(_ context.Context, t time.Time) ([]*model.WorkspaceSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WorkspaceSubscription
	for _, sub := range s.subs {
		if sub.Status == model.SubscriptionStatusPastDue && sub.GraceUntil != nil && sub.GraceUntil.Before(t) {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkspaceSubscription), args.Error(1)
}

func (m *MockStore) GetByStripeID(ctx context.Context, stripeSubID string) (*model.WorkspaceSubscription, error) {
	args := m.Called(ctx, stripeSubID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkspaceSubscription), args.Error(1)
}

func (m *MockStore) CreateIfAbsent(ctx context.Context, sub *model.WorkspaceSubscription) (*model.WorkspaceSubscription, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkspaceSubscription), args.Error(1)
}

func (m *MockStore) Mutate(ctx context.Context, orgID string, fn func(*model.WorkspaceSubscription) error) (*model.WorkspaceSubscription, error) {
	args := m.Called(ctx, orgID, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkspaceSubscription), args.Error(1)
}

func (m *MockStore) ListGraceExpired(ctx context.Context, t time.Time) ([]*model.WorkspaceSubscription, error) {
	args := m.Called(ctx, t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WorkspaceSubscription), args.Error(1)
}

var baseTime = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store outbound.SubscriptionStorePort) (*Service, *metrics.Metrics, *time.Time) {
	t.Helper()
	m := metrics.New("test", prometheus.NewRegistry())
	svc := NewService(store, Config{GracePeriod: 7 * 24 * time.Hour}, m, zap.NewNop())
	now := baseTime
	svc.now = func() time.Time { return now }
	return svc, m, &now
}

// --- Tests ---

func TestService_GetProvisionsStarter(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(t, store)
	ctx := context.Background()

	sub, err := svc.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "starter", sub.PlanID)
	assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, baseTime, sub.AnchorAt)
	assert.Empty(t, sub.Addons)

	again, err := svc.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, sub.AnchorAt, again.AnchorAt)
	assert.Len(t, store.subs, 1)
}

func TestService_GetRejectsEmptyOrg(t *testing.T) {
	svc, _, _ := newTestService(t, new(MockStore))

	_, err := svc.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidOrgID)
}

func TestService_GetStoreFailure(t *testing.T) {
	store := new(MockStore)
	store.On("Get", mock.Anything, "org-1").Return(nil, errors.New("connection refused"))
	svc, _, _ := newTestService(t, store)

	_, err := svc.Get(context.Background(), "org-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	store.AssertNotCalled(t, "CreateIfAbsent", mock.Anything, mock.Anything)
}

func TestService_Upgrade(t *testing.T) {
	svc, m, now := newTestService(t, newMemStore())
	ctx := context.Background()

	_, err := svc.Get(ctx, "org-1")
	require.NoError(t, err)

	*now = baseTime.Add(48 * time.Hour)
	sub, err := svc.Upgrade(ctx, "org-1", Change{
		PlanID:               "pro",
		Addons:               []string{"collab", "", "collab", "ai-pack"},
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, []string{"ai-pack", "collab"}, []string(sub.Addons))
	assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, *now, sub.AnchorAt)
	require.NotNil(t, sub.StripeSubscriptionID)
	assert.Equal(t, "sub_1", *sub.StripeSubscriptionID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscriptionTransitionsTotal.WithLabelValues("active")))

	linked, err := svc.GetByStripeID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", linked.OrgID)

	// Changing between paid plans keeps the billing anchor.
	*now = baseTime.Add(96 * time.Hour)
	sub, err = svc.Upgrade(ctx, "org-1", Change{PlanID: "max"})
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(48*time.Hour), sub.AnchorAt)
	assert.Empty(t, sub.Addons)
	assert.Equal(t, "sub_1", *sub.StripeSubscriptionID)
}

func TestService_UpgradeTrialAndInvalidPlan(t *testing.T) {
	svc, _, _ := newTestService(t, newMemStore())
	ctx := context.Background()

	sub, err := svc.Upgrade(ctx, "org-1", Change{PlanID: "pro", Trial: true})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusTrialing, sub.Status)

	_, err = svc.Upgrade(ctx, "org-1", Change{})
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestService_PastDueLifecycle(t *testing.T) {
	svc, _, now := newTestService(t, newMemStore())
	ctx := context.Background()

	_, err := svc.Upgrade(ctx, "org-1", Change{PlanID: "pro", Addons: []string{"collab"}})
	require.NoError(t, err)

	sub, err := svc.MarkPastDue(ctx, "org-1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusPastDue, sub.Status)
	require.NotNil(t, sub.GraceUntil)
	firstDeadline := baseTime.Add(7 * 24 * time.Hour)
	assert.Equal(t, firstDeadline, *sub.GraceUntil)
	assert.Equal(t, "pro", sub.PlanID)

	// A second failure does not extend the deadline.
	*now = baseTime.Add(72 * time.Hour)
	sub, err = svc.MarkPastDue(ctx, "org-1", nil)
	require.NoError(t, err)
	assert.Equal(t, firstDeadline, *sub.GraceUntil)

	// An explicit earlier deadline wins.
	earlier := baseTime.Add(96 * time.Hour)
	sub, err = svc.MarkPastDue(ctx, "org-1", &earlier)
	require.NoError(t, err)
	assert.Equal(t, earlier, *sub.GraceUntil)

	sub, err = svc.Reactivate(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.GraceUntil)
	assert.Equal(t, []string{"collab"}, []string(sub.Addons))
}

func TestService_Cancel(t *testing.T) {
	svc, _, _ := newTestService(t, newMemStore())
	ctx := context.Background()

	_, err := svc.Upgrade(ctx, "org-1", Change{PlanID: "pro", Addons: []string{"collab"}})
	require.NoError(t, err)

	sub, err := svc.Cancel(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "starter", sub.PlanID)
	assert.Equal(t, model.SubscriptionStatusCanceled, sub.Status)
	assert.Empty(t, sub.Addons)

	_, err = svc.MarkPastDue(ctx, "org-1", nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	sub, err = svc.Upgrade(ctx, "org-1", Change{PlanID: "pro"})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
}

func TestService_ObserversReceiveChanges(t *testing.T) {
	svc, _, _ := newTestService(t, newMemStore())
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	unregister := svc.Observe(func(sub *model.WorkspaceSubscription) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, sub.OrgID+":"+sub.PlanID)
	})

	// Implicit provisioning is not a change.
	_, err := svc.Get(ctx, "org-1")
	require.NoError(t, err)

	_, err = svc.Upgrade(ctx, "org-1", Change{PlanID: "pro"})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, "org-1")
	require.NoError(t, err)

	unregister()
	unregister()

	_, err = svc.Upgrade(ctx, "org-1", Change{PlanID: "max"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"org-1:pro", "org-1:starter"}, seen)
}

func TestService_FailedUpdateIsNotPublished(t *testing.T) {
	store := new(MockStore)
	store.On("Mutate", mock.Anything, "org-1", mock.Anything).Return(nil, errors.New("deadlock"))
	svc, _, _ := newTestService(t, store)

	called := false
	svc.Observe(func(*model.WorkspaceSubscription) { called = true })

	_, err := svc.Upgrade(context.Background(), "org-1", Change{PlanID: "pro"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
	assert.False(t, called)
}

// slowReadStore widens the window between reading a subscription and
// writing it back.
type slowReadStore struct {
	*memStore
}

func (s slowReadStore) Get(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error) {
	sub, err := s.memStore.Get(ctx, orgID)
	time.Sleep(20 * time.Millisecond)
	return sub, err
}

func TestService_ConcurrentChangesAreNotLost(t *testing.T) {
	for i := 0; i < 5; i++ {
		store := slowReadStore{newMemStore()}
		svc, _, _ := newTestService(t, store)
		ctx := context.Background()

		_, err := svc.Get(ctx, "org-1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Upgrade(ctx, "org-1", Change{PlanID: "pro"})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := svc.MarkPastDue(ctx, "org-1", nil)
			assert.NoError(t, err)
		}()
		wg.Wait()

		sub, err := svc.Get(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, "pro", sub.PlanID)
		// Whichever change ran second decides the status; the upgrade clears grace.
		if sub.Status == model.SubscriptionStatusPastDue {
			assert.NotNil(t, sub.GraceUntil)
		} else {
			assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
			assert.Nil(t, sub.GraceUntil)
		}
	}
}

func TestService_ExpireGrace(t *testing.T) {
	store := newMemStore()
	svc, _, now := newTestService(t, store)
	ctx := context.Background()

	for _, org := range []string{"org-1", "org-2", "org-3"} {
		_, err := svc.Upgrade(ctx, org, Change{PlanID: "pro"})
		require.NoError(t, err)
	}
	early := baseTime.Add(time.Hour)
	late := baseTime.Add(30 * 24 * time.Hour)
	_, err := svc.MarkPastDue(ctx, "org-1", &early)
	require.NoError(t, err)
	_, err = svc.MarkPastDue(ctx, "org-2", &late)
	require.NoError(t, err)

	*now = baseTime.Add(2 * time.Hour)
	n, err := svc.ExpireGrace(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sub, err := svc.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, "starter", sub.PlanID)

	sub, err = svc.Get(ctx, "org-2")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusPastDue, sub.Status)

	sub, err = svc.Get(ctx, "org-3")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
}

func TestGraceEnforcer(t *testing.T) {
	store := newMemStore()
	svc, _, now := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.Upgrade(ctx, "org-1", Change{PlanID: "pro"})
	require.NoError(t, err)
	deadline := baseTime.Add(time.Minute)
	_, err = svc.MarkPastDue(ctx, "org-1", &deadline)
	require.NoError(t, err)
	*now = baseTime.Add(time.Hour)

	e, err := NewGraceEnforcer(svc, "@every 1h", zap.NewNop())
	require.NoError(t, err)
	e.Start()
	defer e.Stop(ctx)

	n, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = NewGraceEnforcer(svc, "not a schedule", zap.NewNop())
	assert.Error(t, err)
}
