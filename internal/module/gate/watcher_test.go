package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/module/entitlement"
)

type recorder struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan State, 16)}
}

func (r *recorder) listen(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *recorder) next(t *testing.T) State {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no state published")
		return State{}
	}
}

func TestWatcher_LoadingUntilFirstEvaluation(t *testing.T) {
	f := newGuardFixture(t, Config{})
	w := NewWatcher(f.guard, "org-1", "reports.export", time.Second, zap.NewNop())

	initial := w.State()
	assert.True(t, initial.Loading)
	assert.False(t, initial.Allowed)
	assert.Empty(t, initial.UpgradeTo)

	s := w.Refresh(context.Background())
	assert.False(t, s.Loading)
	assert.False(t, s.Allowed)
	assert.Equal(t, entitlement.ReasonNotInPlan, s.Reason)
	assert.Equal(t, []string{"pro", "max"}, s.UpgradeTo)
	assert.Equal(t, s, w.State())
}

func TestWatcher_SetFeature(t *testing.T) {
	f := newGuardFixture(t, Config{})
	f.usage.remaining = 1
	w := NewWatcher(f.guard, "org-1", "reports.export", time.Second, zap.NewNop())
	rec := newRecorder()
	w.OnChange(rec.listen)

	w.Refresh(context.Background())
	assert.False(t, rec.next(t).Allowed)

	s := w.SetFeature(context.Background(), "ai.analyst")
	loading := rec.next(t)
	assert.True(t, loading.Loading)
	assert.Equal(t, "ai.analyst", loading.Feature)

	evaluated := rec.next(t)
	assert.Equal(t, s, evaluated)
	assert.True(t, evaluated.Allowed)
	require.NotNil(t, evaluated.AllowanceRemaining)
	assert.Equal(t, int64(1), *evaluated.AllowanceRemaining)
}

func TestWatcher_SubscriptionChanged(t *testing.T) {
	f := newGuardFixture(t, Config{CacheSize: 8, CacheTTL: time.Minute})
	w := NewWatcher(f.guard, "org-1", "reports.export", time.Second, zap.NewNop())
	rec := newRecorder()
	unregister := w.OnChange(rec.listen)

	w.Refresh(context.Background())
	assert.False(t, rec.next(t).Allowed)

	// Another organization's change is ignored.
	w.SubscriptionChanged(&model.WorkspaceSubscription{OrgID: "org-2"})

	// Observers run in order: the guard drops its cache before the watcher re-evaluates.
	sub := f.subs.set("org-1", "pro")
	f.guard.SubscriptionChanged(sub)
	w.SubscriptionChanged(sub)

	s := rec.next(t)
	assert.True(t, s.Allowed)
	assert.Empty(t, s.Reason)
	assert.True(t, w.State().Allowed)

	unregister()
	w.Refresh(context.Background())
	select {
	case s := <-rec.ch:
		t.Fatalf("unexpected state after unregister: %+v", s)
	default:
	}
}

type scriptedChecker struct {
	mu    sync.Mutex
	calls int
	steps []func() Result
}

func (c *scriptedChecker) Check(context.Context, string, string) Result {
	c.mu.Lock()
	i := c.calls
	c.calls++
	c.mu.Unlock()
	return c.steps[i]()
}

func TestWatcher_LaterRefreshWins(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	checker := &scriptedChecker{steps: []func() Result{
		func() Result {
			close(started)
			<-release
			return Result{Reason: entitlement.ReasonNotInPlan, UpgradeTo: []string{"pro"}}
		},
		func() Result {
			return Result{Allowed: true, UpgradeTo: []string{}}
		},
	}}
	w := NewWatcher(checker, "org-1", "reports.export", time.Second, zap.NewNop())
	rec := newRecorder()
	w.OnChange(rec.listen)

	done := make(chan State, 1)
	go func() { done <- w.Refresh(context.Background()) }()
	<-started

	w.SubscriptionChanged(&model.WorkspaceSubscription{OrgID: "org-1"})
	assert.True(t, rec.next(t).Allowed)

	// The refresh that started before the change finishes last and is dropped.
	close(release)
	assert.True(t, (<-done).Allowed)
	assert.True(t, w.State().Allowed)
	select {
	case s := <-rec.ch:
		t.Fatalf("stale state published: %+v", s)
	default:
	}
}

func TestWatcher_SystemErrorIsNotLoading(t *testing.T) {
	f := newGuardFixture(t, Config{})
	f.cats.err = assert.AnError
	w := NewWatcher(f.guard, "org-1", "reports.export", time.Second, zap.NewNop())

	s := w.Refresh(context.Background())
	assert.False(t, s.Loading)
	assert.False(t, s.Allowed)
	assert.Equal(t, entitlement.ReasonSystemError, s.Reason)
}
