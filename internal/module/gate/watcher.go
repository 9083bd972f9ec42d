package gate

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/module/entitlement"
)

// State is what a watcher exposes to a rendering surface. While Loading is
// true the surface must render neither the allowed nor the denied variant.
type State struct {
	Feature            string              `json:"feature"`
	Loading            bool                `json:"loading"`
	Allowed            bool                `json:"allowed"`
	UpgradeTo          []string            `json:"upgrade_to"`
	AllowanceRemaining *int64              `json:"allowance_remaining"`
	Reason             entitlement.Reason  `json:"reason,omitempty"`
	Warning            entitlement.Warning `json:"warning,omitempty"`
}

// Listener receives every new watcher state.
type Listener func(State)

// Watcher keeps the decision of one organization and feature current. It
// re-evaluates when the feature is switched or the organization's
// subscription changes.
type Watcher struct {
	checker Checker
	orgID   string
	timeout time.Duration
	logger  *zap.Logger

	// pubMu orders state updates with their delivery to listeners.
	pubMu     sync.Mutex
	mu        sync.Mutex
	state     State
	gen       uint64
	seq       uint64
	published uint64
	listeners []listener
	nextID    uint64
}

type listener struct {
	id uint64
	fn Listener
}

// NewWatcher creates a watcher in the loading state. Call Refresh to evaluate.
func NewWatcher(checker Checker, orgID, feature string, timeout time.Duration, logger *zap.Logger) *Watcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Watcher{
		checker: checker,
		orgID:   orgID,
		timeout: timeout,
		logger:  logger,
		state:   State{Feature: feature, Loading: true, UpgradeTo: []string{}},
	}
}

// State returns the current state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.clone()
}

// OnChange registers fn for state changes and returns a function that unregisters it.
// Listeners run while the state is published and must not call back into the watcher.
func (w *Watcher) OnChange(fn Listener) (unregister func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners = append(w.listeners, listener{id: id, fn: fn})
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		w.listeners = slices.DeleteFunc(slices.Clone(w.listeners), func(l listener) bool { return l.id == id })
		w.mu.Unlock()
	}
}

// Refresh evaluates the current feature and publishes the result. A result
// overtaken by a feature switch, or by a later refresh that finished first,
// is discarded.
func (w *Watcher) Refresh(ctx context.Context) State {
	w.mu.Lock()
	gen := w.gen
	w.seq++
	seq := w.seq
	feature := w.state.Feature
	w.mu.Unlock()

	res := w.checker.Check(ctx, w.orgID, feature)

	next := State{
		Feature:            feature,
		Allowed:            res.Allowed,
		UpgradeTo:          res.UpgradeTo,
		AllowanceRemaining: res.AllowanceRemaining,
		Reason:             res.Reason,
		Warning:            res.Warning,
	}
	if next.UpgradeTo == nil {
		next.UpgradeTo = []string{}
	}

	w.pubMu.Lock()
	defer w.pubMu.Unlock()

	w.mu.Lock()
	if gen != w.gen || seq < w.published {
		current := w.state.clone()
		w.mu.Unlock()
		return current
	}
	w.published = seq
	w.state = next
	w.mu.Unlock()

	w.publish(next)
	return next.clone()
}

// SetFeature switches the watched feature. The state returns to loading
// until the new feature is evaluated.
func (w *Watcher) SetFeature(ctx context.Context, feature string) State {
	w.pubMu.Lock()
	w.mu.Lock()
	if feature == w.state.Feature {
		w.mu.Unlock()
		w.pubMu.Unlock()
		return w.Refresh(ctx)
	}
	w.gen++
	loading := State{Feature: feature, Loading: true, UpgradeTo: []string{}}
	w.state = loading
	w.mu.Unlock()
	w.publish(loading)
	w.pubMu.Unlock()

	return w.Refresh(ctx)
}

// SubscriptionChanged re-evaluates in the background when sub belongs to the
// watched organization. It is registered as a subscription observer.
func (w *Watcher) SubscriptionChanged(sub *model.WorkspaceSubscription) {
	if sub == nil || sub.OrgID != w.orgID {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		s := w.Refresh(ctx)
		w.logger.Debug("watcher refreshed after subscription change",
			zap.String("org_id", w.orgID),
			zap.String("feature", s.Feature),
			zap.Bool("allowed", s.Allowed),
		)
	}()
}

func (w *Watcher) publish(s State) {
	w.mu.Lock()
	listeners := w.listeners
	w.mu.Unlock()

	for _, l := range listeners {
		l.fn(s.clone())
	}
}

func (s State) clone() State {
	s.UpgradeTo = slices.Clone(s.UpgradeTo)
	if s.AllowanceRemaining != nil {
		v := *s.AllowanceRemaining
		s.AllowanceRemaining = &v
	}
	return s
}
