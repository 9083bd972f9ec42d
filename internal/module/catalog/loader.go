package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/metrics"
)

// LoaderConfig holds catalog cache configuration.
type LoaderConfig struct {
	// TTL is the freshness window of a successfully fetched catalog.
	TTL time.Duration
	// FetchTimeout bounds one fetch from the source.
	FetchTimeout time.Duration
	// RetryBackoff is how long a stale catalog is served after a failed refresh
	// before the source is tried again.
	RetryBackoff time.Duration
}

// DefaultLoaderConfig returns default loader configuration.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		TTL:          5 * time.Minute,
		FetchTimeout: 5 * time.Second,
		RetryBackoff: 30 * time.Second,
	}
}

type snapshot struct {
	catalog     *Catalog
	fetchedAt   time.Time
	nextRefresh time.Time
}

// Loader owns the process-wide catalog cache. The cached catalog is replaced
// by swapping in a new snapshot, never mutated.
type Loader struct {
	source  outbound.CatalogSourcePort
	config  LoaderConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	group       singleflight.Group
	current     atomic.Pointer[snapshot]
	invalidated atomic.Bool

	now func() time.Time
}

// NewLoader creates a new catalog loader.
func NewLoader(source outbound.CatalogSourcePort, config LoaderConfig, m *metrics.Metrics, logger *zap.Logger) *Loader {
	defaults := DefaultLoaderConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	if config.RetryBackoff < 0 {
		config.RetryBackoff = 0
	}
	return &Loader{
		source:  source,
		config:  config,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Load returns the current catalog. Within the freshness window the cached
// catalog is returned without touching the source. Afterwards one caller
// refetches while concurrent callers wait for the same result. When the refetch
// fails the previous catalog keeps being served; only when no catalog was ever
// loaded does Load return an error wrapping ErrCatalogUnavailable.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	snap := l.current.Load()
	if snap != nil && !l.invalidated.Load() && l.now().Before(snap.nextRefresh) {
		return snap.catalog, nil
	}

	ch := l.group.DoChan("catalog", func() (any, error) {
		return l.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Catalog), nil
	case <-ctx.Done():
		if snap != nil {
			return snap.catalog, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, ctx.Err())
	}
}

// Current returns the cached catalog without fetching, or nil before the first load.
func (l *Loader) Current() *Catalog {
	if snap := l.current.Load(); snap != nil {
		return snap.catalog
	}
	return nil
}

// FetchedAt returns when the cached catalog was fetched.
func (l *Loader) FetchedAt() time.Time {
	if snap := l.current.Load(); snap != nil {
		return snap.fetchedAt
	}
	return time.Time{}
}

// Invalidate makes the next Load refetch regardless of the freshness window.
func (l *Loader) Invalidate() {
	l.invalidated.Store(true)
}

func (l *Loader) refresh(ctx context.Context) (*Catalog, error) {
	// Cleared before fetching so an Invalidate racing with this fetch triggers another.
	l.invalidated.Store(false)

	ctx, cancel := context.WithTimeout(ctx, l.config.FetchTimeout)
	defer cancel()

	cat, err := l.fetch(ctx)
	now := l.now()
	prev := l.current.Load()

	if err != nil {
		if prev != nil {
			l.current.Store(&snapshot{
				catalog:     prev.catalog,
				fetchedAt:   prev.fetchedAt,
				nextRefresh: now.Add(l.config.RetryBackoff),
			})
			l.metrics.RecordCatalogLoad(l.source.Name(), "stale")
			l.logger.Warn("catalog refresh failed, serving stale catalog",
				zap.String("source", l.source.Name()),
				zap.Time("fetched_at", prev.fetchedAt),
				zap.Error(err),
			)
			return prev.catalog, nil
		}
		l.metrics.RecordCatalogLoad(l.source.Name(), "error")
		l.logger.Error("catalog load failed",
			zap.String("source", l.source.Name()),
			zap.Error(err),
		)
		return nil, err
	}

	l.current.Store(&snapshot{catalog: cat, fetchedAt: now, nextRefresh: now.Add(l.config.TTL)})
	l.metrics.RecordCatalogLoad(l.source.Name(), "success")
	if prev == nil || prev.catalog.Digest() != cat.Digest() {
		l.logger.Info("catalog loaded",
			zap.String("source", l.source.Name()),
			zap.String("digest", cat.Digest()),
			zap.Stringer("catalog", cat),
		)
	}
	return cat, nil
}

func (l *Loader) fetch(ctx context.Context) (*Catalog, error) {
	data, err := l.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch from %s: %w", ErrCatalogUnavailable, l.source.Name(), err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog from %s: %w", l.source.Name(), err)
	}
	return cat, nil
}
