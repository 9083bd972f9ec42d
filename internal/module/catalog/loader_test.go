package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/shared/metrics"
)

type fakeSource struct {
	mu    sync.Mutex
	data  []byte
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Fetch(ctx context.Context) ([]byte, error) {
	s.calls.Add(1)
	s.mu.Lock()
	data, err, delay := s.data, s.err, s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return data, err
}

func (s *fakeSource) set(data string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = []byte(data)
	s.err = err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	docV1 = `{"plans": {"starter": {"grants": {"exports.pdf": true}}}}`
	docV2 = `{"plans": {"starter": {"grants": {"exports.pdf": true}}, "pro": {"grants": {"collab.tasks": true}}}}`
)

func newTestLoader(src *fakeSource, cfg LoaderConfig) (*Loader, *clock, *metrics.Metrics) {
	m := metrics.New("test", prometheus.NewRegistry())
	l := NewLoader(src, cfg, m, zap.NewNop())
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l.now = clk.Now
	return l, clk, m
}

func TestLoader_CachesWithinWindow(t *testing.T) {
	src := &fakeSource{}
	src.set(docV1, nil)
	l, clk, _ := newTestLoader(src, LoaderConfig{TTL: time.Minute})

	first, err := l.Load(context.Background())
	require.NoError(t, err)

	src.set(docV2, nil)
	clk.Advance(30 * time.Second)
	second, err := l.Load(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestLoader_RefetchesAfterWindow(t *testing.T) {
	src := &fakeSource{}
	src.set(docV1, nil)
	l, clk, m := newTestLoader(src, LoaderConfig{TTL: time.Minute})

	_, err := l.Load(context.Background())
	require.NoError(t, err)

	src.set(docV2, nil)
	clk.Advance(61 * time.Second)
	c, err := l.Load(context.Background())
	require.NoError(t, err)

	_, ok := c.Plan("pro")
	assert.True(t, ok)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CatalogLoadsTotal.WithLabelValues("fake", "success")))
}

func TestLoader_ServesStaleOnFailure(t *testing.T) {
	src := &fakeSource{}
	src.set(docV1, nil)
	l, clk, m := newTestLoader(src, LoaderConfig{TTL: time.Minute, RetryBackoff: 10 * time.Second})

	first, err := l.Load(context.Background())
	require.NoError(t, err)

	src.set("", errors.New("connection refused"))
	clk.Advance(2 * time.Minute)
	stale, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, stale)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CatalogLoadsTotal.WithLabelValues("fake", "stale")))

	// Within the retry backoff the source is not hit again.
	clk.Advance(5 * time.Second)
	_, err = l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())

	// After the backoff a recovered source replaces the stale catalog.
	src.set(docV2, nil)
	clk.Advance(10 * time.Second)
	fresh, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestLoader_MalformedRefreshKeepsPrevious(t *testing.T) {
	src := &fakeSource{}
	src.set(docV1, nil)
	l, clk, _ := newTestLoader(src, LoaderConfig{TTL: time.Minute})

	first, err := l.Load(context.Background())
	require.NoError(t, err)

	src.set(`{"plans": {"starter": {"grants": {"exports.pdf": "maybe"}}}}`, nil)
	clk.Advance(2 * time.Minute)
	c, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, c)
}

func TestLoader_ErrorWithoutPriorCatalog(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		src := &fakeSource{}
		src.set("", errors.New("dial tcp: timeout"))
		l, _, m := newTestLoader(src, LoaderConfig{})

		c, err := l.Load(context.Background())
		assert.Nil(t, c)
		assert.ErrorIs(t, err, ErrCatalogUnavailable)
		assert.Nil(t, l.Current())
		assert.Equal(t, float64(1), testutil.ToFloat64(m.CatalogLoadsTotal.WithLabelValues("fake", "error")))
	})

	t.Run("malformed", func(t *testing.T) {
		src := &fakeSource{}
		src.set(`{"plans": {}}`, nil)
		l, _, _ := newTestLoader(src, LoaderConfig{})

		_, err := l.Load(context.Background())
		assert.ErrorIs(t, err, ErrCatalogUnavailable)
		assert.ErrorIs(t, err, ErrMalformedCatalog)
	})
}

func TestLoader_FetchTimeout(t *testing.T) {
	src := &fakeSource{delay: time.Second}
	src.set(docV1, nil)
	l, _, _ := newTestLoader(src, LoaderConfig{FetchTimeout: 20 * time.Millisecond})

	_, err := l.Load(context.Background())
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoader_CallerDeadline(t *testing.T) {
	src := &fakeSource{delay: 200 * time.Millisecond}
	src.set(docV1, nil)
	l, _, _ := newTestLoader(src, LoaderConfig{FetchTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := l.Load(ctx)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)

	// The detached fetch still completes and populates the cache.
	require.Eventually(t, func() bool { return l.Current() != nil }, time.Second, 10*time.Millisecond)
}

func TestLoader_CoalescesConcurrentRefreshes(t *testing.T) {
	src := &fakeSource{delay: 50 * time.Millisecond}
	src.set(docV1, nil)
	l, _, _ := newTestLoader(src, LoaderConfig{})

	var wg sync.WaitGroup
	results := make([]*Catalog, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := l.Load(context.Background())
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, c := range results {
		assert.Same(t, results[0], c)
	}
}

func TestLoader_Invalidate(t *testing.T) {
	src := &fakeSource{}
	src.set(docV1, nil)
	l, _, _ := newTestLoader(src, LoaderConfig{TTL: time.Hour})

	_, err := l.Load(context.Background())
	require.NoError(t, err)

	src.set(docV2, nil)
	l.Invalidate()
	c, err := l.Load(context.Background())
	require.NoError(t, err)

	_, ok := c.Plan("pro")
	assert.True(t, ok)
	assert.Same(t, c, l.Current())
	assert.Equal(t, int32(2), src.calls.Load())
}
