package httpsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
)

const maxCatalogSize = 4 << 20

// ErrUnexpectedStatus is returned for non-success HTTP answers.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Config holds HTTP catalog source configuration.
type Config struct {
	URL string
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before a trial request.
	OpenTimeout time.Duration
}

// CatalogSource fetches the pricing catalog from a URL behind a circuit
// breaker. Conditional requests reuse the last document when it is unchanged.
type CatalogSource struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *zap.Logger

	mu   sync.Mutex
	etag string
	data []byte
}

// NewCatalogSource creates a new HTTP catalog source. A nil client uses http.DefaultClient.
func NewCatalogSource(cfg Config, client *http.Client, logger *zap.Logger) *CatalogSource {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	s := &CatalogSource{url: cfg.URL, client: client, logger: logger}
	s.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "catalog-http",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("catalog source breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return s
}

// Name implements outbound.CatalogSourcePort.
func (s *CatalogSource) Name() string { return "http" }

// Fetch implements outbound.CatalogSourcePort.
func (s *CatalogSource) Fetch(ctx context.Context) ([]byte, error) {
	data, err := s.breaker.Execute(func() ([]byte, error) {
		return s.get(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	return data, nil
}

// State reports the breaker state.
func (s *CatalogSource) State() gobreaker.State {
	return s.breaker.State()
}

func (s *CatalogSource) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9")

	s.mu.Lock()
	etag, cached := s.etag, s.data
	s.mu.Unlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		return cached, nil
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxCatalogSize {
		return nil, fmt.Errorf("catalog document exceeds %d bytes", maxCatalogSize)
	}

	s.mu.Lock()
	s.etag = resp.Header.Get("ETag")
	s.data = data
	s.mu.Unlock()

	return data, nil
}

// Compile-time check
var _ outbound.CatalogSourcePort = (*CatalogSource)(nil)
