package gin

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/module/gate"
	"github.com/ganesh-swami/prvt-sub003/internal/module/subscription"
	"github.com/ganesh-swami/prvt-sub003/internal/port/inbound"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/logger"
)

// SubscriptionNotifier registers subscription change observers.
type SubscriptionNotifier interface {
	Observe(fn subscription.Observer) (unregister func())
}

// StreamConfig tunes the decision stream.
type StreamConfig struct {
	// Timeout bounds each evaluation.
	Timeout time.Duration
	// Heartbeat is the interval of keep-alive comments.
	Heartbeat time.Duration
}

// featureHandler implements inbound.FeatureHttpPort.
type featureHandler struct {
	checker  gate.Checker
	notifier SubscriptionNotifier
	config   StreamConfig
	logger   *zap.Logger
}

// NewFeatureHandler creates a new feature HTTP handler.
func NewFeatureHandler(checker gate.Checker, notifier SubscriptionNotifier, config StreamConfig, logger *zap.Logger) *featureHandler {
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = 25 * time.Second
	}
	return &featureHandler{
		checker:  checker,
		notifier: notifier,
		config:   config,
		logger:   logger,
	}
}

// RegisterRoutes registers feature routes.
func (h *featureHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/features/:feature", h.CheckFeature)
	r.GET("/features/:feature/stream", h.StreamFeature)
}

func (h *featureHandler) CheckFeature(c *gin.Context) {
	res := h.checker.Check(c.Request.Context(), orgIDFrom(c), featureFrom(c))
	c.JSON(http.StatusOK, res)
}

func (h *featureHandler) StreamFeature(c *gin.Context) {
	ctx := c.Request.Context()
	orgID := orgIDFrom(c)
	log := logger.FromContextOr(ctx, h.logger).With(
		zap.String("org_id", orgID),
		zap.String("feature", featureFrom(c)),
	)

	w := gate.NewWatcher(h.checker, orgID, featureFrom(c), h.config.Timeout, log)

	states := make(chan gate.State, 8)
	stopListening := w.OnChange(func(s gate.State) {
		select {
		case states <- s:
		default:
			// Slow reader: drop the oldest state and keep the newest.
			select {
			case <-states:
			default:
			}
			select {
			case states <- s:
			default:
			}
		}
	})
	defer stopListening()

	if h.notifier != nil {
		stopObserving := h.notifier.Observe(w.SubscriptionChanged)
		defer stopObserving()
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("state", w.State())
	c.Writer.Flush()

	go func() {
		refreshCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
		w.Refresh(refreshCtx)
	}()

	heartbeat := time.NewTicker(h.config.Heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(out io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case s := <-states:
			c.SSEvent("state", s)
			return true
		case <-heartbeat.C:
			_, _ = io.WriteString(out, ": ping\n\n")
			return true
		}
	})
	log.Debug("feature stream closed")
}

// Compile-time check
var _ inbound.FeatureHttpPort = (*featureHandler)(nil)
