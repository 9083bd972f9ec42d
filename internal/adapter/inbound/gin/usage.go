package gin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ganesh-swami/prvt-sub003/internal/module/usage"
	"github.com/ganesh-swami/prvt-sub003/internal/port/inbound"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/middleware"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/response"
)

// UsageCounter is the subset of usage.Counter used by the handlers.
type UsageCounter interface {
	Remaining(ctx context.Context, orgID, feature string) (*int64, error)
	Bump(ctx context.Context, orgID, feature string, amount int64, token string) (int64, error)
	Consume(ctx context.Context, orgID, feature string, amount int64, token string) (*usage.ConsumeResult, error)
}

// UsageRequest is the body of bump and consume requests.
type UsageRequest struct {
	Amount int64  `json:"amount" binding:"required,min=1"`
	Token  string `json:"token" binding:"max=255"`
}

// RemainingResponse reports the unused allowance; null means unmetered.
type RemainingResponse struct {
	Feature   string `json:"feature"`
	Remaining *int64 `json:"remaining"`
}

// BumpResponse reports the counter value after a bump.
type BumpResponse struct {
	Feature string `json:"feature"`
	Count   int64  `json:"count"`
}

// usageHandler implements inbound.UsageHttpPort.
type usageHandler struct {
	counter     UsageCounter
	consumeGate gin.HandlerFunc
}

// NewUsageHandler creates a new usage HTTP handler. consumeGate, when not
// nil, runs in front of the consume route.
func NewUsageHandler(counter UsageCounter, consumeGate gin.HandlerFunc) *usageHandler {
	return &usageHandler{counter: counter, consumeGate: consumeGate}
}

// RegisterRoutes registers usage routes.
func (h *usageHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/usage/:feature", h.GetUsage)
	r.POST("/usage/:feature", h.BumpUsage)

	consume := []gin.HandlerFunc{h.ConsumeUsage}
	if h.consumeGate != nil {
		consume = append([]gin.HandlerFunc{h.consumeGate}, consume...)
	}
	r.POST("/usage/:feature/consume", consume...)
}

func (h *usageHandler) GetUsage(c *gin.Context) {
	remaining, err := h.counter.Remaining(c.Request.Context(), orgIDFrom(c), featureFrom(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, RemainingResponse{Feature: featureFrom(c), Remaining: remaining})
}

func (h *usageHandler) BumpUsage(c *gin.Context) {
	req, ok := bindUsageRequest(c)
	if !ok {
		return
	}

	count, err := h.counter.Bump(c.Request.Context(), orgIDFrom(c), featureFrom(c), req.Amount, req.Token)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, BumpResponse{Feature: featureFrom(c), Count: count})
}

func (h *usageHandler) ConsumeUsage(c *gin.Context) {
	req, ok := bindUsageRequest(c)
	if !ok {
		return
	}

	res, err := h.counter.Consume(c.Request.Context(), orgIDFrom(c), featureFrom(c), req.Amount, req.Token)
	if err != nil {
		handleError(c, err)
		return
	}

	status := http.StatusOK
	if !res.Consumed && !res.Duplicate {
		status = http.StatusPaymentRequired
	}
	c.JSON(status, res)
}

// bindUsageRequest binds the body and takes the token from the
// Idempotency-Key header when the body has none.
func bindUsageRequest(c *gin.Context) (UsageRequest, bool) {
	var req UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return req, false
	}
	if req.Token == "" {
		req.Token = c.GetHeader(middleware.IdempotencyKeyHeader)
	}
	return req, true
}

// Compile-time check
var _ inbound.UsageHttpPort = (*usageHandler)(nil)
