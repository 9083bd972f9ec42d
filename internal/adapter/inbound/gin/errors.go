package gin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/module/catalog"
	"github.com/ganesh-swami/prvt-sub003/internal/module/subscription"
	"github.com/ganesh-swami/prvt-sub003/internal/module/usage"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/logger"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/response"
)

var errorMappings = []response.ErrorMapping{
	{Err: usage.ErrInvalidAmount, Status: http.StatusBadRequest, Code: "invalid_amount", Message: "Amount must be a positive integer"},
	{Err: usage.ErrInvalidToken, Status: http.StatusBadRequest, Code: "invalid_token", Message: "Token must be at most 255 characters"},
	{Err: subscription.ErrInvalidOrgID, Status: http.StatusBadRequest, Code: "invalid_org", Message: "Organization ID is required"},
	{Err: catalog.ErrCatalogUnavailable, Status: http.StatusServiceUnavailable, Code: "catalog_unavailable", Message: "Pricing catalog temporarily unavailable"},
}

// handleError maps domain errors to HTTP responses. Unmapped errors are
// logged and answered without detail.
func handleError(c *gin.Context, err error) {
	if !errors.Is(err, usage.ErrInvalidAmount) && !errors.Is(err, usage.ErrInvalidToken) {
		logger.FromContext(c.Request.Context()).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	response.HandleErrorWithDefault(c, err, errorMappings)
}
