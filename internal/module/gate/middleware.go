package gate

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ganesh-swami/prvt-sub003/internal/module/entitlement"
	apperrors "github.com/ganesh-swami/prvt-sub003/internal/shared/errors"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/middleware"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/response"
)

// ResultKey is the gin context key holding the Result of a feature gate.
const ResultKey = "gate_result"

// DeniedResponse is the body of a 402 answer.
type DeniedResponse struct {
	Error     string             `json:"error"`
	Code      string             `json:"code"`
	Reason    entitlement.Reason `json:"reason"`
	UpgradeTo []string           `json:"upgrade_to"`
}

// RequireFeature aborts requests whose organization may not use feature.
// Denials answer 402 with the reason and upgrade targets; internal failures
// answer 503 without detail.
func RequireFeature(checker Checker, feature string) gin.HandlerFunc {
	return requireFeature(checker, func(*gin.Context) string { return feature }, false)
}

// RequireFeatureParam is RequireFeature for the feature named by the path
// parameter param. An exhausted allowance passes; the handler enforces it.
func RequireFeatureParam(checker Checker, param string) gin.HandlerFunc {
	return requireFeature(checker, func(c *gin.Context) string { return c.Param(param) }, true)
}

func requireFeature(checker Checker, featureOf func(c *gin.Context) string, passExhausted bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := middleware.GetOrgID(c)
		if orgID == "" {
			orgID = c.Param("org_id")
		}

		res := checker.Check(c.Request.Context(), orgID, featureOf(c))
		c.Set(ResultKey, res)

		if res.Allowed || (passExhausted && res.Reason == entitlement.ReasonAllowanceExceeded) {
			c.Next()
			return
		}

		if res.Reason == entitlement.ReasonSystemError {
			response.AbortWithAppError(c, apperrors.Unavailable("", nil))
			return
		}

		appErr := apperrors.FeatureUnavailable("")
		c.AbortWithStatusJSON(http.StatusPaymentRequired, DeniedResponse{
			Error:     appErr.Message,
			Code:      appErr.Code,
			Reason:    res.Reason,
			UpgradeTo: res.UpgradeTo,
		})
	}
}

// GetResult returns the Result stored by a feature gate.
func GetResult(c *gin.Context) (Result, bool) {
	v, ok := c.Get(ResultKey)
	if !ok {
		return Result{}, false
	}
	res, ok := v.(Result)
	return res, ok
}
