package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ganesh-swami/prvt-sub003/internal/shared/auth"
	apperrors "github.com/ganesh-swami/prvt-sub003/internal/shared/errors"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/response"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// IdempotencyKeyHeader carries a client-generated action token.
	IdempotencyKeyHeader = "Idempotency-Key"
	// OrgIDKey is the context key for the authenticated organization.
	OrgIDKey = "org_id"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// RequireOrg validates the bearer token and checks that its org_id claim
// matches the :org_id path parameter. A nil validator disables the check.
func RequireOrg(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		pathOrg := c.Param("org_id")
		if validator == nil {
			c.Set(OrgIDKey, pathOrg)
			c.Next()
			return
		}

		token := extractBearerToken(c)
		if token == "" {
			response.AbortWithAppError(c, apperrors.Unauthorized("authorization header required"))
			return
		}

		claims, err := validator.Validate(token)
		if err != nil {
			response.AbortWithAppError(c, apperrors.Unauthorized("invalid or expired token"))
			return
		}

		if pathOrg != "" && claims.OrgID != pathOrg {
			response.AbortWithAppError(c, apperrors.Forbidden("token does not grant access to this organization"))
			return
		}

		c.Set(OrgIDKey, claims.OrgID)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader(AuthorizationHeader)
	if !strings.HasPrefix(header, BearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(header, BearerPrefix)
}

// GetOrgID returns the authenticated organization from context.
func GetOrgID(c *gin.Context) string {
	return c.GetString(OrgIDKey)
}
