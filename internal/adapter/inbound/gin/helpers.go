package gin

import (
	"github.com/gin-gonic/gin"

	"github.com/ganesh-swami/prvt-sub003/internal/shared/middleware"
)

// orgIDFrom returns the authenticated organization, falling back to the path.
func orgIDFrom(c *gin.Context) string {
	if orgID := middleware.GetOrgID(c); orgID != "" {
		return orgID
	}
	return c.Param("org_id")
}

// featureFrom returns the :feature path parameter.
func featureFrom(c *gin.Context) string {
	return c.Param("feature")
}
