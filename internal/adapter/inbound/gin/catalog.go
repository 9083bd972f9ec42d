package gin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ganesh-swami/prvt-sub003/internal/module/catalog"
	"github.com/ganesh-swami/prvt-sub003/internal/port/inbound"
)

// CatalogProvider returns the current pricing catalog.
type CatalogProvider interface {
	Load(ctx context.Context) (*catalog.Catalog, error)
}

// GrantResponse is one feature grant of a plan or addon.
type GrantResponse struct {
	Enabled   bool   `json:"enabled"`
	Allowance *int64 `json:"allowance,omitempty"`
}

// PlanResponse describes a plan or an addon.
type PlanResponse struct {
	ID     string                   `json:"id"`
	Name   string                   `json:"name"`
	Tier   *int                     `json:"tier,omitempty"`
	Grants map[string]GrantResponse `json:"grants"`
}

// catalogHandler implements inbound.CatalogHttpPort.
type catalogHandler struct {
	catalogs CatalogProvider
}

// NewCatalogHandler creates a new catalog HTTP handler.
func NewCatalogHandler(catalogs CatalogProvider) *catalogHandler {
	return &catalogHandler{catalogs: catalogs}
}

// RegisterRoutes registers catalog routes.
func (h *catalogHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/catalog/plans", h.ListPlans)
}

func (h *catalogHandler) ListPlans(c *gin.Context) {
	cat, err := h.catalogs.Load(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	plans := make([]PlanResponse, 0, len(cat.Plans()))
	for _, p := range cat.Plans() {
		tier := p.Tier
		plans = append(plans, PlanResponse{ID: p.ID, Name: p.Name, Tier: &tier, Grants: grantsResponse(p.Grants)})
	}
	addons := make([]PlanResponse, 0, len(cat.Addons()))
	for _, a := range cat.Addons() {
		addons = append(addons, PlanResponse{ID: a.ID, Name: a.Name, Grants: grantsResponse(a.Grants)})
	}

	c.JSON(http.StatusOK, gin.H{
		"plans":  plans,
		"addons": addons,
		"digest": cat.Digest(),
	})
}

func grantsResponse(grants map[string]catalog.Grant) map[string]GrantResponse {
	out := make(map[string]GrantResponse, len(grants))
	for feature, g := range grants {
		switch g := g.(type) {
		case catalog.BooleanGrant:
			out[feature] = GrantResponse{Enabled: bool(g)}
		case catalog.MeteredGrant:
			out[feature] = GrantResponse{Enabled: g.Enabled, Allowance: g.Allowance}
		}
	}
	return out
}

// Compile-time check
var _ inbound.CatalogHttpPort = (*catalogHandler)(nil)
