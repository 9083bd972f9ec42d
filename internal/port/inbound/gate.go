package inbound

import "github.com/gin-gonic/gin"

// CatalogHttpPort defines HTTP handler interface for the pricing catalog.
type CatalogHttpPort interface {
	// ListPlans handles GET /catalog/plans
	// Returns plans in ascending tier order and addons.
	ListPlans(c *gin.Context)
}

// FeatureHttpPort defines HTTP handler interface for entitlement decisions.
type FeatureHttpPort interface {
	// CheckFeature handles GET /orgs/:org_id/features/:feature
	// Returns the guard result for one feature.
	CheckFeature(c *gin.Context)

	// StreamFeature handles GET /orgs/:org_id/features/:feature/stream
	// Streams the decision as server-sent events, re-evaluated on subscription changes.
	StreamFeature(c *gin.Context)
}

// UsageHttpPort defines HTTP handler interface for usage counters.
type UsageHttpPort interface {
	// GetUsage handles GET /orgs/:org_id/usage/:feature
	// Returns the remaining allowance of the current period.
	GetUsage(c *gin.Context)

	// BumpUsage handles POST /orgs/:org_id/usage/:feature
	// Records consumption after a successful action.
	BumpUsage(c *gin.Context)

	// ConsumeUsage handles POST /orgs/:org_id/usage/:feature/consume
	// Checks the allowance and records consumption atomically.
	ConsumeUsage(c *gin.Context)
}

// BillingWebhookHttpPort defines HTTP handler interface for billing provider webhooks.
type BillingWebhookHttpPort interface {
	// HandleStripeWebhook handles POST /webhooks/stripe
	// Applies subscription effects of Stripe events.
	HandleStripeWebhook(c *gin.Context)
}
