package entitlement

import (
	"time"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/module/catalog"
)

// DefaultFallbackPlan is the reserved plan of organizations without a usable subscription.
const DefaultFallbackPlan = "starter"

// Evaluator decides feature access from a catalog and a subscription.
// It performs no I/O; the only ambient input is the clock used for grace deadlines.
// The zero value is ready to use.
type Evaluator struct {
	// FallbackPlan replaces unknown, missing and lapsed plans. Defaults to DefaultFallbackPlan.
	FallbackPlan string
	// Now defaults to time.Now.
	Now func() time.Time
}

var defaultEvaluator = &Evaluator{}

// CanUse evaluates feature with the default evaluator.
func CanUse(cat *catalog.Catalog, sub *model.WorkspaceSubscription, feature string) Decision {
	return defaultEvaluator.CanUse(cat, sub, feature)
}

// CanUse decides whether sub may use feature under cat.
//
// The subscription's plan is used while it is trialing, active, or past_due
// inside its grace window; otherwise, or when the plan is not in the catalog,
// the fallback plan is used and addons no longer apply. The feature is allowed
// when the plan or any addon enables it. A denied decision lists the plans that
// would enable it in ascending tier order, excluding the current and fallback plans.
func (e *Evaluator) CanUse(cat *catalog.Catalog, sub *model.WorkspaceSubscription, feature string) Decision {
	if cat == nil {
		return Deny(ReasonSystemError)
	}

	fallback := e.fallback()
	planID, addons, warning := e.resolve(cat, sub)
	d := Decision{Plan: planID, Warning: warning}

	if !cat.Defines(feature) {
		d.Reason = ReasonFeatureUndefined
		return d
	}

	var grants []catalog.Grant
	if plan, ok := cat.Plan(planID); ok {
		if g, ok := plan.Grants[feature]; ok {
			grants = append(grants, g)
		}
	}
	for _, id := range addons {
		if addon, ok := cat.Addon(id); ok {
			if g, ok := addon.Grants[feature]; ok {
				grants = append(grants, g)
			}
		}
	}

	var (
		unmetered    bool
		maxAllowance int64 = -1
	)
	for _, g := range grants {
		enabled, allowance := state(g)
		if !enabled {
			continue
		}
		d.Allowed = true
		if allowance == nil {
			unmetered = true
		} else if *allowance > maxAllowance {
			maxAllowance = *allowance
		}
	}

	if !d.Allowed {
		d.Reason = ReasonNotInPlan
		d.UpgradeTo = upgrades(cat, feature, planID, fallback, func(enabled bool, _ *int64) bool {
			return enabled
		})
		return d
	}

	if !unmetered {
		d.Metered = true
		d.Allowance = &maxAllowance
		d.allowanceUpgrades = upgrades(cat, feature, planID, fallback, func(enabled bool, allowance *int64) bool {
			return enabled && (allowance == nil || *allowance > maxAllowance)
		})
	}
	return d
}

// EffectivePlan returns the plan id sub is evaluated against.
func (e *Evaluator) EffectivePlan(cat *catalog.Catalog, sub *model.WorkspaceSubscription) string {
	planID, _, _ := e.resolve(cat, sub)
	return planID
}

func (e *Evaluator) resolve(cat *catalog.Catalog, sub *model.WorkspaceSubscription) (string, []string, Warning) {
	fallback := e.fallback()
	if sub == nil {
		return fallback, nil, ""
	}

	var warning Warning
	switch sub.Status {
	case model.SubscriptionStatusTrialing, model.SubscriptionStatusActive, "":
	case model.SubscriptionStatusPastDue:
		if !sub.InGrace(e.now()) {
			return fallback, nil, ""
		}
		warning = WarningPastDue
	default:
		return fallback, nil, ""
	}

	if _, ok := cat.Plan(sub.PlanID); !ok {
		return fallback, nil, ""
	}
	return sub.PlanID, sub.AddonIDs(), warning
}

func (e *Evaluator) fallback() string {
	if e.FallbackPlan == "" {
		return DefaultFallbackPlan
	}
	return e.FallbackPlan
}

func (e *Evaluator) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// state reads a grant. Enabled is authoritative; allowance is nil when unmetered.
func state(g catalog.Grant) (bool, *int64) {
	switch g := g.(type) {
	case catalog.BooleanGrant:
		return bool(g), nil
	case catalog.MeteredGrant:
		return g.Enabled, g.Allowance
	default:
		return false, nil
	}
}

func upgrades(cat *catalog.Catalog, feature, current, fallback string, qualifies func(bool, *int64) bool) []string {
	var ids []string
	for _, p := range cat.Plans() {
		if p.ID == current || p.ID == fallback {
			continue
		}
		g, ok := p.Grants[feature]
		if !ok {
			continue
		}
		if enabled, allowance := state(g); qualifies(enabled, allowance) {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
