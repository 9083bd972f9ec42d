package entitlement

// Reason explains a denial.
type Reason string

const (
	// ReasonFeatureUndefined means no plan or addon in the catalog has a grant for the feature.
	ReasonFeatureUndefined Reason = "feature-undefined"
	// ReasonNotInPlan means the effective plan and addons do not enable the feature.
	ReasonNotInPlan Reason = "not-in-plan"
	// ReasonAllowanceExceeded means the feature is enabled but this period's allowance is used up.
	ReasonAllowanceExceeded Reason = "allowance-exceeded"
	// ReasonSystemError means the decision could not be made and access was denied.
	ReasonSystemError Reason = "system-error"
)

// Warning annotates an allowed decision.
type Warning string

// WarningPastDue means payment failed and access continues only until the grace deadline.
const WarningPastDue Warning = "past-due"

// Decision is the outcome of one entitlement evaluation. It is derived on
// every call and never persisted.
type Decision struct {
	Allowed   bool     `json:"allowed"`
	UpgradeTo []string `json:"upgrade_to,omitempty"`
	Reason    Reason   `json:"reason,omitempty"`
	Warning   Warning  `json:"warning,omitempty"`

	// Plan is the plan the decision was evaluated against, after fallback.
	Plan string `json:"plan,omitempty"`

	// Metered is true when the feature is allowed under a numeric allowance.
	// Allowance is then the largest allowance among the enabling grants.
	Metered   bool   `json:"metered"`
	Allowance *int64 `json:"allowance,omitempty"`

	// plans offering more of a metered feature than the current allowance
	allowanceUpgrades []string
}

// Deny returns a denial carrying reason and nothing else.
func Deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// WithUsage applies allowance exhaustion to d. remaining is the unused
// allowance of the current period; nil means unmetered. A metered feature
// with nothing remaining is denied even though its grant is enabled.
func WithUsage(d Decision, remaining *int64) Decision {
	if !d.Allowed || !d.Metered || remaining == nil || *remaining > 0 {
		return d
	}
	d.Allowed = false
	d.Reason = ReasonAllowanceExceeded
	d.UpgradeTo = d.allowanceUpgrades
	return d
}
