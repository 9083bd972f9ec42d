package catalog

// Grant is a plan's permission record for one feature.
// The only implementations are BooleanGrant and MeteredGrant.
type Grant interface {
	isGrant()
}

// BooleanGrant turns a feature fully on or off.
type BooleanGrant bool

// MeteredGrant enables a feature with an optional per-period usage cap.
// Enabled is authoritative: an allowance alone never grants access.
type MeteredGrant struct {
	Enabled   bool   `json:"enabled"`
	Allowance *int64 `json:"allowance,omitempty"`
}

func (BooleanGrant) isGrant() {}
func (MeteredGrant) isGrant() {}

// Metered reports whether the grant carries a numeric allowance.
func (g MeteredGrant) Metered() bool {
	return g.Allowance != nil
}

// Allowance returns a pointer to n, for building metered grants.
func Allowance(n int64) *int64 {
	return &n
}
