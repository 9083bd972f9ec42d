package catalog

import (
	"fmt"
	"slices"
	"sort"
)

// PlanDefinition is one commercial tier. Grants must not be modified after the
// plan has been added to a Catalog.
type PlanDefinition struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Tier   int              `json:"tier"`
	Grants map[string]Grant `json:"grants"`
}

// AddonDefinition is an independently purchasable unit layered on a plan.
type AddonDefinition struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Grants map[string]Grant `json:"grants"`
}

// Catalog is an immutable set of plans and addons.
// It is safe for concurrent use by any number of readers.
type Catalog struct {
	plans      []*PlanDefinition
	planIndex  map[string]*PlanDefinition
	addons     []*AddonDefinition
	addonIndex map[string]*AddonDefinition
	features   map[string]struct{}
	digest     string
}

// New builds a catalog from plans in document order. Plans are reordered by
// ascending tier; plans of equal tier keep their relative order.
func New(plans []*PlanDefinition, addons []*AddonDefinition) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, malformed("no plans defined")
	}

	c := &Catalog{
		plans:      slices.Clone(plans),
		planIndex:  make(map[string]*PlanDefinition, len(plans)),
		addons:     slices.Clone(addons),
		addonIndex: make(map[string]*AddonDefinition, len(addons)),
		features:   make(map[string]struct{}),
	}

	for _, p := range plans {
		if p == nil || p.ID == "" {
			return nil, malformed("plan without id")
		}
		if _, dup := c.planIndex[p.ID]; dup {
			return nil, malformed("duplicate plan %q", p.ID)
		}
		c.planIndex[p.ID] = p
		c.collect(p.Grants)
	}
	for _, a := range addons {
		if a == nil || a.ID == "" {
			return nil, malformed("addon without id")
		}
		if _, dup := c.addonIndex[a.ID]; dup {
			return nil, malformed("duplicate addon %q", a.ID)
		}
		c.addonIndex[a.ID] = a
		c.collect(a.Grants)
	}

	sort.SliceStable(c.plans, func(i, j int) bool {
		return c.plans[i].Tier < c.plans[j].Tier
	})

	return c, nil
}

func (c *Catalog) collect(grants map[string]Grant) {
	for feature := range grants {
		c.features[feature] = struct{}{}
	}
}

// Plans returns the plans in ascending tier order.
func (c *Catalog) Plans() []*PlanDefinition {
	return slices.Clone(c.plans)
}

// Plan looks up a plan by id.
func (c *Catalog) Plan(id string) (*PlanDefinition, bool) {
	p, ok := c.planIndex[id]
	return p, ok
}

// Addons returns the addons in document order.
func (c *Catalog) Addons() []*AddonDefinition {
	return slices.Clone(c.addons)
}

// Addon looks up an addon by id.
func (c *Catalog) Addon(id string) (*AddonDefinition, bool) {
	a, ok := c.addonIndex[id]
	return a, ok
}

// Defines reports whether any plan or addon has a grant entry for feature.
func (c *Catalog) Defines(feature string) bool {
	_, ok := c.features[feature]
	return ok
}

// Features returns every feature key with a grant entry, sorted.
func (c *Catalog) Features() []string {
	keys := make([]string, 0, len(c.features))
	for k := range c.features {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Digest identifies the source document. It is empty for catalogs built with New.
func (c *Catalog) Digest() string {
	return c.digest
}

// String summarises the catalog for logs.
func (c *Catalog) String() string {
	return fmt.Sprintf("catalog(plans=%d addons=%d features=%d)", len(c.plans), len(c.addons), len(c.features))
}
