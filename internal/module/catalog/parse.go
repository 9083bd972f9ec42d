package catalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Parse decodes a catalog document:
//
//	{ "plans": { "<id>": { "name": "...", "tier": 1, "grants": { "<feature>": true | { "enabled": true, "allowance": 3 } } } },
//	  "addons": { "<id>": { "name": "...", "grants": { ... } } } }
//
// A document whose first non-blank byte is '{' is read as JSON, anything else as YAML.
// Unknown keys are ignored and a missing grants object is an empty grant set.
func Parse(data []byte) (*Catalog, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, malformed("empty document")
	}

	var (
		plans  []*PlanDefinition
		addons []*AddonDefinition
		err    error
	)
	if trimmed[0] == '{' {
		plans, addons, err = parseJSON(trimmed)
	} else {
		plans, addons, err = parseYAML(trimmed)
	}
	if err != nil {
		return nil, err
	}

	c, err := New(plans, addons)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	c.digest = hex.EncodeToString(sum[:])
	return c, nil
}

// entry is the format-neutral form of one plan or addon.
type entry struct {
	id     string
	name   string
	tier   int
	grants map[string]Grant
}

func toDefinitions(planEntries, addonEntries []entry) ([]*PlanDefinition, []*AddonDefinition) {
	plans := make([]*PlanDefinition, 0, len(planEntries))
	for _, e := range planEntries {
		plans = append(plans, &PlanDefinition{ID: e.id, Name: e.name, Tier: e.tier, Grants: e.grants})
	}
	addons := make([]*AddonDefinition, 0, len(addonEntries))
	for _, e := range addonEntries {
		addons = append(addons, &AddonDefinition{ID: e.id, Name: e.name, Grants: e.grants})
	}
	return plans, addons
}

// --- JSON ---

type jsonDocument struct {
	Plans  json.RawMessage `json:"plans"`
	Addons json.RawMessage `json:"addons"`
}

type jsonEntry struct {
	Name   *string                    `json:"name"`
	Tier   *int                       `json:"tier"`
	Grants map[string]json.RawMessage `json:"grants"`
}

type jsonMeteredGrant struct {
	Enabled   *bool           `json:"enabled"`
	Allowance json.RawMessage `json:"allowance"`
}

func parseJSON(data []byte) ([]*PlanDefinition, []*AddonDefinition, error) {
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, malformed("decode json: %v", err)
	}
	if isJSONNull(doc.Plans) {
		return nil, nil, malformed("missing plans")
	}

	plans, err := jsonEntries(doc.Plans, "plan")
	if err != nil {
		return nil, nil, err
	}
	var addons []entry
	if !isJSONNull(doc.Addons) {
		if addons, err = jsonEntries(doc.Addons, "addon"); err != nil {
			return nil, nil, err
		}
	}

	p, a := toDefinitions(plans, addons)
	return p, a, nil
}

// jsonEntries walks an object token by token so document order survives.
func jsonEntries(raw json.RawMessage, kind string) ([]entry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, malformed("read %ss: %v", kind, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, malformed("%ss must be an object", kind)
	}

	var entries []entry
	seen := make(map[string]struct{})
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, malformed("read %s id: %v", kind, err)
		}
		id, _ := keyTok.(string)
		if _, dup := seen[id]; dup {
			return nil, malformed("duplicate %s %q", kind, id)
		}
		seen[id] = struct{}{}

		var body json.RawMessage
		if err := dec.Decode(&body); err != nil {
			return nil, malformed("read %s %q: %v", kind, id, err)
		}
		e, err := jsonEntryOf(id, kind, body)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func jsonEntryOf(id, kind string, body json.RawMessage) (entry, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
		return entry{}, malformed("%s %q must be an object", kind, id)
	}
	var je jsonEntry
	if err := json.Unmarshal(body, &je); err != nil {
		return entry{}, malformed("%s %q: %v", kind, id, err)
	}

	e := entry{id: id, name: id, grants: make(map[string]Grant, len(je.Grants))}
	if je.Name != nil && *je.Name != "" {
		e.name = *je.Name
	}
	if je.Tier != nil {
		e.tier = *je.Tier
	}
	for feature, raw := range je.Grants {
		g, err := jsonGrant(raw)
		if err != nil {
			return entry{}, malformed("%s %q grant %q: %v", kind, id, feature, err)
		}
		e.grants[feature] = g
	}
	return e, nil
}

func jsonGrant(raw json.RawMessage) (Grant, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errShape
	}

	switch raw[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, errShape
		}
		return BooleanGrant(b), nil
	case '{':
		var mg jsonMeteredGrant
		if err := json.Unmarshal(raw, &mg); err != nil {
			return nil, err
		}
		g := MeteredGrant{Enabled: mg.Enabled != nil && *mg.Enabled}
		if !isJSONNull(mg.Allowance) {
			n, err := parseAllowance(string(mg.Allowance))
			if err != nil {
				return nil, err
			}
			g.Allowance = &n
		}
		return g, nil
	default:
		return nil, errShape
	}
}

func isJSONNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// --- YAML ---

type yamlEntry struct {
	Name   string    `yaml:"name"`
	Tier   *int      `yaml:"tier"`
	Grants yaml.Node `yaml:"grants"`
}

type yamlMeteredGrant struct {
	Enabled   *bool     `yaml:"enabled"`
	Allowance yaml.Node `yaml:"allowance"`
}

func parseYAML(data []byte) ([]*PlanDefinition, []*AddonDefinition, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, malformed("decode yaml: %v", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, nil, malformed("empty document")
	}
	doc := resolve(root.Content[0])
	if doc.Kind != yaml.MappingNode {
		return nil, nil, malformed("document must be a mapping")
	}

	plansNode := mappingValue(doc, "plans")
	if isYAMLNull(plansNode) {
		return nil, nil, malformed("missing plans")
	}
	plans, err := yamlEntries(plansNode, "plan")
	if err != nil {
		return nil, nil, err
	}

	var addons []entry
	if addonsNode := mappingValue(doc, "addons"); !isYAMLNull(addonsNode) {
		if addons, err = yamlEntries(addonsNode, "addon"); err != nil {
			return nil, nil, err
		}
	}

	p, a := toDefinitions(plans, addons)
	return p, a, nil
}

func yamlEntries(n *yaml.Node, kind string) ([]entry, error) {
	n = resolve(n)
	if n.Kind != yaml.MappingNode {
		return nil, malformed("%ss must be a mapping", kind)
	}

	entries := make([]entry, 0, len(n.Content)/2)
	seen := make(map[string]struct{})
	for i := 0; i+1 < len(n.Content); i += 2 {
		id := n.Content[i].Value
		if _, dup := seen[id]; dup {
			return nil, malformed("duplicate %s %q", kind, id)
		}
		seen[id] = struct{}{}

		body := resolve(n.Content[i+1])
		if body.Kind != yaml.MappingNode {
			return nil, malformed("%s %q must be a mapping", kind, id)
		}
		var ye yamlEntry
		if err := body.Decode(&ye); err != nil {
			return nil, malformed("%s %q: %v", kind, id, err)
		}

		e := entry{id: id, name: id, grants: make(map[string]Grant)}
		if ye.Name != "" {
			e.name = ye.Name
		}
		if ye.Tier != nil {
			e.tier = *ye.Tier
		}
		if !isYAMLNull(&ye.Grants) {
			grants := resolve(&ye.Grants)
			if grants.Kind != yaml.MappingNode {
				return nil, malformed("%s %q grants must be a mapping", kind, id)
			}
			for j := 0; j+1 < len(grants.Content); j += 2 {
				feature := grants.Content[j].Value
				g, err := yamlGrant(grants.Content[j+1])
				if err != nil {
					return nil, malformed("%s %q grant %q: %v", kind, id, feature, err)
				}
				e.grants[feature] = g
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func yamlGrant(n *yaml.Node) (Grant, error) {
	n = resolve(n)
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag != "!!bool" {
			return nil, errShape
		}
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return BooleanGrant(b), nil
	case yaml.MappingNode:
		var mg yamlMeteredGrant
		if err := n.Decode(&mg); err != nil {
			return nil, err
		}
		g := MeteredGrant{Enabled: mg.Enabled != nil && *mg.Enabled}
		if !isYAMLNull(&mg.Allowance) {
			a := resolve(&mg.Allowance)
			if a.Kind != yaml.ScalarNode || a.Tag != "!!int" {
				return nil, errAllowance
			}
			v, err := parseAllowance(a.Value)
			if err != nil {
				return nil, err
			}
			g.Allowance = &v
		}
		return g, nil
	default:
		return nil, errShape
	}
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func isYAMLNull(n *yaml.Node) bool {
	n = resolve(n)
	return n == nil || n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// --- shared ---

var (
	errShape     = malformedValue("grant must be a boolean or an object")
	errAllowance = malformedValue("allowance must be a non-negative integer")
)

type malformedValue string

func (e malformedValue) Error() string { return string(e) }

func parseAllowance(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errAllowance
	}
	return n, nil
}
