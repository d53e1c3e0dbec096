// Package plans loads the plan catalogue: which plan grants which features.
package plans

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Feature names referenced by the service.
const (
	FeatureDashboard  = "dashboard"  // dashboard forms, CAPTCHA and email toggles
	FeatureUnlimited  = "unlimited"  // no monthly quota
	FeatureAjax       = "ajax"       // spontaneous AJAX form creation
	FeatureWhitelabel = "whitelabel" // custom notification templates
)

//go:embed plans.yaml
var defaultYAML []byte

// Plan is one entry of the catalogue.
type Plan struct {
	Name     string   `yaml:"name"`
	Features []string `yaml:"features"`
}

// Catalog maps plan ids to plans.
type Catalog struct {
	Default string          `yaml:"default"`
	Plans   map[string]Plan `yaml:"plans"`
}

// Default returns the embedded catalogue.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalogue from path, or returns the embedded one when path is
// empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes and validates a YAML catalogue.
func Parse(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}
	if len(c.Plans) == 0 {
		return nil, fmt.Errorf("plans: catalogue is empty")
	}
	if c.Default == "" {
		c.Default = "free"
	}
	if _, ok := c.Plans[c.Default]; !ok {
		return nil, fmt.Errorf("plans: default plan %q is not defined", c.Default)
	}
	return &c, nil
}

// Exists reports whether plan is defined.
func (c *Catalog) Exists(plan string) bool {
	_, ok := c.Plans[plan]
	return ok
}

// Has reports whether plan grants feature. Unknown plans grant nothing.
func (c *Catalog) Has(plan, feature string) bool {
	p, ok := c.Plans[plan]
	if !ok {
		return false
	}
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}
