// Package platform recognises applicant-tracking platforms from URLs and
// HTML signatures and maps them to the strategies that suit them. The
// mappings are data: adding a platform means adding a catalog entry.
package platform

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Entry is one platform in the catalog
type Entry struct {
	Name           string   `yaml:"name"`
	URLPatterns    []string `yaml:"url_patterns"`
	HTMLSignatures []string `yaml:"html_signatures"`
	Strategy       string   `yaml:"strategy"`
	Blocked        []string `yaml:"blocked"`
	HeavyJS        bool     `yaml:"heavy_js"`

	urlRegex []*regexp.Regexp
}

// Catalog is the loaded platform table; read-only after load
type Catalog struct {
	entries []*Entry
	byName  map[string]*Entry
}

// Default returns the embedded catalog
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFile parses a catalog from a YAML file
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Platforms []*Entry `yaml:"platforms"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse platform catalog: %w", err)
	}

	c := &Catalog{byName: make(map[string]*Entry)}
	for _, e := range doc.Platforms {
		if e == nil || e.Name == "" {
			return nil, fmt.Errorf("platform entry without name")
		}
		e.Name = strings.ToLower(e.Name)
		if _, dup := c.byName[e.Name]; dup {
			return nil, fmt.Errorf("duplicate platform %q", e.Name)
		}
		for _, p := range e.URLPatterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("platform %s: invalid url pattern %q: %w", e.Name, p, err)
			}
			e.urlRegex = append(e.urlRegex, re)
		}
		for i, sig := range e.HTMLSignatures {
			e.HTMLSignatures[i] = strings.ToLower(sig)
		}
		c.entries = append(c.entries, e)
		c.byName[e.Name] = e
	}
	return c, nil
}

// Detect returns the platform for a URL, falling back to HTML signatures
// when html is non-empty. URL matches win over HTML matches.
func (c *Catalog) Detect(rawURL, html string) (string, bool) {
	for _, e := range c.entries {
		for _, re := range e.urlRegex {
			if re.MatchString(rawURL) {
				return e.Name, true
			}
		}
	}

	if html == "" {
		return "", false
	}

	lower := strings.ToLower(html)
	for _, e := range c.entries {
		for _, sig := range e.HTMLSignatures {
			if sig != "" && strings.Contains(lower, sig) {
				return e.Name, true
			}
		}
	}
	return "", false
}

// RecommendedStrategy returns the strategy mapped to a platform
func (c *Catalog) RecommendedStrategy(platform string) (string, bool) {
	e := c.byName[strings.ToLower(platform)]
	if e == nil || e.Strategy == "" {
		return "", false
	}
	return e.Strategy, true
}

// Blocked returns the strategies that must not run on a platform
func (c *Catalog) Blocked(platform string) []string {
	e := c.byName[strings.ToLower(platform)]
	if e == nil {
		return nil
	}
	return append([]string(nil), e.Blocked...)
}

// HeavyJS reports whether a platform renders its listings client-side
func (c *Catalog) HeavyJS(platform string) bool {
	e := c.byName[strings.ToLower(platform)]
	return e != nil && e.HeavyJS
}

// Names lists the catalog platforms in file order
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Name)
	}
	return out
}
