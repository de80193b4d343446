package labrequest

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnclassifiedSection is used for test names no rule matches.
const UnclassifiedSection = "Unclassified"

//go:embed catalog.yaml
var builtinCatalog []byte

type CatalogEntry struct {
	Name       string   `yaml:"name" json:"name"`
	Section    string   `yaml:"section" json:"section"`
	Parameters []string `yaml:"parameters" json:"parameters"`
}

type SectionRule struct {
	Match   string `yaml:"match" json:"match"`
	Section string `yaml:"section" json:"section"`
}

type Catalog struct {
	Tests    []CatalogEntry `yaml:"tests" json:"tests"`
	Sections []SectionRule  `yaml:"sections" json:"sections"`
}

// LoadCatalog reads a catalog file, or the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(builtinCatalog)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test catalog: %w", err)
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse test catalog: %w", err)
	}

	seen := make(map[string]bool)
	for i, t := range c.Tests {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("test catalog: test %d has no name", i+1)
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			return nil, fmt.Errorf("test catalog: duplicate test %q", t.Name)
		}
		seen[key] = true
	}
	for i, r := range c.Sections {
		if strings.TrimSpace(r.Match) == "" || strings.TrimSpace(r.Section) == "" {
			return nil, fmt.Errorf("test catalog: section rule %d needs match and section", i+1)
		}
	}
	return &c, nil
}

// SectionFor classifies a test name into a lab section.
func (c *Catalog) SectionFor(testName string) string {
	name := strings.ToLower(testName)
	for _, r := range c.Sections {
		if strings.Contains(name, strings.ToLower(r.Match)) {
			return r.Section
		}
	}
	return UnclassifiedSection
}
