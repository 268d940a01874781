package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CatalogEntry describes a provider's models, capabilities and budget
type CatalogEntry struct {
	Name              string        `yaml:"name"`
	Endpoint          string        `yaml:"endpoint"`
	Models            []string      `yaml:"models"`
	DefaultModel      string        `yaml:"default_model"`
	Capabilities      []string      `yaml:"capabilities"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	TokensPerWindow   int           `yaml:"tokens_per_window"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Catalog is the static provider catalog, keyed by order of appearance
type Catalog struct {
	Providers []CatalogEntry `yaml:"providers"`
}

// DefaultCatalog returns the built-in provider catalog
func DefaultCatalog() Catalog {
	return Catalog{Providers: []CatalogEntry{
		{
			Name:              "openai",
			Endpoint:          "https://api.openai.com/v1",
			Models:            []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"},
			DefaultModel:      "gpt-4o-mini",
			Capabilities:      []string{"chat", "vision", "json", "tools"},
			RequestsPerWindow: 500,
			TokensPerWindow:   200000,
		},
		{
			Name:              "anthropic",
			Endpoint:          "https://api.anthropic.com",
			Models:            []string{"claude-3-5-haiku-latest", "claude-sonnet-4-0"},
			DefaultModel:      "claude-3-5-haiku-latest",
			Capabilities:      []string{"chat", "vision", "tools"},
			RequestsPerWindow: 50,
			TokensPerWindow:   50000,
		},
		{
			Name:              "gemini",
			Endpoint:          "https://generativelanguage.googleapis.com/v1beta",
			Models:            []string{"gemini-2.0-flash", "gemini-1.5-pro"},
			DefaultModel:      "gemini-2.0-flash",
			Capabilities:      []string{"chat", "vision", "json"},
			RequestsPerWindow: 15,
			TokensPerWindow:   1000000,
		},
		{
			Name:              "mistral",
			Endpoint:          "https://api.mistral.ai/v1",
			Models:            []string{"mistral-small-latest", "mistral-large-latest"},
			DefaultModel:      "mistral-small-latest",
			Capabilities:      []string{"chat", "json"},
			RequestsPerWindow: 60,
			TokensPerWindow:   500000,
		},
	}}
}

// LoadCatalog returns the built-in catalog overlaid with the YAML file at
// path. An empty path returns the defaults. File entries replace defaults of
// the same name field by field; unknown names are appended.
func LoadCatalog(path string) (Catalog, error) {
	catalog := DefaultCatalog()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read provider catalog: %w", err)
	}

	var file Catalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse provider catalog %s: %w", path, err)
	}
	if err := file.Validate(); err != nil {
		return Catalog{}, fmt.Errorf("invalid provider catalog %s: %w", path, err)
	}

	for _, entry := range file.Providers {
		catalog.merge(entry)
	}

	if err := catalog.Validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

func (c *Catalog) merge(entry CatalogEntry) {
	for i := range c.Providers {
		base := &c.Providers[i]
		if base.Name != entry.Name {
			continue
		}
		if entry.Endpoint != "" {
			base.Endpoint = entry.Endpoint
		}
		if len(entry.Models) > 0 {
			base.Models = entry.Models
		}
		if entry.DefaultModel != "" {
			base.DefaultModel = entry.DefaultModel
		}
		if len(entry.Capabilities) > 0 {
			base.Capabilities = entry.Capabilities
		}
		if entry.RequestsPerWindow != 0 {
			base.RequestsPerWindow = entry.RequestsPerWindow
		}
		if entry.TokensPerWindow != 0 {
			base.TokensPerWindow = entry.TokensPerWindow
		}
		if entry.Timeout != 0 {
			base.Timeout = entry.Timeout
		}
		return
	}
	c.Providers = append(c.Providers, entry)
}

// Validate rejects unnamed, duplicate or negative-budget entries
func (c Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider catalog entry %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q listed twice in catalog", p.Name)
		}
		seen[p.Name] = true
		if p.RequestsPerWindow < 0 || p.TokensPerWindow < 0 {
			return fmt.Errorf("provider %q has a negative budget", p.Name)
		}
	}
	return nil
}

// Lookup returns the entry for a provider name
func (c Catalog) Lookup(name string) (CatalogEntry, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return CatalogEntry{}, false
}
