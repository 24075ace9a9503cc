package provider

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// CatalogConfig tunes the registered providers from a YAML file without
// code changes: relative cost, result TTL, rate limits, enablement.
type CatalogConfig struct {
	BaseCostCents int                      `yaml:"base_cost_cents"`
	Providers     map[string]ProviderTuning `yaml:"providers"`
}

// ProviderTuning overrides one provider's defaults.
type ProviderTuning struct {
	Enabled        *bool   `yaml:"enabled,omitempty"`
	CostMultiplier float64 `yaml:"cost_multiplier,omitempty"`
	TTLDays        int     `yaml:"ttl_days,omitempty"`
	RatePerSecond  float64 `yaml:"rate_per_second,omitempty"`
}

// LoadCatalog reads provider tuning from a YAML file. The file has a
// top-level "catalog" key.
func LoadCatalog(path string) (*CatalogConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: read catalog %s", path)
	}

	var wrapper struct {
		Catalog CatalogConfig `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "provider: parse catalog")
	}

	cfg := &wrapper.Catalog
	if cfg.BaseCostCents == 0 {
		cfg.BaseCostCents = 1
	}
	return cfg, nil
}

// Tuning returns the tuning for a provider name, or zero values.
func (c *CatalogConfig) Tuning(name string) ProviderTuning {
	if c == nil || c.Providers == nil {
		return ProviderTuning{}
	}
	return c.Providers[name]
}

// Enabled reports whether a provider is enabled (default true).
func (c *CatalogConfig) Enabled(name string) bool {
	t := c.Tuning(name)
	return t.Enabled == nil || *t.Enabled
}
