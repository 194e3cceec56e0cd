package vaultkeeper

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mike-north/vaultkeeper-sub000/backend"
)

// Config is the on-disk, JSON-decoded shape of the vault's config file.
// Only the core reads it; writing it back (e.g. persisting a development
// mode change) is left to the CLI collaborator.
type Config struct {
	Version         int              `json:"version"`
	Backends        []BackendEntry   `json:"backends"`
	KeyRotation     KeyRotationConf  `json:"keyRotation"`
	Defaults        DefaultsConf     `json:"defaults"`
	DevelopmentMode *DevelopmentMode `json:"developmentMode,omitempty"`
	SearchIndex     *SearchIndexConf `json:"searchIndex,omitempty"`
}

// BackendEntry is one configured backend candidate; Vault.Init tries
// these in order and binds to the first enabled, available one.
type BackendEntry struct {
	Type    string         `json:"type"`
	Enabled bool           `json:"enabled"`
	Options map[string]any `json:"options,omitempty"`
}

// KeyRotationConf controls the grace period used by RotateKey.
type KeyRotationConf struct {
	GracePeriodDays int `json:"gracePeriodDays"`
}

// DefaultsConf supplies the fallback TTL and trust tier Setup uses when
// its options leave them unset.
type DefaultsConf struct {
	TTLMinutes int `json:"ttlMinutes"`
	TrustTier  int `json:"trustTier"`
}

// DevelopmentMode lists executables treated as the "dev" identity,
// skipping trust verification entirely.
type DevelopmentMode struct {
	Executables []string `json:"executables"`
}

// SearchIndexConf names an optional Meilisearch endpoint backing
// internal/searchindex. Its absence disables the index.
type SearchIndexConf struct {
	MeilisearchURL string `json:"meilisearchURL"`
	APIKey         string `json:"apiKey"`
	IndexName      string `json:"indexName"`
}

// LoadConfig reads and validates the JSON config file at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vaultkeeper: reading config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("vaultkeeper: parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the config wire-shape invariants from the external
// interface spec: version must be 1, at least one backend entry, valid
// TTL/tier/grace-period bounds.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("vaultkeeper: unsupported config version %d", c.Version)
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("vaultkeeper: config must declare at least one backend")
	}
	if c.Defaults.TTLMinutes <= 0 {
		return fmt.Errorf("vaultkeeper: defaults.ttlMinutes must be positive")
	}
	if c.Defaults.TrustTier < 1 || c.Defaults.TrustTier > 3 {
		return fmt.Errorf("vaultkeeper: defaults.trustTier must be 1, 2, or 3")
	}
	if c.KeyRotation.GracePeriodDays <= 0 {
		return fmt.Errorf("vaultkeeper: keyRotation.gracePeriodDays must be positive")
	}
	return nil
}

// BackendSpecs converts the config's backend list into backend.Spec
// values for backend.SelectFirstAvailable.
func (c *Config) BackendSpecs() []backend.Spec {
	specs := make([]backend.Spec, 0, len(c.Backends))
	for _, entry := range c.Backends {
		specs = append(specs, backend.Spec{
			Type:    entry.Type,
			Enabled: entry.Enabled,
			Options: entry.Options,
		})
	}
	return specs
}

// IsDevelopmentExecutable reports whether execPath is in the
// configured development-mode allowlist.
func (c *Config) IsDevelopmentExecutable(execPath string) bool {
	if c.DevelopmentMode == nil {
		return false
	}
	for _, e := range c.DevelopmentMode.Executables {
		if e == execPath {
			return true
		}
	}
	return false
}
