package vaultkeeper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `{
	"version": 1,
	"backends": [{"type": "memory", "enabled": true, "options": {}}],
	"keyRotation": {"gracePeriodDays": 1},
	"defaults": {"ttlMinutes": 5, "trustTier": 3}
}`

func TestLoadConfigSuccess(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Backends, 1)
	require.Equal(t, "memory", cfg.Backends[0].Type)
}

func TestLoadConfigRejectsWrongVersion(t *testing.T) {
	path := writeConfig(t, `{"version":2,"backends":[{"type":"memory","enabled":true}],"keyRotation":{"gracePeriodDays":1},"defaults":{"ttlMinutes":5,"trustTier":3}}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsNoBackends(t *testing.T) {
	path := writeConfig(t, `{"version":1,"backends":[],"keyRotation":{"gracePeriodDays":1},"defaults":{"ttlMinutes":5,"trustTier":3}}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsBadTrustTier(t *testing.T) {
	path := writeConfig(t, `{"version":1,"backends":[{"type":"memory","enabled":true}],"keyRotation":{"gracePeriodDays":1},"defaults":{"ttlMinutes":5,"trustTier":9}}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsNonPositiveTTL(t *testing.T) {
	path := writeConfig(t, `{"version":1,"backends":[{"type":"memory","enabled":true}],"keyRotation":{"gracePeriodDays":1},"defaults":{"ttlMinutes":0,"trustTier":3}}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestBackendSpecsTranslation(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	specs := cfg.BackendSpecs()
	require.Len(t, specs, 1)
	require.Equal(t, "memory", specs[0].Type)
	require.True(t, specs[0].Enabled)
}

func TestIsDevelopmentExecutable(t *testing.T) {
	cfg := &Config{DevelopmentMode: &DevelopmentMode{Executables: []string{"dev", "/usr/bin/tool"}}}
	require.True(t, cfg.IsDevelopmentExecutable("/usr/bin/tool"))
	require.False(t, cfg.IsDevelopmentExecutable("/usr/bin/other"))

	var noDevMode Config
	require.False(t, noDevMode.IsDevelopmentExecutable("dev"))
}

func TestSearchIndexConfRoundtripsJSON(t *testing.T) {
	raw := `{"meilisearchURL":"http://localhost:7700","apiKey":"k","indexName":"vaultkeeper-secrets"}`
	var conf SearchIndexConf
	require.NoError(t, json.Unmarshal([]byte(raw), &conf))
	require.Equal(t, "vaultkeeper-secrets", conf.IndexName)
}
