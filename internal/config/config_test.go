package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.Orchestrator.BatchSize)
	assert.Equal(t, 768, cfg.Provider.Dimensions)
	assert.Equal(t, 60, cfg.Retrieval.RRFConstant)
}

func TestMergeWith_NonZeroOverridesOnly(t *testing.T) {
	base := NewConfig()
	base.Provider.MaxInFlight = 4

	override := &Config{}
	override.Provider.Model = "custom/model"
	// MaxInFlight left at zero value: must NOT clobber base's 4.
	base.mergeWith(override)

	assert.Equal(t, "custom/model", base.Provider.Model)
	assert.Equal(t, 4, base.Provider.MaxInFlight)
}

func TestValidate_RejectsBadProvider(t *testing.T) {
	cfg := NewConfig()
	cfg.Provider.Provider = "not-a-real-provider"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveBatchSize(t *testing.T) {
	cfg := NewConfig()
	cfg.Orchestrator.BatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	projectCfg := `
provider:
  model: project-specific-model
  dimensions: 1536
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ploke.yaml"), []byte(projectCfg), 0o644))

	t.Setenv("XDG_CONFIG_HOME", t.TempDir()) // ensure no user config found

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "project-specific-model", cfg.Provider.Model)
	assert.Equal(t, 1536, cfg.Provider.Dimensions)
	// Unrelated defaults survive the merge.
	assert.Equal(t, 64, cfg.Orchestrator.BatchSize)
}

func TestLoad_EnvOverridesWinOverFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PLOKE_BATCH_SIZE", "128")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Orchestrator.BatchSize)
}

func TestMergeNewDefaults_BackfillsWithoutClobbering(t *testing.T) {
	cfg := &Config{SchemaVersion: 0}
	cfg.Retrieval.DefaultTopK = 0

	added := cfg.MergeNewDefaults()
	assert.Contains(t, added, "retrieval.default_top_k")
	assert.Equal(t, SchemaVersion, cfg.SchemaVersion)
	assert.NotZero(t, cfg.Retrieval.DefaultTopK)

	// Running again is a no-op.
	added2 := cfg.MergeNewDefaults()
	assert.Empty(t, added2)
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := NewConfig()
	cfg.Provider.Model = "round-trip-model"
	require.NoError(t, cfg.WriteYAML(path))

	var reloaded Config
	require.NoError(t, loadYAML(path, &reloaded))
	assert.Equal(t, "round-trip-model", reloaded.Provider.Model)
}
