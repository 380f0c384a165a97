package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v3"

	"github.com/plokeai/ploke/internal/config"
)

func TestResolveRoot_DefaultsToWorkingDirectory(t *testing.T) {
	old := rootDir
	rootDir = ""
	t.Cleanup(func() { rootDir = old })

	got, err := resolveRoot()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}

func TestResolveRoot_HonorsRootFlag(t *testing.T) {
	old := rootDir
	dir := t.TempDir()
	rootDir = dir
	t.Cleanup(func() { rootDir = old })

	got, err := resolveRoot()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestConfigInitCmd_WritesDefaultProjectConfig(t *testing.T) {
	old := rootDir
	dir := t.TempDir()
	rootDir = dir
	t.Cleanup(func() { rootDir = old })

	cmd := newConfigInitCmd()
	cmd.SetArgs(nil)
	require.NoError(t, cmd.RunE(cmd, nil))

	path := filepath.Join(dir, ".ploke.yaml")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var written config.Config
	require.NoError(t, yaml.Unmarshal(raw, &written))
	assert.Equal(t, config.NewConfig().Orchestrator.BatchSize, written.Orchestrator.BatchSize)
}

func TestConfigShowCmd_PrintsMergedConfig(t *testing.T) {
	old := rootDir
	rootDir = t.TempDir()
	t.Cleanup(func() { rootDir = old })

	cmd := newConfigShowCmd()
	err := cmd.RunE(cmd, nil)
	require.NoError(t, err)
}
