package vmconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultAppliesEnvDefaultTags(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.Equal(t, int64(20), c.InterruptCheckMillis)
	require.Equal(t, 10000, c.MaxStackDepth)
	require.Equal(t, "info", c.LogLevel)
}

func TestLoadMergesYamlThenEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_stack_depth: 500\nlog_level: debug\n"), 0o644))

	t.Setenv("STVM_LOG_LEVEL", "warn")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 500, c.MaxStackDepth)
	require.Equal(t, "warn", c.LogLevel, "environment must win over the YAML file")
	require.Equal(t, int64(20), c.InterruptCheckMillis, "unset fields still fall back to envDefault")
}

func TestLoadWithEmptyPathStillAppliesDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 576, c.PrimitiveTableSlots)
}
