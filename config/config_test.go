package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "5250", cfg.Server.Port)
	assert.Equal(t, 12, cfg.View.ItemsPerPage)
	assert.Equal(t, 300*time.Millisecond, cfg.View.SearchDebounce)
	assert.Equal(t, time.Minute, cfg.Query.StaleTime)
	assert.Equal(t, 30*time.Minute, cfg.Query.GCTime)
	assert.Equal(t, "properties", cfg.Remote.Table)
	assert.True(t, cfg.Mirror.Enabled)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("VIEW_ITEMS_PER_PAGE=4\nQUERY_STALE_TIME=0s\n"), 0644))
	t.Cleanup(func() {
		os.Unsetenv("VIEW_ITEMS_PER_PAGE")
		os.Unsetenv("QUERY_STALE_TIME")
	})

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.View.ItemsPerPage)
	assert.Equal(t, time.Duration(0), cfg.Query.StaleTime)
}

func TestLoadConfig_InvalidItemsPerPage(t *testing.T) {
	t.Setenv("VIEW_ITEMS_PER_PAGE", "0")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
