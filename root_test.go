package main

import (
	"CardDetServer/config"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()
	names := []string{}
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "scan"}, names)

	cmd.SetArgs([]string{"scan"})
	assert.Error(t, cmd.Execute())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "config.yaml")

	cfg, err := loadConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = loadConfig(missing, true)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(missing, []byte("httpPort: 9999\n"), 0o644))
	cfg, err = loadConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.HTTPPort)
}
