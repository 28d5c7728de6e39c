package config

import (
	"CardDetServer/engine"
	"CardDetServer/tracker"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, engine.DefaultParams(), cfg.Detector)
	assert.Equal(t, tracker.BaseConfig, cfg.Tracker)
	assert.Equal(t, 5*time.Second, cfg.IdleTimeout())
}

func TestLoad(t *testing.T) {
	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
httpPort: 18080
maxSessions: 2
detector:
  sizeThreshold: 5000
tracker:
  reemitOnReconfirm: false
  evictAfter: 0
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 18080, cfg.HTTPPort)
		assert.Equal(t, 9090, cfg.MetricsPort)
		assert.Equal(t, 2, cfg.MaxSessions)
		assert.Equal(t, 5000.0, cfg.Detector.SizeThreshold)
		assert.Equal(t, 3, cfg.Detector.KernelSize)
		assert.False(t, cfg.Tracker.ReemitOnReconfirm)
		assert.Equal(t, 0, cfg.Tracker.EvictAfter)
		assert.Equal(t, 0.65, cfg.Tracker.SimilarityThreshold)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("httpPort: [1, 2"))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalid)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Parse([]byte("detector:\n  kernelSize: 4\n"))
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"http port":          func(c *Config) { c.HTTPPort = 0 },
		"metrics port":       func(c *Config) { c.MetricsPort = 70000 },
		"port clash":         func(c *Config) { c.MetricsPort = c.HTTPPort },
		"max sessions":       func(c *Config) { c.MaxSessions = 0 },
		"idle timeout":       func(c *Config) { c.IdleTimeoutMs = -1 },
		"log mode":           func(c *Config) { c.LogMode = "verbose" },
		"log level":          func(c *Config) { c.LogLevel = "loud" },
		"instance class":     func(c *Config) { c.InstanceClass = "Tpu" },
		"reg server host":    func(c *Config) { c.UseRegServer, c.RegServerPort = true, 8000 },
		"reg server port":    func(c *Config) { c.UseRegServer, c.RegServerHost = true, "10.0.0.1" },
		"crop scale":         func(c *Config) { c.Detector.CropScale = 0 },
		"hash size":          func(c *Config) { c.Detector.HashSize = 1 },
		"similarity":         func(c *Config) { c.Tracker.SimilarityThreshold = 1.5 },
		"floor at promotion": func(c *Config) { c.Tracker.ConfidenceFloor = 3 },
		"decay":              func(c *Config) { c.Tracker.DecayStep = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	t.Run("metrics disabled", func(t *testing.T) {
		cfg := Default()
		cfg.MetricsPort = 0
		assert.NoError(t, cfg.Validate())
	})
}
