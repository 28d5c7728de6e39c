package config

import (
	"CardDetServer/engine"
	"CardDetServer/tracker"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 服务配置（config.yaml）
type Config struct {
	HTTPPort      int    `yaml:"httpPort"`
	MetricsPort   int    `yaml:"metricsPort"`
	MaxSessions   int    `yaml:"maxSessions"`
	IdleTimeoutMs int    `yaml:"idleTimeoutMs"`
	LogMode       string `yaml:"logMode"`
	LogLevel      string `yaml:"logLevel"`
	StorePath     string `yaml:"storePath"`
	UseRegServer  bool   `yaml:"useRegServer"`
	RegServerHost string `yaml:"regServerHost"`
	RegServerPort int    `yaml:"regServerPort"`
	InstanceClass string `yaml:"instanceClass"`

	Detector engine.Params  `yaml:"detector"`
	Tracker  tracker.Config `yaml:"tracker"`
}

func Default() Config {
	return Config{
		HTTPPort:      8080,
		MetricsPort:   9090,
		MaxSessions:   4,
		IdleTimeoutMs: 5000,
		LogMode:       "production",
		LogLevel:      "info",
		InstanceClass: "Cpu",
		Detector:      engine.DefaultParams(),
		Tracker:       tracker.BaseConfig,
	}
}

// Load reads a yaml file over the defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IdleTimeout is zero when idle release is disabled.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}
