package config

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap/zapcore"
)

var ErrInvalid = errors.New("invalid config")

var (
	logModes        = []string{"production", "development"}
	instanceClasses = []string{"Dml", "Cpu", "Cuda", "Rocm"}
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func (c Config) Validate() error {
	if !validPort(c.HTTPPort) {
		return invalid("httpPort out of range: %d", c.HTTPPort)
	}
	if c.MetricsPort != 0 && !validPort(c.MetricsPort) {
		return invalid("metricsPort out of range: %d", c.MetricsPort)
	}
	if c.MetricsPort == c.HTTPPort {
		return invalid("metricsPort and httpPort are both %d", c.HTTPPort)
	}
	if c.MaxSessions < 1 {
		return invalid("maxSessions must be at least 1, got %d", c.MaxSessions)
	}
	if c.IdleTimeoutMs < 0 {
		return invalid("idleTimeoutMs must not be negative, got %d", c.IdleTimeoutMs)
	}
	if !slices.Contains(logModes, c.LogMode) {
		return invalid("logMode must be one of %v, got %q", logModes, c.LogMode)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return invalid("logLevel: %v", err)
	}
	if !slices.Contains(instanceClasses, c.InstanceClass) {
		return invalid("instanceClass must be one of %v, got %q", instanceClasses, c.InstanceClass)
	}
	if c.UseRegServer {
		if c.RegServerHost == "" {
			return invalid("regServerHost is required when useRegServer is set")
		}
		if !validPort(c.RegServerPort) {
			return invalid("regServerPort out of range: %d", c.RegServerPort)
		}
	}
	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("%w: detector: %v", ErrInvalid, err)
	}
	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("%w: tracker: %v", ErrInvalid, err)
	}
	return nil
}
