package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the property service daemon. The
// accounting parameters themselves live in the core TOML config referenced by
// CorePath.
type Config struct {
	ListenAddress string           `yaml:"listen"`
	CorePath      string           `yaml:"core"`
	Automation    AutomationConfig `yaml:"automation"`
	Shutdown      ShutdownConfig   `yaml:"shutdown"`
}

// AutomationConfig toggles the background task runner.
type AutomationConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ShutdownConfig bounds graceful teardown.
type ShutdownConfig struct {
	GraceSeconds uint64 `yaml:"grace_seconds"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8080",
		Automation:    AutomationConfig{Enabled: true},
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	cfg.CorePath = strings.TrimSpace(cfg.CorePath)
	if cfg.Shutdown.GraceSeconds == 0 {
		cfg.Shutdown.GraceSeconds = 5
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.CorePath == "" {
		return fmt.Errorf("core config path required")
	}
	return nil
}
