// Package config loads dockhand client settings from a YAML file, dotenv files and the
// environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost    = "unix:///var/run/docker.sock"
	DefaultTimeout = 60 * time.Second
)

// Environment variables that override file settings.
const (
	EnvHost       = "DOCKER_HOST"
	EnvAPIVersion = "DOCKER_API_VERSION"
	EnvTimeout    = "DOCKHAND_TIMEOUT"
	EnvSpoolDir   = "DOCKHAND_SPOOL_DIR"
	EnvLogLevel   = "DOCKHAND_LOG_LEVEL"
	EnvLogFile    = "DOCKHAND_LOG_FILE"
)

type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	Build   BuildConfig   `yaml:"build"`
	Logging LoggingConfig `yaml:"logging"`
}

type DaemonConfig struct {
	Host       string        `yaml:"host"`
	APIVersion string        `yaml:"api_version"` // empty: unversioned paths
	Timeout    time.Duration `yaml:"timeout"`
}

type BuildConfig struct {
	SpoolDir string `yaml:"spool_dir"` // where build archives are staged; empty: os.TempDir()
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Host:    DefaultHost,
			Timeout: DefaultTimeout,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds a Config from defaults, the optional YAML file at path, the optional dotenv
// files and finally the process environment. A missing path is not an error.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if len(envFiles) > 0 {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("failed to load env files: %w", err)
		}
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment overrides to cfg.
func LoadFromEnv(cfg *Config) error {
	if host := os.Getenv(EnvHost); host != "" {
		cfg.Daemon.Host = host
	}
	if v := os.Getenv(EnvAPIVersion); v != "" {
		cfg.Daemon.APIVersion = v
	}
	if t := os.Getenv(EnvTimeout); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvTimeout, t, err)
		}
		cfg.Daemon.Timeout = d
	}
	if dir := os.Getenv(EnvSpoolDir); dir != "" {
		cfg.Build.SpoolDir = dir
	}
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if f := os.Getenv(EnvLogFile); f != "" {
		cfg.Logging.File = f
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Daemon.Host == "" {
		return errors.New("config: daemon host is required")
	}
	if c.Daemon.Timeout < 0 {
		return errors.New("config: daemon timeout must not be negative")
	}
	return nil
}
