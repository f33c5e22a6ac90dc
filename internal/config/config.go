// Package config loads Conductor settings from defaults, a YAML config file
// and CONDUCTOR_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/conductor/internal/logging"
	"github.com/fentz26/conductor/internal/orchestrator"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is prepended to every environment override, e.g.
// CONDUCTOR_STATE_BACKEND.
const EnvPrefix = "CONDUCTOR"

// Config holds all configuration for Conductor.
type Config struct {
	Listen       string             `mapstructure:"listen"`
	Log          logging.Config     `mapstructure:"log"`
	State        StateConfig        `mapstructure:"state"`
	Classifier   ClassifierConfig   `mapstructure:"classifier"`
	Bus          BusConfig          `mapstructure:"bus"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Templates    TemplatesConfig    `mapstructure:"templates"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
}

// StateConfig selects where workflow instances are persisted.
type StateConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	DBPath  string `mapstructure:"db_path"`
}

// ClassifierConfig holds routing settings.
type ClassifierConfig struct {
	MinScore  int    `mapstructure:"min_score"`
	RulesPath string `mapstructure:"rules_path"`
}

// BusConfig holds message bus settings.
type BusConfig struct {
	MaxDepth       int           `mapstructure:"max_depth"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// OrchestratorConfig holds task handling settings.
type OrchestratorConfig struct {
	DefaultAgent string `mapstructure:"default_agent"`
}

// TemplatesConfig points at an optional template document.
type TemplatesConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig enables the event mirror when URL is set.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// ExecutorConfig holds workflow execution settings.
type ExecutorConfig struct {
	MaxInFlight int    `mapstructure:"max_in_flight"`
	WorkDir     string `mapstructure:"work_dir"`
}

// Load reads configuration. Precedence (highest to lowest):
//  1. Environment variables (CONDUCTOR_*)
//  2. The file at path, when given
//  3. ~/.conductor/config.yaml
//  4. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DataDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading user config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.State.Dir = expandHome(cfg.State.Dir)
	cfg.State.DBPath = expandHome(cfg.State.DBPath)
	cfg.Log.File = expandHome(cfg.Log.File)
	cfg.Templates.Path = expandHome(cfg.Templates.Path)
	cfg.Classifier.RulesPath = expandHome(cfg.Classifier.RulesPath)

	return cfg, nil
}

// Validate rejects settings the runtime cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	switch c.State.Backend {
	case orchestrator.BackendFile:
		if c.State.Dir == "" {
			errs = append(errs, errors.New("state.dir is required for the file backend"))
		}
	case orchestrator.BackendSQLite:
		if c.State.DBPath == "" {
			errs = append(errs, errors.New("state.db_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state.backend %q", c.State.Backend))
	}
	if c.Classifier.MinScore < 1 {
		errs = append(errs, fmt.Errorf("classifier.min_score must be at least 1, got %d", c.Classifier.MinScore))
	}
	if c.Bus.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("bus.max_depth must be at least 1, got %d", c.Bus.MaxDepth))
	}
	if c.Bus.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("bus.default_timeout must be positive, got %s", c.Bus.DefaultTimeout))
	}
	if c.Executor.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("executor.max_in_flight must not be negative, got %d", c.Executor.MaxInFlight))
	}
	switch c.Log.Format {
	case logging.FormatHuman, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// RuntimeOptions translates the configuration into orchestrator options.
func (c *Config) RuntimeOptions(logger *zap.Logger) orchestrator.Options {
	return orchestrator.Options{
		StateBackend:  c.State.Backend,
		StateDir:      c.State.Dir,
		DBPath:        c.State.DBPath,
		MinScore:      c.Classifier.MinScore,
		RulesPath:     c.Classifier.RulesPath,
		TemplatesPath: c.Templates.Path,
		MaxDepth:      c.Bus.MaxDepth,
		BusTimeout:    c.Bus.DefaultTimeout,
		DefaultAgent:  c.Orchestrator.DefaultAgent,
		MaxInFlight:   c.Executor.MaxInFlight,
		RedisURL:      c.Redis.URL,
		WorkDir:       c.Executor.WorkDir,
		Logger:        logger,
	}
}

func setDefaults(v *viper.Viper) {
	dataDir := DataDir()

	v.SetDefault("listen", "127.0.0.1:7466")

	v.SetDefault("log.debug", false)
	v.SetDefault("log.format", logging.FormatHuman)
	v.SetDefault("log.file", "")

	v.SetDefault("state.backend", orchestrator.BackendFile)
	v.SetDefault("state.dir", filepath.Join(dataDir, "workflows"))
	v.SetDefault("state.db_path", filepath.Join(dataDir, "conductor.db"))

	v.SetDefault("classifier.min_score", 3)
	v.SetDefault("classifier.rules_path", "")

	v.SetDefault("bus.max_depth", 5)
	v.SetDefault("bus.default_timeout", "30s")

	v.SetDefault("orchestrator.default_agent", "general-purpose")
	v.SetDefault("templates.path", "")
	v.SetDefault("redis.url", "")

	v.SetDefault("executor.max_in_flight", 0)
	v.SetDefault("executor.work_dir", ".")
}

// DataDir returns ~/.conductor.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".conductor")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
