// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log formats.
const (
	FormatHuman = "human"
	FormatJSON  = "json"
)

// Config contains configuration for the logger.
type Config struct {
	Debug  bool   `mapstructure:"debug"`
	Format string `mapstructure:"format"` // "json" or "human"
	File   string `mapstructure:"file"`   // optional, in addition to stderr
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{Format: FormatHuman}
}

// New builds a logger. Logs go to stderr so command output on stdout stays
// machine readable.
func New(cfg Config) (*zap.Logger, error) {
	var zapConfig zap.Config

	switch cfg.Format {
	case FormatJSON:
		zapConfig = zap.NewProductionConfig()
	case FormatHuman, "":
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	outputPaths := []string{"stderr"}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		outputPaths = append(outputPaths, cfg.File)
	}
	zapConfig.OutputPaths = outputPaths
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	if cfg.Debug {
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
