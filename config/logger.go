package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Logs go to stderr so they never
// mix with conversation output on stdout.
func (l LoggingConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(l.Level))
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}

	var cfg zap.Config
	switch strings.ToLower(l.Format) {
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
