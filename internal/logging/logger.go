// Package logging builds the structured loggers used across patina.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Modes accepted by New.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
	ModeQuiet       = "quiet"
)

// New builds a logger for mode. Development logs are human readable with
// coloured levels; production logs are JSON with a "timestamp" key; quiet
// discards everything.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch mode {
	case ModeProduction, "release":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
	case ModeDevelopment, "debug", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case ModeQuiet:
		return zap.NewNop(), nil
	default:
		return nil, fmt.Errorf("unknown log mode %q", mode)
	}
	// Keep stdout free for command output.
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// WithOperation enriches the logger with operation and analysis identifiers.
func WithOperation(logger *zap.Logger, operation, analysisID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if analysisID != "" {
		fields = append(fields, zap.String("analysis_id", analysisID))
	}
	return logger.With(fields...)
}
