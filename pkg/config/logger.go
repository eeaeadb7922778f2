package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the *zap.Logger a running node wires into
// dbft.Config and the consensus actor, honoring LogPath/LogLevel. An
// empty LogPath logs to stderr, matching zap.NewProduction's default
// sink; a non-empty one is added as an additional output path.
func NewLogger(cfg ApplicationConfiguration) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, err
		}
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.LogPath != "" {
		zc.OutputPaths = append(zc.OutputPaths, cfg.LogPath)
	}

	return zc.Build()
}
