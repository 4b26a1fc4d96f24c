package runtime

import (
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a slog.Logger backed by zap. "production" selects the JSON
// encoder at info level; anything else gets the colored console encoder at debug.
func NewLogger(service, env string) *slog.Logger {
	var cfg zap.Config
	if strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.OutputPaths = []string{"stdout"}

	zl, err := cfg.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}

	h := zapslog.NewHandler(zl.Core(), zapslog.WithName(service))
	return slog.New(h).With("service", service)
}

// NopLogger discards everything. Used by tests and library defaults.
func NopLogger() *slog.Logger {
	return slog.New(zapslog.NewHandler(zapcore.NewNopCore()))
}
