package observability

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/upb/enforcement-gate/config"
	"go.uber.org/zap"
)

// NewLogger builds a zap logger from LOG_LEVEL and LOG_FORMAT.
// "console" selects the human-readable development encoder; anything else is json.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" || cfg.LogFormat == "text" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.With(zap.String("service", "enforcement-gate")), nil
}

// ForRequest returns a child logger carrying the request id assigned by the router
func ForRequest(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		return logger.With(zap.String("request_id", reqID))
	}
	return logger
}
