package service

import (
	"context"
	"log/slog"

	"github.com/Sentinel-Gate/aiwaf/internal/ctxkey"
)

// loggerFromContext returns the request-scoped logger stored by the HTTP
// middleware, or fallback when there is none.
func loggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}
