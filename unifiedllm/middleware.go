package unifiedllm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every completion with its model, duration and
// finish reason. Aborted calls are logged at debug level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("provider", req.Provider),
			zap.String("model", req.Model),
			zap.Int("messages", len(req.Messages)),
			zap.Duration("duration", time.Since(start)),
		}
		switch {
		case err != nil && IsAbort(err):
			logger.Debug("completion aborted", fields...)
		case err != nil:
			logger.Warn("completion failed", append(fields, zap.Error(err), zap.Bool("retryable", IsRetryable(err)))...)
		default:
			logger.Debug("completion finished", append(fields,
				zap.String("finish_reason", resp.FinishReason.Reason),
				zap.Int("output_tokens", resp.Usage.OutputTokens),
			)...)
		}
		return resp, err
	}
}
