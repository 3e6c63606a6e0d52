package logging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WrapHandler wraps a handler function with context logging. The request id
// is taken from ctx or generated when absent, and is visible to the handler
// through RequestIDFromContext.
func WrapHandler[P, R any](logger Logger, operation string, handler func(context.Context, P) (R, error)) func(context.Context, P) (R, error) {
	return func(ctx context.Context, params P) (R, error) {
		requestID := RequestIDFromContext(ctx)
		if requestID == "" {
			requestID = uuid.New().String()
			ctx = ContextWithRequestID(ctx, requestID)
		}

		opLogger := logger.WithFields(
			String("request_id", requestID),
			String("operation", operation),
		)

		opLogger.Debug("Operation started")

		start := time.Now()
		result, err := handler(ctx, params)
		duration := time.Since(start)

		if err != nil {
			opLogger.WithError(err).WithFields(
				Duration("duration", duration),
			).Error("Operation failed")
		} else {
			opLogger.WithFields(
				Duration("duration", duration),
			).Debug("Operation completed")
		}

		return result, err
	}
}
