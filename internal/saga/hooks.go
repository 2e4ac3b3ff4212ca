package saga

import (
	"context"
	"log/slog"
	"time"
)

// Hooks observe execution. Every field is optional. Hooks run synchronously
// on the executing goroutine; a panicking hook is recovered and logged so it
// cannot break the saga.
type Hooks struct {
	OnStepStarted        func(ctx context.Context, step string)
	OnStepCompleted      func(ctx context.Context, step string, took time.Duration)
	OnStepRetry          func(ctx context.Context, step string, attempt int, err error)
	OnStepFailed         func(ctx context.Context, step string, err error)
	OnCompensated        func(ctx context.Context, step string)
	OnCompensationFailed func(ctx context.Context, step string, err error)
}

func (s *Saga) emit(ctx context.Context, logger *slog.Logger, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.ErrorContext(ctx, "saga hook panicked",
				slog.String("saga_id", s.id),
				slog.String("hook", hook),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}
