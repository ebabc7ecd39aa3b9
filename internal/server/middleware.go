package server

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hibiken/asynq"
)

// RecoveryMiddleware turns a panicking task into a failed one
func RecoveryMiddleware(logger log.Logger) asynq.MiddlewareFunc {
	h := log.NewHelper(log.With(logger, "module", "server/recovery"))
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) (err error) {
			defer func() {
				if r := recover(); r != nil {
					h.Errorf("task %s panicked: %v\n%s", t.Type(), r, debug.Stack())
					err = fmt.Errorf("task %s panicked: %v", t.Type(), r)
				}
			}()
			return next.ProcessTask(ctx, t)
		})
	}
}

// LoggingMiddleware logs the start, outcome and latency of every task
func LoggingMiddleware(logger log.Logger) asynq.MiddlewareFunc {
	h := log.NewHelper(log.With(logger, "module", "server/task"))
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			id, _ := asynq.GetTaskID(ctx)
			retried, _ := asynq.GetRetryCount(ctx)
			start := time.Now()
			h.Infow("msg", "task started", "type", t.Type(), "id", id, "retry", retried)

			err := next.ProcessTask(ctx, t)
			if err != nil {
				h.Errorw("msg", "task failed", "type", t.Type(), "id", id, "latency", time.Since(start).String(), "error", err)
				return err
			}
			h.Infow("msg", "task finished", "type", t.Type(), "id", id, "latency", time.Since(start).String())
			return nil
		})
	}
}
