package server

import (
	"context"

	"mediasync/internal/conf"
	"mediasync/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/hibiken/asynq"
)

var _ transport.Server = (*JobServer)(nil)

// JobServer consumes sync tasks from the asynq queue.
type JobServer struct {
	srv *asynq.Server
	mux *asynq.ServeMux
	log *log.Helper
}

// NewJobServer creates the task server and registers the sync handlers.
func NewJobServer(data *conf.Data, c *conf.Worker, svc *service.SyncService, logger log.Logger) (*JobServer, error) {
	opt, err := redisOpt(data)
	if err != nil {
		return nil, err
	}
	h := log.NewHelper(log.With(logger, "module", "server/job"))
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: c.Concurrency,
		Queues:      map[string]int{c.Queue: 1},
		Logger:      asynqLogger{h},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			h.Warnf("task %s failed (retry %d/%d): %v", t.Type(), retried, maxRetry, err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.Use(RecoveryMiddleware(logger), LoggingMiddleware(logger))
	mux.HandleFunc(service.TaskSyncMovies, svc.ProcessTask)
	mux.HandleFunc(service.TaskSyncShows, svc.ProcessTask)
	mux.HandleFunc(service.TaskSyncAll, svc.ProcessTask)

	return &JobServer{srv: srv, mux: mux, log: h}, nil
}

// Start begins processing tasks. It returns once the workers are running.
func (s *JobServer) Start(ctx context.Context) error {
	s.log.Info("job server starting")
	return s.srv.Start(s.mux)
}

// Stop waits for running tasks and shuts the workers down.
func (s *JobServer) Stop(ctx context.Context) error {
	s.log.Info("job server stopping")
	s.srv.Shutdown()
	return nil
}

// asynqLogger routes asynq's own logging through kratos.
type asynqLogger struct {
	h *log.Helper
}

func (l asynqLogger) Debug(args ...interface{}) { l.h.Debug(args...) }
func (l asynqLogger) Info(args ...interface{})  { l.h.Info(args...) }
func (l asynqLogger) Warn(args ...interface{})  { l.h.Warn(args...) }
func (l asynqLogger) Error(args ...interface{}) { l.h.Error(args...) }
func (l asynqLogger) Fatal(args ...interface{}) { l.h.Fatal(args...) }
