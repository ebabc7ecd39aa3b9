package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediasync/internal/conf"
	"mediasync/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
)

var _ transport.Server = (*Scheduler)(nil)

// Scheduler enqueues a full sync on the configured cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	client   *asynq.Client
	schedule string
	opts     []asynq.Option
	log      *log.Helper
}

// NewScheduler creates the cron scheduler. An empty schedule disables it.
func NewScheduler(data *conf.Data, c *conf.Worker, logger log.Logger) (*Scheduler, func(), error) {
	h := log.NewHelper(log.With(logger, "module", "server/scheduler"))
	s := &Scheduler{schedule: c.Schedule, log: h}
	if c.Schedule == "" {
		return s, func() {}, nil
	}
	opt, err := redisOpt(data)
	if err != nil {
		return nil, nil, err
	}

	s.client = asynq.NewClient(opt)
	s.cron = cron.New()
	s.opts = []asynq.Option{
		asynq.Queue(c.Queue),
		asynq.MaxRetry(c.MaxRetry),
		asynq.Timeout(c.TaskTimeout.AsDuration()),
		// a run still queued or active swallows the next tick
		asynq.Unique(c.TaskTimeout.AsDuration()),
	}
	if _, err := s.cron.AddFunc(c.Schedule, s.enqueue); err != nil {
		_ = s.client.Close()
		return nil, nil, fmt.Errorf("invalid worker schedule %q: %w", c.Schedule, err)
	}
	cleanup := func() {
		if err := s.client.Close(); err != nil {
			h.Errorf("failed to close asynq client: %v", err)
		}
	}
	return s, cleanup, nil
}

func (s *Scheduler) enqueue() {
	task, err := service.NewSyncTask(service.TaskSyncAll, &service.SyncRequest{Movies: true, Shows: true}, s.opts...)
	if err != nil {
		s.log.Errorf("failed to build scheduled task: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info, err := s.client.EnqueueContext(ctx, task)
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		s.log.Infof("scheduled sync skipped, previous run still pending")
	case err != nil:
		s.log.Errorf("failed to enqueue scheduled sync: %v", err)
	default:
		s.log.Infof("enqueued scheduled sync %s", info.ID)
	}
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron == nil {
		s.log.Info("no worker schedule configured")
		return nil
	}
	s.log.Infof("scheduling full sync at %q", s.schedule)
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running enqueue.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	return nil
}
