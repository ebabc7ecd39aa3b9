package service

import (
	"context"
	"encoding/json"
	"fmt"

	"mediasync/internal/biz"
	"mediasync/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/hibiken/asynq"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewSyncService)

// Task types handled by the worker.
const (
	TaskSyncMovies = "sync:movies"
	TaskSyncShows  = "sync:shows"
	TaskSyncAll    = "sync:all"
)

// SyncRequest selects what a run syncs. It is also the task payload.
type SyncRequest struct {
	Movies     bool `json:"movies"`
	Shows      bool `json:"shows"`
	Sequential bool `json:"sequential"`
}

// SyncService exposes sync runs to the CLI and the task worker
type SyncService struct {
	uc         *biz.SyncUseCase
	metrics    *metrics.Metrics
	concurrent bool
	log        *log.Helper
}

// NewSyncService creates a new SyncService
func NewSyncService(uc *biz.SyncUseCase, m *metrics.Metrics, cfg *biz.SyncConfig, logger log.Logger) *SyncService {
	return &SyncService{
		uc:         uc,
		metrics:    m,
		concurrent: cfg.Concurrent,
		log:        log.NewHelper(log.With(logger, "module", "service/sync")),
	}
}

// Sync runs one sync and pushes the run metrics.
func (s *SyncService) Sync(ctx context.Context, req *SyncRequest) (*biz.RunReport, error) {
	report, err := s.uc.Run(ctx, biz.RunOptions{
		Movies:     req.Movies,
		Shows:      req.Shows,
		Concurrent: s.concurrent && !req.Sequential,
	})
	if perr := s.metrics.Push(ctx); perr != nil {
		s.log.Warnf("failed to push metrics: %v", perr)
	}
	if err != nil {
		return report, fmt.Errorf("sync run failed: %w", err)
	}
	return report, nil
}

// NewSyncTask builds the task of the given type.
func NewSyncTask(taskType string, req *SyncRequest, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(taskType, payload, opts...), nil
}

// ProcessTask runs the sync a task asks for. A run where every stream failed is returned as an
// error so the queue retries it.
func (s *SyncService) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var req SyncRequest
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &req); err != nil {
			return fmt.Errorf("invalid %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
	}
	switch t.Type() {
	case TaskSyncMovies:
		req.Movies, req.Shows = true, false
	case TaskSyncShows:
		req.Movies, req.Shows = false, true
	case TaskSyncAll:
		req.Movies, req.Shows = true, true
	default:
		return fmt.Errorf("unknown task type %q: %w", t.Type(), asynq.SkipRetry)
	}

	report, err := s.Sync(ctx, &req)
	if err != nil {
		return err
	}
	if report.AllFailed() {
		return fmt.Errorf("run %s: every stream failed", report.RunID)
	}
	return nil
}
