package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mediasync/internal/conf"
	"mediasync/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("mediasync/internal/biz")

// SyncConfig holds the tunables of the orchestrator.
type SyncConfig struct {
	MovieBatchSize   int
	ShowBatchSize    int
	EpisodeBatchSize int
	ItemWorkers      int
	Concurrent       bool
	LockTTL          time.Duration
	RunTimeout       time.Duration
}

// NewSyncConfig reads the orchestrator settings.
func NewSyncConfig(c *conf.Sync) *SyncConfig {
	cfg := &SyncConfig{
		MovieBatchSize:   c.MovieBatchSize,
		ShowBatchSize:    c.ShowBatchSize,
		EpisodeBatchSize: c.EpisodeBatchSize,
		ItemWorkers:      c.ItemWorkers,
		Concurrent:       c.Concurrent,
		LockTTL:          c.LockTTL.AsDuration(),
		RunTimeout:       c.RunTimeout.AsDuration(),
	}
	if cfg.MovieBatchSize <= 0 {
		cfg.MovieBatchSize = 100
	}
	if cfg.ShowBatchSize <= 0 {
		cfg.ShowBatchSize = 50
	}
	if cfg.EpisodeBatchSize <= 0 {
		cfg.EpisodeBatchSize = 100
	}
	if cfg.ItemWorkers <= 0 {
		cfg.ItemWorkers = 1
	}
	return cfg
}

// NewRetryPolicy builds the contention retry policy and counts every retry.
func NewRetryPolicy(c *conf.Sync, m *metrics.Metrics, logger log.Logger) RetryPolicy {
	p := DefaultRetryPolicy()
	if c.Retry != nil {
		if c.Retry.MaxAttempts > 0 {
			p.MaxAttempts = c.Retry.MaxAttempts
		}
		if c.Retry.BaseDelay > 0 {
			p.BaseDelay = c.Retry.BaseDelay.AsDuration()
		}
		if c.Retry.MaxJitter > 0 {
			p.MaxJitter = c.Retry.MaxJitter.AsDuration()
		}
	}
	h := log.NewHelper(log.With(logger, "module", "biz/retry"))
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		m.RetriesTotal.Inc()
		h.Warnf("storage busy, retry %d/%d in %s: %v", attempt, p.MaxAttempts-1, delay, err)
	}
	return p
}

// NewMergePolicy reads the configured merge policy.
func NewMergePolicy(c *conf.Sync) (MergePolicy, error) {
	return ParseMergePolicy(c.MergePolicy)
}

// RunOptions selects the streams of a run.
type RunOptions struct {
	Movies     bool
	Shows      bool
	Concurrent bool
}

// Totals counts batch outcomes for one media kind.
type Totals struct {
	Listed        int
	Created       int
	Updated       int
	Unchanged     int
	Skipped       int
	FailedBatches int
}

// StreamReport summarizes one stream of a run.
type StreamReport struct {
	Stream       string
	Items        Totals
	Episodes     Totals
	RolesCreated int
	RolesUpdated int
	Trailers     int
	Duration     time.Duration
	// Locked is set when another process was already running the stream.
	Locked bool
	Err    error

	mu sync.Mutex
}

func (r *StreamReport) update(fn func(r *StreamReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// Failed reports a stream that ran and did not complete.
func (r *StreamReport) Failed() bool {
	return r != nil && r.Err != nil && !r.Locked
}

// RunReport summarizes a run.
type RunReport struct {
	RunID    string
	Movies   *StreamReport
	Shows    *StreamReport
	Duration time.Duration
}

// AllFailed reports whether every stream that was selected failed.
func (r *RunReport) AllFailed() bool {
	streams := 0
	failed := 0
	for _, s := range []*StreamReport{r.Movies, r.Shows} {
		if s == nil {
			continue
		}
		streams++
		if s.Failed() {
			failed++
		}
	}
	return streams > 0 && failed == streams
}

// SyncUseCase orchestrates a sync run.
type SyncUseCase struct {
	catalog  CatalogSource
	media    MediaRepo
	tags     TagRepo
	locker   RunLocker
	resolver *EntityResolver
	writer   *BatchWriter
	roles    *RoleReconciler
	trailers *TrailerFetcher
	links    *LinkFetcher
	metrics  *metrics.Metrics
	cfg      *SyncConfig
	retry    RetryPolicy
	logger   log.Logger
	log      *log.Helper
}

// NewSyncUseCase creates a SyncUseCase.
func NewSyncUseCase(catalog CatalogSource, media MediaRepo, tags TagRepo, locker RunLocker,
	resolver *EntityResolver, writer *BatchWriter, roles *RoleReconciler, trailers *TrailerFetcher, links *LinkFetcher,
	m *metrics.Metrics, cfg *SyncConfig, retry RetryPolicy, logger log.Logger) *SyncUseCase {
	return &SyncUseCase{
		catalog:  catalog,
		media:    media,
		tags:     tags,
		locker:   locker,
		resolver: resolver,
		writer:   writer,
		roles:    roles,
		trailers: trailers,
		links:    links,
		metrics:  m,
		cfg:      cfg,
		retry:    retry,
		logger:   logger,
		log:      log.NewHelper(log.With(logger, "module", "biz/sync")),
	}
}

// Run executes one sync run. Stream failures are reported in the RunReport; the returned error
// is reserved for failures that prevent any stream from starting.
func (uc *SyncUseCase) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	if !opts.Movies && !opts.Shows {
		opts.Movies, opts.Shows = true, true
	}
	if uc.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.cfg.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	run, err := NewRunState(uc.tags, uc.retry, uc.logger)
	if err != nil {
		return nil, err
	}
	report := &RunReport{RunID: run.ID}

	ctx, span := tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.Bool("run.movies", opts.Movies),
		attribute.Bool("run.shows", opts.Shows),
	))
	defer span.End()

	run.Enter(PhasePreloading)
	n, err := run.Studios.Preload(ctx)
	run.Leave(PhasePreloading)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "preload failed")
		return report, err
	}
	uc.log.Infof("run %s preloaded %d studios", run.ID, n)

	var g errgroup.Group
	launch := func(fn func()) {
		if opts.Concurrent {
			g.Go(func() error { fn(); return nil })
			return
		}
		fn()
	}
	if opts.Movies {
		report.Movies = &StreamReport{Stream: "movies"}
		launch(func() { uc.runStream(ctx, run, PhaseSyncingMovies, report.Movies, uc.syncMovies) })
	}
	if opts.Shows {
		report.Shows = &StreamReport{Stream: "shows"}
		launch(func() { uc.runStream(ctx, run, PhaseSyncingShows, report.Shows, uc.syncShows) })
	}
	_ = g.Wait()

	run.Enter(PhaseFinalizing)
	report.Duration = time.Since(start)
	for _, s := range []*StreamReport{report.Movies, report.Shows} {
		if s == nil {
			continue
		}
		uc.log.Infow("msg", "sync stream finished",
			"stream", s.Stream,
			"listed", s.Items.Listed,
			"created", s.Items.Created,
			"updated", s.Items.Updated,
			"unchanged", s.Items.Unchanged,
			"skipped", s.Items.Skipped,
			"failed_batches", s.Items.FailedBatches,
			"episodes_created", s.Episodes.Created,
			"episodes_updated", s.Episodes.Updated,
			"roles_created", s.RolesCreated,
			"roles_updated", s.RolesUpdated,
			"trailers", s.Trailers,
			"duration", s.Duration.String(),
			"error", s.Err,
		)
	}
	if report.AllFailed() {
		span.SetStatus(codes.Error, "all streams failed")
	}
	run.Leave(PhaseFinalizing)
	uc.log.Infof("run %s finished in %s", run.ID, report.Duration)
	return report, nil
}

type streamFunc func(ctx context.Context, run *RunState, rep *StreamReport) error

func (uc *SyncUseCase) runStream(ctx context.Context, run *RunState, phase Phase, rep *StreamReport, fn streamFunc) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "sync.stream", trace.WithAttributes(attribute.String("stream", rep.Stream)))
	defer span.End()

	if uc.locker != nil {
		release, ok, err := uc.locker.Acquire(ctx, "mediasync:sync:"+rep.Stream, uc.cfg.LockTTL)
		switch {
		case err != nil:
			uc.log.Warnf("failed to acquire %s run lock, continuing without it: %v", rep.Stream, err)
		case !ok:
			uc.log.Warnf("%s sync already running elsewhere, skipping", rep.Stream)
			rep.Locked = true
			rep.Err = ErrStreamLocked
			return
		default:
			defer release()
		}
	}

	run.Enter(phase)
	defer run.Leave(phase)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s stream: %v", rep.Stream, r)
			}
		}()
		return fn(ctx, run, rep)
	}()
	rep.Duration = time.Since(start)
	uc.metrics.ObserveStream(rep.Stream, start, err)
	if err != nil {
		rep.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		uc.log.Errorf("%s sync stream failed: %v", rep.Stream, err)
	}
}

func (uc *SyncUseCase) syncMovies(ctx context.Context, run *RunState, rep *StreamReport) error {
	raws, err := uc.catalog.ListMovies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list movies: %w", err)
	}
	rep.update(func(r *StreamReport) { r.Items.Listed = len(raws) })
	uc.log.Infof("syncing %d movies", len(raws))

	for _, chunk := range chunks(raws, uc.cfg.MovieBatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		uc.syncBatch(ctx, run, KindMovie, chunk, nil, rep)
	}
	return nil
}

func (uc *SyncUseCase) syncShows(ctx context.Context, run *RunState, rep *StreamReport) error {
	raws, err := uc.catalog.ListShows(ctx)
	if err != nil {
		return fmt.Errorf("failed to list shows: %w", err)
	}
	rep.update(func(r *StreamReport) { r.Items.Listed = len(raws) })
	uc.log.Infof("syncing %d shows", len(raws))

	for _, chunk := range chunks(raws, uc.cfg.ShowBatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		shows := uc.syncBatch(ctx, run, KindShow, chunk, nil, rep)
		for _, s := range shows {
			if err := ctx.Err(); err != nil {
				return err
			}
			uc.syncEpisodes(ctx, run, s.item, s.raw, rep)
		}
	}
	return nil
}

func (uc *SyncUseCase) syncEpisodes(ctx context.Context, run *RunState, show *MediaItem, raw *RawMedia, rep *StreamReport) {
	eps, err := uc.catalog.ListEpisodes(ctx, raw)
	if err != nil {
		uc.log.Errorf("failed to list episodes of show %q (%s): %v", show.Title, show.StableKey, err)
		rep.update(func(r *StreamReport) { r.Episodes.FailedBatches++ })
		return
	}
	rep.update(func(r *StreamReport) { r.Episodes.Listed += len(eps) })
	for _, chunk := range chunks(eps, uc.cfg.EpisodeBatchSize) {
		if ctx.Err() != nil {
			return
		}
		uc.syncBatch(ctx, run, KindEpisode, chunk, show, rep)
	}
}

type syncedItem struct {
	item *MediaItem
	raw  *RawMedia
}

// syncBatch runs extract, resolve, write and per-item enrichment for one chunk. It returns the
// written items; a failed batch is logged and returns nothing.
func (uc *SyncUseCase) syncBatch(ctx context.Context, run *RunState, kind MediaKind, raws []*RawMedia, show *MediaItem, rep *StreamReport) []syncedItem {
	ctx, span := tracer.Start(ctx, "sync.batch", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Int("size", len(raws)),
	))
	defer span.End()

	totals := func(r *StreamReport) *Totals {
		if kind == KindEpisode {
			return &r.Episodes
		}
		return &r.Items
	}
	fail := func(err error) []syncedItem {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		uc.metrics.BatchesTotal.WithLabelValues(string(kind), "failed").Inc()
		rep.update(func(r *StreamReport) { totals(r).FailedBatches++ })
		return nil
	}

	items := make([]*MediaItem, 0, len(raws))
	rawByKey := make(map[string]*RawMedia, len(raws))
	skipped := 0
	for _, raw := range raws {
		item, err := ExtractMedia(kind, raw)
		if err != nil {
			uc.log.Warnf("skipping %s: %v", kind, err)
			skipped++
			continue
		}
		if kind == KindEpisode {
			item.ShowID = show.ID
		} else {
			studio, err := run.Studios.GetOrCreate(ctx, raw.Studio)
			if err != nil {
				uc.log.Warnf("studio of %s %q left empty: %v", kind, item.Title, err)
			} else if studio != nil {
				item.StudioID = &studio.ID
			}
		}
		items = append(items, item)
		if _, dup := rawByKey[item.StableKey]; !dup {
			rawByKey[item.StableKey] = raw
		}
	}

	resolved, err := uc.resolver.Resolve(ctx, kind, items)
	if err != nil {
		uc.log.Errorf("failed to resolve %s batch: %v", kind, err)
		rep.update(func(r *StreamReport) { totals(r).Skipped += skipped })
		return fail(err)
	}
	resolved.Skipped += skipped

	res, err := uc.writer.WriteBatch(ctx, resolved)
	if err != nil {
		var empty *EmptyBatchError
		if errors.As(err, &empty) {
			uc.log.Errorf("rejected %s batch: %v", kind, err)
		} else {
			uc.log.Errorf("%s batch of %d aborted and rolled back: %v", kind, len(raws), err)
		}
		rep.update(func(r *StreamReport) { totals(r).Skipped += resolved.Skipped })
		return fail(err)
	}

	uc.metrics.BatchesTotal.WithLabelValues(string(kind), "ok").Inc()
	uc.metrics.RecordsTotal.WithLabelValues(string(kind), "created").Add(float64(res.Created))
	uc.metrics.RecordsTotal.WithLabelValues(string(kind), "updated").Add(float64(res.Updated))
	uc.metrics.RecordsTotal.WithLabelValues(string(kind), "unchanged").Add(float64(res.Unchanged))
	uc.metrics.RecordsTotal.WithLabelValues(string(kind), "skipped").Add(float64(res.Skipped))
	rep.update(func(r *StreamReport) {
		t := totals(r)
		t.Created += res.Created
		t.Updated += res.Updated
		t.Unchanged += res.Unchanged
		t.Skipped += res.Skipped
	})
	uc.log.Infof("%s batch written: %d created, %d updated, %d unchanged, %d skipped",
		kind, res.Created, res.Updated, res.Unchanged, res.Skipped)

	written := make([]syncedItem, 0, len(resolved.Items))
	var g errgroup.Group
	g.SetLimit(uc.cfg.ItemWorkers)
	for _, item := range resolved.Items {
		item, raw := item, rawByKey[item.StableKey]
		written = append(written, syncedItem{item: item, raw: raw})
		g.Go(func() error {
			uc.syncItem(ctx, run, item, raw, show, rep)
			return nil
		})
	}
	_ = g.Wait()
	return written
}

// syncItem enriches one written item. Failures never leave this function.
func (uc *SyncUseCase) syncItem(ctx context.Context, run *RunState, item *MediaItem, raw *RawMedia, show *MediaItem, rep *StreamReport) {
	defer func() {
		if r := recover(); r != nil {
			uc.log.Errorw("msg", "panic while processing item",
				"kind", string(item.Kind), "title", item.Title, "stable_key", item.StableKey, "id", item.ID, "panic", r)
		}
	}()

	if item.Kind != KindEpisode && len(raw.Genres) > 0 {
		if err := uc.syncGenres(ctx, run, item, raw.Genres); err != nil {
			uc.log.Warnf("genres of %s %q not updated: %v", item.Kind, item.Title, err)
		}
	}

	created, updated := uc.roles.ReconcileRoles(ctx, run, item, CastQueryFor(item, show), raw.Credits)
	uc.metrics.RolesTotal.WithLabelValues("created").Add(float64(created))
	uc.metrics.RolesTotal.WithLabelValues("updated").Add(float64(updated))
	rep.update(func(r *StreamReport) {
		r.RolesCreated += created
		r.RolesUpdated += updated
	})

	if item.Kind == KindMovie {
		if err := uc.links.FetchLinks(ctx, run, item); err != nil {
			uc.log.Warnf("links of movie %q not updated: %v", item.Title, err)
		}
	}

	if item.Kind == KindEpisode {
		return
	}
	had := item.TrailerURL != nil
	url, err := uc.trailers.FetchTrailerURL(ctx, run, item)
	switch {
	case err != nil:
		uc.metrics.TrailersTotal.WithLabelValues("error").Inc()
		uc.log.Errorf("trailer of %s %q: %v", item.Kind, item.Title, err)
	case had:
		uc.metrics.TrailersTotal.WithLabelValues("existing").Inc()
	case url == "":
		uc.metrics.TrailersTotal.WithLabelValues("missing").Inc()
	default:
		uc.metrics.TrailersTotal.WithLabelValues("found").Inc()
		rep.update(func(r *StreamReport) { r.Trailers++ })
	}
}

func (uc *SyncUseCase) syncGenres(ctx context.Context, run *RunState, item *MediaItem, names []string) error {
	ids, err := run.Genres.ResolveAll(ctx, names)
	if err != nil {
		return err
	}
	return Retry(ctx, uc.retry, func(ctx context.Context) error {
		return uc.media.SetGenres(ctx, item.Ref(), ids)
	})
}

func chunks[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
