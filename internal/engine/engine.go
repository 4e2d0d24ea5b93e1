// Package engine moves media items through the acquisition pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/cache"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/debrid"
	"github.com/jon4hz/jellyfetch/internal/matcher"
	"github.com/jon4hz/jellyfetch/internal/mediaserver"
	"github.com/jon4hz/jellyfetch/internal/metadata"
	"github.com/jon4hz/jellyfetch/internal/metrics"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/jon4hz/jellyfetch/internal/scheduler"
	"github.com/jon4hz/jellyfetch/internal/scraper"
	"github.com/jon4hz/jellyfetch/internal/source"
	"github.com/jon4hz/jellyfetch/internal/symlink"
	"github.com/jon4hz/jellyfetch/internal/verify"
)

const (
	defaultBatchSize   = 25
	defaultWakeLimit   = 24
	defaultSleepBase   = 30 * time.Minute
	defaultSleepCap    = 24 * time.Hour
	defaultCheckPeriod = time.Hour
	defaultUncachedTTL = 24 * time.Hour
	defaultIDLimit     = 10
	// tmdbRequestsPerSecond throttles the anime resolver when tmdb has no explicit limit.
	tmdbRequestsPerSecond = 4
)

// Deps are the collaborators of the engine. Scrapers, Debrid and Resolver are required.
type Deps struct {
	Scrapers  *scraper.Pool
	Debrid    *debrid.Client
	Resolver  metadata.Resolver
	Server    mediaserver.Server
	Sources   []source.Source
	Limiter   *ratelimit.Limiter
	Cache     *cache.Manager
	Notifiers []Notifier
}

// Engine owns the queues and every transition between them.
type Engine struct {
	cfg       *config.Config
	db        database.DB
	scrapers  *scraper.Pool
	debrid    *debrid.Client
	matcher   *matcher.Matcher
	links     *symlink.Manager
	server    mediaserver.Server
	resolver  metadata.Resolver
	expander  *source.Expander
	sources   []source.Source
	limiter   *ratelimit.Limiter
	cache     *cache.Manager
	notifiers []Notifier
	release   *ReleaseGate
	scheduler *scheduler.Scheduler

	symlinkWorker *verify.SymlinkWorker
	removalWorker *verify.RemovalWorker

	events chan Event
	now    func() time.Time

	mu     sync.RWMutex
	status Status
}

// New creates an Engine and registers its jobs.
func New(cfg *config.Config, db database.DB, deps Deps) (*Engine, error) {
	if deps.Scrapers == nil || deps.Debrid == nil || deps.Resolver == nil {
		return nil, errors.New("engine needs scrapers, a debrid client and a metadata resolver")
	}

	var taskTimeout time.Duration
	if cfg.Schedule != nil {
		taskTimeout = cfg.Schedule.TaskTimeout
	}
	sched, err := scheduler.New(taskTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	opts := []symlink.Option{}
	if deps.Server != nil {
		opts = append(opts, symlink.WithMediaServer(deps.Server))
	}
	if cfg.AnimeRenaming && deps.Cache != nil {
		rps := float64(tmdbRequestsPerSecond)
		if cfg.TMDB != nil && cfg.TMDB.RequestsPerSecond > 0 {
			rps = cfg.TMDB.RequestsPerSecond
		}
		opts = append(opts, symlink.WithAnimeRenamer(symlink.NewAnimeRenamer(deps.Resolver, deps.Cache, rps)))
	}

	verification := cfg.Verification
	if verification == nil {
		verification = &config.VerificationConfig{}
	}

	e := &Engine{
		cfg:           cfg,
		db:            db,
		scrapers:      deps.Scrapers,
		debrid:        deps.Debrid,
		matcher:       matcher.New(cfg.FileManagement),
		links:         symlink.New(cfg, db, deps.Debrid, opts...),
		server:        deps.Server,
		resolver:      deps.Resolver,
		expander:      source.NewExpander(deps.Resolver, cfg),
		sources:       deps.Sources,
		limiter:       deps.Limiter,
		cache:         deps.Cache,
		notifiers:     deps.Notifiers,
		release:       NewReleaseGate(cfg),
		scheduler:     sched,
		symlinkWorker: verify.NewSymlinkWorker(db, deps.Server, verification),
		removalWorker: verify.NewRemovalWorker(db, deps.Server, verification),
		events:        make(chan Event, eventBuffer),
		now:           time.Now,
	}
	sched.SetGate(e.gate)

	if err := e.setupJobs(); err != nil {
		return nil, fmt.Errorf("failed to setup jobs: %w", err)
	}
	return e, nil
}

// GetScheduler returns the scheduler instance for API access.
func (e *Engine) GetScheduler() *scheduler.Scheduler {
	return e.scheduler
}

// Expander returns the request expander used by manual adds.
func (e *Engine) Expander() *source.Expander {
	return e.expander
}

// Run sweeps orphan torrents, starts the scheduler and the event consumer and
// blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if s := e.CheckHealth(ctx); s.Degraded {
		log.Warn("starting in degraded mode", "reasons", s.Reasons)
	} else if _, err := e.SweepOrphans(ctx); err != nil {
		log.Error("startup orphan sweep failed", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.consume(ctx)
	}()

	e.scheduler.Start()
	<-ctx.Done()
	wg.Wait()
	return nil
}

// Close stops the engine and cleans up resources.
func (e *Engine) Close() error {
	return e.scheduler.Stop()
}

// SweepOrphans removes provider torrents that no item references.
func (e *Engine) SweepOrphans(ctx context.Context) (int, error) {
	referenced, err := e.db.GetReferencedTorrentIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load referenced torrents: %w", err)
	}
	n, err := e.debrid.SweepOrphans(ctx, referenced)
	if err != nil {
		return n, err
	}
	if n > 0 {
		log.Info("orphan sweep finished", "removed", n)
	}
	return n, nil
}

func (e *Engine) pipeline() *config.PipelineConfig {
	if e.cfg.Pipeline == nil {
		return &config.PipelineConfig{}
	}
	return e.cfg.Pipeline
}

func (e *Engine) batchSize() int {
	if n := e.pipeline().BatchSize; n > 0 {
		return n
	}
	return defaultBatchSize
}

func (e *Engine) wakeLimit() int {
	if n := e.pipeline().WakeLimit; n > 0 {
		return n
	}
	return defaultWakeLimit
}

// sleepFor returns min(base * 2^wake, cap).
func (e *Engine) sleepFor(wake int) time.Duration {
	p := e.pipeline()
	base, limit := p.SleepBase, p.SleepCap
	if base <= 0 {
		base = defaultSleepBase
	}
	if limit <= 0 {
		limit = defaultSleepCap
	}
	d := base
	for range wake {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// move commits one conditional transition and publishes it. A concurrent
// change of the item is reported as database.ErrStale.
func (e *Engine) move(ctx context.Context, item *database.MediaItem, to database.State, fields database.Fields, reason string) error {
	from := item.State
	if err := e.db.ApplyTransitions(ctx, []database.Transition{{ID: item.ID, From: from, State: to, Fields: fields}}); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", item.String(), to, err)
	}
	path, _ := fields["location_on_disk"].(string)
	e.transitioned(item, from, to, reason, path)
	item.State = to
	return nil
}

// backoff handles an item without usable results: it sleeps with exponential
// backoff, or is blacklisted once the wake limit is exceeded.
func (e *Engine) backoff(ctx context.Context, item *database.MediaItem, reason string, extra database.Fields) error {
	wake := item.WakeCount + 1
	fields := database.Fields{"wake_count": wake, "scrape_results": database.ScrapeResults{}}
	for k, v := range extra {
		fields[k] = v
	}
	if wake > e.wakeLimit() {
		fields["blacklist_reason"] = fmt.Sprintf("%s after %d wakes", reason, wake)
		return e.move(ctx, item, database.StateBlacklisted, fields, reason)
	}
	fields["sleep_until"] = e.now().Add(e.sleepFor(wake))
	return e.move(ctx, item, database.StateSleeping, fields, reason)
}

// blacklist moves item to Blacklisted with a stored reason.
func (e *Engine) blacklist(ctx context.Context, item *database.MediaItem, reason string) error {
	return e.move(ctx, item, database.StateBlacklisted, database.Fields{"blacklist_reason": reason}, reason)
}

// UpdateQueueMetrics publishes the size of every queue.
func (e *Engine) UpdateQueueMetrics(ctx context.Context) error {
	counts, err := e.db.CountByState(ctx)
	if err != nil {
		return err
	}
	for state, n := range counts {
		metrics.SetQueueSize(string(state), n)
	}
	if e.limiter != nil {
		metrics.SetOverUsage(e.limiter.OverUsage())
	}
	return nil
}

// Unblacklist returns a blacklisted item to Wanted with a fresh wake budget.
func (e *Engine) Unblacklist(ctx context.Context, id uint) (*database.MediaItem, error) {
	item, err := e.db.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.State != database.StateBlacklisted {
		return nil, fmt.Errorf("item %d is %s, not %s", id, item.State, database.StateBlacklisted)
	}
	if err := e.move(ctx, item, database.StateWanted, database.Fields{
		"wake_count":       0,
		"wanted_ticks":     0,
		"blacklist_reason": "",
	}, "unblacklisted"); err != nil {
		return nil, err
	}
	return item, nil
}
