package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/metrics"
	"github.com/jon4hz/jellyfetch/internal/verify"
	"github.com/samber/lo"
)

// Job ids.
const (
	JobWanted              = "wanted"
	JobScraping            = "scraping"
	JobAdding              = "adding"
	JobChecking            = "checking"
	JobPendingUncached     = "pending_uncached"
	JobSleeping            = "sleeping"
	JobUpgrades            = "upgrades"
	JobSymlinkVerification = "symlink_verification"
	JobRemovalVerification = "removal_verification"
	JobContentSources      = "content_sources"
	JobCacheCleanup        = "cache_cleanup"
	JobQueueMetrics        = "queue_metrics"
	JobNotificationDigest  = "notification_digest"
)

const (
	queueMetricsPeriod = 30 * time.Second
	digestPeriod       = time.Hour
)

type job struct {
	id, name, description string
	period                time.Duration
	fn                    func(ctx context.Context) error
	gated                 bool
	instant               bool
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// setupJobs configures all scheduled jobs.
func (e *Engine) setupJobs() error {
	s := e.cfg.Schedule
	if s == nil {
		s = &config.ScheduleConfig{}
	}

	jobs := []job{
		{JobWanted, "Wanted", "Resolves ids and releases items whose release date has passed", orDefault(s.Wanted, time.Minute), e.processWanted, true, true},
		{JobScraping, "Scraping", "Scrapes released items", orDefault(s.Scraping, 30*time.Second), e.processScraping, true, true},
		{JobAdding, "Adding", "Commits the best result of scraped items to the debrid provider", orDefault(s.Adding, 10*time.Second), e.processAdding, true, true},
		{JobChecking, "Checking", "Waits for downloading torrents to appear on the mount", orDefault(s.Checking, 2*time.Minute), e.processChecking, true, false},
		{JobPendingUncached, "Pending Uncached", "Waits for torrents queued by the provider", orDefault(s.Checking, 2*time.Minute), e.processPendingUncached, true, false},
		{JobSleeping, "Sleeping", "Wakes items whose backoff elapsed", orDefault(s.Sleeping, time.Minute), e.processSleeping, true, false},
		{JobUpgrades, "Upgrades", "Re-scrapes recent items and swaps in better releases", e.upgradePeriod(), e.processUpgrades, true, false},
		{JobSymlinkVerification, "Symlink Verification", "Checks that created symlinks are indexed by the media server", orDefault(s.SymlinkVerification, 5*time.Minute), e.runSymlinkVerification, true, false},
		{JobRemovalVerification, "Removal Verification", "Checks that replaced files left the media server", orDefault(s.RemovalVerification, 5*time.Minute), e.runRemovalVerification, true, false},
		{JobContentSources, "Content Sources", "Polls content sources for new requests", orDefault(s.ContentSources, 15*time.Minute), e.syncSources, true, true},
		{JobCacheCleanup, "Cache Cleanup", "Evicts expired cache entries and old verification rows", orDefault(s.CacheCleanup, 24*time.Hour), e.cleanupCaches, false, false},
		{JobQueueMetrics, "Queue Metrics", "Publishes queue sizes", queueMetricsPeriod, e.UpdateQueueMetrics, false, true},
		{JobNotificationDigest, "Notification Digest", "Sends batched failure notifications", digestPeriod, e.flushNotifiers, false, false},
	}

	for _, j := range jobs {
		if err := e.scheduler.AddPeriodicJob(j.id, j.name, j.description, j.period, j.fn, j.gated, j.instant); err != nil {
			return fmt.Errorf("failed to add %s job: %w", j.id, err)
		}
	}

	log.Info("Scheduled jobs configured successfully", "jobs", len(jobs))
	return nil
}

// RunJob runs one queue tick synchronously, bypassing the scheduler.
func (e *Engine) RunJob(ctx context.Context, id string) error {
	fns := map[string]func(context.Context) error{
		JobWanted:              e.processWanted,
		JobScraping:            e.processScraping,
		JobAdding:              e.processAdding,
		JobChecking:            e.processChecking,
		JobPendingUncached:     e.processPendingUncached,
		JobSleeping:            e.processSleeping,
		JobUpgrades:            e.processUpgrades,
		JobSymlinkVerification: e.runSymlinkVerification,
		JobRemovalVerification: e.runRemovalVerification,
		JobContentSources:      e.syncSources,
		JobCacheCleanup:        e.cleanupCaches,
	}
	fn, ok := fns[id]
	if !ok {
		return fmt.Errorf("unknown job %q", id)
	}
	return fn(ctx)
}

func (e *Engine) runSymlinkVerification(ctx context.Context) error {
	res, err := e.symlinkWorker.Run(ctx)
	if res != nil {
		for _, failed := range res.Failed {
			if failed.Requeued != nil {
				e.verificationFailed(ctx, failed)
			}
		}
	}
	return err
}

// verificationFailed drops the torrent and link of an item whose symlink never
// got indexed, and publishes its requeue.
func (e *Engine) verificationFailed(ctx context.Context, failed database.FailedSymlink) {
	item := failed.Requeued
	for _, id := range lo.Uniq([]string{item.FilledByTorrentID, item.UpgradingFromTorrentID}) {
		if id != "" {
			e.dropTorrent(ctx, item, id)
		}
	}
	if err := e.links.Unlink(ctx, item.ID, failed.FullPath); err != nil {
		log.Warn("failed to remove unverified link", "item_id", item.ID, "path", failed.FullPath, "error", err)
	}

	log.Info("item transitioned", "item_id", item.ID, "item", item.String(), "from", item.State, "to", database.StateWanted, "reason", failed.FailureReason)
	metrics.RecordTransition(string(item.State), string(database.StateWanted))
	e.emit(Event{
		ItemID:  item.ID,
		Title:   item.String(),
		From:    item.State,
		To:      database.StateWanted,
		Reason:  failed.FailureReason,
		Path:    failed.FullPath,
		Failure: true,
	})
}

func (e *Engine) runRemovalVerification(ctx context.Context) error {
	res, err := e.removalWorker.Run(ctx)
	if res != nil {
		for _, row := range res.FailedRemovals {
			e.emit(Event{
				Title:   row.ItemTitle,
				Reason:  fmt.Sprintf("removal not confirmed: %s", row.FailureReason),
				Path:    row.ItemPath,
				Failure: true,
			})
		}
	}
	return err
}

// syncSources polls every content source. One failing source does not stop the others.
func (e *Engine) syncSources(ctx context.Context) error {
	for _, src := range e.sources {
		if _, err := e.expander.Sync(ctx, e.db, src); err != nil {
			log.Error("content source sync failed", "source", src.Name(), "error", err)
		}
	}
	return nil
}

// cleanupCaches evicts expired cache entries and old verification rows.
func (e *Engine) cleanupCaches(ctx context.Context) error {
	if e.cache != nil {
		if n := e.cache.DeleteExpired(); n > 0 {
			log.Info("evicted expired cache entries", "count", n)
		}
	}
	days := 0
	if e.cfg.Verification != nil {
		days = e.cfg.Verification.GCDays
	}
	_, err := verify.GarbageCollect(ctx, e.db, days)
	return err
}
