// Package verify checks that created symlinks reach the media server and that
// replaced ones disappear from it.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/mediaserver"
	"github.com/jon4hz/jellyfetch/internal/metrics"
)

// Verification outcomes reported to metrics.
const (
	OutcomeVerified = "verified"
	OutcomeMissed   = "missed"
	OutcomeFailed   = "failed"
)

// Result summarizes one tick of a worker.
type Result struct {
	Checked  int
	Verified int
	Missed   int
	// Failed holds rows that became permanently failed during the tick.
	Failed []database.FailedSymlink
	// FailedRemovals holds removal rows that exceeded the retry cap during the tick.
	FailedRemovals []database.RemovalVerification
}

// lister fetches the media server listing once per tick.
type lister struct {
	server     mediaserver.Server
	recentOnly bool
	index      mediaserver.Index
}

func (l *lister) get(ctx context.Context) (mediaserver.Index, error) {
	if l.index != nil {
		return l.index, nil
	}
	var (
		paths []string
		err   error
	)
	if l.recentOnly {
		paths, err = l.server.ListRecent(ctx)
	} else {
		paths, err = l.server.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s library: %w", l.server.Name(), err)
	}
	l.index = mediaserver.NewIndex(paths)
	return l.index, nil
}

// SymlinkWorker verifies that symlinks exist and are indexed by the media server.
type SymlinkWorker struct {
	db          database.VerificationDB
	server      mediaserver.Server
	maxAttempts int
	batchSize   int
	recentOnly  bool
}

// NewSymlinkWorker creates a SymlinkWorker. A nil server verifies rows on existence alone.
func NewSymlinkWorker(db database.VerificationDB, server mediaserver.Server, cfg *config.VerificationConfig) *SymlinkWorker {
	return &SymlinkWorker{
		db:          db,
		server:      server,
		maxAttempts: max(1, cfg.MaxAttempts),
		batchSize:   max(1, cfg.BatchSize),
		recentOnly:  cfg.RecentOnly,
	}
}

// Run processes one batch of pending rows, fewest attempts first.
// A failing library listing aborts the tick and leaves every row untouched.
func (w *SymlinkWorker) Run(ctx context.Context) (*Result, error) {
	rows, err := w.db.GetPendingSymlinkVerifications(ctx, w.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load symlink verifications: %w", err)
	}
	res := &Result{}
	if len(rows) == 0 {
		return res, nil
	}

	var l *lister
	if w.server != nil {
		l = &lister{server: w.server, recentOnly: w.recentOnly}
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		if err := w.check(ctx, l, row, res); err != nil {
			return res, err
		}
	}
	log.Debug("symlink verification finished", "checked", res.Checked, "verified", res.Verified, "missed", res.Missed, "failed", len(res.Failed))
	return res, nil
}

func (w *SymlinkWorker) check(ctx context.Context, l *lister, row database.SymlinkVerification, res *Result) error {
	fi, err := os.Lstat(row.FullPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to stat %s: %w", row.FullPath, err)
		}
		return w.fail(ctx, row, "symlink does not exist on disk", res)
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		if _, err := os.Stat(row.FullPath); err != nil {
			// the mount may lag behind, dangling links get the full attempt budget
			return w.miss(ctx, row, "dangling symlink", false, res)
		}
	}

	if l == nil {
		return w.verified(ctx, row, res)
	}
	idx, err := l.get(ctx)
	if err != nil {
		return err
	}
	if idx.Contains(row.FullPath) {
		return w.verified(ctx, row, res)
	}
	return w.miss(ctx, row, fmt.Sprintf("not indexed by %s", w.server.Name()), true, res)
}

func (w *SymlinkWorker) verified(ctx context.Context, row database.SymlinkVerification, res *Result) error {
	if err := w.db.MarkSymlinkVerified(ctx, row.ID); err != nil {
		return fmt.Errorf("failed to mark %s verified: %w", row.FullPath, err)
	}
	res.Verified++
	metrics.RecordVerification("symlink", OutcomeVerified)
	log.Info("symlink verified", "path", row.FullPath, "item_id", row.MediaItemID, "attempts", row.Attempts)
	return nil
}

func (w *SymlinkWorker) miss(ctx context.Context, row database.SymlinkVerification, reason string, refresh bool, res *Result) error {
	attempts, err := w.db.IncrementSymlinkAttempts(ctx, row.ID)
	if err != nil {
		return fmt.Errorf("failed to record attempt for %s: %w", row.FullPath, err)
	}
	if attempts >= w.maxAttempts {
		return w.fail(ctx, row, fmt.Sprintf("%s after %d attempts", reason, attempts), res)
	}
	res.Missed++
	metrics.RecordVerification("symlink", OutcomeMissed)
	log.Debug("symlink not verified yet", "path", row.FullPath, "reason", reason, "attempts", attempts)

	if refresh && w.server != nil {
		if err := w.server.UpdateItem(ctx, row.FullPath); err != nil {
			log.Warn("failed to request media server refresh", "path", row.FullPath, "error", err)
		}
	}
	return nil
}

func (w *SymlinkWorker) fail(ctx context.Context, row database.SymlinkVerification, reason string, res *Result) error {
	failed, err := w.db.MarkSymlinkPermanentlyFailed(ctx, row.ID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark %s permanently failed: %w", row.FullPath, err)
	}
	res.Failed = append(res.Failed, *failed)
	metrics.RecordVerification("symlink", OutcomeFailed)
	if failed.Requeued == nil {
		log.Info("closed verification of a file the item no longer uses", "path", row.FullPath, "item_id", row.MediaItemID, "reason", reason)
		return nil
	}
	log.Warn("symlink verification failed permanently, item requeued", "path", row.FullPath, "item_id", row.MediaItemID, "reason", reason)
	return nil
}

// RemovalWorker verifies that replaced files disappear from the media server.
type RemovalWorker struct {
	db          database.VerificationDB
	server      mediaserver.Server
	maxAttempts int
	batchSize   int
}

// NewRemovalWorker creates a RemovalWorker. A nil server verifies every row.
func NewRemovalWorker(db database.VerificationDB, server mediaserver.Server, cfg *config.VerificationConfig) *RemovalWorker {
	return &RemovalWorker{
		db:          db,
		server:      server,
		maxAttempts: max(1, cfg.RemovalMaxAttempts),
		batchSize:   max(1, cfg.BatchSize),
	}
}

// Run processes one batch of pending removal rows against the full library listing.
func (w *RemovalWorker) Run(ctx context.Context) (*Result, error) {
	rows, err := w.db.GetPendingRemovalVerifications(ctx, w.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load removal verifications: %w", err)
	}
	res := &Result{}
	if len(rows) == 0 {
		return res, nil
	}

	var idx mediaserver.Index
	if w.server != nil {
		l := &lister{server: w.server}
		if idx, err = l.get(ctx); err != nil {
			return res, err
		}
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++

		if idx == nil || !idx.Contains(row.ItemPath) {
			if err := w.db.MarkRemovalVerified(ctx, row.ID); err != nil {
				return res, fmt.Errorf("failed to mark removal of %s verified: %w", row.ItemPath, err)
			}
			res.Verified++
			metrics.RecordVerification("removal", OutcomeVerified)
			log.Info("removal verified", "path", row.ItemPath, "title", row.ItemTitle)
			continue
		}

		attempts, err := w.db.IncrementRemovalAttempts(ctx, row.ID)
		if err != nil {
			return res, fmt.Errorf("failed to record removal attempt for %s: %w", row.ItemPath, err)
		}
		if attempts >= w.maxAttempts {
			reason := fmt.Sprintf("still present in %s after %d checks", w.server.Name(), attempts)
			if err := w.db.MarkRemovalFailed(ctx, row.ID, reason); err != nil {
				return res, fmt.Errorf("failed to mark removal of %s failed: %w", row.ItemPath, err)
			}
			row.Status = database.RemovalStatusFailed
			row.FailureReason = reason
			res.FailedRemovals = append(res.FailedRemovals, row)
			metrics.RecordVerification("removal", OutcomeFailed)
			log.Warn("removal verification failed", "path", row.ItemPath, "reason", reason)
			continue
		}

		res.Missed++
		metrics.RecordVerification("removal", OutcomeMissed)
		if err := w.server.RemoveItem(ctx, row.ItemPath); err != nil {
			log.Warn("failed to re-issue media server removal", "path", row.ItemPath, "error", err)
		}
	}
	return res, nil
}

// GarbageCollect deletes finished verification rows older than days.
func GarbageCollect(ctx context.Context, db database.VerificationDB, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	n, err := db.GarbageCollectVerifications(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to garbage collect verifications: %w", err)
	}
	if n > 0 {
		log.Info("garbage collected verification rows", "count", n, "older_than_days", days)
	}
	return n, nil
}
