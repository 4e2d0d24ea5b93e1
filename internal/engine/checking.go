package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/debrid"
	"github.com/jon4hz/jellyfetch/internal/matcher"
	"github.com/jon4hz/jellyfetch/internal/parser"
	"github.com/samber/lo"
)

// processChecking waits for downloading torrents to appear on the mount.
func (e *Engine) processChecking(ctx context.Context) error {
	period := e.pipeline().CheckingQueuePeriod
	if period <= 0 {
		period = defaultCheckPeriod
	}
	return e.processWaiting(ctx, database.StateChecking, period)
}

// processPendingUncached is Checking with a longer deadline for torrents the provider queued.
func (e *Engine) processPendingUncached(ctx context.Context) error {
	period := e.pipeline().PendingUncachedPeriod
	if period <= 0 {
		period = defaultUncachedTTL
	}
	return e.processWaiting(ctx, database.StatePendingUncached, period)
}

func (e *Engine) processWaiting(ctx context.Context, state database.State, deadline time.Duration) error {
	items, err := e.db.GetByState(ctx, state, e.batchSize(), 0)
	if err != nil {
		return fmt.Errorf("failed to load %s items: %w", state, err)
	}
	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.check(ctx, &items[i], deadline); err != nil {
			if Classify(err) == FatalProcess {
				return err
			}
			log.Warn("failed to check item", "item_id", items[i].ID, "item", items[i].String(), "state", state, "error", err)
		}
	}
	return nil
}

func (e *Engine) check(ctx context.Context, item *database.MediaItem, deadline time.Duration) error {
	if item.FilledByTorrentID == "" {
		return e.requeue(ctx, item, "no torrent assigned", false)
	}

	t, err := e.debrid.Status(ctx, item.FilledByTorrentID)
	switch {
	case errors.Is(err, debrid.ErrNotFound):
		return e.requeue(ctx, item, "torrent vanished from provider", false)
	case err != nil:
		return err
	case t.State == debrid.StateError:
		return e.requeue(ctx, item, "torrent failed on provider", true)
	}

	files := matcherFiles(t.Files)
	if file := e.pickFile(item, files); file != nil {
		if src, ok := e.findOnMount(lo.CoalesceOrEmpty(t.Name, item.FilledByTitle), file); ok {
			rel, err := filepath.Rel(e.cfg.Paths.OriginalFilesPath, src)
			if err == nil {
				file = &matcher.File{Path: filepath.ToSlash(rel), Size: file.Size}
			}
			acq := &acquisition{
				torrent: t,
				magnet:  item.FilledByMagnet,
				result:  database.ScrapeResult{Resolution: item.Resolution},
				file:    file,
				files:   files,
			}
			fields := acquiredFields(acq)
			fields["filled_by_torrent_id"] = item.FilledByTorrentID
			return e.collect(ctx, item, acq, fields, "file appeared on mount")
		}
	}

	if e.now().Sub(item.StateEnteredAt) > deadline {
		return e.requeue(ctx, item, fmt.Sprintf("file did not appear within %s", deadline), true)
	}
	log.Debug("file not on mount yet", "item_id", item.ID, "torrent", t.Name, "progress", t.Progress)
	return nil
}

// pickFile prefers the file recorded when the torrent was added.
func (e *Engine) pickFile(item *database.MediaItem, files []matcher.File) *matcher.File {
	if item.FilledByFile != "" {
		for i := range files {
			if strings.EqualFold(files[i].Name(), item.FilledByFile) {
				return &files[i]
			}
		}
	}
	f, err := e.matcher.SelectFile(item, files)
	if err != nil {
		return nil
	}
	return f
}

// findOnMount looks for file under the mount root: at its listed path, in the
// torrent folder, then by stem anywhere below the torrent folder.
func (e *Engine) findOnMount(torrentName string, file *matcher.File) (string, bool) {
	root := e.cfg.Paths.OriginalFilesPath
	candidates := []string{e.sourcePath(file)}
	if torrentName != "" {
		candidates = append(candidates, filepath.Join(root, torrentName, file.Name()))
	}
	candidates = append(candidates, filepath.Join(root, file.Name()))
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c, true
		}
	}

	if torrentName == "" {
		return "", false
	}
	want := parser.Stem(file.Name())
	var found string
	_ = filepath.WalkDir(filepath.Join(root, torrentName), func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !parser.IsVideo(p) {
			return nil
		}
		if strings.EqualFold(parser.Stem(p), want) {
			found = p
			return filepath.SkipAll
		}
		return nil
	})
	return found, found != ""
}

// requeue sends item back to Wanted with one more wake, dropping its torrent.
func (e *Engine) requeue(ctx context.Context, item *database.MediaItem, reason string, remove bool) error {
	if remove && item.FilledByTorrentID != "" {
		if err := e.debrid.Remove(ctx, item.FilledByTorrentID); err != nil {
			return fmt.Errorf("failed to remove torrent %s: %w", item.FilledByTorrentID, err)
		}
	}
	cleared := database.Fields{
		"filled_by_torrent_id": "",
		"filled_by_title":      "",
		"filled_by_file":       "",
		"scrape_results":       database.ScrapeResults{},
	}
	wake := item.WakeCount + 1
	if wake > e.wakeLimit() {
		cleared["wake_count"] = wake
		cleared["blacklist_reason"] = fmt.Sprintf("%s after %d wakes", reason, wake)
		return e.move(ctx, item, database.StateBlacklisted, cleared, reason)
	}
	cleared["wake_count"] = wake
	return e.move(ctx, item, database.StateWanted, cleared, reason)
}
