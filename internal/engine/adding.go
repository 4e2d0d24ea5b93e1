package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/debrid"
	"github.com/jon4hz/jellyfetch/internal/matcher"
	"github.com/jon4hz/jellyfetch/internal/parser"
	"github.com/samber/lo"
)

// errUncached rejects a torrent that is not cached while the policy forbids uncached content.
var errUncached = errors.New("torrent is not cached")

// queuedStates are the states whose episodes may be satisfied as siblings.
var queuedStates = []database.State{
	database.StateWanted,
	database.StateScraping,
	database.StateAdding,
	database.StateSleeping,
}

// acquisition is an adopted torrent and the file chosen for the item.
type acquisition struct {
	torrent *debrid.Torrent
	magnet  string
	result  database.ScrapeResult
	file    *matcher.File
	files   []matcher.File
}

// processAdding commits the best usable result of every item in the queue.
func (e *Engine) processAdding(ctx context.Context) error {
	items, err := e.db.GetByState(ctx, database.StateAdding, e.batchSize(), 0)
	if err != nil {
		return fmt.Errorf("failed to load adding items: %w", err)
	}
	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.stillIn(ctx, &items[i], database.StateAdding) {
			continue
		}
		if err := e.add(ctx, &items[i]); err != nil {
			switch Classify(err) {
			case FatalProcess:
				return err
			case RateLimited:
				log.Warn("debrid rate limited, stopping tick", "item_id", items[i].ID, "error", err)
				return nil
			}
			log.Warn("failed to add item", "item_id", items[i].ID, "item", items[i].String(), "error", err)
		}
	}
	return nil
}

// stillIn reloads item and reports whether it is still in state. Siblings
// collected earlier in the same tick have moved on.
func (e *Engine) stillIn(ctx context.Context, item *database.MediaItem, state database.State) bool {
	fresh, err := e.db.GetByID(ctx, item.ID)
	if err != nil {
		log.Debug("failed to reload item", "item_id", item.ID, "error", err)
		return false
	}
	*item = *fresh
	return item.State == state
}

// handling returns the uncached policy for item. Assigned magnets are always permitted.
func (e *Engine) handling(item *database.MediaItem) config.UncachedHandling {
	if item.Source == database.SourceMagnetAssigner {
		return config.UncachedHandlingFull
	}
	if h := e.pipeline().UncachedContentHandling; h != "" {
		return h
	}
	return config.UncachedHandlingNone
}

// permitUncached reports whether an uncached torrent may be committed.
func permitUncached(h config.UncachedHandling, anyCached bool) bool {
	switch h {
	case config.UncachedHandlingFull:
		return true
	case config.UncachedHandlingHybrid:
		return !anyCached
	}
	return false
}

func knownUncached(r database.ScrapeResult) bool {
	return r.Cached != nil && !*r.Cached
}

// add walks the ranked results of item until one is committed. Rejected results
// are popped. Exhausting the list sleeps or blacklists the item.
func (e *Engine) add(ctx context.Context, item *database.MediaItem) error {
	results := item.ScrapeResults
	uncachedOK := permitUncached(e.handling(item), lo.SomeBy(results, func(r database.ScrapeResult) bool {
		return r.Cached != nil && *r.Cached
	}))

	for i, r := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		if knownUncached(r) && !uncachedOK {
			log.Debug("skipping uncached result", "item_id", item.ID, "title", r.Title)
			continue
		}

		acq, err := e.commit(ctx, item, r, uncachedOK)
		if err != nil {
			if rejectable(err) {
				log.Info("result rejected", "item_id", item.ID, "title", r.Title, "reason", err)
				continue
			}
			// keep the untried results for the next tick
			if uerr := e.db.UpdateMediaItem(ctx, item.ID, database.Fields{"scrape_results": database.ScrapeResults(results[i:])}); uerr != nil {
				log.Warn("failed to store remaining results", "item_id", item.ID, "error", uerr)
			}
			return err
		}
		return e.adopted(ctx, item, acq)
	}
	return e.backoff(ctx, item, "no usable result", nil)
}

// rejectable reports errors that reject one result but not the item.
func rejectable(err error) bool {
	switch {
	case errors.Is(err, errUncached),
		errors.Is(err, matcher.ErrNoMatch),
		errors.Is(err, debrid.ErrTorrentFailed):
		return true
	}
	switch Classify(err) {
	case NotFound, Parse, FatalItem:
		return true
	}
	return false
}

// commit adds the torrent of r and selects the file of item. Downloaded
// torrents without a matching file and uncached torrents outside the policy
// are removed again by the debrid client.
func (e *Engine) commit(ctx context.Context, item *database.MediaItem, r database.ScrapeResult, uncachedOK bool) (*acquisition, error) {
	magnet := r.Magnet
	if magnet == "" {
		m, err := parser.MagnetFromInfoHash(r.InfoHash, r.Title)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", matcher.ErrNoMatch, err)
		}
		magnet = m
	}

	acq := &acquisition{magnet: magnet, result: r}
	_, err := e.debrid.Commit(ctx, magnet, func(_ context.Context, t *debrid.Torrent) error {
		acq.torrent = t
		acq.files = matcherFiles(t.Files)
		f, selErr := e.matcher.SelectFile(item, acq.files)
		if t.State == debrid.StateDownloaded {
			if selErr != nil {
				return selErr
			}
			acq.file = f
			return nil
		}
		if !uncachedOK {
			return errUncached
		}
		// the listing of a downloading torrent may still be empty
		if selErr == nil {
			acq.file = f
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acq, nil
}

func matcherFiles(files []debrid.File) []matcher.File {
	return lo.Map(files, func(f debrid.File, _ int) matcher.File {
		return matcher.File{Path: f.Path, Size: f.Size}
	})
}

// adopted moves item on after its torrent was kept.
func (e *Engine) adopted(ctx context.Context, item *database.MediaItem, acq *acquisition) error {
	fields := acquiredFields(acq)
	switch acq.torrent.State {
	case debrid.StateDownloaded:
		return e.collect(ctx, item, acq, fields, "cached torrent "+acq.torrent.Name)
	case debrid.StateDownloading:
		return e.move(ctx, item, database.StateChecking, fields, "torrent downloading")
	default:
		return e.move(ctx, item, database.StatePendingUncached, fields, "torrent queued by provider")
	}
}

func acquiredFields(acq *acquisition) database.Fields {
	fields := database.Fields{
		"filled_by_title":      acq.torrent.Name,
		"filled_by_magnet":     acq.magnet,
		"filled_by_torrent_id": acq.torrent.ID,
		"resolution":           acq.result.Resolution,
		"filled_by_file":       "",
	}
	if acq.result.Resolution == "" {
		fields["resolution"] = parser.Parse(acq.torrent.Name).Resolution
	}
	if acq.file != nil {
		fields["filled_by_file"] = acq.file.Name()
	}
	return fields
}

// sourcePath is the location of a torrent file on the mount.
func (e *Engine) sourcePath(f *matcher.File) string {
	return filepath.Join(e.cfg.Paths.OriginalFilesPath, filepath.FromSlash(f.Path))
}

// collect links the chosen file and moves item and every sibling satisfied by
// the same torrent to Collected in one transaction.
func (e *Engine) collect(ctx context.Context, item *database.MediaItem, acq *acquisition, fields database.Fields, reason string) error {
	source := e.sourcePath(acq.file)
	location, err := e.links.Link(ctx, item, source)
	if err != nil {
		e.dropTorrent(ctx, item, acq.torrent.ID)
		return fmt.Errorf("failed to link %s: %w", item.String(), err)
	}

	now := e.now()
	fields["filled_by_file"] = acq.file.Name()
	collectedFields(fields, item, location, source, now)

	transitions := []database.Transition{{ID: item.ID, From: item.State, State: database.StateCollected, Fields: fields}}
	linked := []database.MediaItem{*item}
	paths := []string{location}

	for _, sib := range e.siblings(ctx, item, acq) {
		src := e.sourcePath(&sib.File)
		loc, err := e.links.Link(ctx, &sib.Item, src)
		if err != nil {
			log.Warn("failed to link sibling", "item_id", sib.Item.ID, "item", sib.Item.String(), "error", err)
			continue
		}
		sf := acquiredFields(acq)
		sf["filled_by_file"] = sib.File.Name()
		sf["scrape_results"] = database.ScrapeResults{}
		collectedFields(sf, &sib.Item, loc, src, now)
		transitions = append(transitions, database.Transition{ID: sib.Item.ID, From: sib.Item.State, State: database.StateCollected, Fields: sf})
		linked = append(linked, sib.Item)
		paths = append(paths, loc)
	}

	err = e.db.ApplyTransitions(ctx, transitions)
	if errors.Is(err, database.ErrStale) && len(transitions) > 1 {
		log.Warn("a sibling changed state, collecting the item alone", "item_id", item.ID)
		e.unlink(ctx, linked[1:], paths[1:])
		transitions, linked, paths = transitions[:1], linked[:1], paths[:1]
		err = e.db.ApplyTransitions(ctx, transitions)
	}
	if err != nil {
		e.unlink(ctx, linked, paths)
		e.dropTorrent(ctx, item, acq.torrent.ID)
		return fmt.Errorf("failed to collect %s: %w", item.String(), err)
	}

	for i := range linked {
		r := reason
		if i > 0 {
			r = fmt.Sprintf("sibling of %s in %s", item.String(), acq.torrent.Name)
		}
		e.transitioned(&linked[i], linked[i].State, database.StateCollected, r, paths[i])
	}
	item.State = database.StateCollected
	return nil
}

func collectedFields(fields database.Fields, item *database.MediaItem, location, source string, now time.Time) {
	fields["location_on_disk"] = location
	fields["original_path_for_symlink"] = source
	fields["collected_at"] = now
	fields["verification_failed"] = false
	if item.OriginalCollectedAt == nil {
		fields["original_collected_at"] = now
	}
}

// siblings returns queued episodes satisfied by other files of the torrent.
func (e *Engine) siblings(ctx context.Context, item *database.MediaItem, acq *acquisition) []matcher.Sibling {
	if item.Type != database.MediaTypeEpisode || len(acq.files) < 2 {
		return nil
	}
	queued, err := e.db.GetQueuedEpisodes(ctx, item.ImdbID, item.SeriesTitle(), item.Version, queuedStates...)
	if err != nil {
		log.Warn("failed to load queued episodes", "item_id", item.ID, "error", err)
		return nil
	}
	return e.matcher.FindSiblings(item, acq.file, acq.files, queued)
}

// unlink removes the links of items whose collection was not committed.
// A link the stored item already points at is kept.
func (e *Engine) unlink(ctx context.Context, items []database.MediaItem, paths []string) {
	for i := range items {
		if fresh, err := e.db.GetByID(ctx, items[i].ID); err == nil && fresh.LocationOnDisk == paths[i] {
			continue
		}
		if err := e.links.Unlink(ctx, items[i].ID, paths[i]); err != nil {
			log.Warn("failed to remove uncommitted link", "item_id", items[i].ID, "path", paths[i], "error", err)
		}
	}
}

// dropTorrent removes a torrent that no item will reference.
func (e *Engine) dropTorrent(ctx context.Context, item *database.MediaItem, id string) {
	if err := e.debrid.Remove(ctx, id); err != nil {
		log.Error("failed to remove torrent", "item_id", item.ID, "torrent_id", id, "error", err)
	}
}
