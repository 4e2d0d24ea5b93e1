package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/metadata"
	"github.com/jon4hz/jellyfetch/internal/parser"
)

// processWanted resolves missing ids and releases items whose release gate has opened.
func (e *Engine) processWanted(ctx context.Context) error {
	items, err := e.db.GetByState(ctx, database.StateWanted, e.batchSize(), 0)
	if err != nil {
		return fmt.Errorf("failed to load wanted items: %w", err)
	}
	now := e.now()

	var released []database.MediaItem
	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := &items[i]

		if item.ImdbID == "" {
			ok, err := e.resolveID(ctx, item)
			if err != nil {
				log.Warn("failed to handle unresolved item", "item_id", item.ID, "error", err)
			}
			if !ok {
				continue
			}
		}

		if item.FilledByMagnet != "" && item.Source == database.SourceMagnetAssigner {
			if err := e.assignMagnet(ctx, item); err != nil {
				log.Warn("failed to assign magnet", "item_id", item.ID, "error", err)
			}
			continue
		}

		if !e.release.Released(item, now) {
			continue
		}
		released = append(released, *item)
	}

	if len(released) == 0 {
		return nil
	}
	transitions := make([]database.Transition, 0, len(released))
	for _, item := range released {
		transitions = append(transitions, database.Transition{ID: item.ID, From: database.StateWanted, State: database.StateScraping})
	}
	if err := e.db.ApplyTransitions(ctx, transitions); err != nil {
		if !errors.Is(err, database.ErrStale) {
			return fmt.Errorf("failed to release wanted items: %w", err)
		}
		return e.releaseOneByOne(ctx, released)
	}
	for i := range released {
		e.transitioned(&released[i], database.StateWanted, database.StateScraping, "released", "")
	}
	return nil
}

// releaseOneByOne is the fallback when another job touched one of the batch.
func (e *Engine) releaseOneByOne(ctx context.Context, items []database.MediaItem) error {
	for i := range items {
		if err := e.move(ctx, &items[i], database.StateScraping, nil, "released"); err != nil && !errors.Is(err, database.ErrStale) {
			return err
		}
	}
	return nil
}

// resolveID looks up the imdb id of an item that only has a tmdb id. ok is
// false when the item must stay in Wanted or was blacklisted.
func (e *Engine) resolveID(ctx context.Context, item *database.MediaItem) (ok bool, err error) {
	if item.TmdbID != 0 {
		imdb, err := e.resolver.ImdbFromTmdb(ctx, item.TmdbID, item.Type)
		switch {
		case err == nil && imdb != "":
			item.ImdbID = imdb
			return true, e.db.UpdateMediaItem(ctx, item.ID, database.Fields{"imdb_id": imdb, "wanted_ticks": 0})
		case err != nil && !errors.Is(err, metadata.ErrNotFound):
			// transient lookups do not count against the item
			return false, err
		}
	}

	ticks := item.WantedTicks + 1
	limit := e.pipeline().UnresolvedIDLimit
	if limit <= 0 {
		limit = defaultIDLimit
	}
	if ticks >= limit {
		return false, e.blacklist(ctx, item, ErrUnresolvableID.Error())
	}
	log.Debug("item has no imdb id yet", "item_id", item.ID, "item", item.String(), "ticks", ticks)
	return false, e.db.UpdateMediaItem(ctx, item.ID, database.Fields{"wanted_ticks": ticks})
}

// assignMagnet skips scraping for items with a user supplied magnet.
func (e *Engine) assignMagnet(ctx context.Context, item *database.MediaItem) error {
	hash, err := parser.InfoHashFromMagnet(item.FilledByMagnet)
	if err != nil {
		return e.blacklist(ctx, item, fmt.Sprintf("invalid magnet: %v", err))
	}
	title := item.String()
	if u, err := url.Parse(item.FilledByMagnet); err == nil {
		if dn := u.Query().Get("dn"); dn != "" {
			title = dn
		}
	}
	results := database.ScrapeResults{{
		Title:    title,
		InfoHash: hash,
		Magnet:   item.FilledByMagnet,
		Source:   database.SourceMagnetAssigner,
	}}
	return e.move(ctx, item, database.StateAdding, database.Fields{"scrape_results": results}, "magnet assigned")
}

// processSleeping wakes items whose backoff elapsed.
func (e *Engine) processSleeping(ctx context.Context) error {
	items, err := e.db.GetByState(ctx, database.StateSleeping, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to load sleeping items: %w", err)
	}
	now := e.now()
	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := &items[i]
		if item.SleepUntil != nil && now.Before(*item.SleepUntil) {
			continue
		}
		if err := e.move(ctx, item, database.StateWanted, database.Fields{"sleep_until": nil}, "woke up"); err != nil {
			log.Warn("failed to wake item", "item_id", item.ID, "error", err)
		}
	}
	return nil
}
