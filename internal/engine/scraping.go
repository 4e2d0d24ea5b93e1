package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/scraper"
)

// multiPackThreshold is the number of queued episodes of one season from which
// season packs are searched as well.
const multiPackThreshold = 2

// processScraping scrapes every item of the queue and stores the ranked results.
func (e *Engine) processScraping(ctx context.Context) error {
	items, err := e.db.GetByState(ctx, database.StateScraping, e.batchSize(), 0)
	if err != nil {
		return fmt.Errorf("failed to load scraping items: %w", err)
	}
	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.scrape(ctx, &items[i]); err != nil {
			switch Classify(err) {
			case FatalProcess:
				return err
			case RateLimited:
				log.Warn("scraping rate limited, stopping tick", "item_id", items[i].ID, "error", err)
				return nil
			}
			log.Warn("failed to scrape item", "item_id", items[i].ID, "item", items[i].String(), "error", err)
		}
	}
	return nil
}

func (e *Engine) scrape(ctx context.Context, item *database.MediaItem) error {
	profile := e.cfg.GetVersion(item.Version)
	if profile == nil {
		return e.blacklist(ctx, item, fmt.Sprintf("%s %q", ErrUnknownVersion, item.Version))
	}

	outcome, err := e.scrapers.Scrape(ctx, scraper.Request{
		Item:      item,
		Profile:   profile,
		MultiPack: e.multiPack(ctx, item),
	})
	switch {
	case errors.Is(err, scraper.ErrNoResults):
		if outcome != nil && len(outcome.Filtered) > 0 {
			log.Debug("every scrape result was filtered", "item_id", item.ID, "filtered", len(outcome.Filtered), "first", outcome.Filtered[0].Reason)
		}
		return e.backoff(ctx, item, "no scrape results", nil)
	case err != nil:
		return err
	}

	return e.move(ctx, item, database.StateAdding, database.Fields{
		"scrape_results": scraper.Records(outcome.Results),
	}, fmt.Sprintf("%d results, top %q", len(outcome.Results), outcome.Results[0].Title))
}

// multiPack reports whether season packs should be searched for item. That is
// the case when several episodes of its season are still waiting.
func (e *Engine) multiPack(ctx context.Context, item *database.MediaItem) bool {
	if item.Type != database.MediaTypeEpisode || item.ImdbID == "" {
		return false
	}
	n, err := e.db.CountSeasonItems(ctx, item.ImdbID, item.SeasonNumber, item.Version)
	if err != nil {
		log.Debug("failed to count season items", "item_id", item.ID, "error", err)
		return false
	}
	return n >= multiPackThreshold
}
