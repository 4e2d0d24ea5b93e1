package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/parser"
	"github.com/jon4hz/jellyfetch/internal/scraper"
	"github.com/samber/lo"
)

const (
	defaultUpgradeWindow = 7 * 24 * time.Hour
	defaultUpgradePeriod = 6 * time.Hour
)

// processUpgrades re-scrapes recent collected items and swaps in strictly better releases.
func (e *Engine) processUpgrades(ctx context.Context) error {
	window := e.pipeline().UpgradeWindow
	if window <= 0 {
		window = defaultUpgradeWindow
	}
	now := e.now()
	candidates, err := e.db.GetUpgradeCandidates(ctx, now.Add(-window), now.Add(-e.upgradePeriod()/2), e.batchSize())
	if err != nil {
		return fmt.Errorf("failed to load upgrade candidates: %w", err)
	}
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.findUpgrade(ctx, &candidates[i]); err != nil {
			if Classify(err) == FatalProcess {
				return err
			}
			log.Warn("failed to look for upgrade", "item_id", candidates[i].ID, "item", candidates[i].String(), "error", err)
		}
	}

	if err := e.processUpgrading(ctx); err != nil {
		return err
	}
	return e.promoteUpgraded(ctx)
}

func (e *Engine) upgradePeriod() time.Duration {
	if e.cfg.Schedule != nil && e.cfg.Schedule.Upgrades > 0 {
		return e.cfg.Schedule.Upgrades
	}
	return defaultUpgradePeriod
}

// findUpgrade moves item to Upgrading when a scrape offers a strictly better release.
func (e *Engine) findUpgrade(ctx context.Context, item *database.MediaItem) error {
	if item.Source == database.SourceMagnetAssigner {
		return nil
	}
	profile := e.cfg.GetVersion(item.Version)
	now := e.now()
	if err := e.db.UpdateMediaItem(ctx, item.ID, database.Fields{"upgrade_checked_at": now}); err != nil {
		return err
	}
	if profile == nil || !profile.AllowUpgrades {
		return nil
	}

	outcome, err := e.scrapers.Scrape(ctx, scraper.Request{Item: item, Profile: profile})
	if errors.Is(err, scraper.ErrNoResults) {
		return nil
	}
	if err != nil {
		return err
	}

	current := currentResult(item)
	better := lo.Filter(outcome.Results, func(r scraper.Result, _ int) bool {
		if r.IsUncached() || (current.InfoHash != "" && strings.EqualFold(r.InfoHash, current.InfoHash)) {
			return false
		}
		cur := current
		cur.Similarity = r.Similarity
		return scraper.Better(r, cur, profile)
	})
	if len(better) == 0 {
		log.Debug("no better release found", "item_id", item.ID, "item", item.String())
		return nil
	}

	return e.move(ctx, item, database.StateUpgrading, database.Fields{
		"upgrading_from":            item.FilledByFile,
		"upgrading_from_torrent_id": item.FilledByTorrentID,
		"upgrading_from_version":    item.Version,
		"scrape_results":            scraper.Records(better),
	}, fmt.Sprintf("better release %q", better[0].Title))
}

// currentResult rebuilds the scrape result of the release item was collected from.
func currentResult(item *database.MediaItem) scraper.Result {
	hash, _ := parser.InfoHashFromMagnet(item.FilledByMagnet)
	for _, r := range item.ScrapeResults {
		if (hash != "" && strings.EqualFold(r.InfoHash, hash)) || (r.Magnet != "" && r.Magnet == item.FilledByMagnet) {
			return scraper.Result{
				Title:    r.Title,
				InfoHash: r.InfoHash,
				Magnet:   r.Magnet,
				SizeGB:   r.SizeGB,
				Seeders:  r.Seeders,
				Source:   r.Source,
				Parsed:   parser.Parse(r.Title),
			}
		}
	}
	return scraper.Result{
		Title:    item.FilledByTitle,
		InfoHash: hash,
		Magnet:   item.FilledByMagnet,
		Parsed:   parser.Parse(item.FilledByTitle),
	}
}

// processUpgrading swaps in the new release of every Upgrading item. Only cached
// torrents are accepted. Without a usable result the item returns to Collected unchanged.
func (e *Engine) processUpgrading(ctx context.Context) error {
	items, err := e.db.GetByState(ctx, database.StateUpgrading, e.batchSize(), 0)
	if err != nil {
		return fmt.Errorf("failed to load upgrading items: %w", err)
	}
	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.upgrade(ctx, &items[i]); err != nil {
			if Classify(err) == FatalProcess {
				return err
			}
			log.Warn("failed to upgrade item", "item_id", items[i].ID, "item", items[i].String(), "error", err)
		}
	}
	return nil
}

func (e *Engine) upgrade(ctx context.Context, item *database.MediaItem) error {
	for _, r := range item.ScrapeResults {
		if err := ctx.Err(); err != nil {
			return err
		}
		acq, err := e.commit(ctx, item, r, false)
		if err != nil {
			if rejectable(err) {
				log.Info("upgrade result rejected", "item_id", item.ID, "title", r.Title, "reason", err)
				continue
			}
			return err
		}
		source := e.sourcePath(acq.file)
		location, err := e.links.Swap(ctx, item, source)
		if err != nil {
			e.dropTorrent(ctx, item, acq.torrent.ID)
			return fmt.Errorf("failed to swap %s: %w", item.String(), err)
		}

		fields := acquiredFields(acq)
		fields["location_on_disk"] = location
		fields["original_path_for_symlink"] = source
		fields["collected_at"] = e.now()
		fields["verification_failed"] = false
		for k, v := range clearedUpgrade() {
			fields[k] = v
		}
		if err := e.move(ctx, item, database.StateUpgraded, fields, "swapped to "+acq.torrent.Name); err != nil {
			if uerr := e.links.Unlink(ctx, item.ID, location); uerr != nil {
				log.Warn("failed to remove uncommitted link", "item_id", item.ID, "path", location, "error", uerr)
			}
			e.dropTorrent(ctx, item, acq.torrent.ID)
			return err
		}
		return nil
	}

	fields := clearedUpgrade()
	fields["scrape_results"] = database.ScrapeResults{}
	return e.move(ctx, item, database.StateCollected, fields, "no usable upgrade")
}

func clearedUpgrade() database.Fields {
	return database.Fields{
		"upgrading_from":            "",
		"upgrading_from_torrent_id": "",
		"upgrading_from_version":    "",
	}
}

// promoteUpgraded returns finished upgrades to Collected.
func (e *Engine) promoteUpgraded(ctx context.Context) error {
	items, err := e.db.GetByState(ctx, database.StateUpgraded, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to load upgraded items: %w", err)
	}
	for i := range items {
		if err := e.move(ctx, &items[i], database.StateCollected, nil, "upgrade complete"); err != nil {
			log.Warn("failed to promote upgraded item", "item_id", items[i].ID, "error", err)
		}
	}
	return nil
}
