// Package scraper fans a search out to the configured adapters and ranks the results.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/metrics"
	"github.com/jon4hz/jellyfetch/internal/parser"
	"golang.org/x/sync/errgroup"
)

// ErrNoResults is returned when no result survived filtering.
var ErrNoResults = errors.New("no scrape results")

// DefaultTimeout bounds a single adapter call.
const DefaultTimeout = 30 * time.Second

// Query is what adapters search for.
type Query struct {
	ImdbID    string
	TmdbID    int32
	Title     string
	Year      int
	Type      database.MediaType
	Season    int
	Episode   int
	MultiPack bool
}

// QueryFor builds the query of an item.
func QueryFor(item *database.MediaItem, multiPack bool) Query {
	q := Query{
		ImdbID:    item.ImdbID,
		TmdbID:    item.TmdbID,
		Title:     item.SeriesTitle(),
		Year:      item.Year,
		Type:      item.Type,
		MultiPack: multiPack,
	}
	if item.Type == database.MediaTypeEpisode {
		q.Season = item.SeasonNumber
		q.Episode = item.EpisodeNumber
		if item.ShowYear > 0 {
			q.Year = item.ShowYear
		}
	}
	return q
}

// Result is one torrent offered by an adapter.
type Result struct {
	Title    string
	InfoHash string
	Magnet   string
	SizeGB   float64
	Seeders  int
	Source   string

	Parsed     *parser.Release
	Similarity float64
	Score      float64
	Cached     *bool
}

// IsUncached reports a result known to be uncached.
func (r *Result) IsUncached() bool {
	return r.Cached != nil && !*r.Cached
}

// Record converts the result into its persisted form.
func (r *Result) Record() database.ScrapeResult {
	rec := database.ScrapeResult{
		Title:    r.Title,
		InfoHash: r.InfoHash,
		Magnet:   r.Magnet,
		SizeGB:   r.SizeGB,
		Seeders:  r.Seeders,
		Source:   r.Source,
		Score:    math.Round(r.Score*1000) / 1000,
		Cached:   r.Cached,
	}
	if r.Parsed != nil {
		rec.Resolution = r.Parsed.Resolution
	}
	return rec
}

// Records converts a ranked list into its persisted form.
func Records(results []Result) database.ScrapeResults {
	out := make(database.ScrapeResults, 0, len(results))
	for i := range results {
		out = append(out, results[i].Record())
	}
	return out
}

// Rejection is a filtered out result and the reason.
type Rejection struct {
	Result Result
	Filter string
	Reason string
}

// Outcome is the ranked list and everything filtered on the way.
type Outcome struct {
	Results  []Result
	Filtered []Rejection
}

// Adapter is a scraper backend. Implementations must be side-effect free.
type Adapter interface {
	Name() string
	Scrape(ctx context.Context, q Query) ([]Result, error)
}

// CacheChecker reports debrid cache status for info hashes.
// Hashes missing from the returned map are unknown.
type CacheChecker interface {
	CheckCached(ctx context.Context, hashes []string) (map[string]bool, error)
}

// Request is one scrape of an item under its version profile.
type Request struct {
	Item      *database.MediaItem
	Profile   *config.VersionProfile
	MultiPack bool
}

// Pool fans requests out to all adapters.
type Pool struct {
	adapters  []Adapter
	timeout   time.Duration
	handling  config.UncachedHandling
	sortOrder config.SortOrder
	cache     CacheChecker
}

// NewPool creates a Pool.
func NewPool(cfg *config.Config, adapters ...Adapter) *Pool {
	timeout := DefaultTimeout
	if cfg.Scrapers != nil && cfg.Scrapers.Timeout > 0 {
		timeout = cfg.Scrapers.Timeout
	}
	return &Pool{
		adapters:  adapters,
		timeout:   timeout,
		handling:  cfg.Pipeline.UncachedContentHandling,
		sortOrder: cfg.Pipeline.UltimateSortOrder,
	}
}

// SetCacheChecker enables cache status annotation of ranked results.
func (p *Pool) SetCacheChecker(c CacheChecker) {
	p.cache = c
}

// Adapters returns the adapter names.
func (p *Pool) Adapters() []string {
	names := make([]string, 0, len(p.adapters))
	for _, a := range p.adapters {
		names = append(names, a.Name())
	}
	return names
}

// Scrape runs all adapters in parallel, then dedups, filters and ranks.
// Adapter failures contribute zero results. ErrNoResults is returned with the
// outcome when nothing survives.
func (p *Pool) Scrape(ctx context.Context, req Request) (*Outcome, error) {
	if req.Profile == nil {
		return nil, fmt.Errorf("no version profile for %q", req.Item.Version)
	}

	raw := p.fanOut(ctx, QueryFor(req.Item, req.MultiPack))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := dedup(raw)
	outcome := &Outcome{}
	kept, rejected, err := DefaultFilter(req.Profile).ApplyAll(ctx, &req, results)
	if err != nil {
		return nil, err
	}
	outcome.Filtered = rejected

	if p.cache != nil && len(kept) > 0 {
		p.annotateCache(ctx, kept)
	}

	outcome.Results = Rank(kept, req.Profile, p.handling, p.sortOrder)
	log.Debug("scrape finished", "item", req.Item.String(), "raw", len(raw), "ranked", len(outcome.Results), "filtered", len(outcome.Filtered))

	if len(outcome.Results) == 0 {
		return outcome, ErrNoResults
	}
	return outcome, nil
}

func (p *Pool) fanOut(ctx context.Context, q Query) []Result {
	perAdapter := make([][]Result, len(p.adapters))

	var g errgroup.Group
	for i, adapter := range p.adapters {
		g.Go(func() error {
			actx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			res, err := adapter.Scrape(actx, q)
			if err == nil && actx.Err() != nil {
				err = actx.Err()
			}
			metrics.RecordScrape(adapter.Name(), len(res), err)
			if err != nil {
				log.Warn("scraper failed", "scraper", adapter.Name(), "title", q.Title, "error", err)
				return nil
			}
			for j := range res {
				if res[j].Source == "" {
					res[j].Source = adapter.Name()
				}
			}
			perAdapter[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var all []Result
	for _, res := range perAdapter {
		all = append(all, res...)
	}
	return all
}

func (p *Pool) annotateCache(ctx context.Context, results []Result) {
	hashes := make([]string, 0, len(results))
	for _, r := range results {
		if r.InfoHash != "" {
			hashes = append(hashes, r.InfoHash)
		}
	}
	status, err := p.cache.CheckCached(ctx, hashes)
	if err != nil {
		log.Warn("cache check failed, ranking without cache status", "error", err)
		return
	}
	for i := range results {
		if cached, ok := status[results[i].InfoHash]; ok {
			c := cached
			results[i].Cached = &c
		}
	}
}

// dedup drops results without hash and magnet, parses titles and removes duplicates.
// The first occurrence wins.
func dedup(results []Result) []Result {
	seen := make(map[string]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.Title) == "" {
			log.Debug("dropping result without title", "source", r.Source)
			continue
		}
		r.InfoHash = parser.NormalizeInfoHash(r.InfoHash)
		if r.InfoHash == "" && r.Magnet != "" {
			if h, err := parser.InfoHashFromMagnet(r.Magnet); err == nil {
				r.InfoHash = h
			}
		}
		if r.InfoHash == "" && r.Magnet == "" {
			continue
		}
		if r.Magnet == "" {
			m, err := parser.MagnetFromInfoHash(r.InfoHash, r.Title)
			if err != nil {
				continue
			}
			r.Magnet = m
		}

		key := r.InfoHash
		if key == "" {
			key = fmt.Sprintf("%s|%.1f", parser.NormalizeTitle(r.Title), r.SizeGB)
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		r.Parsed = parser.Parse(r.Title)
		out = append(out, r)
	}
	return out
}
