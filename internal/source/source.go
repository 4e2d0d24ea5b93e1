// Package source turns requests from content sources into Wanted media items.
package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/metadata"
	"github.com/jon4hz/jellyfetch/internal/parser"
	"github.com/samber/lo"
)

// ErrNoIDs is returned for requests without any external id.
var ErrNoIDs = errors.New("request has neither imdb nor tmdb id")

// Kind is the kind of a request.
type Kind string

const (
	KindMovie Kind = "movie"
	KindShow  Kind = "show"
)

// Request is a request for a movie or for seasons of a show.
type Request struct {
	ImdbID  string `json:"imdb_id"`
	TmdbID  int32  `json:"tmdb_id"`
	Kind    Kind   `json:"kind"`
	Seasons []int  `json:"seasons,omitempty"`
	Version string `json:"version"`
	// Magnet pre-assigns a torrent and skips scraping.
	Magnet string `json:"magnet,omitempty"`
	// Ref identifies the request in its source.
	Ref string `json:"ref,omitempty"`
}

// Source is a content source polled by the scheduler.
type Source interface {
	Name() string
	Poll(ctx context.Context) ([]Request, error)
}

// Expander resolves requests into items.
type Expander struct {
	resolver       metadata.Resolver
	defaultVersion string
}

// NewExpander creates an Expander. Requests without version get the default version of cfg.
func NewExpander(resolver metadata.Resolver, cfg *config.Config) *Expander {
	return &Expander{resolver: resolver, defaultVersion: DefaultVersion(cfg)}
}

// DefaultVersion returns the alphabetically first configured version.
func DefaultVersion(cfg *config.Config) string {
	keys := lo.Keys(cfg.Versions)
	slices.Sort(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// Expand returns the Wanted items of req. Movies yield one item, shows one item per
// episode of the requested seasons, or of every regular season when none are given.
func (e *Expander) Expand(ctx context.Context, req Request, sourceName string) ([]database.MediaItem, error) {
	if req.ImdbID == "" && req.TmdbID == 0 {
		return nil, ErrNoIDs
	}
	version := lo.CoalesceOrEmpty(req.Version, e.defaultVersion)
	ids := metadata.IDs{ImdbID: req.ImdbID, TmdbID: req.TmdbID}

	if req.Magnet != "" {
		if _, err := parser.InfoHashFromMagnet(req.Magnet); err != nil {
			return nil, fmt.Errorf("invalid magnet: %w", err)
		}
		sourceName = database.SourceMagnetAssigner
	}

	switch req.Kind {
	case KindMovie:
		m, err := e.resolver.MovieMetadata(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve movie %s: %w", ids.Key(), err)
		}
		item := database.MediaItem{
			ImdbID:                lo.CoalesceOrEmpty(m.ImdbID, req.ImdbID),
			TmdbID:                lo.CoalesceOrEmpty(m.TmdbID, req.TmdbID),
			Title:                 m.Title,
			Year:                  m.Year,
			Type:                  database.MediaTypeMovie,
			Version:               version,
			ReleaseDate:           lo.CoalesceOrEmpty(m.ReleaseDate, database.ReleaseDateUnknown),
			PhysicalReleaseDate:   m.PhysicalReleaseDate,
			TheatricalReleaseDate: m.TheatricalReleaseDate,
			Genres:                m.Genres,
			Source:                sourceName,
			SourceRef:             req.Ref,
			FilledByMagnet:        req.Magnet,
		}
		return []database.MediaItem{item}, nil

	case KindShow:
		show, err := e.resolver.ShowMetadata(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve show %s: %w", ids.Key(), err)
		}
		seasons := req.Seasons
		if len(seasons) == 0 {
			for _, s := range show.Seasons {
				if s.Number > 0 {
					seasons = append(seasons, s.Number)
				}
			}
		}

		var items []database.MediaItem
		for _, season := range seasons {
			eps, err := e.resolver.SeasonEpisodes(ctx, show.IDs, season)
			if err != nil {
				if errors.Is(err, metadata.ErrNotFound) {
					log.Warn("season not found, skipping", "show", show.Title, "season", season)
					continue
				}
				return nil, fmt.Errorf("failed to resolve %s season %d: %w", show.Title, season, err)
			}
			for _, ep := range eps {
				items = append(items, database.MediaItem{
					ImdbID:         lo.CoalesceOrEmpty(show.ImdbID, req.ImdbID),
					TmdbID:         lo.CoalesceOrEmpty(show.TmdbID, req.TmdbID),
					Title:          show.Title,
					Year:           lo.CoalesceOrEmpty(metadata.YearOf(ep.AirDate), show.Year),
					Type:           database.MediaTypeEpisode,
					Version:        version,
					SeasonNumber:   ep.Season,
					EpisodeNumber:  ep.Episode,
					EpisodeTitle:   ep.Title,
					ShowTitle:      show.Title,
					ShowYear:       show.Year,
					Airtime:        show.Airtime,
					ReleaseDate:    lo.CoalesceOrEmpty(ep.AirDate, database.ReleaseDateUnknown),
					Genres:         show.Genres,
					Source:         sourceName,
					SourceRef:      req.Ref,
					FilledByMagnet: req.Magnet,
				})
			}
		}
		return items, nil
	}
	return nil, fmt.Errorf("unknown request kind %q", req.Kind)
}

// Inserter stores items unless they already exist.
type Inserter interface {
	InsertMediaItemIfAbsent(ctx context.Context, item *database.MediaItem) (bool, error)
}

// Add expands req and inserts every new item. It returns the inserted items.
func (e *Expander) Add(ctx context.Context, db Inserter, req Request, sourceName string) ([]database.MediaItem, error) {
	items, err := e.Expand(ctx, req, sourceName)
	if err != nil {
		return nil, err
	}
	var inserted []database.MediaItem
	for i := range items {
		ok, err := db.InsertMediaItemIfAbsent(ctx, &items[i])
		if err != nil {
			return inserted, fmt.Errorf("failed to insert %s: %w", items[i].String(), err)
		}
		if ok {
			inserted = append(inserted, items[i])
		}
	}
	return inserted, nil
}

// Sync polls src and inserts the items of every request. A failing request is logged and skipped.
func (e *Expander) Sync(ctx context.Context, db Inserter, src Source) (int, error) {
	reqs, err := src.Poll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to poll %s: %w", src.Name(), err)
	}
	total := 0
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		inserted, err := e.Add(ctx, db, req, src.Name())
		total += len(inserted)
		if err != nil {
			log.Warn("failed to add request", "source", src.Name(), "ref", req.Ref, "error", err)
			continue
		}
		for _, item := range inserted {
			log.Info("new wanted item", "source", src.Name(), "item", item.String(), "version", item.Version)
		}
	}
	if total > 0 {
		log.Info("content source synced", "source", src.Name(), "requests", len(reqs), "new_items", total)
	}
	return total, nil
}

// ParseKind maps the usual spellings of a media type to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return KindMovie, nil
	case "show", "tv", "series", "episode":
		return KindShow, nil
	}
	return "", fmt.Errorf("unknown media type %q", s)
}
