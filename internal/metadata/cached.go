package metadata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/cache"
	"github.com/jon4hz/jellyfetch/internal/database"
)

const (
	showTTL   = 24 * time.Hour
	imdbIDTTL = 30 * 24 * time.Hour
)

// Cached wraps a Resolver with per kind caches.
type Cached struct {
	next    Resolver
	movies  *cache.PrefixedCache[Movie]
	shows   *cache.PrefixedCache[Show]
	seasons *cache.PrefixedCache[[]Episode]
	imdbIDs *cache.PrefixedCache[string]
}

var _ Resolver = (*Cached)(nil)

// NewCached creates a caching resolver. Movie entries live for movieTTL.
func NewCached(next Resolver, m *cache.Manager, movieTTL time.Duration) *Cached {
	return &Cached{
		next:    next,
		movies:  cache.NewCache[Movie](m, "movie-metadata", cache.MovieMetadataPrefix, movieTTL),
		shows:   cache.NewCache[Show](m, "show-metadata", cache.ShowMetadataPrefix, showTTL),
		seasons: cache.NewCache[[]Episode](m, "season-episodes", cache.ShowMetadataPrefix+"season-", showTTL),
		imdbIDs: cache.NewCache[string](m, "imdb-ids", cache.ImdbIDPrefix, imdbIDTTL),
	}
}

// ImdbFromTmdb resolves and caches an imdb id.
func (c *Cached) ImdbFromTmdb(ctx context.Context, tmdbID int32, mediaType database.MediaType) (string, error) {
	key := fmt.Sprintf("%s:%d", mediaType, tmdbID)
	if id, err := c.imdbIDs.Get(ctx, key); err == nil && id != "" {
		return id, nil
	}
	id, err := c.next.ImdbFromTmdb(ctx, tmdbID, mediaType)
	if err != nil {
		return "", err
	}
	if err := c.imdbIDs.Set(ctx, key, id); err != nil {
		log.Warn("failed to cache imdb id", "tmdb_id", tmdbID, "error", err)
	}
	return id, nil
}

// MovieMetadata resolves and caches movie metadata.
func (c *Cached) MovieMetadata(ctx context.Context, ids IDs) (*Movie, error) {
	if m, err := c.movies.Get(ctx, ids.Key()); err == nil {
		return &m, nil
	}
	m, err := c.next.MovieMetadata(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := c.movies.Set(ctx, ids.Key(), *m); err != nil {
		log.Warn("failed to cache movie metadata", "ids", ids.Key(), "error", err)
	}
	return m, nil
}

// ShowMetadata resolves and caches show metadata.
func (c *Cached) ShowMetadata(ctx context.Context, ids IDs) (*Show, error) {
	if s, err := c.shows.Get(ctx, ids.Key()); err == nil {
		return &s, nil
	}
	s, err := c.next.ShowMetadata(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := c.shows.Set(ctx, ids.Key(), *s); err != nil {
		log.Warn("failed to cache show metadata", "ids", ids.Key(), "error", err)
	}
	return s, nil
}

// SeasonEpisodes resolves and caches the episodes of a season.
func (c *Cached) SeasonEpisodes(ctx context.Context, ids IDs, season int) ([]Episode, error) {
	key := ids.Key() + ":" + strconv.Itoa(season)
	if eps, err := c.seasons.Get(ctx, key); err == nil {
		return eps, nil
	}
	eps, err := c.next.SeasonEpisodes(ctx, ids, season)
	if err != nil {
		return nil, err
	}
	if err := c.seasons.Set(ctx, key, eps); err != nil {
		log.Warn("failed to cache season episodes", "ids", ids.Key(), "season", season, "error", err)
	}
	return eps, nil
}
