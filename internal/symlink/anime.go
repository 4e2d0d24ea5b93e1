package symlink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/cache"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/metadata"
	"golang.org/x/time/rate"
)

const animeShowTTL = 7 * 24 * time.Hour

// animeShow is the cached per show data needed for renaming.
type animeShow struct {
	Title   string            `json:"title"`
	Year    int               `json:"year"`
	Seasons []metadata.Season `json:"seasons"`
	// Episodes maps "season:episode" to the episode title. Seasons are fetched lazily.
	Episodes map[string]string `json:"episodes"`
	Fetched  map[int]bool      `json:"fetched"`
}

// AnimeRenamer rewrites episode values to absolute numbering.
type AnimeRenamer struct {
	resolver metadata.Resolver
	shows    *cache.PrefixedCache[animeShow]
	limiter  *rate.Limiter
}

// NewAnimeRenamer creates a renamer. Resolver calls on cache misses are limited to rps per second.
func NewAnimeRenamer(resolver metadata.Resolver, m *cache.Manager, rps float64) *AnimeRenamer {
	if rps <= 0 {
		rps = 1
	}
	return &AnimeRenamer{
		resolver: resolver,
		shows:    cache.NewCache[animeShow](m, "anime-shows", cache.AnimeShowPrefix, animeShowTTL),
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Rename overrides title, year, season, episode and episode title of v for an anime episode.
// The episode number becomes the absolute number over all regular seasons and the season is 1.
func (r *AnimeRenamer) Rename(ctx context.Context, item *database.MediaItem, v Values) (Values, error) {
	if item.Type != database.MediaTypeEpisode || !item.IsAnime() {
		return v, nil
	}
	ids := metadata.IDs{ImdbID: item.ImdbID, TmdbID: item.TmdbID}
	show, err := r.show(ctx, ids, item.SeasonNumber)
	if err != nil {
		return v, err
	}

	meta := &metadata.Show{Seasons: show.Seasons}
	v.Title = show.Title
	v.Year = show.Year
	if title, ok := show.Episodes[episodeKey(item.SeasonNumber, item.EpisodeNumber)]; ok && title != "" {
		v.EpisodeTitle = title
	}
	v.EpisodeNumber = metadata.AbsoluteEpisode(meta, item.SeasonNumber, item.EpisodeNumber)
	v.SeasonNumber = 1
	return v, nil
}

func (r *AnimeRenamer) show(ctx context.Context, ids metadata.IDs, season int) (*animeShow, error) {
	key := ids.Key()
	cached, err := r.shows.Get(ctx, key)
	if err == nil && cached.Fetched[season] {
		return &cached, nil
	}

	if err != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		s, err := r.resolver.ShowMetadata(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve anime show %s: %w", key, err)
		}
		cached = animeShow{
			Title:    s.Title,
			Year:     s.Year,
			Seasons:  s.Seasons,
			Episodes: make(map[string]string),
			Fetched:  make(map[int]bool),
		}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	eps, err := r.resolver.SeasonEpisodes(ctx, ids, season)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve anime season %s/%d: %w", key, season, err)
	}
	if cached.Episodes == nil {
		cached.Episodes = make(map[string]string)
	}
	if cached.Fetched == nil {
		cached.Fetched = make(map[int]bool)
	}
	for _, e := range eps {
		cached.Episodes[episodeKey(e.Season, e.Episode)] = e.Title
	}
	cached.Fetched[season] = true

	if err := r.shows.Set(ctx, key, cached); err != nil {
		log.Warn("failed to cache anime show", "show", key, "error", err)
	}
	return &cached, nil
}

func episodeKey(season, episode int) string {
	return strconv.Itoa(season) + ":" + strconv.Itoa(episode)
}
