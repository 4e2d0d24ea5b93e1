// Package metadata resolves external ids and release information of movies and shows.
package metadata

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jon4hz/jellyfetch/internal/database"
)

// ErrNotFound is returned when the resolver has no entry.
var ErrNotFound = errors.New("metadata not found")

// IDs are the external ids of a title. Either may be empty.
type IDs struct {
	ImdbID string `json:"imdb_id"`
	TmdbID int32  `json:"tmdb_id"`
}

// Key returns a stable cache key.
func (i IDs) Key() string {
	if i.TmdbID != 0 {
		return "tmdb:" + strconv.Itoa(int(i.TmdbID))
	}
	return "imdb:" + i.ImdbID
}

// Movie is movie metadata.
type Movie struct {
	IDs
	Title                 string   `json:"title"`
	Year                  int      `json:"year"`
	Genres                []string `json:"genres"`
	ReleaseDate           string   `json:"release_date"`
	PhysicalReleaseDate   string   `json:"physical_release_date"`
	TheatricalReleaseDate string   `json:"theatrical_release_date"`
	PosterURL             string   `json:"poster_url"`
}

// Season summarizes one season of a show.
type Season struct {
	Number       int    `json:"number"`
	EpisodeCount int    `json:"episode_count"`
	AirDate      string `json:"air_date"`
}

// Show is show metadata.
type Show struct {
	IDs
	Title        string   `json:"title"`
	Year         int      `json:"year"`
	Genres       []string `json:"genres"`
	FirstAirDate string   `json:"first_air_date"`
	Airtime      string   `json:"airtime"`
	Seasons      []Season `json:"seasons"`
	PosterURL    string   `json:"poster_url"`
}

// Episode is one episode of a season.
type Episode struct {
	Season  int    `json:"season"`
	Episode int    `json:"episode"`
	Title   string `json:"title"`
	AirDate string `json:"air_date"`
}

// Resolver looks up metadata.
type Resolver interface {
	// ImdbFromTmdb returns the imdb id of a tmdb title, or ErrNotFound.
	ImdbFromTmdb(ctx context.Context, tmdbID int32, mediaType database.MediaType) (string, error)
	MovieMetadata(ctx context.Context, ids IDs) (*Movie, error)
	ShowMetadata(ctx context.Context, ids IDs) (*Show, error)
	SeasonEpisodes(ctx context.Context, ids IDs, season int) ([]Episode, error)
}

// YearOf returns the year of a YYYY-MM-DD date, or 0.
func YearOf(date string) int {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return 0
	}
	return t.Year()
}

// AbsoluteEpisode returns the running episode number of (season, episode) over every
// regular season of show. Specials are ignored.
func AbsoluteEpisode(show *Show, season, episode int) int {
	abs := episode
	for _, s := range show.Seasons {
		if s.Number > 0 && s.Number < season {
			abs += s.EpisodeCount
		}
	}
	return abs
}
