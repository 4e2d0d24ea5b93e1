// Package tmdb implements the metadata resolver against The Movie Database.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/metadata"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const (
	defaultURL      = "https://api.themoviedb.org/3"
	imageBaseURL    = "https://image.tmdb.org/t/p/w500"
	releaseTheater  = 3
	releaseDigital  = 4
	releasePhysical = 5
)

type genre struct {
	Name string `json:"name"`
}

type externalIDs struct {
	ImdbID string `json:"imdb_id"`
}

type movieResponse struct {
	ID           int32   `json:"id"`
	ImdbID       string  `json:"imdb_id"`
	Title        string  `json:"title"`
	ReleaseDate  string  `json:"release_date"`
	PosterPath   string  `json:"poster_path"`
	Genres       []genre `json:"genres"`
	ReleaseDates struct {
		Results []struct {
			Country      string `json:"iso_3166_1"`
			ReleaseDates []struct {
				Type        int    `json:"type"`
				ReleaseDate string `json:"release_date"`
			} `json:"release_dates"`
		} `json:"results"`
	} `json:"release_dates"`
}

type showResponse struct {
	ID           int32       `json:"id"`
	Name         string      `json:"name"`
	FirstAirDate string      `json:"first_air_date"`
	PosterPath   string      `json:"poster_path"`
	Genres       []genre     `json:"genres"`
	ExternalIDs  externalIDs `json:"external_ids"`
	Seasons      []struct {
		SeasonNumber int    `json:"season_number"`
		EpisodeCount int    `json:"episode_count"`
		AirDate      string `json:"air_date"`
	} `json:"seasons"`
}

type episodeResponse struct {
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
	Name          string `json:"name"`
	AirDate       string `json:"air_date"`
}

type seasonResponse struct {
	Episodes []episodeResponse `json:"episodes"`
}

type findResponse struct {
	MovieResults []struct {
		ID int32 `json:"id"`
	} `json:"movie_results"`
	TVResults []struct {
		ID int32 `json:"id"`
	} `json:"tv_results"`
}

// Client talks to TMDB. Requests are throttled by a token bucket.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

var _ metadata.Resolver = (*Client)(nil)

// New creates a TMDB client.
func New(cfg *config.TMDBConfig, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	return &Client{
		baseURL: defaultURL,
		apiKey:  cfg.APIKey,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
	}
}

// WithBaseURL points the client at another API root.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimSuffix(u, "/")
	return c
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tmdb request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := ratelimit.CheckResponse(resp); err != nil {
		var se *ratelimit.StatusError
		if errors.As(err, &se) && se.NotFound() {
			return fmt.Errorf("%w: %s", metadata.ErrNotFound, path)
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode tmdb response: %w", err)
	}
	return nil
}

// ImdbFromTmdb looks up the imdb id of a movie or show.
func (c *Client) ImdbFromTmdb(ctx context.Context, tmdbID int32, mediaType database.MediaType) (string, error) {
	kind := "movie"
	if mediaType == database.MediaTypeEpisode {
		kind = "tv"
	}
	var ids externalIDs
	if err := c.get(ctx, fmt.Sprintf("/%s/%d/external_ids", kind, tmdbID), nil, &ids); err != nil {
		return "", err
	}
	if ids.ImdbID == "" {
		return "", metadata.ErrNotFound
	}
	return ids.ImdbID, nil
}

func (c *Client) findTmdbID(ctx context.Context, imdbID string, tv bool) (int32, error) {
	if imdbID == "" {
		return 0, fmt.Errorf("%w: no ids", metadata.ErrNotFound)
	}
	var res findResponse
	q := url.Values{}
	q.Set("external_source", "imdb_id")
	if err := c.get(ctx, "/find/"+url.PathEscape(imdbID), q, &res); err != nil {
		return 0, err
	}
	if tv && len(res.TVResults) > 0 {
		return res.TVResults[0].ID, nil
	}
	if !tv && len(res.MovieResults) > 0 {
		return res.MovieResults[0].ID, nil
	}
	return 0, fmt.Errorf("%w: %s", metadata.ErrNotFound, imdbID)
}

func (c *Client) resolve(ctx context.Context, ids metadata.IDs, tv bool) (int32, error) {
	if ids.TmdbID != 0 {
		return ids.TmdbID, nil
	}
	return c.findTmdbID(ctx, ids.ImdbID, tv)
}

// MovieMetadata returns movie metadata with theatrical and physical release dates.
func (c *Client) MovieMetadata(ctx context.Context, ids metadata.IDs) (*metadata.Movie, error) {
	id, err := c.resolve(ctx, ids, false)
	if err != nil {
		return nil, err
	}
	var res movieResponse
	q := url.Values{}
	q.Set("append_to_response", "release_dates")
	if err := c.get(ctx, "/movie/"+strconv.Itoa(int(id)), q, &res); err != nil {
		return nil, err
	}

	m := &metadata.Movie{
		IDs:         metadata.IDs{ImdbID: lo.CoalesceOrEmpty(res.ImdbID, ids.ImdbID), TmdbID: res.ID},
		Title:       res.Title,
		Year:        metadata.YearOf(res.ReleaseDate),
		Genres:      genreNames(res.Genres),
		ReleaseDate: res.ReleaseDate,
	}
	if res.PosterPath != "" {
		m.PosterURL = imageBaseURL + res.PosterPath
	}

	// the earliest date of each type across countries, digital wins over the primary date
	var digital string
	for _, country := range res.ReleaseDates.Results {
		for _, rd := range country.ReleaseDates {
			date := dateOnly(rd.ReleaseDate)
			if date == "" {
				continue
			}
			switch rd.Type {
			case releaseTheater:
				m.TheatricalReleaseDate = earliest(m.TheatricalReleaseDate, date)
			case releaseDigital:
				digital = earliest(digital, date)
			case releasePhysical:
				m.PhysicalReleaseDate = earliest(m.PhysicalReleaseDate, date)
			}
		}
	}
	if digital != "" {
		m.ReleaseDate = digital
	}
	log.Debug("resolved movie metadata", "title", m.Title, "tmdb_id", m.TmdbID)
	return m, nil
}

// ShowMetadata returns show metadata including season sizes.
func (c *Client) ShowMetadata(ctx context.Context, ids metadata.IDs) (*metadata.Show, error) {
	id, err := c.resolve(ctx, ids, true)
	if err != nil {
		return nil, err
	}
	var res showResponse
	q := url.Values{}
	q.Set("append_to_response", "external_ids")
	if err := c.get(ctx, "/tv/"+strconv.Itoa(int(id)), q, &res); err != nil {
		return nil, err
	}

	s := &metadata.Show{
		IDs:          metadata.IDs{ImdbID: lo.CoalesceOrEmpty(res.ExternalIDs.ImdbID, ids.ImdbID), TmdbID: res.ID},
		Title:        res.Name,
		Year:         metadata.YearOf(res.FirstAirDate),
		Genres:       genreNames(res.Genres),
		FirstAirDate: res.FirstAirDate,
	}
	if res.PosterPath != "" {
		s.PosterURL = imageBaseURL + res.PosterPath
	}
	for _, season := range res.Seasons {
		s.Seasons = append(s.Seasons, metadata.Season{
			Number:       season.SeasonNumber,
			EpisodeCount: season.EpisodeCount,
			AirDate:      season.AirDate,
		})
	}
	return s, nil
}

// SeasonEpisodes returns the episodes of one season.
func (c *Client) SeasonEpisodes(ctx context.Context, ids metadata.IDs, season int) ([]metadata.Episode, error) {
	id, err := c.resolve(ctx, ids, true)
	if err != nil {
		return nil, err
	}
	var res seasonResponse
	if err := c.get(ctx, fmt.Sprintf("/tv/%d/season/%d", id, season), nil, &res); err != nil {
		return nil, err
	}
	return lo.Map(res.Episodes, func(e episodeResponse, _ int) metadata.Episode {
		return metadata.Episode{Season: e.SeasonNumber, Episode: e.EpisodeNumber, Title: e.Name, AirDate: e.AirDate}
	}), nil
}

func genreNames(genres []genre) []string {
	return lo.Map(genres, func(g genre, _ int) string { return g.Name })
}

func dateOnly(ts string) string {
	if len(ts) < 10 {
		return ""
	}
	return ts[:10]
}

func earliest(current, candidate string) string {
	if current == "" || candidate < current {
		return candidate
	}
	return current
}
