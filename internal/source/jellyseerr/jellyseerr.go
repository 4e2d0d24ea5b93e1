// Package jellyseerr polls approved Jellyseerr requests.
package jellyseerr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/jon4hz/jellyfetch/internal/source"
	"github.com/samber/lo"
)

const pageSize = 100

// Client represents a Jellyseerr API client
type Client struct {
	baseURL    string
	apiKey     string
	version    string
	httpClient *http.Client
}

var _ source.Source = (*Client)(nil)

// New creates a new Jellyseerr API client
func New(cfg *config.JellyseerrConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		version:    cfg.Version,
		httpClient: httpClient,
	}
}

// PageInfo is the paging block of list responses.
type PageInfo struct {
	Pages   int `json:"pages"`
	Page    int `json:"page"`
	Results int `json:"results"`
}

// Media is the media a request points at.
type Media struct {
	TmdbID    int32  `json:"tmdbId"`
	ImdbID    string `json:"imdbId"`
	MediaType string `json:"mediaType"`
}

// RequestSeason is a season included in a TV request.
type RequestSeason struct {
	SeasonNumber int `json:"seasonNumber"`
}

// MediaRequest represents a media request
type MediaRequest struct {
	ID        int             `json:"id"`
	Status    int             `json:"status"`
	Type      string          `json:"type"`
	Is4K      bool            `json:"is4k"`
	CreatedAt time.Time       `json:"createdAt"`
	Media     Media           `json:"media"`
	Seasons   []RequestSeason `json:"seasons"`
}

type requestPage struct {
	PageInfo PageInfo       `json:"pageInfo"`
	Results  []MediaRequest `json:"results"`
}

// Name implements source.Source.
func (c *Client) Name() string {
	return "Jellyseerr"
}

// doRequest performs a GET request to the Jellyseerr API
func (c *Client) doRequest(ctx context.Context, endpoint string, query url.Values, out any) error {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error performing request: %w", err)
	}
	defer resp.Body.Close()

	if err := ratelimit.CheckResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// GetApprovedRequests returns every approved request, oldest first.
func (c *Client) GetApprovedRequests(ctx context.Context) ([]MediaRequest, error) {
	var all []MediaRequest
	for skip := 0; ; skip += pageSize {
		q := url.Values{}
		q.Set("take", strconv.Itoa(pageSize))
		q.Set("skip", strconv.Itoa(skip))
		q.Set("filter", "approved")
		q.Set("sort", "added")

		var page requestPage
		if err := c.doRequest(ctx, "/api/v1/request", q, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		if len(page.Results) < pageSize || page.PageInfo.Page >= page.PageInfo.Pages {
			break
		}
	}
	return all, nil
}

// Poll implements source.Source.
func (c *Client) Poll(ctx context.Context) ([]source.Request, error) {
	reqs, err := c.GetApprovedRequests(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]source.Request, 0, len(reqs))
	for _, r := range reqs {
		kind, err := source.ParseKind(lo.CoalesceOrEmpty(r.Type, r.Media.MediaType))
		if err != nil {
			continue
		}
		out = append(out, source.Request{
			ImdbID:  r.Media.ImdbID,
			TmdbID:  r.Media.TmdbID,
			Kind:    kind,
			Seasons: lo.Map(r.Seasons, func(s RequestSeason, _ int) int { return s.SeasonNumber }),
			Version: c.version,
			Ref:     "jellyseerr:" + strconv.Itoa(r.ID),
		})
	}
	return out, nil
}
