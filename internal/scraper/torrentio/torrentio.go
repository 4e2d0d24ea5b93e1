// Package torrentio implements a scraper adapter for Torrentio style stream addons.
package torrentio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/jon4hz/jellyfetch/internal/scraper"
)

const (
	defaultURL  = "https://torrentio.strem.fun"
	adapterName = "torrentio"
)

// StreamResponse is the addon response body.
type StreamResponse struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single addon stream.
type Stream struct {
	Name          string        `json:"name"`
	Title         string        `json:"title"`
	InfoHash      string        `json:"infoHash"`
	FileIdx       *int          `json:"fileIdx,omitempty"`
	BehaviorHints BehaviorHints `json:"behaviorHints"`
}

// BehaviorHints carries the file name when the addon knows it.
type BehaviorHints struct {
	BingeGroup string `json:"bingeGroup"`
	Filename   string `json:"filename"`
}

var (
	seedersRe = regexp.MustCompile(`👤\s*(\d+)`)
	sizeRe    = regexp.MustCompile(`💾\s*([\d.,]+\s*[KMGT]i?B)`)
)

// Adapter queries a Torrentio instance.
type Adapter struct {
	baseURL string
	options string
	client  *http.Client
}

var _ scraper.Adapter = (*Adapter)(nil)

// New creates a Torrentio adapter.
func New(cfg *config.TorrentioConfig, client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	base := strings.TrimSuffix(cfg.URL, "/")
	if base == "" {
		base = defaultURL
	}
	return &Adapter{
		baseURL: base,
		options: strings.Trim(cfg.Options, "/"),
		client:  client,
	}
}

// Name returns the adapter name.
func (a *Adapter) Name() string { return adapterName }

// Scrape requests streams by IMDb id. Items without IMDb id yield no results.
func (a *Adapter) Scrape(ctx context.Context, q scraper.Query) ([]scraper.Result, error) {
	if q.ImdbID == "" {
		return nil, nil
	}

	var path string
	switch q.Type {
	case database.MediaTypeEpisode:
		path = fmt.Sprintf("stream/series/%s:%d:%d.json", q.ImdbID, q.Season, max(q.Episode, 1))
	default:
		path = fmt.Sprintf("stream/movie/%s.json", q.ImdbID)
	}
	endpoint := a.baseURL + "/"
	if a.options != "" {
		endpoint += a.options + "/"
	}
	endpoint += path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("torrentio request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := ratelimit.CheckResponse(resp); err != nil {
		return nil, err
	}

	var body StreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode torrentio response: %w", err)
	}

	results := make([]scraper.Result, 0, len(body.Streams))
	for _, s := range body.Streams {
		r, ok := convert(s)
		if !ok {
			log.Debug("dropping malformed torrentio stream", "name", s.Name)
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func convert(s Stream) (scraper.Result, bool) {
	if s.InfoHash == "" {
		return scraper.Result{}, false
	}
	lines := strings.Split(s.Title, "\n")
	title := strings.TrimSpace(lines[0])
	if title == "" {
		title = s.BehaviorHints.Filename
	}
	if title == "" {
		return scraper.Result{}, false
	}

	r := scraper.Result{
		Title:    title,
		InfoHash: s.InfoHash,
		Source:   adapterName,
	}
	if m := seedersRe.FindStringSubmatch(s.Title); m != nil {
		r.Seeders, _ = strconv.Atoi(m[1])
	}
	if m := sizeRe.FindStringSubmatch(s.Title); m != nil {
		if b, err := humanize.ParseBytes(strings.ReplaceAll(m[1], ",", "")); err == nil {
			r.SizeGB = float64(b) / 1e9
		}
	}
	return r, true
}
