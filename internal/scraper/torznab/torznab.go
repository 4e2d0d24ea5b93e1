// Package torznab implements a scraper adapter for Torznab indexers (Jackett, Prowlarr).
package torznab

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/jon4hz/jellyfetch/internal/scraper"
)

const bytesPerGB = 1 << 30

// Response is the RSS document returned by a Torznab search.
type Response struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

// Channel is the channel element of the feed.
type Channel struct {
	Title string `xml:"title"`
	Items []Item `xml:"item"`
}

// Item is a single search result.
type Item struct {
	Title      string      `xml:"title"`
	GUID       string      `xml:"guid"`
	Link       string      `xml:"link"`
	Size       int64       `xml:"size"`
	Enclosure  Enclosure   `xml:"enclosure"`
	Attributes []Attribute `xml:"attr"`
}

// Enclosure holds the download link of an item.
type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// Attribute is a torznab:attr element.
type Attribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Attr returns the value of a named attribute.
func (i *Item) Attr(name string) string {
	for _, a := range i.Attributes {
		if strings.EqualFold(a.Name, name) {
			return a.Value
		}
	}
	return ""
}

// Adapter searches one Torznab endpoint.
type Adapter struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ scraper.Adapter = (*Adapter)(nil)

// New creates a Torznab adapter. client should carry the rate limiter transport.
func New(cfg *config.TorznabConfig, client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	name := cfg.Name
	if name == "" {
		name = "torznab"
	}
	return &Adapter{
		name:    name,
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		client:  client,
	}
}

// Name returns the adapter name.
func (a *Adapter) Name() string { return a.name }

// Scrape searches by IMDb id when present and by title otherwise.
func (a *Adapter) Scrape(ctx context.Context, q scraper.Query) ([]scraper.Result, error) {
	params := url.Values{}
	params.Set("apikey", a.apiKey)

	switch q.Type {
	case database.MediaTypeEpisode:
		params.Set("t", "tvsearch")
		if q.Season > 0 {
			params.Set("season", strconv.Itoa(q.Season))
		}
		if q.Episode > 0 && !q.MultiPack {
			params.Set("ep", strconv.Itoa(q.Episode))
		}
	default:
		params.Set("t", "movie")
	}
	if q.ImdbID != "" {
		params.Set("imdbid", q.ImdbID)
	} else {
		params.Set("q", q.Title)
	}

	items, err := a.search(ctx, params)
	if err != nil {
		return nil, err
	}
	return a.convert(items), nil
}

func (a *Adapter) search(ctx context.Context, params url.Values) ([]Item, error) {
	apiURL, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid torznab URL: %w", err)
	}
	if apiURL.Path == "" || apiURL.Path == "/" {
		apiURL.Path = "/api"
	} else if !strings.HasSuffix(apiURL.Path, "/api") {
		apiURL.Path = strings.TrimSuffix(apiURL.Path, "/") + "/api"
	}
	apiURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "jellyfetch")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("torznab request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := ratelimit.CheckResponse(resp); err != nil {
		return nil, err
	}

	var doc Response
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}
	log.Debug("torznab search completed", "indexer", a.name, "count", len(doc.Channel.Items))
	return doc.Channel.Items, nil
}

func (a *Adapter) convert(items []Item) []scraper.Result {
	results := make([]scraper.Result, 0, len(items))
	for i := range items {
		item := &items[i]

		size := item.Size
		if size == 0 {
			size = item.Enclosure.Length
		}
		if v, err := strconv.ParseInt(item.Attr("size"), 10, 64); err == nil && v > 0 {
			size = v
		}
		seeders, _ := strconv.Atoi(item.Attr("seeders"))

		magnet := item.Attr("magneturl")
		if magnet == "" && strings.HasPrefix(item.Enclosure.URL, "magnet:") {
			magnet = item.Enclosure.URL
		}
		if magnet == "" && strings.HasPrefix(item.Link, "magnet:") {
			magnet = item.Link
		}

		results = append(results, scraper.Result{
			Title:    item.Title,
			InfoHash: item.Attr("infohash"),
			Magnet:   magnet,
			SizeGB:   float64(size) / bytesPerGB,
			Seeders:  seeders,
			Source:   a.name,
		})
	}
	return results
}
