package torznab

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/jon4hz/jellyfetch/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <title>Jackett</title>
    <item>
      <title>Breaking.Bad.S01E03.1080p.BluRay.x264-GRP</title>
      <guid>1</guid>
      <size>2147483648</size>
      <enclosure url="http://jackett/dl/1" length="2147483648" type="application/x-bittorrent"/>
      <torznab:attr name="seeders" value="42"/>
      <torznab:attr name="infohash" value="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"/>
      <torznab:attr name="magneturl" value="magnet:?xt=urn:btih:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"/>
    </item>
    <item>
      <title>Breaking.Bad.S01.1080p.WEB-DL</title>
      <guid>2</guid>
      <link>magnet:?xt=urn:btih:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb</link>
      <torznab:attr name="size" value="10737418240"/>
    </item>
  </channel>
</rss>`

func TestAdapter_ScrapeEpisode(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/torznab/api", r.URL.Path)
		gotQuery = map[string]string{
			"t":      r.URL.Query().Get("t"),
			"imdbid": r.URL.Query().Get("imdbid"),
			"season": r.URL.Query().Get("season"),
			"ep":     r.URL.Query().Get("ep"),
			"apikey": r.URL.Query().Get("apikey"),
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	a := New(&config.TorznabConfig{Name: "jackett", URL: srv.URL + "/torznab", APIKey: "secret"}, srv.Client())
	results, err := a.Scrape(context.Background(), scraper.Query{
		ImdbID:  "tt0903747",
		Type:    database.MediaTypeEpisode,
		Season:  1,
		Episode: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"t": "tvsearch", "imdbid": "tt0903747", "season": "1", "ep": "3", "apikey": "secret"}, gotQuery)
	require.Len(t, results, 2)

	assert.Equal(t, "jackett", results[0].Source)
	assert.Equal(t, 42, results[0].Seeders)
	assert.InDelta(t, 2.0, results[0].SizeGB, 0.001)
	assert.Contains(t, results[0].Magnet, "magnet:")

	assert.InDelta(t, 10.0, results[1].SizeGB, 0.001)
	assert.Contains(t, results[1].Magnet, "bbbb")
}

func TestAdapter_MultiPackOmitsEpisode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("ep"))
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	a := New(&config.TorznabConfig{URL: srv.URL}, srv.Client())
	_, err := a.Scrape(context.Background(), scraper.Query{ImdbID: "tt1", Type: database.MediaTypeEpisode, Season: 1, Episode: 3, MultiPack: true})
	require.NoError(t, err)
	assert.Equal(t, "torznab", a.Name())
}

func TestAdapter_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := New(&config.TorznabConfig{URL: srv.URL}, srv.Client())
	_, err := a.Scrape(context.Background(), scraper.Query{Title: "Akira", Type: database.MediaTypeMovie})

	var se *ratelimit.StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.RateLimited())
}

func TestAdapter_MalformedXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<rss><channel><item>")
	}))
	defer srv.Close()

	a := New(&config.TorznabConfig{URL: srv.URL}, srv.Client())
	_, err := a.Scrape(context.Background(), scraper.Query{Title: "Akira", Type: database.MediaTypeMovie})
	assert.Error(t, err)
}
