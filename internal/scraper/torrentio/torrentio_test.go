package torrentio

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streams = `{"streams":[
  {"name":"Torrentio\n1080p","title":"Akira.1988.1080p.BluRay.x264-GRP\n👤 23 💾 9.5 GB ⚙️ ThePirateBay","infoHash":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","fileIdx":0},
  {"name":"Torrentio\n720p","title":"\n👤 3","infoHash":"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","behaviorHints":{"filename":"Akira.720p.mkv"}},
  {"name":"Torrentio\n480p","title":"no hash"}
]}`

func TestAdapter_ScrapeMovie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sort=qualitysize/stream/movie/tt0094625.json", r.URL.Path)
		fmt.Fprint(w, streams)
	}))
	defer srv.Close()

	a := New(&config.TorrentioConfig{URL: srv.URL, Options: "sort=qualitysize"}, srv.Client())
	results, err := a.Scrape(context.Background(), scraper.Query{ImdbID: "tt0094625", Type: database.MediaTypeMovie})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Akira.1988.1080p.BluRay.x264-GRP", results[0].Title)
	assert.Equal(t, 23, results[0].Seeders)
	assert.InDelta(t, 9.5, results[0].SizeGB, 0.01)

	assert.Equal(t, "Akira.720p.mkv", results[1].Title)
	assert.Equal(t, 3, results[1].Seeders)
}

func TestAdapter_ScrapeEpisodePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stream/series/tt0903747:2:5.json", r.URL.Path)
		fmt.Fprint(w, `{"streams":[]}`)
	}))
	defer srv.Close()

	a := New(&config.TorrentioConfig{URL: srv.URL + "/"}, srv.Client())
	results, err := a.Scrape(context.Background(), scraper.Query{ImdbID: "tt0903747", Type: database.MediaTypeEpisode, Season: 2, Episode: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAdapter_NoImdbID(t *testing.T) {
	a := New(&config.TorrentioConfig{}, nil)
	results, err := a.Scrape(context.Background(), scraper.Query{Title: "Akira"})
	require.NoError(t, err)
	assert.Nil(t, results)
}
