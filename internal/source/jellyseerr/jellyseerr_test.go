package jellyseerr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/jon4hz/jellyfetch/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/v1/request", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "approved", r.URL.Query().Get("filter"))

		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		page := requestPage{PageInfo: PageInfo{Pages: 2, Page: skip/pageSize + 1}}
		if skip == 0 {
			for i := range pageSize {
				page.Results = append(page.Results, MediaRequest{ID: i + 1, Type: "movie", Media: Media{TmdbID: int32(1000 + i)}})
			}
		} else {
			page.Results = []MediaRequest{
				{ID: 500, Type: "tv", Media: Media{TmdbID: 1396, ImdbID: "tt0903747"}, Seasons: []RequestSeason{{SeasonNumber: 1}, {SeasonNumber: 2}}},
				{ID: 501, Type: "music"},
			}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := New(&config.JellyseerrConfig{URL: srv.URL, APIKey: "secret", Version: "1080p"}, srv.Client())
	reqs, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, reqs, pageSize+1)

	assert.Equal(t, source.Request{TmdbID: 1000, Kind: source.KindMovie, Seasons: []int{}, Version: "1080p", Ref: "jellyseerr:1"}, reqs[0])
	show := reqs[pageSize]
	assert.Equal(t, source.KindShow, show.Kind)
	assert.Equal(t, "tt0903747", show.ImdbID)
	assert.Equal(t, []int{1, 2}, show.Seasons)
}

func TestPoll_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(&config.JellyseerrConfig{URL: srv.URL, APIKey: "secret"}, srv.Client())
	_, err := c.Poll(context.Background())
	var se *ratelimit.StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Transient())
}
