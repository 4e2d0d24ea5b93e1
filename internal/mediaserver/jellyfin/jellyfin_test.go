package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/mediaserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAll_Pages(t *testing.T) {
	const total = 3
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Items", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), `MediaBrowser Token="key"`)
		start, _ := strconv.Atoi(r.URL.Query().Get("startIndex"))
		w.Header().Set("Content-Type", "application/json")
		if start >= total {
			fmt.Fprintf(w, `{"Items":[],"TotalRecordCount":%d}`, total)
			return
		}
		fmt.Fprintf(w, `{"Items":[{"Name":"x","Path":"/media/Movies/Item %d.mkv"}],"TotalRecordCount":%d}`, start, total)
	}))
	defer srv.Close()

	c := New(&config.JellyfinConfig{URL: srv.URL, APIKey: "key"})
	got, err := c.ListAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/Movies/Item 0.mkv", "/media/Movies/Item 1.mkv", "/media/Movies/Item 2.mkv"}, got)
}

func TestUpdateAndRemove(t *testing.T) {
	var updates []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/Library/Media/Updated", r.URL.Path)
		var body struct {
			Updates []map[string]string `json:"Updates"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		updates = append(updates, body.Updates...)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(&config.JellyfinConfig{URL: srv.URL, APIKey: "key"})
	require.NoError(t, c.UpdateItem(context.Background(), "/lib/a.mkv"))
	require.NoError(t, c.RemoveItem(context.Background(), "/lib/b.mkv"))

	require.Len(t, updates, 2)
	assert.Equal(t, "/lib/a.mkv", updates[0]["Path"])
	assert.Equal(t, "Created", updates[0]["UpdateType"])
	assert.Equal(t, "Deleted", updates[1]["UpdateType"])
}

func TestUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(&config.JellyfinConfig{URL: srv.URL, APIKey: "key"})
	_, err := c.ListRecent(context.Background())
	assert.ErrorIs(t, err, mediaserver.ErrUnavailable)
	assert.ErrorIs(t, c.UpdateItem(context.Background(), "/x.mkv"), mediaserver.ErrUnavailable)
}
