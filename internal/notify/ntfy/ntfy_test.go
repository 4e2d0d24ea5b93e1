package ntfy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	messages []Message
	auth     []string
	status   int
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var msg Message
	if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.messages = append(r.messages, msg)
	r.auth = append(r.auth, req.Header.Get("Authorization"))
	if r.status != 0 {
		http.Error(w, "nope", r.status)
	}
}

func newTestClient(t *testing.T, cfg config.NtfyConfig) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	cfg.ServerURL = srv.URL
	return NewClient(&cfg), rec
}

func TestNotify(t *testing.T) {
	tests := []struct {
		name  string
		ev    engine.Event
		title string
		sent  bool
	}{
		{"collected", engine.Event{From: database.StateAdding, To: database.StateCollected, Title: "Akira (1988)"}, "🎬 Collected", true},
		{"upgraded", engine.Event{From: database.StateUpgrading, To: database.StateUpgraded, Title: "Akira (1988)"}, "⬆️ Upgraded", true},
		{"blacklisted", engine.Event{From: database.StateAdding, To: database.StateBlacklisted, Failure: true}, "⛔ Blacklisted", true},
		{"verification", engine.Event{From: database.StateCollected, To: database.StateWanted, Failure: true}, "⚠️ Verification Failed", true},
		{"upgrade promotion", engine.Event{From: database.StateUpgraded, To: database.StateCollected}, "", false},
		{"queue move", engine.Event{From: database.StateWanted, To: database.StateScraping}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newTestClient(t, config.NtfyConfig{Topic: "media"})
			require.NoError(t, c.Notify(context.Background(), tt.ev))
			if !tt.sent {
				assert.Empty(t, rec.messages)
				return
			}
			require.Len(t, rec.messages, 1)
			assert.Equal(t, tt.title, rec.messages[0].Title)
			assert.Equal(t, "media", rec.messages[0].Topic)
			assert.Equal(t, string(tt.ev.To), rec.messages[0].Extras["to"])
		})
	}
}

func TestSendMessage_Auth(t *testing.T) {
	c, rec := newTestClient(t, config.NtfyConfig{Topic: "media", Token: "tk_secret", Username: "u", Password: "p"})
	require.NoError(t, c.SendMessage(context.Background(), Message{Title: "hi"}))
	assert.Equal(t, "Bearer tk_secret", rec.auth[0])

	c, rec = newTestClient(t, config.NtfyConfig{Topic: "media", Username: "u", Password: "p"})
	require.NoError(t, c.SendMessage(context.Background(), Message{Title: "hi"}))
	assert.Contains(t, rec.auth[0], "Basic ")
}

func TestSendMessage_ErrorStatus(t *testing.T) {
	c, rec := newTestClient(t, config.NtfyConfig{Topic: "media"})
	rec.status = http.StatusForbidden
	err := c.SendMessage(context.Background(), Message{Title: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "nope")
}
