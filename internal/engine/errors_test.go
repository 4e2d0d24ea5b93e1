package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/debrid"
	"github.com/jon4hz/jellyfetch/internal/mediaserver"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/jon4hz/jellyfetch/internal/scraper"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	var syntaxErr error
	if err := json.Unmarshal([]byte("{"), &struct{}{}); err != nil {
		syntaxErr = err
	}

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"rate limited", &ratelimit.StatusError{Host: "x", StatusCode: 429}, RateLimited},
		{"server error", &ratelimit.StatusError{Host: "x", StatusCode: 502}, Transient},
		{"status not found", fmt.Errorf("wrapped: %w", &ratelimit.StatusError{Host: "x", StatusCode: 404}), NotFound},
		{"bad request", &ratelimit.StatusError{Host: "x", StatusCode: 400}, FatalItem},
		{"degraded", fmt.Errorf("%w: disk full", ErrDegraded), FatalProcess},
		{"unknown version", ErrUnknownVersion, FatalItem},
		{"unresolvable id", ErrUnresolvableID, FatalItem},
		{"torrent gone", debrid.ErrNotFound, NotFound},
		{"no results", scraper.ErrNoResults, NotFound},
		{"media server down", mediaserver.ErrUnavailable, Transient},
		{"deadline", context.DeadlineExceeded, Transient},
		{"stale", database.ErrStale, Transient},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, Transient},
		{"json", syntaxErr, Parse},
		{"anything else", errors.New("boom"), Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err), tt.err)
		})
	}
}

func TestRejectable(t *testing.T) {
	assert.True(t, rejectable(errUncached))
	assert.True(t, rejectable(fmt.Errorf("add: %w", debrid.ErrTorrentFailed)))
	assert.True(t, rejectable(&ratelimit.StatusError{StatusCode: 404}))
	assert.False(t, rejectable(&ratelimit.StatusError{StatusCode: 429}))
	assert.False(t, rejectable(errors.New("connection reset")))
}
