package ratelimit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(now *time.Time) *Limiter {
	l := New()
	l.now = func() time.Time { return *now }
	return l
}

func TestLimiter_ShortWindowCap(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(&now)

	for i := 0; i < ShortCap; i++ {
		assert.False(t, l.Record("api.example.com"))
	}
	assert.True(t, l.Record("api.example.com"))
	assert.True(t, l.OverUsage())
}

func TestLimiter_WindowPrunes(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(&now)

	for i := 0; i < ShortCap; i++ {
		l.Record("a")
	}
	now = now.Add(ShortWindow + time.Second)
	assert.False(t, l.Record("a"))

	usage := l.Snapshot()
	require.Len(t, usage, 1)
	assert.Equal(t, 1, usage[0].ShortWindow)
	assert.Equal(t, ShortCap+1, usage[0].LongWindow)
}

func TestLimiter_LongWindowCap(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(&now)

	for i := 0; i < LongCap; i++ {
		l.Record("a")
		now = now.Add(time.Second)
	}
	assert.False(t, l.OverUsage())
	l.Record("a")
	assert.True(t, l.OverUsage())
}

func TestLimiter_HostsAreIndependent(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(&now)

	for i := 0; i < ShortCap; i++ {
		l.Record("a")
	}
	assert.False(t, l.Record("b"))
}

func TestLimiter_Reset(t *testing.T) {
	l := New()
	l.MarkRateLimited("a")
	require.True(t, l.OverUsage())

	l.Reset()
	assert.False(t, l.OverUsage())
	assert.Empty(t, l.Snapshot())
}

func TestTransport_Flags429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	l := New()
	client := &http.Client{Transport: l.Transport(nil)}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, l.OverUsage())

	err = CheckResponse(resp)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.RateLimited())
	assert.True(t, se.Transient())
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   bool
		transient bool
		notFound  bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "not found", status: http.StatusNotFound, wantErr: true, notFound: true},
		{name: "bad gateway", status: http.StatusBadGateway, wantErr: true, transient: true},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			resp, err := http.Get(srv.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			err = CheckResponse(resp)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.transient, se.Transient())
			assert.Equal(t, tt.notFound, se.NotFound())
		})
	}
}
