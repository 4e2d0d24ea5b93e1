// Package ratelimit tracks outbound request volume per host.
package ratelimit

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/metrics"
)

const (
	ShortWindow = 5 * time.Minute
	ShortCap    = 1000
	LongWindow  = time.Hour
	LongCap     = 2000
)

// HostUsage is a snapshot of one host's windows.
type HostUsage struct {
	Host        string `json:"host"`
	ShortWindow int    `json:"fiveMinute"`
	LongWindow  int    `json:"oneHour"`
	RateLimited int    `json:"rateLimited"`
}

type hostWindows struct {
	short       []time.Time
	long        []time.Time
	rateLimited int
}

// Limiter keeps append-only timestamp lists per host and raises a process-wide
// over-usage flag when either window exceeds its cap. It never blocks requests.
type Limiter struct {
	mu        sync.Mutex
	hosts     map[string]*hostWindows
	overUsage atomic.Bool
	now       func() time.Time
}

// New creates a Limiter.
func New() *Limiter {
	return &Limiter{
		hosts: make(map[string]*hostWindows),
		now:   time.Now,
	}
}

// Record registers one request to host and reports whether the flag is raised.
func (l *Limiter) Record(host string) bool {
	now := l.now()

	l.mu.Lock()
	w := l.windows(host)
	w.short = append(prune(w.short, now.Add(-ShortWindow)), now)
	w.long = append(prune(w.long, now.Add(-LongWindow)), now)
	exceeded := len(w.short) > ShortCap || len(w.long) > LongCap
	l.mu.Unlock()

	if exceeded && !l.overUsage.Swap(true) {
		log.Warn("api over-usage detected", "host", host)
		metrics.SetOverUsage(true)
	}
	return l.overUsage.Load()
}

// MarkRateLimited raises the flag for a host that answered with a rate limit.
func (l *Limiter) MarkRateLimited(host string) {
	l.mu.Lock()
	l.windows(host).rateLimited++
	l.mu.Unlock()

	if !l.overUsage.Swap(true) {
		log.Warn("host rate limited us", "host", host)
		metrics.SetOverUsage(true)
	}
}

// OverUsage reports the advisory flag.
func (l *Limiter) OverUsage() bool {
	return l.overUsage.Load()
}

// Reset clears the flag and all windows.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.hosts = make(map[string]*hostWindows)
	l.mu.Unlock()
	l.overUsage.Store(false)
	metrics.SetOverUsage(false)
	log.Info("rate limiter reset")
}

// Snapshot returns current usage sorted by host.
func (l *Limiter) Snapshot() []HostUsage {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]HostUsage, 0, len(l.hosts))
	for host, w := range l.hosts {
		w.short = prune(w.short, now.Add(-ShortWindow))
		w.long = prune(w.long, now.Add(-LongWindow))
		out = append(out, HostUsage{
			Host:        host,
			ShortWindow: len(w.short),
			LongWindow:  len(w.long),
			RateLimited: w.rateLimited,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

func (l *Limiter) windows(host string) *hostWindows {
	w, ok := l.hosts[host]
	if !ok {
		w = &hostWindows{}
		l.hosts[host] = w
	}
	return w
}

// prune drops timestamps before cutoff. ts is in append order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(cutoff) })
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// Transport returns a RoundTripper that records every request and flags 429 responses.
func (l *Limiter) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{base: base, limiter: l}
}

type transport struct {
	base    http.RoundTripper
	limiter *Limiter
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	t.limiter.Record(host)

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		t.limiter.MarkRateLimited(host)
	}
	return resp, nil
}

// StatusError carries an unexpected HTTP status from an external service.
type StatusError struct {
	Host       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Host, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Host, e.StatusCode, e.Body)
}

// RateLimited reports a 429.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Transient reports a status worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout || e.RateLimited()
}

// NotFound reports a 404.
func (e *StatusError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// CheckResponse returns a StatusError for non-2xx responses. The body is read but not closed.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Host:       resp.Request.URL.Hostname(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
