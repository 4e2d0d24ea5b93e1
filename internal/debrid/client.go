package debrid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/metrics"
	"github.com/jon4hz/jellyfetch/internal/parser"
	"github.com/samber/lo"
)

const (
	// DefaultInteractiveChecks bounds probe based cache checks.
	DefaultInteractiveChecks = 5
	// bulkChunk is the number of hashes per bulk cache request.
	bulkChunk = 100

	removeTimeout = 15 * time.Second
)

var errStillQueued = errors.New("torrent still queued")

// Client runs the cache check and commit protocols against a provider.
// Every torrent added by a Client call is removed before the call returns unless it was adopted.
type Client struct {
	provider     Provider
	pollInterval time.Duration
	pollTimeout  time.Duration
	interactive  int
}

// New creates a Client for provider.
func New(provider Provider, cfg *config.DebridConfig) *Client {
	c := &Client{
		provider:     provider,
		pollInterval: 2 * time.Second,
		pollTimeout:  30 * time.Second,
		interactive:  DefaultInteractiveChecks,
	}
	if cfg != nil {
		if cfg.PollInterval > 0 {
			c.pollInterval = cfg.PollInterval
		}
		if cfg.PollTimeout > 0 {
			c.pollTimeout = cfg.PollTimeout
		}
		if cfg.InteractiveCacheChecks > 0 {
			c.interactive = cfg.InteractiveCacheChecks
		}
	}
	return c
}

// Provider returns the wrapped provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// pending is the set of torrent ids added during one request and not yet adopted.
type pending struct {
	mu      sync.Mutex
	request string
	ids     map[string]bool
}

func newPending() *pending {
	return &pending{request: uuid.NewString(), ids: make(map[string]bool)}
}

func (p *pending) track(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids[id] = true
}

func (p *pending) adopt(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ids, id)
}

func (p *pending) take() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := lo.Keys(p.ids)
	p.ids = make(map[string]bool)
	return ids
}

// drain removes every id still pending. It runs detached from ctx so that
// cancelled requests still clean up.
func (c *Client) drain(ctx context.Context, p *pending) {
	ids := p.take()
	if len(ids) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()
	for _, id := range ids {
		if err := c.Remove(rctx, id); err != nil {
			log.Error("failed to remove orphaned torrent", "provider", c.provider.Name(), "torrent_id", id, "request", p.request, "error", err)
			continue
		}
		log.Debug("removed pending torrent", "provider", c.provider.Name(), "torrent_id", id, "request", p.request)
	}
}

// Remove deletes a torrent. A torrent that no longer exists counts as removed.
func (c *Client) Remove(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	err := c.provider.Remove(ctx, id)
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	metrics.RecordDebrid("remove", err)
	if err != nil {
		return fmt.Errorf("failed to remove torrent %s: %w", id, err)
	}
	return nil
}

// Status returns the provider status of a torrent.
func (c *Client) Status(ctx context.Context, id string) (*Torrent, error) {
	t, err := c.provider.Status(ctx, id)
	metrics.RecordDebrid("status", err)
	return t, err
}

// CheckCached reports the cache status of hashes.
// Providers with bulk checks get every hash. Otherwise only the first interactive
// hashes are checked, the rest are left out of the map.
func (c *Client) CheckCached(ctx context.Context, hashes []string) (map[string]bool, error) {
	hashes = lo.Uniq(lo.FilterMap(hashes, func(h string, _ int) (string, bool) {
		h = NormalizeHash(h)
		return h, h != ""
	}))
	if len(hashes) == 0 {
		return map[string]bool{}, nil
	}

	caps := c.provider.Capabilities()
	switch {
	case caps.DirectCacheCheck && caps.BulkCacheCheck:
		return c.bulkCheck(ctx, hashes)
	case caps.DirectCacheCheck:
		return c.directCheck(ctx, lo.Subset(hashes, 0, uint(c.interactive)))
	default:
		return c.Probe(ctx, hashes)
	}
}

func (c *Client) bulkCheck(ctx context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool, len(hashes))
	for _, chunk := range lo.Chunk(hashes, bulkChunk) {
		res, err := c.provider.IsCached(ctx, chunk)
		metrics.RecordDebrid("cache_check", err)
		if err != nil {
			return out, err
		}
		for _, h := range chunk {
			out[h] = res[h]
		}
	}
	return out, nil
}

func (c *Client) directCheck(ctx context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		res, err := c.provider.IsCached(ctx, []string{h})
		metrics.RecordDebrid("cache_check", err)
		if err != nil {
			return out, err
		}
		out[h] = res[h]
	}
	return out, nil
}

// Probe checks the cache status by adding each torrent and reading its status.
// At most the interactive bound of hashes is probed and every probe torrent is removed.
func (c *Client) Probe(ctx context.Context, hashes []string) (result map[string]bool, err error) {
	p := newPending()
	defer c.drain(ctx, p)

	result = make(map[string]bool)
	for _, h := range lo.Subset(hashes, 0, uint(c.interactive)) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		magnet, err := parser.MagnetFromInfoHash(h, "")
		if err != nil {
			log.Debug("skipping invalid hash in probe", "hash", h, "error", err)
			continue
		}
		id, err := c.provider.AddMagnet(ctx, magnet)
		metrics.RecordDebrid("add", err)
		if err != nil {
			log.Warn("cache probe failed", "provider", c.provider.Name(), "hash", h, "error", err)
			continue
		}
		p.track(id)

		t, err := c.Status(ctx, id)
		if err != nil {
			log.Warn("cache probe status failed", "provider", c.provider.Name(), "hash", h, "error", err)
			continue
		}
		result[h] = t.State == StateDownloaded && len(t.Files) > 0
	}
	return result, nil
}

// AdoptFunc decides whether a committed torrent is kept. Returning an error
// leaves the torrent pending, so it is removed.
type AdoptFunc func(ctx context.Context, t *Torrent) error

// Commit adds magnet and polls until the torrent is downloaded, downloading or failed.
// A torrent still queued when the poll timeout elapses is returned with StateQueued.
// adopt runs for downloaded, downloading and queued torrents. The torrent is removed
// unless adopt returns nil.
func (c *Client) Commit(ctx context.Context, magnet string, adopt AdoptFunc) (*Torrent, error) {
	p := newPending()
	defer c.drain(ctx, p)

	id, err := c.provider.AddMagnet(ctx, magnet)
	metrics.RecordDebrid("add", err)
	if err != nil {
		return nil, fmt.Errorf("failed to add magnet: %w", err)
	}
	p.track(id)
	log.Debug("added torrent", "provider", c.provider.Name(), "torrent_id", id, "request", p.request)

	t, err := c.poll(ctx, id)
	if err != nil {
		return t, err
	}
	if t.ID == "" {
		t.ID = id
	}
	if adopt != nil {
		if err := adopt(ctx, t); err != nil {
			return t, err
		}
	}
	p.adopt(id)
	return t, nil
}

func (c *Client) poll(ctx context.Context, id string) (*Torrent, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = 4 * c.pollInterval
	b.MaxElapsedTime = c.pollTimeout

	var last *Torrent
	err := backoff.Retry(func() error {
		t, err := c.Status(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		last = t
		switch t.State {
		case StateDownloaded, StateDownloading:
			return nil
		case StateError:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrTorrentFailed, t.Name))
		}
		return errStillQueued
	}, backoff.WithContext(b, ctx))

	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, errStillQueued) && last != nil:
		last.State = StateQueued
		return last, nil
	default:
		return last, err
	}
}

// SweepOrphans removes every provider torrent whose id is not referenced.
func (c *Client) SweepOrphans(ctx context.Context, referenced map[string]bool) (int, error) {
	torrents, err := c.provider.List(ctx)
	metrics.RecordDebrid("list", err)
	if err != nil {
		return 0, fmt.Errorf("failed to list torrents: %w", err)
	}

	removed := 0
	for _, t := range torrents {
		if referenced[t.ID] {
			continue
		}
		if err := c.Remove(ctx, t.ID); err != nil {
			log.Warn("failed to remove orphan torrent", "torrent_id", t.ID, "name", t.Name, "error", err)
			continue
		}
		log.Info("removed orphan torrent", "torrent_id", t.ID, "name", t.Name)
		removed++
	}
	return removed, nil
}
