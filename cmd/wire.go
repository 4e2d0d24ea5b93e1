package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/cache"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/debrid"
	"github.com/jon4hz/jellyfetch/internal/debrid/torbox"
	"github.com/jon4hz/jellyfetch/internal/engine"
	"github.com/jon4hz/jellyfetch/internal/mediaserver/jellyfin"
	"github.com/jon4hz/jellyfetch/internal/metadata"
	"github.com/jon4hz/jellyfetch/internal/metadata/tmdb"
	"github.com/jon4hz/jellyfetch/internal/notify/email"
	"github.com/jon4hz/jellyfetch/internal/notify/ntfy"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/jon4hz/jellyfetch/internal/scraper"
	"github.com/jon4hz/jellyfetch/internal/scraper/torrentio"
	"github.com/jon4hz/jellyfetch/internal/scraper/torznab"
	"github.com/jon4hz/jellyfetch/internal/source"
	"github.com/jon4hz/jellyfetch/internal/source/jellyseerr"
)

const httpTimeout = 60 * time.Second

// app holds everything a command needs.
type app struct {
	cfg     *config.Config
	db      *database.Client
	engine  *engine.Engine
	limiter *ratelimit.Limiter
	cache   *cache.Manager
}

// newApp opens the database and builds the engine with every configured collaborator.
func newApp(cfg *config.Config) (*app, error) {
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	limiter := ratelimit.New()
	client := &http.Client{
		Timeout:   httpTimeout,
		Transport: limiter.Transport(http.DefaultTransport),
	}
	cacheManager := cache.NewManager(cfg.Cache)

	provider, err := torbox.New(cfg.Debrid.TorBox, client)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to create debrid provider: %w", err)
	}
	debridClient := debrid.New(provider, cfg.Debrid)

	pool := scraper.NewPool(cfg, scrapers(cfg, client)...)
	pool.SetCacheChecker(debridClient)
	log.Info("Scrapers configured", "scrapers", pool.Adapters())

	var metadataTTL time.Duration
	if cfg.Cache != nil {
		metadataTTL = cfg.Cache.MetadataTTL
	}
	var resolver metadata.Resolver = tmdb.New(cfg.TMDB, client)
	resolver = metadata.NewCached(resolver, cacheManager, metadataTTL)

	deps := engine.Deps{
		Scrapers:  pool,
		Debrid:    debridClient,
		Resolver:  resolver,
		Limiter:   limiter,
		Cache:     cacheManager,
		Notifiers: notifiers(cfg),
	}
	if cfg.Jellyfin != nil && cfg.Jellyfin.URL != "" {
		deps.Server = jellyfin.New(cfg.Jellyfin)
	}
	if cfg.Jellyseerr != nil && cfg.Jellyseerr.URL != "" {
		deps.Sources = append(deps.Sources, source.Source(jellyseerr.New(cfg.Jellyseerr, client)))
	}

	e, err := engine.New(cfg, db, deps)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &app{
		cfg:     cfg,
		db:      db,
		engine:  e,
		limiter: limiter,
		cache:   cacheManager,
	}, nil
}

func (a *app) Close() error {
	if err := a.engine.Close(); err != nil {
		log.Error("failed to stop engine", "error", err)
	}
	return a.db.Close()
}

func scrapers(cfg *config.Config, client *http.Client) []scraper.Adapter {
	var adapters []scraper.Adapter
	if cfg.Scrapers == nil {
		return adapters
	}
	for _, t := range cfg.Scrapers.Torznab {
		if t != nil && t.Enabled {
			adapters = append(adapters, torznab.New(t, client))
		}
	}
	if t := cfg.Scrapers.Torrentio; t != nil && t.Enabled {
		adapters = append(adapters, torrentio.New(t, client))
	}
	return adapters
}

func notifiers(cfg *config.Config) []engine.Notifier {
	var out []engine.Notifier
	if cfg.Ntfy != nil && cfg.Ntfy.Enabled {
		out = append(out, ntfy.NewClient(cfg.Ntfy))
	}
	if cfg.Email != nil && cfg.Email.Enabled {
		out = append(out, email.New(cfg.Email))
	}
	return out
}
