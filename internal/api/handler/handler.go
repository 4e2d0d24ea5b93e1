// Package handler implements the status API endpoints.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ccoveille/go-safecast"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/jon4hz/jellyfetch/internal/api/models"
	"github.com/jon4hz/jellyfetch/internal/cache"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/engine"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/jon4hz/jellyfetch/internal/scheduler"
	"github.com/jon4hz/jellyfetch/internal/source"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	failedListLimit = 200
)

// Pipeline is the part of the engine the API drives.
type Pipeline interface {
	Status() engine.Status
	Unblacklist(ctx context.Context, id uint) (*database.MediaItem, error)
	GetScheduler() *scheduler.Scheduler
	Expander() *source.Expander
}

type Handler struct {
	pipeline Pipeline
	db       database.DB
	limiter  *ratelimit.Limiter
	cache    *cache.Manager
}

// New creates a new Handler. limiter and cacheManager may be nil.
func New(p Pipeline, db database.DB, limiter *ratelimit.Limiter, cacheManager *cache.Manager) *Handler {
	return &Handler{
		pipeline: p,
		db:       db,
		limiter:  limiter,
		cache:    cacheManager,
	}
}

// Health reports liveness. Degraded mode answers 503.
func (h *Handler) Health(c *gin.Context) {
	status := h.pipeline.Status()
	code := http.StatusOK
	state := "ok"
	if status.Degraded {
		code = http.StatusServiceUnavailable
		state = "degraded"
	}
	if err := h.db.Ping(c.Request.Context()); err != nil {
		code = http.StatusServiceUnavailable
		state = "database unavailable"
	}
	c.JSON(code, gin.H{"status": state})
}

// Status returns the health check result of the pipeline.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  h.pipeline.Status(),
	})
}

// Queues returns the size of every state queue and both verification queues.
func (h *Handler) Queues(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := h.db.CountByState(ctx)
	if err != nil {
		log.Error("Failed to count items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to count items",
		})
		return
	}
	verifications, err := h.db.GetVerificationCounts(ctx)
	if err != nil {
		log.Error("Failed to count verifications", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to count verifications",
		})
		return
	}

	queues := models.Queues{
		States:        make(map[string]int64, len(database.States)),
		Verifications: verifications,
	}
	for _, state := range database.States {
		queues.States[string(state)] = counts[state]
		queues.Total += counts[state]
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    queues,
	})
}

// ListItems returns a page of one state queue, or the items matching the title query q.
func (h *Handler) ListItems(c *gin.Context) {
	ctx := c.Request.Context()
	limit, offset, ok := paging(c)
	if !ok {
		return
	}

	if q := strings.TrimSpace(c.Query("q")); q != "" {
		items, err := h.db.SearchByTitle(ctx, q, limit)
		if err != nil {
			log.Error("Failed to search items", "query", q, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to search items",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "items": models.ToItems(items)})
		return
	}

	state, ok := parseState(c.Query("state"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid or missing state parameter",
		})
		return
	}
	h.listState(c, state, limit, offset)
}

// Blacklist returns a page of blacklisted items.
func (h *Handler) Blacklist(c *gin.Context) {
	limit, offset, ok := paging(c)
	if !ok {
		return
	}
	h.listState(c, database.StateBlacklisted, limit, offset)
}

func (h *Handler) listState(c *gin.Context, state database.State, limit, offset int) {
	items, err := h.db.GetByState(c.Request.Context(), state, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to get items",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"state":   state,
		"items":   models.ToItems(items),
	})
}

// GetItem returns one item.
func (h *Handler) GetItem(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid item ID",
		})
		return
	}
	item, err := h.db.GetByID(c.Request.Context(), id)
	if err != nil {
		h.itemError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "item": models.ToItem(*item)})
}

// AddItem expands a manual request into Wanted items.
func (h *Handler) AddItem(c *gin.Context) {
	var req source.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
		})
		return
	}
	kind, err := source.ParseKind(string(req.Kind))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	req.Kind = kind

	items, err := h.pipeline.Expander().Add(c.Request.Context(), h.db, req, database.SourceManual)
	if err != nil {
		if errors.Is(err, source.ErrNoIDs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   err.Error(),
			})
			return
		}
		log.Error("Failed to add request", "imdb_id", req.ImdbID, "tmdb_id", req.TmdbID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	log.Info("Added manual request", "imdb_id", req.ImdbID, "tmdb_id", req.TmdbID, "items", len(items))
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"items":   models.ToItems(items),
	})
}

// Unblacklist returns a blacklisted item to Wanted.
func (h *Handler) Unblacklist(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid item ID",
		})
		return
	}
	item, err := h.pipeline.Unblacklist(c.Request.Context(), id)
	if err != nil {
		h.itemError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Item unblacklisted",
		"item":    models.ToItem(*item),
	})
}

// FailedVerifications lists permanently failed symlink and removal verifications.
func (h *Handler) FailedVerifications(c *gin.Context) {
	ctx := c.Request.Context()
	symlinks, err := h.db.GetFailedSymlinkVerifications(ctx, failedListLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to get symlink verifications",
		})
		return
	}
	removals, err := h.db.GetFailedRemovalVerifications(ctx, failedListLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to get removal verifications",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"verifications": models.ToFailedVerifications(symlinks, removals),
	})
}

// RateLimits returns the request windows of every host.
func (h *Handler) RateLimits(c *gin.Context) {
	if h.limiter == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "hosts": []ratelimit.HostUsage{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"over_usage": h.limiter.OverUsage(),
		"hosts":      h.limiter.Snapshot(),
	})
}

// ResetRateLimits clears all request windows.
func (h *Handler) ResetRateLimits(c *gin.Context) {
	if h.limiter != nil {
		h.limiter.Reset()
	}
	log.Info("Rate limit windows reset")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Rate limits reset",
	})
}

func (h *Handler) itemError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Item not found",
		})
	case errors.Is(err, database.ErrLocked), errors.Is(err, database.ErrStale):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   err.Error(),
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
	}
}

// paging reads limit and offset. It writes the error response itself.
func paging(c *gin.Context) (limit, offset int, ok bool) {
	limit = defaultPageSize
	if s := c.Query("limit"); s != "" {
		v, err := parseUintParam(s)
		if err != nil || v == 0 || v > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid limit parameter",
			})
			return 0, 0, false
		}
		limit, err = safecast.ToInt(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid limit parameter",
			})
			return 0, 0, false
		}
	}
	if s := c.Query("offset"); s != "" {
		v, err := parseUintParam(s)
		if err == nil {
			offset, err = safecast.ToInt(v)
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid offset parameter",
			})
			return 0, 0, false
		}
	}
	return limit, offset, true
}

func parseState(s string) (database.State, bool) {
	for _, state := range database.States {
		if strings.EqualFold(string(state), s) || strings.EqualFold(strings.ReplaceAll(string(state), " ", "_"), s) {
			return state, true
		}
	}
	return "", false
}

func parseUintParam(param string) (uint, error) {
	var id uint64
	var err error
	if id, err = strconv.ParseUint(param, 10, 0); err != nil {
		return 0, err
	}
	return uint(id), nil
}
