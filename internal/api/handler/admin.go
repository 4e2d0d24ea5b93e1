package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSchedulerJobs returns all scheduled jobs.
func (h *Handler) GetSchedulerJobs(c *gin.Context) {
	jobs := h.pipeline.GetScheduler().GetJobs()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"jobs":    jobs,
	})
}

// RunSchedulerJob triggers a job immediately.
func (h *Handler) RunSchedulerJob(c *gin.Context) {
	jobID := c.Param("id")

	if err := h.pipeline.GetScheduler().RunJobNow(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Job triggered successfully",
	})
}

// EnableSchedulerJob enables a job.
func (h *Handler) EnableSchedulerJob(c *gin.Context) {
	jobID := c.Param("id")

	if err := h.pipeline.GetScheduler().EnableJob(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Job enabled successfully",
	})
}

// DisableSchedulerJob disables a job.
func (h *Handler) DisableSchedulerJob(c *gin.Context) {
	jobID := c.Param("id")

	if err := h.pipeline.GetScheduler().DisableJob(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Job disabled successfully",
	})
}

// GetCacheStats returns statistics of every cache.
func (h *Handler) GetCacheStats(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   h.cache.GetStats(),
	})
}

// ClearCache clears every cache.
func (h *Handler) ClearCache(c *gin.Context) {
	if h.cache != nil {
		h.cache.ClearAll(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "All caches cleared successfully",
	})
}
