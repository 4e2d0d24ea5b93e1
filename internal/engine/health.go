package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/jon4hz/jellyfetch/internal/metrics"
	"github.com/shirou/gopsutil/v3/disk"
)

// DiskStatus is the usage of one filesystem root.
type DiskStatus struct {
	Path        string  `json:"path"`
	UsedPercent float64 `json:"used_percent"`
	Free        string  `json:"free"`
	Error       string  `json:"error,omitempty"`
}

// Status is the health of the pipeline.
type Status struct {
	Degraded  bool         `json:"degraded"`
	Reasons   []string     `json:"reasons,omitempty"`
	OverUsage bool         `json:"over_usage"`
	Disks     []DiskStatus `json:"disks"`
	CheckedAt time.Time    `json:"checked_at"`
}

// Status returns the result of the last health check.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	s.Reasons = append([]string(nil), e.status.Reasons...)
	s.Disks = append([]DiskStatus(nil), e.status.Disks...)
	if e.limiter != nil {
		s.OverUsage = e.limiter.OverUsage()
	}
	return s
}

// CheckHealth verifies that the store answers and both roots exist.
// A failing check puts the pipeline in degraded mode until the next check passes.
func (e *Engine) CheckHealth(ctx context.Context) Status {
	var reasons []string
	if err := e.db.Ping(ctx); err != nil {
		reasons = append(reasons, fmt.Sprintf("database unavailable: %v", err))
	}

	var disks []DiskStatus
	for _, root := range []string{e.cfg.Paths.OriginalFilesPath, e.cfg.Paths.SymlinkedFilesPath} {
		fi, err := os.Stat(root)
		switch {
		case err != nil:
			reasons = append(reasons, fmt.Sprintf("root %s missing: %v", root, err))
			continue
		case !fi.IsDir():
			reasons = append(reasons, fmt.Sprintf("root %s is not a directory", root))
			continue
		}

		ds := DiskStatus{Path: root}
		usage, err := disk.UsageWithContext(ctx, root)
		if err != nil {
			log.Debug("failed to get disk usage", "path", root, "error", err)
			ds.Error = err.Error()
		} else {
			ds.UsedPercent = usage.UsedPercent
			ds.Free = humanize.IBytes(usage.Free)
		}
		disks = append(disks, ds)
	}

	s := Status{
		Degraded:  len(reasons) > 0,
		Reasons:   reasons,
		Disks:     disks,
		CheckedAt: e.now(),
	}

	e.mu.Lock()
	was := e.status.Degraded
	e.status = s
	e.mu.Unlock()

	metrics.SetDegraded(s.Degraded)
	switch {
	case s.Degraded && !was:
		log.Error("pipeline degraded, pausing all queues", "reasons", strings.Join(reasons, "; "))
	case !s.Degraded && was:
		log.Info("pipeline healthy again, resuming queues")
	}
	return s
}

// gate is the scheduler gate of every queue job.
func (e *Engine) gate(ctx context.Context) error {
	if s := e.CheckHealth(ctx); s.Degraded {
		return fmt.Errorf("%w: %s", ErrDegraded, strings.Join(s.Reasons, "; "))
	}
	return nil
}
