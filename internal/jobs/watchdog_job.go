package job

import (
	"context"
	"log/slog"
	"time"

	config "postpilot/configs"
	"postpilot/internal/repository"
)

// WatchdogJob sweeps tasks stuck in claimed past the maximum execution
// duration back to scheduled. A worker that crashed mid-publish holds
// its claim forever otherwise; the sweep, combined with version-guarded
// outcome writes, makes that recoverable without double publishing from
// a worker that is merely slow and already lost its claim.
type WatchdogJob struct {
	cfg config.Pipeline
	tr  repository.TaskRepository
}

func NewWatchdogJob(cfg config.Pipeline, tr repository.TaskRepository) *WatchdogJob {
	return &WatchdogJob{cfg: cfg, tr: tr}
}

func (w *WatchdogJob) Sweep() {
	ctx := context.Background()

	before := time.Now().Add(-w.cfg.ClaimMaxDuration)
	reclaimed, err := w.tr.ReclaimStale(ctx, before)
	if err != nil {
		slog.Error("watchdog sweep failed", "error", err)
		return
	}
	if reclaimed > 0 {
		slog.Warn("reclaimed stale tasks", "count", reclaimed, "claimed_before", before)
	}
}
