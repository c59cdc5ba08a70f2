package session

import (
	"context"
	"log/slog"
)

// SweeperJob adapts Manager.Sweep into a scheduler.Job so the session
// manager's background eviction runs on the same generic ticker-driven
// scheduler the batch poller and archival job use.
type SweeperJob struct {
	manager *Manager
	logger  *slog.Logger
}

// NewSweeperJob builds a scheduler.Job that evicts expired sessions on
// each tick.
func NewSweeperJob(manager *Manager, logger *slog.Logger) *SweeperJob {
	return &SweeperJob{manager: manager, logger: logger}
}

func (j *SweeperJob) Name() string { return "session-sweeper" }

func (j *SweeperJob) Run(ctx context.Context) error {
	removed := j.manager.Sweep()
	if removed > 0 {
		j.logger.Debug("swept expired sessions", "removed", removed)
	}
	return nil
}
