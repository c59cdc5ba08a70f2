package batch

import (
	"context"
	"log/slog"
)

// PollJob adapts Orchestrator.PollOnce/Cleanup into a scheduler.Job,
// running the submit/poll/ingest cycle on the same ticker-driven
// scheduler the session sweeper uses.
type PollJob struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
}

// NewPollJob builds a scheduler.Job that drives the batch orchestrator
// forward on each tick.
func NewPollJob(o *Orchestrator, logger *slog.Logger) *PollJob {
	return &PollJob{orchestrator: o, logger: logger}
}

func (j *PollJob) Name() string { return "batch-poller" }

func (j *PollJob) Run(ctx context.Context) error {
	if err := j.orchestrator.PollOnce(ctx); err != nil {
		return err
	}
	if purged := j.orchestrator.Cleanup(); purged > 0 {
		j.logger.Debug("purged terminal batches", "count", purged)
	}
	return nil
}
