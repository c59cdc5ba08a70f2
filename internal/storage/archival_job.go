package storage

import (
	"context"
	"log/slog"
	"time"
)

// ArchivalJob periodically moves documents older than maxAge into
// archived_documents, adapted as a scheduler.Job so archival runs on the
// same ticker-driven scheduler as session sweeps and batch polling
// (§4.9, migration 8).
type ArchivalJob struct {
	pool   *Pool
	maxAge time.Duration
	reason string
	logger *slog.Logger
}

// NewArchivalJob builds a scheduler.Job that archives documents older
// than maxAge on each tick.
func NewArchivalJob(pool *Pool, maxAge time.Duration, logger *slog.Logger) *ArchivalJob {
	return &ArchivalJob{pool: pool, maxAge: maxAge, reason: "age-based retention", logger: logger}
}

func (j *ArchivalJob) Name() string { return "document-archival" }

func (j *ArchivalJob) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-j.maxAge)
	moved, err := j.pool.ArchiveOlderThan(ctx, cutoff, j.reason)
	if err != nil {
		return err
	}
	if moved > 0 {
		j.logger.Info("archived documents", "count", moved, "cutoff", cutoff)
	}
	return nil
}
