package migration

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PartitionJob provisions next month's documents partition ahead of time,
// adapted as a scheduler.Job so the same ticker-driven scheduler that runs
// session sweeps and batch polling also keeps the documents table's
// monthly range partitions ahead of incoming writes (§4.9).
type PartitionJob struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPartitionJob builds a scheduler.Job that calls create_monthly_partition
// for the current and next calendar month on each tick.
func NewPartitionJob(pool *pgxpool.Pool, logger *slog.Logger) *PartitionJob {
	return &PartitionJob{pool: pool, logger: logger}
}

func (j *PartitionJob) Name() string { return "partition-maintenance" }

func (j *PartitionJob) Run(ctx context.Context) error {
	now := time.Now().UTC()
	next := now.AddDate(0, 1, 0)

	for _, month := range []time.Time{now, next} {
		if _, err := j.pool.Exec(ctx, `SELECT create_monthly_partition($1)`, month); err != nil {
			return err
		}
	}

	j.logger.Debug("ensured documents partitions", "current_month", now.Format("2006-01"), "next_month", next.Format("2006-01"))
	return nil
}
