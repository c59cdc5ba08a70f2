package migration

import "time"

// Status is a history row's lifecycle state (§3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolledback"
)

// HistoryRecord is one row of the applied-migrations ledger (§3).
type HistoryRecord struct {
	ID              string
	MigrationID     string
	Version         string
	Status          Status
	AppliedAt       time.Time
	ExecutionTimeMs int64
	ErrorMessage    string
	AppliedBy       string
	Checksum        string
}

// Info summarizes one migration's registration and history state, as
// returned by Engine.Status.
type Info struct {
	ID          string
	Version     string
	Description string
	DependsOn   []string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	Mismatched  bool
}
