package migration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	goversion "github.com/hashicorp/go-version"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Engine holds the in-memory migration DAG and applies pending migrations
// against a Postgres pool, recording history as it goes (§4.9).
type Engine struct {
	pool       *pgxpool.Pool
	migrations map[string]Migration
	appliedBy  string
}

// New builds an engine over a raw pgx pool. appliedBy is recorded on every
// history row (§3's applied_by attribute).
func New(pool *pgxpool.Pool, appliedBy string) *Engine {
	return &Engine{pool: pool, migrations: make(map[string]Migration), appliedBy: appliedBy}
}

// Register adds a migration to the in-memory set. It forbids cycles at
// registration time (§9) by rejecting a dependency id that is not already
// a registered migration — since registration only ever adds edges to
// already-present nodes, the graph can never contain a cycle.
func (e *Engine) Register(m Migration) error {
	if _, exists := e.migrations[m.ID]; exists {
		return fmt.Errorf("migration %q already registered", m.ID)
	}
	for _, dep := range m.DependsOn {
		if _, ok := e.migrations[dep]; !ok {
			return fmt.Errorf("migration %q depends on unregistered migration %q", m.ID, dep)
		}
	}
	e.migrations[m.ID] = m
	return nil
}

// RegisterCore registers the 8 core schema migrations in dependency order.
func (e *Engine) RegisterCore() error {
	for _, m := range CoreMigrations() {
		if err := e.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// ensureHistoryTable creates the migration history ledger if absent.
func (e *Engine) ensureHistoryTable(ctx context.Context) error {
	_, err := e.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migration_history (
			id                uuid PRIMARY KEY,
			migration_id      text NOT NULL,
			version           text NOT NULL,
			status            text NOT NULL,
			applied_at        timestamptz NOT NULL DEFAULT now(),
			execution_time_ms bigint NOT NULL DEFAULT 0,
			error_message     text NOT NULL DEFAULT '',
			applied_by        text NOT NULL DEFAULT '',
			checksum          text NOT NULL
		)`)
	return err
}

// appliedMigrations returns the most recent history row per migration id
// with a terminal status of completed.
func (e *Engine) appliedMigrations(ctx context.Context) (map[string]HistoryRecord, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT DISTINCT ON (migration_id)
			id, migration_id, version, status, applied_at, execution_time_ms, error_message, applied_by, checksum
		FROM schema_migration_history
		ORDER BY migration_id, applied_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]HistoryRecord)
	for rows.Next() {
		var r HistoryRecord
		var id uuid.UUID
		var status string
		if err := rows.Scan(&id, &r.MigrationID, &r.Version, &status, &r.AppliedAt,
			&r.ExecutionTimeMs, &r.ErrorMessage, &r.AppliedBy, &r.Checksum); err != nil {
			return nil, err
		}
		r.ID = id.String()
		r.Status = Status(status)
		if r.Status == StatusCompleted {
			applied[r.MigrationID] = r
		}
	}
	return applied, rows.Err()
}

// topoOrder resolves a dependency-respecting apply order via Kahn's
// algorithm, breaking ties between migrations with no remaining
// dependency relationship by ascending semver (§9).
func (e *Engine) topoOrder() ([]Migration, error) {
	inDegree := make(map[string]int, len(e.migrations))
	dependents := make(map[string][]string, len(e.migrations))

	for id, m := range e.migrations {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, dep := range m.DependsOn {
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	var ordered []Migration
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return lessBySemver(e.migrations[ready[i]], e.migrations[ready[j]])
		})

		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, e.migrations[next])

		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) != len(e.migrations) {
		return nil, fmt.Errorf("migration dependency graph contains a cycle")
	}
	return ordered, nil
}

func lessBySemver(a, b Migration) bool {
	va, errA := goversion.NewVersion(a.Version)
	vb, errB := goversion.NewVersion(b.Version)
	if errA != nil || errB != nil {
		return a.ID < b.ID
	}
	return va.LessThan(vb)
}

// ApplyPending resolves the dependency order, applies every migration not
// already recorded as completed inside its own transaction, and records a
// history row per attempt. On the first failure it stops and returns the
// error without attempting subsequent migrations (§8's testable property).
func (e *Engine) ApplyPending(ctx context.Context) error {
	if err := e.ensureHistoryTable(ctx); err != nil {
		return fmt.Errorf("ensuring history table: %w", err)
	}

	applied, err := e.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("loading migration history: %w", err)
	}

	order, err := e.topoOrder()
	if err != nil {
		return err
	}

	for _, m := range order {
		if existing, ok := applied[m.ID]; ok {
			if existing.Checksum != m.Checksum() {
				return fmt.Errorf("checksum mismatch for migration %q: registered %s, recorded %s",
					m.ID, m.Checksum(), existing.Checksum)
			}
			continue
		}

		if err := e.apply(ctx, m); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) apply(ctx context.Context, m Migration) error {
	start := time.Now()

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %q: %w", m.ID, err)
	}
	defer tx.Rollback(ctx)

	_, execErr := tx.Exec(ctx, m.Up)
	elapsed := time.Since(start).Milliseconds()

	if execErr != nil {
		e.recordHistory(ctx, m, StatusFailed, elapsed, execErr.Error())
		return fmt.Errorf("applying migration %q: %w", m.ID, execErr)
	}

	if err := tx.Commit(ctx); err != nil {
		e.recordHistory(ctx, m, StatusFailed, elapsed, err.Error())
		return fmt.Errorf("committing migration %q: %w", m.ID, err)
	}

	e.recordHistory(ctx, m, StatusCompleted, elapsed, "")
	return nil
}

// recordHistory inserts a history row outside the migration's own
// transaction, so a failed migration's rollback doesn't also erase the
// record of its failure.
func (e *Engine) recordHistory(ctx context.Context, m Migration, status Status, elapsedMs int64, errMsg string) {
	_, _ = e.pool.Exec(ctx, `
		INSERT INTO schema_migration_history
			(id, migration_id, version, status, applied_at, execution_time_ms, error_message, applied_by, checksum)
		VALUES ($1, $2, $3, $4, now(), $5, $6, $7, $8)`,
		uuid.New(), m.ID, m.Version, string(status), elapsedMs, errMsg, e.appliedBy, m.Checksum(),
	)
}

// Status returns every registered migration's applied state, for
// reporting and operational visibility (§4.9).
func (e *Engine) Status(ctx context.Context) ([]Info, error) {
	if err := e.ensureHistoryTable(ctx); err != nil {
		return nil, err
	}

	applied, err := e.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	order, err := e.topoOrder()
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(order))
	for _, m := range order {
		info := Info{
			ID:          m.ID,
			Version:     m.Version,
			Description: m.Description,
			DependsOn:   m.DependsOn,
			Checksum:    m.Checksum(),
		}
		if rec, ok := applied[m.ID]; ok {
			info.Applied = true
			at := rec.AppliedAt
			info.AppliedAt = &at
			info.Mismatched = rec.Checksum != info.Checksum
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ValidateSchema reports every applied migration whose recorded checksum
// no longer matches its registered definition (§3: "surfaced as a schema
// issue but does not cause data loss"), plus catalog-level warnings for
// required extensions/tables/indexes and the declared vector width (§4.9:
// "collects issues as warnings; pipeline remains serviceable").
func (e *Engine) ValidateSchema(ctx context.Context) ([]string, error) {
	infos, err := e.Status(ctx)
	if err != nil {
		return nil, err
	}

	var issues []string
	for _, info := range infos {
		if info.Applied && info.Mismatched {
			issues = append(issues, info.ID)
		}
	}
	issues = append(issues, e.validateCatalog(ctx)...)
	return issues, nil
}

// embeddingDimension is the declared vector width (§3's D=3072), checked
// against pg_catalog so a migration that silently narrowed the column
// shows up as a warning rather than a query-time surprise.
const embeddingDimension = 3072

// validateCatalog checks pg_catalog for the extensions, tables, and the
// embedding column's vector width that the core migrations (0001-0008)
// are expected to have produced. Every failure is returned as a
// human-readable warning string; none of them abort the caller.
func (e *Engine) validateCatalog(ctx context.Context) []string {
	var warnings []string

	for _, ext := range []string{"vector", "uuid-ossp"} {
		var exists bool
		err := e.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = $1)`, ext,
		).Scan(&exists)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("checking extension %q: %v", ext, err))
			continue
		}
		if !exists {
			warnings = append(warnings, fmt.Sprintf("required extension %q is not installed", ext))
		}
	}

	for _, tbl := range []string{"documents", "document_sources", "archived_documents"} {
		var exists bool
		err := e.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE tablename = $1)`, tbl,
		).Scan(&exists)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("checking table %q: %v", tbl, err))
			continue
		}
		if !exists {
			warnings = append(warnings, fmt.Sprintf("required table %q does not exist", tbl))
		}
	}

	for _, idx := range []string{
		"idx_documents_doc_type", "idx_documents_source_name", "idx_documents_created_at",
		"idx_document_sources_doc_type", "idx_document_sources_enabled",
	} {
		var exists bool
		err := e.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)`, idx,
		).Scan(&exists)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("checking index %q: %v", idx, err))
			continue
		}
		if !exists {
			warnings = append(warnings, fmt.Sprintf("required index %q does not exist", idx))
		}
	}

	var typmod int
	err := e.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'documents'::regclass AND attname = 'embedding'
	`).Scan(&typmod)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("checking embedding column width: %v", err))
	} else if typmod != embeddingDimension {
		warnings = append(warnings, fmt.Sprintf(
			"documents.embedding width is %d, expected %d", typmod, embeddingDimension))
	}

	return warnings
}
