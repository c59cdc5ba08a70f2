package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/docserver-mcp/docserver/internal/doctype"
)

// FindByType returns documents of a given doc_type, newest first (§4.7).
func (p *Pool) FindByType(ctx context.Context, dt doctype.Tag, limit int) ([]Document, error) {
	var docs []Document
	err := p.withRetry(ctx, "find_by_type", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, `
			SELECT id, doc_type, source_name, doc_path, content, metadata,
			       token_count, created_at, updated_at
			FROM documents
			WHERE doc_type = $1
			ORDER BY created_at DESC
			LIMIT $2`, dt, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		docs, err = scanDocuments(rows)
		return err
	})
	return docs, err
}

// FindBySource returns documents from a given source_name, newest first.
func (p *Pool) FindBySource(ctx context.Context, sourceName string, limit int) ([]Document, error) {
	var docs []Document
	err := p.withRetry(ctx, "find_by_source", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, `
			SELECT id, doc_type, source_name, doc_path, content, metadata,
			       token_count, created_at, updated_at
			FROM documents
			WHERE source_name = $1
			ORDER BY created_at DESC
			LIMIT $2`, sourceName, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		docs, err = scanDocuments(rows)
		return err
	})
	return docs, err
}

// VectorSearch performs a cross-type similarity search (§4.7's fallback
// when no doc_type is specified).
func (p *Pool) VectorSearch(ctx context.Context, query pgvector.Vector, limit int) ([]SearchResult, error) {
	return p.similaritySearch(ctx, "vector_search", "", query, limit)
}

// DocTypeVectorSearch is the primary query-pipeline call (§4.4): similarity
// search pre-filtered by doc_type, since no vector index exists for
// D=3072 and the doc_type filter is what bounds query cost (§4.7).
func (p *Pool) DocTypeVectorSearch(ctx context.Context, dt doctype.Tag, query pgvector.Vector, limit int) ([]SearchResult, error) {
	return p.similaritySearch(ctx, "doc_type_vector_search", string(dt), query, limit)
}

// RustVectorSearch is the special-cased query for the always-registered
// rust_query tool (§4.7).
func (p *Pool) RustVectorSearch(ctx context.Context, query pgvector.Vector, limit int) ([]SearchResult, error) {
	return p.similaritySearch(ctx, "rust_vector_search", string(doctype.Rust), query, limit)
}

// similaritySearch builds the brute-force "<=>" distance query described in
// §4.4/§4.7, ordering by similarity desc, then created_at desc, then
// doc_path lexicographically to break ties deterministically.
func (p *Pool) similaritySearch(ctx context.Context, operation, dt string, query pgvector.Vector, limit int) ([]SearchResult, error) {
	var results []SearchResult
	err := p.withRetry(ctx, operation, func(ctx context.Context) error {
		var rows pgx.Rows
		var err error
		if dt == "" {
			rows, err = p.pool.Query(ctx, `
				SELECT id, doc_type, source_name, doc_path, content, metadata,
				       token_count, created_at, updated_at,
				       1 - (embedding <=> $1) AS similarity
				FROM documents
				WHERE embedding IS NOT NULL
				ORDER BY embedding <=> $1 ASC, created_at DESC, doc_path ASC
				LIMIT $2`, query, limit)
		} else {
			rows, err = p.pool.Query(ctx, `
				SELECT id, doc_type, source_name, doc_path, content, metadata,
				       token_count, created_at, updated_at,
				       1 - (embedding <=> $1) AS similarity
				FROM documents
				WHERE doc_type = $2 AND embedding IS NOT NULL
				ORDER BY embedding <=> $1 ASC, created_at DESC, doc_path ASC
				LIMIT $3`, query, dt, limit)
		}
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var d Document
			var metaBytes []byte
			var similarity float64
			if err := rows.Scan(&d.ID, &d.DocType, &d.SourceName, &d.DocPath, &d.Content,
				&metaBytes, &d.TokenCount, &d.CreatedAt, &d.UpdatedAt, &similarity); err != nil {
				return err
			}
			if len(metaBytes) > 0 {
				if err := json.Unmarshal(metaBytes, &d.Metadata); err != nil {
					return fmt.Errorf("unmarshaling metadata: %w", err)
				}
			}
			results = append(results, SearchResult{Document: d, Similarity: similarity})
		}
		return rows.Err()
	})
	return results, err
}

// TextSearch is the graceful fallback used when the embedding provider is
// unavailable and the query pipeline was built with its text fallback
// enabled (§4.4): a plain substring/ILIKE filter over content,
// pre-filtered by doc_type.
func (p *Pool) TextSearch(ctx context.Context, dt doctype.Tag, query string, limit int) ([]Document, error) {
	var docs []Document
	err := p.withRetry(ctx, "text_search", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, `
			SELECT id, doc_type, source_name, doc_path, content, metadata,
			       token_count, created_at, updated_at
			FROM documents
			WHERE doc_type = $1 AND content ILIKE '%' || $2 || '%'
			ORDER BY created_at DESC, doc_path ASC
			LIMIT $3`, dt, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		docs, err = scanDocuments(rows)
		return err
	})
	return docs, err
}

// UpsertDocument inserts or updates a document keyed on
// (doc_type, source_name, doc_path), preserving created_at on update, per
// §3/§4.7's invariants. documents is range-partitioned on created_at
// (migration 6), so a plain ON CONFLICT target can't include the natural
// key alone — PostgreSQL requires every unique/exclusion constraint on a
// partitioned table to carry the partition key. Instead this looks up the
// existing row's (id, created_at) first and updates by that composite key
// when present, matching the partition-aware unique constraint
// (doc_type, source_name, doc_path, created_at).
func (p *Pool) UpsertDocument(ctx context.Context, d *Document) error {
	return p.withRetry(ctx, "upsert_document", func(ctx context.Context) error {
		metaBytes, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}

		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var existingID uuid.UUID
		var existingCreatedAt time.Time
		lookupErr := tx.QueryRow(ctx, `
			SELECT id, created_at FROM documents
			WHERE doc_type = $1 AND source_name = $2 AND doc_path = $3
			ORDER BY created_at DESC LIMIT 1`,
			d.DocType, d.SourceName, d.DocPath,
		).Scan(&existingID, &existingCreatedAt)

		switch {
		case lookupErr == nil:
			d.ID = existingID
			d.CreatedAt = existingCreatedAt
			err = tx.QueryRow(ctx, `
				UPDATE documents SET
					content = $1, metadata = $2, embedding = $3, token_count = $4, updated_at = now()
				WHERE id = $5 AND created_at = $6
				RETURNING updated_at`,
				d.Content, metaBytes, d.Embedding, d.TokenCount, d.ID, d.CreatedAt,
			).Scan(&d.UpdatedAt)
		case errors.Is(lookupErr, pgx.ErrNoRows):
			if d.ID == uuid.Nil {
				d.ID = uuid.New()
			}
			err = tx.QueryRow(ctx, `
				INSERT INTO documents
					(id, doc_type, source_name, doc_path, content, metadata, embedding, token_count, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
				RETURNING created_at, updated_at`,
				d.ID, d.DocType, d.SourceName, d.DocPath, d.Content, metaBytes, d.Embedding, d.TokenCount,
			).Scan(&d.CreatedAt, &d.UpdatedAt)
		default:
			return lookupErr
		}
		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// MoveToArchive moves a set of document ids into archived_documents
// transactionally, matching the archival procedure's semantics (§3,
// migration 8). Most callers should prefer ArchiveOlderThan, which
// selects documents by age automatically.
func (p *Pool) MoveToArchive(ctx context.Context, ids []uuid.UUID, reason string) (int64, error) {
	var moved int64
	err := p.withRetry(ctx, "move_to_archive", func(ctx context.Context) error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx, `
			INSERT INTO archived_documents
				(id, doc_type, source_name, doc_path, content, metadata, embedding,
				 token_count, created_at, updated_at, archived_at, archival_reason)
			SELECT id, doc_type, source_name, doc_path, content, metadata, embedding,
			       token_count, created_at, updated_at, now(), $2
			FROM documents
			WHERE id = ANY($1)`, ids, reason)
		if err != nil {
			return err
		}
		moved = tag.RowsAffected()

		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = ANY($1)`, ids); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	return moved, err
}

// UpsertSource creates or updates a DocumentSource record, keyed on
// (doc_type, source_name) (§3).
func (p *Pool) UpsertSource(ctx context.Context, s *DocumentSource) error {
	return p.withRetry(ctx, "upsert_source", func(ctx context.Context) error {
		cfgBytes, err := json.Marshal(s.Config)
		if err != nil {
			return fmt.Errorf("marshaling source config: %w", err)
		}
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		return p.pool.QueryRow(ctx, `
			INSERT INTO document_sources (id, doc_type, source_name, config, enabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (doc_type, source_name) DO UPDATE SET
				config = EXCLUDED.config,
				enabled = EXCLUDED.enabled,
				updated_at = now()
			RETURNING id, created_at, updated_at`,
			s.ID, s.DocType, s.SourceName, cfgBytes, s.Enabled,
		).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	})
}

func scanDocuments(rows pgx.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		var metaBytes []byte
		if err := rows.Scan(&d.ID, &d.DocType, &d.SourceName, &d.DocPath, &d.Content,
			&metaBytes, &d.TokenCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			if err := json.Unmarshal(metaBytes, &d.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata: %w", err)
			}
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ArchiveOlderThan moves every document whose created_at is older than
// cutoff into archived_documents, implementing the archive_old_documents()
// migration function (§4.9, migration 8) as a Go-callable operation so it
// can be invoked by a scheduler.Job rather than only by raw SQL.
func (p *Pool) ArchiveOlderThan(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	var moved int64
	err := p.withRetry(ctx, "archive_old_documents", func(ctx context.Context) error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx, `
			INSERT INTO archived_documents
				(id, doc_type, source_name, doc_path, content, metadata, embedding,
				 token_count, created_at, updated_at, archived_at, archival_reason)
			SELECT id, doc_type, source_name, doc_path, content, metadata, embedding,
			       token_count, created_at, updated_at, now(), $1
			FROM documents
			WHERE created_at < $2`, reason, cutoff)
		if err != nil {
			return err
		}
		moved = tag.RowsAffected()

		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE created_at < $1`, cutoff); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	return moved, err
}
