package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/docserver-mcp/docserver/internal/doctype"
)

// EmbeddingDimension is the fixed width every stored embedding must have
// (§3). It exceeds pgvector's ivfflat/hnsw 2000-dimension index limit,
// which is why queries rely on metadata pre-filtering rather than a vector
// index (§4.4, §4.7).
const EmbeddingDimension = 3072

// Document is the unit of stored knowledge (§3).
type Document struct {
	ID         uuid.UUID
	DocType    doctype.Tag
	SourceName string
	DocPath    string
	Content    string
	Metadata   map[string]any
	Embedding  *pgvector.Vector
	TokenCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DocumentSource describes a loader-managed ingestion source (§3).
type DocumentSource struct {
	ID         uuid.UUID
	DocType    doctype.Tag
	SourceName string
	Config     map[string]any
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ArchivedDocument is a Document moved out of the hot partition set by the
// archival procedure (§3, migration 8).
type ArchivedDocument struct {
	Document
	ArchivedAt      time.Time
	ArchivalReason  string
}

// SearchResult pairs a Document with its similarity score for ranked
// query responses (§4.4).
type SearchResult struct {
	Document   Document
	Similarity float64
}
