// Package query implements the §4.4 query pipeline shared by the
// hardcoded rust_query tool and every dynamically registered per-doc_type
// tool: embed the query text, run a doc_type-scoped similarity search,
// and format the results into a tool-call response.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/docserver-mcp/docserver/internal/doctype"
	"github.com/docserver-mcp/docserver/internal/embedding"
	"github.com/docserver-mcp/docserver/internal/storage"
)

// Searcher is the storage surface the pipeline needs, narrowed for
// testability (the teacher's handlers depend on narrow interfaces over
// their store rather than the concrete client).
type Searcher interface {
	DocTypeVectorSearch(ctx context.Context, dt doctype.Tag, q pgvector.Vector, limit int) ([]storage.SearchResult, error)
	TextSearch(ctx context.Context, dt doctype.Tag, query string, limit int) ([]storage.Document, error)
}

// Embedder is the embedding surface the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, text string) (*embedding.EmbedResponse, error)
}

// Pipeline runs the embed-then-search-then-format flow for one doc_type
// (§4.4). FallbackToText, when true, switches to a plain ILIKE search
// instead of failing the call when the embedder is unavailable (§4.4's
// configurable degraded-mode path).
type Pipeline struct {
	store          Searcher
	embedder       Embedder
	fallbackToText bool
}

// New builds a query pipeline over the given storage and embedding
// collaborators; the doc_type is chosen per call in Run.
func New(store Searcher, embedder Embedder, fallbackToText bool) *Pipeline {
	return &Pipeline{store: store, embedder: embedder, fallbackToText: fallbackToText}
}

// ErrEmbeddingUnavailable is returned when the embedder fails and text
// fallback is disabled, so callers can distinguish a hard failure from an
// empty result set.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// Run executes the pipeline for one doc_type and query string, returning
// a fully formatted response (§4.4: per-doc_type attribution, relevance
// ordering, snippet truncation, synthesized example invocations, and a
// friendly empty-result message are all handled by Format).
func (p *Pipeline) Run(ctx context.Context, dt doctype.Tag, queryText string, limit int) (string, error) {
	resp, err := p.embedder.Embed(ctx, queryText)
	if err != nil {
		if !p.fallbackToText {
			return "", fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		}
		docs, ferr := p.store.TextSearch(ctx, dt, queryText, limit)
		if ferr != nil {
			return "", fmt.Errorf("text-search fallback: %w", ferr)
		}
		return FormatTextFallback(dt, queryText, docs), nil
	}

	vec := pgvector.NewVector(resp.Embedding)
	results, err := p.store.DocTypeVectorSearch(ctx, dt, vec, limit)
	if err != nil {
		return "", fmt.Errorf("vector search: %w", err)
	}

	return Format(dt, queryText, results), nil
}
