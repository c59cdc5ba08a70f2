package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docserver-mcp/docserver/internal/doctype"
	"github.com/docserver-mcp/docserver/internal/embedding"
	"github.com/docserver-mcp/docserver/internal/query"
	"github.com/docserver-mcp/docserver/internal/storage"
)

type fakeSearcher struct {
	vecResults []storage.SearchResult
	vecErr     error
	textDocs   []storage.Document
	textErr    error
}

func (f *fakeSearcher) DocTypeVectorSearch(ctx context.Context, dt doctype.Tag, q pgvector.Vector, limit int) ([]storage.SearchResult, error) {
	return f.vecResults, f.vecErr
}

func (f *fakeSearcher) TextSearch(ctx context.Context, dt doctype.Tag, q string, limit int) ([]storage.Document, error) {
	return f.textDocs, f.textErr
}

type fakeEmbedder struct {
	resp *embedding.EmbedResponse
	err  error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (*embedding.EmbedResponse, error) {
	return f.resp, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueryToolExecuteRequiresQuery(t *testing.T) {
	pipeline := query.New(&fakeSearcher{}, &fakeEmbedder{}, false)
	tool := NewQueryTool("rust_query", "d", doctype.Rust, pipeline, testLogger())

	res, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestQueryToolExecuteRejectsOutOfRangeLimit(t *testing.T) {
	pipeline := query.New(&fakeSearcher{}, &fakeEmbedder{}, false)
	tool := NewQueryTool("rust_query", "d", doctype.Rust, pipeline, testLogger())

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"ownership","limit":99}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestQueryToolExecuteSucceeds(t *testing.T) {
	searcher := &fakeSearcher{
		vecResults: []storage.SearchResult{
			{Document: storage.Document{SourceName: "std", DocPath: "ownership.md", Content: "Ownership is Rust's central feature."}, Similarity: 0.9},
		},
	}
	embedder := &fakeEmbedder{resp: &embedding.EmbedResponse{Embedding: []float32{0.1, 0.2}}}
	pipeline := query.New(searcher, embedder, false)
	tool := NewQueryTool("rust_query", "d", doctype.Rust, pipeline, testLogger())

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"ownership"}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Contains(t, res.Content[0].Text, "ownership.md")
}

func TestQueryToolExecuteSurfacesPipelineErrorAsIsError(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("provider down")}
	pipeline := query.New(&fakeSearcher{}, embedder, false)
	tool := NewQueryTool("rust_query", "d", doctype.Rust, pipeline, testLogger())

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"ownership"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestQueryToolNameAndDescription(t *testing.T) {
	pipeline := query.New(&fakeSearcher{}, &fakeEmbedder{}, false)
	tool := NewQueryTool("rust_query", "searches rust docs", doctype.Rust, pipeline, testLogger())

	assert.Equal(t, "rust_query", tool.Name())
	assert.Equal(t, "searches rust docs", tool.Description())
	assert.NotEmpty(t, tool.InputSchema())
}

func TestHardcodedNamesIncludesRustQuery(t *testing.T) {
	assert.True(t, HardcodedNames()["rust_query"])
}
