package query

import (
	"fmt"
	"strings"

	"github.com/docserver-mcp/docserver/internal/doctype"
	"github.com/docserver-mcp/docserver/internal/storage"
)

// MaxSnippetChars bounds each result's content preview (§4.4).
const MaxSnippetChars = 300

// Format renders a doc_type-scoped similarity search into the text the
// tool-call response sends back to the client: one entry per hit, ranked
// by similarity, with a truncated snippet and, for API-style doc_types,
// a synthesized example invocation.
func Format(dt doctype.Tag, queryText string, results []storage.SearchResult) string {
	if len(results) == 0 {
		return emptyResultMessage(dt, queryText)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s) for %q in %s documentation:\n\n", len(results), queryText, dt)

	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (source: %s, relevance: %.1f%%)\n", i+1, r.Document.DocPath, attribution(dt, r.Document), r.Similarity*100)
		b.WriteString(snippet(r.Document.Content))
		b.WriteString("\n")
		if dt.APIStyle() {
			b.WriteString(exampleInvocation(dt, r.Document))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// FormatTextFallback renders the plain ILIKE fallback path's results in
// the same shape as Format, minus relevance scoring (text search carries
// no similarity signal).
func FormatTextFallback(dt doctype.Tag, queryText string, docs []storage.Document) string {
	if len(docs) == 0 {
		return emptyResultMessage(dt, queryText)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s) for %q in %s documentation (text search, embeddings unavailable):\n\n", len(docs), queryText, dt)

	for i, d := range docs {
		fmt.Fprintf(&b, "%d. %s (source: %s)\n", i+1, d.DocPath, d.SourceName)
		b.WriteString(snippet(d.Content))
		b.WriteString("\n\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// attribution derives a per-doc_type source label from a document's
// metadata (§4.4): crate name for rust, method+endpoint+API version for
// birdeye, category+format for solana, falling back to source_name for
// every other doc_type or when the expected metadata keys are absent.
func attribution(dt doctype.Tag, d storage.Document) string {
	switch dt {
	case doctype.Rust:
		if crate, ok := d.Metadata["crate"].(string); ok && crate != "" {
			return crate
		}
	case doctype.Birdeye:
		method, _ := d.Metadata["method"].(string)
		endpoint, _ := d.Metadata["endpoint"].(string)
		version, _ := d.Metadata["api_version"].(string)
		if method != "" || endpoint != "" {
			if version != "" {
				return fmt.Sprintf("%s %s (%s)", method, endpoint, version)
			}
			return strings.TrimSpace(fmt.Sprintf("%s %s", method, endpoint))
		}
	case doctype.Solana:
		category, _ := d.Metadata["category"].(string)
		format, _ := d.Metadata["format"].(string)
		if category != "" || format != "" {
			return strings.TrimSpace(fmt.Sprintf("%s/%s", category, format))
		}
	}
	return d.SourceName
}

func emptyResultMessage(dt doctype.Tag, queryText string) string {
	return fmt.Sprintf("No %s documentation matched %q. Try a broader query or check a different doc_type.", dt, queryText)
}

func snippet(content string) string {
	r := []rune(strings.TrimSpace(content))
	if len(r) <= MaxSnippetChars {
		return string(r)
	}
	return string(r[:MaxSnippetChars]) + "..."
}

// exampleInvocation synthesizes a plausible call for API-style doc_types,
// derived from the document's path (§4.4). This is illustrative scaffolding,
// not a parsed-and-verified example from the source material.
func exampleInvocation(dt doctype.Tag, d storage.Document) string {
	name := strings.TrimSuffix(lastSegment(d.DocPath), ".md")
	switch dt {
	case doctype.Birdeye:
		return fmt.Sprintf("   Example: GET https://public-api.birdeye.so/%s", name)
	case doctype.Raydium:
		return fmt.Sprintf("   Example: raydium_sdk.%s(...)", name)
	case doctype.Solana:
		return fmt.Sprintf("   Example: connection.%s(...)", name)
	default:
		return ""
	}
}

func lastSegment(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
