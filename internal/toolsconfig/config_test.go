package toolsconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/docserver-mcp/docserver/internal/doctype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithEmptyPathReturnsDefaultDocument(t *testing.T) {
	doc, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Tools)

	for _, tool := range doc.Tools {
		assert.NotEqual(t, doctype.Rust, tool.DocType, "rust is served by the hardcoded tool, not a default dynamic entry")
		assert.True(t, tool.Enabled)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.json")
	content := `{"tools":[{"name":"solana_query","doc_type":"solana","title":"Solana","description":"Solana docs","enabled":true}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	doc, err := Load(path)
	require.NoError(t, err)
	require.Len(t, doc.Tools, 1)
	assert.Equal(t, "solana_query", doc.Tools[0].Name)
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr bool
	}{
		{
			name: "valid",
			doc: Document{Tools: []ToolConfig{
				{Name: "rust_query", DocType: doctype.Rust, Title: "Rust", Description: "desc", Enabled: true},
			}},
			wantErr: false,
		},
		{
			name: "empty name",
			doc: Document{Tools: []ToolConfig{
				{Name: "", DocType: doctype.Rust, Title: "Rust", Description: "desc"},
			}},
			wantErr: true,
		},
		{
			name: "missing _query suffix",
			doc: Document{Tools: []ToolConfig{
				{Name: "rust", DocType: doctype.Rust, Title: "Rust", Description: "desc"},
			}},
			wantErr: true,
		},
		{
			name: "duplicate name",
			doc: Document{Tools: []ToolConfig{
				{Name: "rust_query", DocType: doctype.Rust, Title: "A", Description: "desc"},
				{Name: "rust_query", DocType: doctype.Solana, Title: "B", Description: "desc"},
			}},
			wantErr: true,
		},
		{
			name: "unknown doc_type",
			doc: Document{Tools: []ToolConfig{
				{Name: "bogus_query", DocType: doctype.Tag("nope"), Title: "T", Description: "desc"},
			}},
			wantErr: true,
		},
		{
			name: "empty title",
			doc: Document{Tools: []ToolConfig{
				{Name: "rust_query", DocType: doctype.Rust, Title: "", Description: "desc"},
			}},
			wantErr: true,
		},
		{
			name: "empty description",
			doc: Document{Tools: []ToolConfig{
				{Name: "rust_query", DocType: doctype.Rust, Title: "Rust", Description: ""},
			}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.doc)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnabledExcludesDisabledAndHardcodedNames(t *testing.T) {
	doc := Document{Tools: []ToolConfig{
		{Name: "rust_query", DocType: doctype.Rust, Enabled: true},
		{Name: "solana_query", DocType: doctype.Solana, Enabled: true},
		{Name: "cilium_query", DocType: doctype.Cilium, Enabled: false},
	}}

	enabled := Enabled(doc, map[string]bool{"rust_query": true})

	require.Len(t, enabled, 1)
	assert.Equal(t, "solana_query", enabled[0].Name)
}
