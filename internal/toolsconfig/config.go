// Package toolsconfig loads and validates the tools configuration document
// (§3 ToolConfig, §6) that drives dynamic per-doc_type tool registration.
package toolsconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/docserver-mcp/docserver/internal/doctype"
)

// titleCaser replaces the deprecated strings.Title for the default
// document's human-readable tool titles.
var titleCaser = cases.Title(language.Und)

// ToolConfig is one entry in the configuration document's "tools" array.
type ToolConfig struct {
	Name        string      `json:"name"`
	DocType     doctype.Tag `json:"doc_type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Enabled     bool        `json:"enabled"`
}

// Document is the top-level shape of the tools configuration file.
type Document struct {
	Tools []ToolConfig `json:"tools"`
}

// defaultDocument is used when no TOOLS_CONFIG_PATH is provided, giving
// every doc_type a tool by default.
func defaultDocument() Document {
	doc := Document{}
	for _, tag := range doctype.All() {
		if tag == doctype.Rust {
			// rust_query is the always-registered hardcoded tool (§4.3);
			// it is not duplicated as a dynamic entry.
			continue
		}
		doc.Tools = append(doc.Tools, ToolConfig{
			Name:        fmt.Sprintf("%s_query", tag),
			DocType:     tag,
			Title:       titleCaser.String(strings.ReplaceAll(string(tag), "_", " ")),
			Description: fmt.Sprintf("Semantic search over %s documentation.", tag),
			Enabled:     true,
		})
	}
	return doc
}

// Load reads the tools configuration document from path, or returns the
// embedded default set if path is empty.
func Load(path string) (Document, error) {
	if path == "" {
		return defaultDocument(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading tools config %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing tools config %s: %w", path, err)
	}

	if err := Validate(doc); err != nil {
		return Document{}, fmt.Errorf("validating tools config %s: %w", path, err)
	}

	return doc, nil
}

// Validate checks non-empty fields, unique names, name suffix, and doc_type
// membership, per §3/§6's invariants.
func Validate(doc Document) error {
	seen := make(map[string]bool, len(doc.Tools))
	for _, t := range doc.Tools {
		if t.Name == "" {
			return fmt.Errorf("tool entry has an empty name")
		}
		if !strings.HasSuffix(t.Name, "_query") {
			return fmt.Errorf("tool %q must have a name ending in \"_query\"", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tool name %q", t.Name)
		}
		seen[t.Name] = true

		if !t.DocType.Valid() {
			return fmt.Errorf("tool %q references unknown doc_type %q", t.Name, t.DocType)
		}
		if t.Title == "" {
			return fmt.Errorf("tool %q has an empty title", t.Name)
		}
		if t.Description == "" {
			return fmt.Errorf("tool %q has an empty description", t.Name)
		}
	}
	return nil
}

// Enabled returns only the enabled entries whose name is not already taken
// by a hardcoded tool.
func Enabled(doc Document, hardcodedNames map[string]bool) []ToolConfig {
	out := make([]ToolConfig, 0, len(doc.Tools))
	for _, t := range doc.Tools {
		if !t.Enabled {
			continue
		}
		if hardcodedNames[t.Name] {
			continue
		}
		out = append(out, t)
	}
	return out
}
