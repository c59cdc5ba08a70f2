package migration

import "embed"

//go:embed sql/*.sql
var sqlFS embed.FS

func mustRead(name string) string {
	b, err := sqlFS.ReadFile("sql/" + name)
	if err != nil {
		panic("migration: missing embedded file " + name)
	}
	return string(b)
}

// CoreMigrations returns the 8 migrations that stand up this service's
// schema (§4.9): extensions, the doc_type enum, document_sources,
// documents (range-partitioned on created_at), indexes, the
// documents→document_sources FK, partition-maintenance functions, and the
// archival table+function. Dependency edges are declared explicitly here
// since the SQL files themselves carry no dependency metadata — the DAG
// is a property of the Go-side node, not the script.
func CoreMigrations() []Migration {
	return []Migration{
		{
			ID:          "0001_extensions",
			Version:     "0.1.0",
			Description: "Enable uuid-ossp and vector extensions",
			Up:          mustRead("0001_extensions.up.sql"),
			Down:        mustRead("0001_extensions.down.sql"),
		},
		{
			ID:          "0002_doc_type_enum",
			Version:     "0.2.0",
			Description: "Create the doc_type enumeration",
			Up:          mustRead("0002_doc_type_enum.up.sql"),
			Down:        mustRead("0002_doc_type_enum.down.sql"),
			DependsOn:   []string{"0001_extensions"},
		},
		{
			ID:          "0003_document_sources",
			Version:     "0.3.0",
			Description: "Create document_sources",
			Up:          mustRead("0003_document_sources.up.sql"),
			Down:        mustRead("0003_document_sources.down.sql"),
			DependsOn:   []string{"0002_doc_type_enum"},
		},
		{
			ID:          "0004_documents",
			Version:     "0.4.0",
			Description: "Create the range-partitioned documents table",
			Up:          mustRead("0004_documents.up.sql"),
			Down:        mustRead("0004_documents.down.sql"),
			DependsOn:   []string{"0002_doc_type_enum"},
		},
		{
			ID:          "0005_indexes",
			Version:     "0.5.0",
			Description: "Create documents lookup indexes",
			Up:          mustRead("0005_indexes.up.sql"),
			Down:        mustRead("0005_indexes.down.sql"),
			DependsOn:   []string{"0004_documents"},
		},
		{
			ID:          "0006_document_sources_fk",
			Version:     "0.6.0",
			Description: "Add the documents to document_sources foreign key",
			Up:          mustRead("0006_document_sources_fk.up.sql"),
			Down:        mustRead("0006_document_sources_fk.down.sql"),
			DependsOn:   []string{"0003_document_sources", "0004_documents"},
		},
		{
			ID:          "0007_partition_maintenance",
			Version:     "0.7.0",
			Description: "Add dynamic monthly partition creation",
			Up:          mustRead("0007_partition_maintenance.up.sql"),
			Down:        mustRead("0007_partition_maintenance.down.sql"),
			DependsOn:   []string{"0004_documents"},
		},
		{
			ID:          "0008_archival",
			Version:     "0.8.0",
			Description: "Add archived_documents and the archival function",
			Up:          mustRead("0008_archival.up.sql"),
			Down:        mustRead("0008_archival.down.sql"),
			DependsOn:   []string{"0004_documents"},
		},
	}
}
