// Package migration implements the dependency-ordered, checksummed schema
// migration engine described by §4.9: an in-memory DAG of immutable
// migration nodes applied transactionally, with history recording and
// schema validation, generalized from the pgvector-backed store example's
// go:embed migration loader into a Kahn's-algorithm dependency resolver.
package migration

import (
	"crypto/sha256"
	"encoding/hex"
)

// Migration is one versioned, checksummed schema change (§3). Up/Down are
// full SQL scripts; DependsOn lists migration ids that must be applied
// first. Migrations are immutable once registered.
type Migration struct {
	ID          string
	Version     string
	Description string
	Up          string
	Down        string
	DependsOn   []string
}

// Checksum is a stable hash of the up-statements, used to detect drift
// between a registered migration and its recorded history row (§3's
// invariant: "checksum must match recorded checksum on reapply").
func (m Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.Up))
	return hex.EncodeToString(sum[:])
}
