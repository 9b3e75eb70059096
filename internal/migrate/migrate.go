// Package migrate upgrades on-disk config data across schema versions by
// applying registered migrations in version order.
package migrate

import (
	"fmt"
	"log/slog"
	"sort"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Migration upgrades raw file bytes from the previous schema version to
// [Migration.Version].
type Migration struct {
	// Version is the schema version this migration produces.
	Version int
	// Description labels the migration in log output.
	Description string
	// Upgrade transforms the raw bytes.
	Upgrade func(data []byte) ([]byte, error)
}

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// Run applies every migration with a version above fromVersion, lowest
// first, and returns the transformed bytes together with the version
// reached. On failure the data reached so far is discarded; the caller keeps
// its original file.
func Run(data []byte, fromVersion int, migrations []Migration) ([]byte, int, error) {
	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Version < ordered[j].Version
	})

	version := fromVersion
	for _, m := range ordered {
		if m.Version <= version {
			continue
		}
		slog.Info("applying config migration", "version", m.Version, "description", m.Description)
		next, err := m.Upgrade(data)
		if err != nil {
			return nil, version, fmt.Errorf("migration to v%d failed: %w", m.Version, err)
		}
		data = next
		version = m.Version
	}
	return data, version, nil
}

// NeedsMigration reports whether a file at fileVersion would be touched by
// Run, either because it trails currentVersion or because a registered
// migration targets a higher version.
func NeedsMigration(fileVersion, currentVersion int, migrations []Migration) bool {
	if fileVersion != currentVersion {
		return true
	}
	for _, m := range migrations {
		if fileVersion < m.Version {
			return true
		}
	}
	return false
}
