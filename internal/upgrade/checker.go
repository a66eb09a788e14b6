// Package upgrade checks whether a postgres database's schema matches
// what this binary expects, so serve and doctor can point the operator
// at the right migrate command instead of failing mid-request.
package upgrade

import (
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the migration version this binary was built
// against. Bump it together with a new file in migrations/.
const RequiredSchemaVersion uint = 1

// SchemaStatus is the result of comparing the live schema to the
// version this binary requires.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

// CheckSchema reads the schema_migrations table golang-migrate
// maintains. A missing table means a fresh database that has never
// been migrated.
func CheckSchema(db *sql.DB) (*SchemaStatus, error) {
	var version uint
	var dirty bool

	err := db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &SchemaStatus{RequiredVersion: RequiredSchemaVersion, NeedsMigration: true}, nil
		}
		// Table absent on a fresh database.
		return &SchemaStatus{RequiredVersion: RequiredSchemaVersion, NeedsMigration: true}, nil
	}

	s := &SchemaStatus{
		CurrentVersion:  version,
		RequiredVersion: RequiredSchemaVersion,
		Dirty:           dirty,
	}
	if dirty {
		return s, nil
	}

	switch {
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Describe returns an operator-facing explanation of a non-compatible
// status, including the command that fixes it.
func Describe(s *SchemaStatus) string {
	switch {
	case s.Dirty:
		return fmt.Sprintf(
			"schema is dirty at version %d (a migration failed partway); run: osa migrate force %d, then osa migrate up",
			s.CurrentVersion, s.CurrentVersion-1)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Sprintf(
			"schema v%d is newer than this binary (requires v%d); upgrade the osa binary",
			s.CurrentVersion, s.RequiredVersion)
	case s.NeedsMigration:
		return fmt.Sprintf(
			"schema is outdated: current v%d, required v%d; run: osa migrate up",
			s.CurrentVersion, s.RequiredVersion)
	default:
		return "schema is up to date"
	}
}
