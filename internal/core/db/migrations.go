package db

import (
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	embeddedmigrations "github.com/solatis/derivekeeper/migrations"
)

/*
 * Schema migrations for the run ledger.
 *
 * Migration files are embedded per driver and applied in filename order, one
 * transaction each. The migrations table records the SHA256 of every applied
 * file; MigrateUp refuses to run when an applied file has changed or vanished.
 */

// ErrMigrationDrift reports an applied migration that no longer matches the
// embedded file set.
var ErrMigrationDrift = errors.New("migration drift")

// MigrationStatus represents the state of a single migration.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

type migration struct {
	ID       string
	Checksum string
	SQL      string
}

// appliedMigration is one row of the migrations table. applied_at is RFC3339
// text on sqlite and a timestamp on postgres; both scan into a string.
type appliedMigration struct {
	ID          string `db:"migration_id"`
	Checksum    string `db:"checksum"`
	AppliedAt   string `db:"applied_at"`
	ExecutionMs int64  `db:"execution_ms"`
}

const sqliteTrackingTable = `
CREATE TABLE IF NOT EXISTS migrations (
	migration_id TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TEXT NOT NULL,
	execution_ms INTEGER NOT NULL,
	CHECK (applied_at LIKE '____-__-__T__:__:__Z')
)`

const postgresTrackingTable = `
CREATE TABLE IF NOT EXISTS migrations (
	migration_id TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMP WITHOUT TIME ZONE NOT NULL,
	execution_ms INTEGER NOT NULL
)`

// MigrateUp applies every pending migration and returns how many ran.
func MigrateUp(db *sqlx.DB) (int, error) {
	migrations, applied, err := loadMigrations(db)
	if err != nil {
		return 0, err
	}
	if err := checkDrift(migrations, applied); err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if _, done := applied[m.ID]; done {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return count, fmt.Errorf("failed to apply migration %s: %w", m.ID, err)
		}
		count++
	}
	return count, nil
}

// MigrateStatus lists every embedded migration in order with its applied state.
func MigrateStatus(db *sqlx.DB) ([]MigrationStatus, error) {
	migrations, applied, err := loadMigrations(db)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		st := MigrationStatus{ID: m.ID, Checksum: m.Checksum}
		if row, ok := applied[m.ID]; ok {
			st.Applied = true
			st.Checksum = row.Checksum
			st.ExecutionMs = row.ExecutionMs
			if t, err := time.Parse(time.RFC3339Nano, row.AppliedAt); err == nil {
				st.AppliedAt = &t
			}
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// loadMigrations ensures the tracking table exists and returns the embedded
// migrations for the driver together with the applied rows keyed by ID.
func loadMigrations(db *sqlx.DB) ([]migration, map[string]appliedMigration, error) {
	fsys, dir, err := migrationSource(db.DriverName())
	if err != nil {
		return nil, nil, err
	}

	ddl := postgresTrackingTable
	if db.DriverName() == "sqlite3" {
		ddl = sqliteTrackingTable
	}
	if _, err := db.Exec(ddl); err != nil {
		return nil, nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := parseMigrationFiles(fsys, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse migrations: %w", err)
	}

	var rows []appliedMigration
	if err := db.Select(&rows, "SELECT migration_id, checksum, applied_at, execution_ms FROM migrations"); err != nil {
		return nil, nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	applied := make(map[string]appliedMigration, len(rows))
	for _, row := range rows {
		applied[row.ID] = row
	}
	return migrations, applied, nil
}

func checkDrift(migrations []migration, applied map[string]appliedMigration) error {
	embedded := make(map[string]string, len(migrations))
	for _, m := range migrations {
		embedded[m.ID] = m.Checksum
	}
	for id, row := range applied {
		want, ok := embedded[id]
		if !ok {
			return fmt.Errorf("%w: %s is applied but not embedded", ErrMigrationDrift, id)
		}
		if want != row.Checksum {
			return fmt.Errorf("%w: %s checksum %s, embedded %s", ErrMigrationDrift, id, row.Checksum, want)
		}
	}
	return nil
}

// migrationSource selects the embedded migration set for a driver.
func migrationSource(driver string) (embed.FS, string, error) {
	switch driver {
	case "sqlite3":
		return embeddedmigrations.SqliteMigrations, "sqlite", nil
	case "postgres":
		return embeddedmigrations.PostgresMigrations, "postgres", nil
	default:
		return embed.FS{}, "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// parseMigrationFiles reads dir/*.sql sorted by filename.
func parseMigrationFiles(fsys embed.FS, dir string) ([]migration, error) {
	names, err := fs.Glob(fsys, dir+"/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	migrations := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := fsys.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		migrations = append(migrations, migration{
			ID:       path.Base(name),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
			SQL:      string(content),
		})
	}
	return migrations, nil
}

// applyMigration runs one migration and records it in a single transaction.
// lib/pq rejects multiple statements per Exec, so statements run one by one.
func applyMigration(db *sqlx.DB, m migration) error {
	start := time.Now()
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement failed: %w", err)
		}
	}

	_, err = tx.Exec(
		tx.Rebind("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
		m.ID, m.Checksum, time.Now().UTC().Format(time.RFC3339), time.Since(start).Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// splitStatements splits a migration on semicolons and drops comment lines.
func splitStatements(sql string) []string {
	var statements []string
	for _, chunk := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
