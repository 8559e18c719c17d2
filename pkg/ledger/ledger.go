// Package ledger persists, per project, the mapping from a fingerprinted
// set of input paths to the output paths produced for them on the
// previous run. It is read by the recompile baseline and by clean mode,
// and rewritten wholesale at the end of every successful run.
//
// Storage is a modernc.org/sqlite database (pure Go, no cgo), grounded on
// the teacher's pkg/storage/sqlite.go: WAL journal mode, a busy timeout,
// foreign keys on, and a version-tracked schema_migrations table applied
// from an embedded schema.sql.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Ledger is the artifact ledger for one project, backed by a sqlite file
// under the project's hidden build directory.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the ledger database at path, applying
// pragmas and migrations. The parent directory is created with 0o700 and
// the database file itself ends up 0o600, matching the teacher's
// private-by-default storage convention.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ledger: creating directory for %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger: applying pragma %q: %w", p, err)
		}
	}

	l := &Ledger{db: db, path: path}
	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(path, 0o600)
	return l, nil
}

func (l *Ledger) migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ledger: applying schema: %w", err)
	}

	var version int
	row := l.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("ledger: reading schema version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := l.db.ExecContext(ctx, "INSERT INTO schema_migrations(version) VALUES (?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("ledger: recording schema version: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// LoadAll returns every (fingerprint -> output paths) record for project,
// in output order.
func (l *Ledger) LoadAll(ctx context.Context, project string) (map[string][]string, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT input_fingerprint, output_path FROM artifacts
		 WHERE project = ? ORDER BY input_fingerprint, output_index`, project)
	if err != nil {
		return nil, fmt.Errorf("ledger: loading artifacts for %s: %w", project, err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var fp, outputPath string
		if err := rows.Scan(&fp, &outputPath); err != nil {
			return nil, fmt.Errorf("ledger: scanning artifact row: %w", err)
		}
		out[fp] = append(out[fp], outputPath)
	}
	return out, rows.Err()
}

// ReplaceAll atomically replaces every record for project with artifacts.
// Called once at successful termination with the run's accumulated
// artifact set.
func (l *Ledger) ReplaceAll(ctx context.Context, project string, artifacts map[string][]string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM artifacts WHERE project = ?", project); err != nil {
		return fmt.Errorf("ledger: clearing prior artifacts for %s: %w", project, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO artifacts(project, input_fingerprint, output_path, output_index) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("ledger: preparing insert: %w", err)
	}
	defer stmt.Close()

	for fp, outputs := range artifacts {
		for i, out := range outputs {
			if _, err := stmt.ExecContext(ctx, project, fp, out, i); err != nil {
				return fmt.Errorf("ledger: recording artifact for %s: %w", project, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: committing artifacts for %s: %w", project, err)
	}
	return nil
}
