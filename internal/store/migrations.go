package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed migrations/001_initial_schema.sql
var initialSchemaSQL string

// schemaRevision pairs a version number with the SQL script that brings the
// database up to it.
type schemaRevision struct {
	version int
	name    string
	script  string
}

var schemaRevisions = []schemaRevision{
	{version: 1, name: "initial_schema", script: initialSchemaSQL},
}

// runMigrations brings the database to the latest schema revision. Each
// pending revision commits atomically together with its schema_version row,
// so a failed apply leaves the recorded version untouched.
func runMigrations(ctx context.Context, db *sql.DB) error {
	const versionTable = `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.ExecContext(ctx, versionTable); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&applied); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, rev := range schemaRevisions {
		if rev.version <= applied {
			continue
		}
		if err := applyRevision(ctx, db, rev); err != nil {
			return err
		}
	}
	return nil
}

func applyRevision(ctx context.Context, db *sql.DB, rev schemaRevision) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin revision %d: %w", rev.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range sqlStatements(rev.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply revision %d (%s): %w", rev.version, rev.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, rev.version, rev.name); err != nil {
		return fmt.Errorf("record revision %d: %w", rev.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revision %d: %w", rev.version, err)
	}
	return nil
}

// sqlStatements cuts a migration script into individually executable
// statements. The driver accepts one statement per Exec, so the script is
// split on semicolons after dropping `--` comment lines; chunks left empty
// by the stripping are discarded.
func sqlStatements(script string) []string {
	var stmts []string
	for _, chunk := range strings.Split(script, ";") {
		var kept []string
		for _, line := range strings.Split(chunk, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			kept = append(kept, line)
		}
		if len(kept) == 0 {
			continue
		}
		stmts = append(stmts, strings.TrimSpace(strings.Join(kept, "\n")))
	}
	return stmts
}
