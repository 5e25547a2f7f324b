package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers as "sqlite"

	"github.com/kvresolve/resolver/internal/subspace"
	"github.com/kvresolve/resolver/txkv"
)

// buildMirror rebuilds, wholesale, a read-only SQLite mirror of sub's
// forward mapping at dbPath for SELECT-based inspection. The mirror is a
// derived, throwaway view, never the system of record: every call drops and
// recreates its table from a fresh scan of the mapping subspace.
//
// Grounded in the teacher's internal/store index rebuild design
// (index_sqlite.go/reindex.go): open, apply pragmas, rebuild schema inside
// one transaction, never partially commit.
func buildMirror(ctx context.Context, store txkv.Store, sub subspace.Subspace, dbPath string) (int, error) {
	entries, err := scanMapping(ctx, store, sub)
	if err != nil {
		return 0, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, fmt.Errorf("resolverctl: open mirror db: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("resolverctl: ping mirror db: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		return 0, fmt.Errorf("resolverctl: set journal mode: %w", err)
	}

	return rebuildMirrorTable(ctx, db, entries)
}

func rebuildMirrorTable(ctx context.Context, db *sql.DB, entries []snapshotEntry) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("resolverctl: begin mirror rebuild: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	statements := []string{
		"DROP TABLE IF EXISTS mappings",
		`CREATE TABLE mappings (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL,
			metadata BLOB
		)`,
		"CREATE INDEX idx_mappings_value ON mappings(value)",
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("resolverctl: apply mirror schema %q: %w", stmt, err)
		}
	}

	insert, err := tx.PrepareContext(ctx, "INSERT INTO mappings (key, value, metadata) VALUES (?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("resolverctl: prepare mirror insert: %w", err)
	}
	defer insert.Close()

	for _, e := range entries {
		if _, err := insert.ExecContext(ctx, e.Key, e.Value, e.Metadata); err != nil {
			return 0, fmt.Errorf("resolverctl: insert mirror row for %q: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("resolverctl: commit mirror rebuild: %w", err)
	}

	committed = true

	return len(entries), nil
}
