package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Open opens (creating if needed) the database at path with default
// settings and returns a key-value store over it. Close the store when done.
//
// Commands that touch the transcript without starting the module app use
// this directly.
func Open(ctx context.Context, path string) (*KV, error) {
	db, err := openDB(ctx, Config{Path: path}.resolve(""))
	if err != nil {
		return nil, err
	}
	return &KV{db: db}, nil
}

// openDB opens the database described by cfg on a single connection, since
// SQLite serialises writes, applies its pragmas and migrates the schema.
func openDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range cfg.pragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
