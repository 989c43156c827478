// Package database opens the writable catalog file. Only build-time tools
// link it; the server and CLI read through the WASM engine in remotedb.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"archimap/pkg/schema"
)

type Config struct {
	Path string
}

func DefaultConfig() Config {
	if p := os.Getenv("ARCHIMAP_DB_PATH"); p != "" {
		return Config{Path: p}
	}
	return Config{Path: filepath.Join("public", "db", "archimap.sqlite")}
}

func EnsureDataDir(cfg Config) error {
	return os.MkdirAll(filepath.Dir(cfg.Path), 0o755)
}

func Open(cfg Config) (*sql.DB, error) {
	if err := EnsureDataDir(cfg); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma foreign_keys: %w", err)
	}
	// The published file is read by range requests, so it must not depend
	// on a -wal sidecar.
	if _, err := db.Exec(`PRAGMA journal_mode = DELETE;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma journal_mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	return schema.Migrate(ctx, db)
}

// Finalize compacts the file so that its size matches what will be served.
func Finalize(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `ANALYZE;`); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if _, err := db.ExecContext(ctx, `VACUUM;`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
