// Package testdb writes the fixture catalog with the WASM driver for tests of
// packages that must not link the cgo driver.
package testdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"

	"archimap/internal/fixture"
	"archimap/pkg/schema"
)

// Path creates a seeded catalog file in a temp dir and returns its path.
func Path(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archimap.sqlite")
	Write(t, path, true)
	return path
}

// Write creates the schema at path, seeding it when seed is set.
func Write(t testing.TB, path string, seed bool) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite3", "file:"+path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, schema.Migrate(ctx, db))
	if seed {
		require.NoError(t, fixture.Seed(ctx, db))
	}
}

// WriteTables creates a file holding only the given DDL.
func WriteTables(t testing.TB, path string, ddl string) {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(ddl)
	require.NoError(t, err)
}

// Open returns a read-only connection to a fresh fixture file.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+Path(t)+"?mode=ro")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
