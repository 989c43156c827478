package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archimap/internal/fixture"
	"archimap/pkg/schema"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("ARCHIMAP_DB_PATH", "")
	assert.Equal(t, filepath.Join("public", "db", "archimap.sqlite"), DefaultConfig().Path)

	t.Setenv("ARCHIMAP_DB_PATH", "/tmp/other.sqlite")
	assert.Equal(t, "/tmp/other.sqlite", DefaultConfig().Path)
}

func TestOpenMigrateFinalize(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "archimap.sqlite")

	db, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "delete", mode)

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db), "migrations are idempotent")
	require.NoError(t, fixture.Seed(ctx, db))

	tables, err := schema.Tables(ctx, db)
	require.NoError(t, err)
	assert.Contains(t, tables, schema.TableArchitecture)
	assert.Contains(t, tables, schema.TableArchitect)

	require.NoError(t, Finalize(ctx, db))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ZCDARCHITECTURE`).Scan(&count))
	assert.Equal(t, fixture.BuildingCount, count)

	_, err = os.Stat(path + "-wal")
	assert.True(t, os.IsNotExist(err), "no WAL sidecar next to the published file")
}
