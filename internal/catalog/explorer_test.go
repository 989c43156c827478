package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archimap/internal/fixture"
	"archimap/pkg/schema"
)

func TestCheckStatement(t *testing.T) {
	allowed := []string{
		"SELECT 1",
		"select * from ZCDARCHITECTURE;",
		"  WITH t AS (SELECT Z_PK FROM ZCDARCHITECTURE) SELECT * FROM t  ",
		"SELECT 'drop table x' AS note",
		"SELECT \"delete\" FROM x",
		"SELECT 1 -- ; DROP TABLE x",
		"SELECT /* update */ 1",
	}
	for _, s := range allowed {
		_, err := CheckStatement(s)
		assert.NoError(t, err, s)
	}

	rejected := []string{
		"",
		";",
		"DELETE FROM ZCDARCHITECTURE",
		"SELECT 1; DROP TABLE ZCDARCHITECTURE",
		"PRAGMA table_info(ZCDARCHITECTURE)",
		"WITH t AS (SELECT 1) DELETE FROM ZCDARCHITECTURE",
		"ATTACH DATABASE 'x.db' AS x",
		"select * from x; select 2",
	}
	for _, s := range rejected {
		_, err := CheckStatement(s)
		assert.ErrorIs(t, err, ErrStatementNotAllowed, s)
	}
}

func TestExplore(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	res, err := r.Explore(ctx, "SELECT Z_PK, ZAR_TITLE FROM ZCDARCHITECTURE ORDER BY Z_PK;", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Z_PK", "ZAR_TITLE"}, res.Columns)
	require.Len(t, res.Rows, 5)
	assert.True(t, res.Truncated)
	assert.EqualValues(t, 1, res.Rows[0][0])
	assert.Equal(t, "国立代々木競技場", res.Rows[0][1])

	res, err = r.Explore(ctx, "SELECT COUNT(*) AS n FROM ZCDARCHITECTURE", 0)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.EqualValues(t, fixture.BuildingCount, res.Rows[0][0])

	_, err = r.Explore(ctx, "SELECT * FROM no_such_table", 10)
	assert.ErrorIs(t, err, ErrStatementNotAllowed)

	_, err = r.Explore(ctx, "DROP TABLE ZCDARCHITECTURE", 10)
	assert.ErrorIs(t, err, ErrStatementNotAllowed)
}

func TestTables(t *testing.T) {
	r := newTestRepo(t)

	tables, err := r.Tables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 5)

	byName := map[string]TableInfo{}
	for _, ti := range tables {
		byName[ti.Name] = ti
	}
	arch := byName[schema.TableArchitecture]
	assert.Equal(t, fixture.BuildingCount, arch.Rows)
	assert.Equal(t, Column{Name: "Z_PK", Type: "INTEGER"}, arch.Columns[0])
	assert.Equal(t, 2, byName[schema.TableReference].Rows)
}
