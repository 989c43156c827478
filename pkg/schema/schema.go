// Package schema holds the catalog DDL. It imports no SQLite driver so it can
// be shared by the writer (cgo driver) and the reader (WASM driver).
package schema

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

const (
	TableArchitecture = "ZCDARCHITECTURE"
	TableArchitect    = "ZCDARCHITECT"
	TableReference    = "ZCDREFERENCE"
	TableVisit        = "ZCDVISIT"
	TableSocialMedia  = "ZCDSOCIALMEDIA"
)

// Required lists the tables every published database must contain.
var Required = []string{TableArchitecture, TableArchitect}

//go:embed schema.sql
var DDL string

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, DDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Tables lists user tables in name order.
func Tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// Missing returns the entries of want that are not in have.
func Missing(have, want []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	var out []string
	for _, t := range want {
		if _, ok := set[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}
