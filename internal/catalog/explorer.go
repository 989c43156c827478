package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"archimap/pkg/schema"
)

var ErrStatementNotAllowed = errors.New("catalog: only a single read-only SELECT statement is allowed")

// DefaultExploreRows caps explorer results when no limit is configured.
const DefaultExploreRows = 1000

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type TableInfo struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Rows    int      `json:"rows"`
}

type ExploreResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

// Tables describes every user table with its columns and row count.
func (r *Repo) Tables(ctx context.Context) ([]TableInfo, error) {
	names, err := schema.Tables(ctx, r.DB)
	if err != nil {
		return nil, err
	}

	out := make([]TableInfo, 0, len(names))
	for _, name := range names {
		ti := TableInfo{Name: name}

		rows, err := r.DB.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, name)
		if err != nil {
			return nil, fmt.Errorf("table info %s: %w", name, err)
		}
		for rows.Next() {
			var c Column
			if err := rows.Scan(&c.Name, &c.Type); err != nil {
				rows.Close()
				return nil, fmt.Errorf("table info scan %s: %w", name, err)
			}
			ti.Columns = append(ti.Columns, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("table info rows %s: %w", name, err)
		}

		if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoteIdent(name)).Scan(&ti.Rows); err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		out = append(out, ti)
	}
	return out, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Explore runs one read-only statement from the database explorer and
// returns at most maxRows rows.
func (r *Repo) Explore(ctx context.Context, stmt string, maxRows int) (*ExploreResult, error) {
	stmt, err := CheckStatement(stmt)
	if err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = DefaultExploreRows
	}

	start := time.Now()
	rows, err := r.DB.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatementNotAllowed, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("explore columns: %w", err)
	}

	res := &ExploreResult{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if len(res.Rows) == maxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("explore scan: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("explore rows: %w", err)
	}
	res.ElapsedMS = time.Since(start).Milliseconds()
	return res, nil
}

var forbiddenWords = map[string]bool{
	"insert": true, "update": true, "delete": true, "replace": true, "drop": true,
	"alter": true, "create": true, "attach": true, "detach": true, "pragma": true,
	"vacuum": true, "reindex": true, "analyze": true, "begin": true, "commit": true,
	"rollback": true, "savepoint": true, "release": true,
}

// CheckStatement accepts a single SELECT or WITH statement and returns it
// without its trailing semicolon. Quoted text and comments are skipped when
// looking for keywords.
func CheckStatement(stmt string) (string, error) {
	stmt = strings.TrimSpace(stmt)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if stmt == "" {
		return "", ErrStatementNotAllowed
	}

	words, semicolon := scanWords(stmt)
	if semicolon || len(words) == 0 {
		return "", ErrStatementNotAllowed
	}
	if words[0] != "select" && words[0] != "with" {
		return "", ErrStatementNotAllowed
	}
	for _, w := range words {
		if forbiddenWords[w] {
			return "", ErrStatementNotAllowed
		}
	}
	return stmt, nil
}

// scanWords lowercases the bare words of stmt outside string literals,
// quoted identifiers and comments, and reports whether a statement
// separator appears.
func scanWords(stmt string) ([]string, bool) {
	var (
		words     []string
		cur       strings.Builder
		semicolon bool
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}

	rs := []rune(stmt)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '\'' || c == '"' || c == '`' || c == '[':
			flush()
			end := c
			if c == '[' {
				end = ']'
			}
			for i++; i < len(rs) && rs[i] != end; i++ {
			}
		case c == '-' && i+1 < len(rs) && rs[i+1] == '-':
			flush()
			for i += 2; i < len(rs) && rs[i] != '\n'; i++ {
			}
		case c == '/' && i+1 < len(rs) && rs[i+1] == '*':
			flush()
			for i += 2; i+1 < len(rs) && !(rs[i] == '*' && rs[i+1] == '/'); i++ {
			}
			i++
		case c == ';':
			flush()
			semicolon = true
		case unicode.IsLetter(c) || c == '_' || unicode.IsDigit(c):
			cur.WriteRune(c)
		default:
			flush()
		}
	}
	flush()
	return words, semicolon
}
