package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"
)

type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type Facets struct {
	Prefectures []FacetCount `json:"prefectures"`
	Categories  []FacetCount `json:"categories"`
	Decades     []FacetCount `json:"decades"`
}

// Facets counts the matches of q per prefecture, category and decade. Each
// group ignores the filter on its own field so the other values stay
// selectable.
func (r *Repo) Facets(ctx context.Context, q ListQuery) (*Facets, error) {
	q = q.Normalize()
	var out Facets

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f := buildingFilter(q, facetPrefecture)
		f.add("IFNULL(ZAR_PREFECTURE, '') <> ''")
		var err error
		out.Prefectures, err = r.groupCount(gctx, "ZAR_PREFECTURE", f, "2 DESC, 1 ASC")
		return err
	})
	g.Go(func() error {
		f := buildingFilter(q, facetCategory)
		f.add("IFNULL(ZAR_CATEGORY, '') <> ''")
		var err error
		out.Categories, err = r.groupCount(gctx, "ZAR_CATEGORY", f, "2 DESC, 1 ASC")
		return err
	})
	g.Go(func() error {
		f := buildingFilter(q, facetDecade)
		f.add("ZAR_YEAR > 0")
		var err error
		out.Decades, err = r.groupCount(gctx, "(ZAR_YEAR / 10) * 10", f, "1 ASC")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) groupCount(ctx context.Context, expr string, f filter, order string) ([]FacetCount, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+expr+`, COUNT(*) FROM ZCDARCHITECTURE`+f.clause()+` GROUP BY 1 ORDER BY `+order,
		f.args...)
	if err != nil {
		return nil, fmt.Errorf("facet query %s: %w", expr, err)
	}
	defer rows.Close()

	out := []FacetCount{}
	for rows.Next() {
		var (
			v  sql.NullString
			fc FacetCount
		)
		if err := rows.Scan(&v, &fc.Count); err != nil {
			return nil, fmt.Errorf("facet scan %s: %w", expr, err)
		}
		fc.Value = v.String
		out = append(out, fc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("facet rows %s: %w", expr, err)
	}
	return out, nil
}

type ArchitectCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ResearchStats is the aggregate view behind the research page.
type ResearchStats struct {
	Buildings     int              `json:"buildings"`
	Architects    int              `json:"architects"`
	WithLocation  int              `json:"with_location"`
	WithYear      int              `json:"with_year"`
	Prefectures   []FacetCount     `json:"prefectures"`
	Categories    []FacetCount     `json:"categories"`
	Decades       []FacetCount     `json:"decades"`
	TopArchitects []ArchitectCount `json:"top_architects"`
}

func (r *Repo) Stats(ctx context.Context) (*ResearchStats, error) {
	var out ResearchStats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.DB.QueryRowContext(gctx, `
			SELECT COUNT(*),
			       SUM(CASE WHEN `+hasLocation+` THEN 1 ELSE 0 END),
			       SUM(CASE WHEN ZAR_YEAR > 0 THEN 1 ELSE 0 END)
			FROM ZCDARCHITECTURE
		`).Scan(&out.Buildings, nullInt{&out.WithLocation}, nullInt{&out.WithYear})
	})
	g.Go(func() error {
		return r.DB.QueryRowContext(gctx, `SELECT COUNT(*) FROM ZCDARCHITECT`).Scan(&out.Architects)
	})
	g.Go(func() error {
		facets, err := r.Facets(gctx, ListQuery{})
		if err != nil {
			return err
		}
		out.Prefectures, out.Categories, out.Decades = facets.Prefectures, facets.Categories, facets.Decades
		return nil
	})
	g.Go(func() error {
		var err error
		out.TopArchitects, err = r.topArchitects(gctx, 20)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("research stats: %w", err)
	}
	return &out, nil
}

func (r *Repo) topArchitects(ctx context.Context, limit int) ([]ArchitectCount, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT ZAR_ARCHITECT, COUNT(*) FROM ZCDARCHITECTURE
		WHERE IFNULL(ZAR_ARCHITECT, '') <> ''
		GROUP BY ZAR_ARCHITECT
		ORDER BY 2 DESC, 1 ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top architects query: %w", err)
	}
	defer rows.Close()

	out := []ArchitectCount{}
	for rows.Next() {
		var ac ArchitectCount
		if err := rows.Scan(&ac.Name, &ac.Count); err != nil {
			return nil, fmt.Errorf("top architects scan: %w", err)
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

// nullInt scans a nullable aggregate into an int, leaving zero for NULL.
type nullInt struct{ dst *int }

func (n nullInt) Scan(src any) error {
	var v sql.NullInt64
	if err := v.Scan(src); err != nil {
		return err
	}
	*n.dst = int(v.Int64)
	return nil
}

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	Text string `json:"text"`
	Kind string `json:"kind"` // building, architect, prefecture
}

// Suggest returns titles, architects and prefectures containing prefix,
// those starting with it first.
func (r *Repo) Suggest(ctx context.Context, prefix string, limit int) ([]Suggestion, error) {
	if prefix == "" {
		return []Suggestion{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	starts, contains := prefixPattern(prefix), containsPattern(prefix)

	rows, err := r.DB.QueryContext(ctx, `
		SELECT text, kind, MIN(rank) AS best FROM (
			SELECT ZAR_TITLE AS text, 'building' AS kind,
			       CASE WHEN ZAR_TITLE LIKE ? ESCAPE '\' THEN 0 ELSE 1 END AS rank
			FROM ZCDARCHITECTURE WHERE ZAR_TITLE LIKE ? ESCAPE '\'
			UNION ALL
			SELECT ZAR_ARCHITECT, 'architect',
			       CASE WHEN ZAR_ARCHITECT LIKE ? ESCAPE '\' THEN 0 ELSE 1 END
			FROM ZCDARCHITECTURE WHERE ZAR_ARCHITECT LIKE ? ESCAPE '\'
			UNION ALL
			SELECT ZAR_PREFECTURE, 'prefecture',
			       CASE WHEN ZAR_PREFECTURE LIKE ? ESCAPE '\' THEN 0 ELSE 1 END
			FROM ZCDARCHITECTURE WHERE ZAR_PREFECTURE LIKE ? ESCAPE '\'
		)
		WHERE IFNULL(text, '') <> ''
		GROUP BY text, kind
		ORDER BY best ASC, LENGTH(text) ASC, text ASC
		LIMIT ?
	`, starts, contains, starts, contains, starts, contains, limit)
	if err != nil {
		return nil, fmt.Errorf("suggest query: %w", err)
	}
	defer rows.Close()

	out := []Suggestion{}
	for rows.Next() {
		var (
			s    Suggestion
			best int
		)
		if err := rows.Scan(&s.Text, &s.Kind, &best); err != nil {
			return nil, fmt.Errorf("suggest scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("suggest rows: %w", err)
	}
	return out, nil
}

// DecadeLabel formats a decade facet value, e.g. "1960" as "1960s".
func DecadeLabel(v string) string {
	if n, err := strconv.Atoi(v); err == nil {
		return strconv.Itoa(n) + "s"
	}
	return v
}
