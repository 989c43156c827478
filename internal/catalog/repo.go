// Package catalog queries buildings and architects in the catalog database.
// It is driver agnostic: the server hands it the WASM engine connection and
// the build tools a cgo one.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"archimap/internal/textnorm"
	"archimap/pkg/models"
	"archimap/pkg/schema"
)

type Repo struct {
	DB *sql.DB

	tables map[string]bool
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// WithTables records which tables exist so that Get does not have to look
// them up. Deployed databases may lack the side tables.
func (r *Repo) WithTables(tables []string) *Repo {
	r.tables = make(map[string]bool, len(tables))
	for _, t := range tables {
		r.tables[t] = true
	}
	return r
}

func (r *Repo) hasTable(ctx context.Context, name string) (bool, error) {
	if r.tables == nil {
		tables, err := schema.Tables(ctx, r.DB)
		if err != nil {
			return false, err
		}
		r.WithTables(tables)
	}
	return r.tables[name], nil
}

const buildingColumns = `
	Z_PK, ZAR_TITLE, ZAR_ARCHITECT, ZAR_YEAR, ZAR_PREFECTURE, ZAR_CITY, ZAR_ADDRESS,
	ZAR_LATITUDE, ZAR_LONGITUDE, ZAR_CATEGORY, ZAR_BIGCATEGORY, ZAR_DESCRIPTION,
	ZAR_IMAGE_URL, ZAR_TAG, ZAR_CONTRACTOR, ZAR_STRUCTURAL_DESIGNER,
	ZAR_LANDSCAPE_DESIGNER, ZAR_SHINKENCHIKU_URL`

type scanner interface {
	Scan(dest ...any) error
}

func scanBuilding(s scanner) (models.Building, error) {
	var (
		b                                    models.Building
		title, architect, prefecture, city   sql.NullString
		address, category, bigCategory, desc sql.NullString
		image, tags, contractor, structural  sql.NullString
		landscape, sourceURL                 sql.NullString
		year                                 sql.NullInt64
		lat, lng                             sql.NullFloat64
	)
	if err := s.Scan(
		&b.ID, &title, &architect, &year, &prefecture, &city, &address,
		&lat, &lng, &category, &bigCategory, &desc,
		&image, &tags, &contractor, &structural,
		&landscape, &sourceURL,
	); err != nil {
		return b, err
	}

	b.Name = title.String
	b.Architect = architect.String
	if year.Valid && year.Int64 > 0 {
		y := int(year.Int64)
		b.Year = &y
	}
	b.Prefecture = prefecture.String
	b.City = city.String
	b.Address = address.String
	b.Latitude = lat.Float64
	b.Longitude = lng.Float64
	b.Category = category.String
	b.BigCategory = bigCategory.String
	b.Description = desc.String
	if u := strings.TrimSpace(image.String); u != "" {
		b.Images = []string{u}
	}
	b.Tags = models.SplitTags(tags.String)
	b.Contractor = contractor.String
	b.Structural = structural.String
	b.Landscape = landscape.String
	b.SourceURL = sourceURL.String
	return b, nil
}

// Get returns the building with its side-table collections, or nil when it
// does not exist.
func (r *Repo) Get(ctx context.Context, id int64) (*models.Building, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+buildingColumns+` FROM ZCDARCHITECTURE WHERE Z_PK = ?`, id)
	b, err := scanBuilding(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan get: %w", err)
	}

	if ok, err := r.hasTable(ctx, schema.TableReference); err != nil {
		return nil, err
	} else if ok {
		if b.References, err = r.references(ctx, id); err != nil {
			return nil, err
		}
	}
	if ok, err := r.hasTable(ctx, schema.TableVisit); err != nil {
		return nil, err
	} else if ok {
		if b.Visits, err = r.visits(ctx, id); err != nil {
			return nil, err
		}
	}
	if ok, err := r.hasTable(ctx, schema.TableSocialMedia); err != nil {
		return nil, err
	} else if ok {
		if b.SocialMedia, err = r.socialMedia(ctx, id); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

func (r *Repo) references(ctx context.Context, id int64) ([]models.Reference, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT Z_PK, ZTYPE, ZTITLE, ZAUTHOR, ZURL, ZPUBLISHER, ZYEAR, ZDESCRIPTION
		FROM ZCDREFERENCE WHERE ZBUILDING = ? ORDER BY Z_PK
	`, id)
	if err != nil {
		return nil, fmt.Errorf("references query: %w", err)
	}
	defer rows.Close()

	var out []models.Reference
	for rows.Next() {
		var (
			ref                          models.Reference
			author, url, publisher, desc sql.NullString
			year                         sql.NullInt64
		)
		if err := rows.Scan(&ref.ID, &ref.Type, &ref.Title, &author, &url, &publisher, &year, &desc); err != nil {
			return nil, fmt.Errorf("references scan: %w", err)
		}
		ref.Author = author.String
		ref.URL = url.String
		ref.Publisher = publisher.String
		ref.Description = desc.String
		if year.Valid && year.Int64 > 0 {
			y := int(year.Int64)
			ref.Year = &y
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("references rows: %w", err)
	}
	return out, nil
}

func (r *Repo) visits(ctx context.Context, id int64) ([]models.Visit, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT Z_PK, ZSOURCE, ZTITLE, ZAUTHOR, ZURL, ZDATE, ZEXCERPT
		FROM ZCDVISIT WHERE ZBUILDING = ? ORDER BY Z_PK
	`, id)
	if err != nil {
		return nil, fmt.Errorf("visits query: %w", err)
	}
	defer rows.Close()

	var out []models.Visit
	for rows.Next() {
		var (
			v             models.Visit
			date, excerpt sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.Source, &v.Title, &v.Author, &v.URL, &date, &excerpt); err != nil {
			return nil, fmt.Errorf("visits scan: %w", err)
		}
		v.Date = date.String
		v.Excerpt = excerpt.String
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("visits rows: %w", err)
	}
	return out, nil
}

func (r *Repo) socialMedia(ctx context.Context, id int64) ([]models.SocialMedia, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT Z_PK, ZPLATFORM, ZURL, ZAUTHOR, ZDATE, ZCONTENT
		FROM ZCDSOCIALMEDIA WHERE ZBUILDING = ? ORDER BY Z_PK
	`, id)
	if err != nil {
		return nil, fmt.Errorf("social media query: %w", err)
	}
	defer rows.Close()

	var out []models.SocialMedia
	for rows.Next() {
		var (
			s                     models.SocialMedia
			author, date, content sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Platform, &s.URL, &author, &date, &content); err != nil {
			return nil, fmt.Errorf("social media scan: %w", err)
		}
		s.Author = author.String
		s.Date = date.String
		s.Content = content.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("social media rows: %w", err)
	}
	return out, nil
}

func (r *Repo) Count(ctx context.Context, q ListQuery) (int, error) {
	sqlStr, args := buildListSQL(q, true)
	row := r.DB.QueryRowContext(ctx, sqlStr, args...)
	var total int
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("count scan: %w", err)
	}
	return total, nil
}

func (r *Repo) List(ctx context.Context, q ListQuery) ([]models.Building, error) {
	q = q.Normalize()
	sqlStr, args := buildListSQL(q, false)

	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}
	defer rows.Close()

	out := make([]models.Building, 0, q.Limit)
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// filter accumulates WHERE conditions and their arguments.
type filter struct {
	where []string
	args  []any
}

func (f *filter) add(cond string, args ...any) {
	f.where = append(f.where, cond)
	f.args = append(f.args, args...)
}

func (f filter) clause() string {
	if len(f.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.where, " AND ")
}

// searchColumns are matched by every search term.
var searchColumns = []string{
	"ZAR_TITLE", "ZAR_ARCHITECT", "ZAR_ADDRESS", "ZAR_PREFECTURE", "ZAR_CITY", "ZAR_CATEGORY", "ZAR_TAG",
}

func (f *filter) addTerms(search string, columns []string) {
	for _, term := range textnorm.Terms(search) {
		pat := containsPattern(term)
		ors := make([]string, len(columns))
		args := make([]any, len(columns))
		for i, col := range columns {
			ors[i] = col + ` LIKE ? ESCAPE '\'`
			args[i] = pat
		}
		f.add("("+strings.Join(ors, " OR ")+")", args...)
	}
}

// Facet names used to leave a filter out of its own facet counts.
const (
	facetNone       = ""
	facetPrefecture = "prefecture"
	facetCategory   = "category"
	facetDecade     = "decade"
)

func buildingFilter(q ListQuery, skip string) filter {
	var f filter
	f.addTerms(q.Search, searchColumns)

	if q.Prefecture != "" && skip != facetPrefecture {
		f.add("ZAR_PREFECTURE = ?", q.Prefecture)
	}
	if q.Category != "" && skip != facetCategory {
		f.add("(ZAR_CATEGORY = ? OR ZAR_BIGCATEGORY = ?)", q.Category, q.Category)
	}
	if q.Architect != "" {
		f.add(`ZAR_ARCHITECT LIKE ? ESCAPE '\'`, containsPattern(q.Architect))
	}
	if skip != facetDecade {
		if q.YearFrom > 0 {
			f.add("ZAR_YEAR >= ?", q.YearFrom)
		}
		if q.YearTo > 0 {
			f.add("ZAR_YEAR > 0 AND ZAR_YEAR <= ?", q.YearTo)
		}
	}
	return f
}

// buildListSQL builds either COUNT(*) or the SELECT for one page.
func buildListSQL(q ListQuery, countOnly bool) (string, []any) {
	q = q.Normalize()
	f := buildingFilter(q, facetNone)

	sqlStr := `SELECT ` + buildingColumns + ` FROM ZCDARCHITECTURE`
	if countOnly {
		sqlStr = `SELECT COUNT(*) FROM ZCDARCHITECTURE`
	}
	sqlStr += f.clause()
	args := f.args

	if !countOnly {
		sqlStr += " ORDER BY " + sortOrder[q.Sort]
		sqlStr += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset())
	}
	return sqlStr, args
}
