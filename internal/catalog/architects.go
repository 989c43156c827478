package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"archimap/pkg/models"
)

const architectColumns = `
	ZAR_ID, ZAR_NAME, ZAR_KANA, ZAR_NAMEENG, ZAR_BIRTHYEAR, ZAR_DEATHYEAR,
	ZAR_BIRTHPLACE, ZAR_NATIONALITY, ZAR_CATEGORY, ZAR_SCHOOL, ZAR_OFFICE,
	ZAR_BIO, ZAR_MAINWORKS, ZAR_AWARDS, ZAR_IMAGE`

// MaxWorks bounds the buildings attached to one architect.
const MaxWorks = 200

func scanArchitect(s scanner) (models.Architect, error) {
	var (
		a                                     models.Architect
		kana, nameEn, birthplace, nationality sql.NullString
		category, school, office, bio, works  sql.NullString
		awards, image                         sql.NullString
		birth, death                          sql.NullInt64
	)
	if err := s.Scan(
		&a.ID, &a.Name, &kana, &nameEn, &birth, &death,
		&birthplace, &nationality, &category, &school, &office,
		&bio, &works, &awards, &image,
	); err != nil {
		return a, err
	}
	a.Kana = kana.String
	a.NameEn = nameEn.String
	if birth.Valid && birth.Int64 > 0 {
		y := int(birth.Int64)
		a.BirthYear = &y
	}
	if death.Valid && death.Int64 > 0 {
		y := int(death.Int64)
		a.DeathYear = &y
	}
	a.Birthplace = birthplace.String
	a.Nationality = nationality.String
	a.Category = category.String
	a.School = school.String
	a.Office = office.String
	a.Bio = bio.String
	a.MainWorks = works.String
	a.Awards = awards.String
	a.Image = image.String
	return a, nil
}

var architectSearchColumns = []string{"ZAR_NAME", "ZAR_KANA", "ZAR_NAMEENG", "ZAR_SCHOOL", "ZAR_OFFICE"}

func architectFilter(q ArchitectQuery) filter {
	var f filter
	f.addTerms(q.Search, architectSearchColumns)
	if q.Nationality != "" {
		f.add("ZAR_NATIONALITY = ?", q.Nationality)
	}
	if q.Category != "" {
		f.add("ZAR_CATEGORY = ?", q.Category)
	}
	if q.School != "" {
		f.add(`ZAR_SCHOOL LIKE ? ESCAPE '\'`, containsPattern(q.School))
	}
	if q.BirthYearFrom > 0 {
		f.add("ZAR_BIRTHYEAR >= ?", q.BirthYearFrom)
	}
	if q.BirthYearTo > 0 {
		f.add("ZAR_BIRTHYEAR > 0 AND ZAR_BIRTHYEAR <= ?", q.BirthYearTo)
	}
	if q.DeathYear > 0 {
		f.add("ZAR_DEATHYEAR = ?", q.DeathYear)
	}
	return f
}

func (r *Repo) CountArchitects(ctx context.Context, q ArchitectQuery) (int, error) {
	f := architectFilter(q.Normalize())
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM ZCDARCHITECT`+f.clause(), f.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count architects scan: %w", err)
	}
	return total, nil
}

func (r *Repo) ListArchitects(ctx context.Context, q ArchitectQuery) ([]models.Architect, error) {
	q = q.Normalize()
	f := architectFilter(q)
	args := append(f.args, q.Limit, q.Offset())

	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+architectColumns+` FROM ZCDARCHITECT`+f.clause()+
			` ORDER BY `+architectSortOrder[q.Sort]+` LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list architects query: %w", err)
	}
	defer rows.Close()

	out := make([]models.Architect, 0, q.Limit)
	for rows.Next() {
		a, err := scanArchitect(rows)
		if err != nil {
			return nil, fmt.Errorf("list architects scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// GetArchitect returns the architect and the buildings credited to them,
// oldest first, or nil when the id does not exist.
func (r *Repo) GetArchitect(ctx context.Context, id int64) (*models.Architect, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+architectColumns+` FROM ZCDARCHITECT WHERE ZAR_ID = ?`, id)
	a, err := scanArchitect(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan get architect: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+buildingColumns+` FROM ZCDARCHITECTURE
		WHERE ZAR_ARCHITECT LIKE ? ESCAPE '\'
		ORDER BY `+sortOrder[SortYearAsc]+`
		LIMIT ?
	`, containsPattern(a.Name), MaxWorks)
	if err != nil {
		return nil, fmt.Errorf("architect works query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, fmt.Errorf("architect works scan: %w", err)
		}
		a.Works = append(a.Works, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("architect works rows: %w", err)
	}
	return &a, nil
}
