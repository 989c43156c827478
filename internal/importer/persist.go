package importer

import (
	"context"
	"database/sql"
	"fmt"

	"archimap/pkg/models"
)

// SaveBuildings upserts buildings by id in one transaction.
func SaveBuildings(ctx context.Context, db *sql.DB, buildings []models.Building) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ZCDARCHITECTURE (
			Z_PK, ZAR_TITLE, ZAR_ARCHITECT, ZAR_YEAR, ZAR_ADDRESS, ZAR_PREFECTURE, ZAR_CITY,
			ZAR_LATITUDE, ZAR_LONGITUDE, ZAR_CATEGORY, ZAR_BIGCATEGORY, ZAR_DESCRIPTION,
			ZAR_IMAGE_URL, ZAR_TAG, ZAR_CONTRACTOR, ZAR_STRUCTURAL_DESIGNER,
			ZAR_LANDSCAPE_DESIGNER, ZAR_SHINKENCHIKU_URL
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(Z_PK) DO UPDATE SET
		  ZAR_TITLE = excluded.ZAR_TITLE,
		  ZAR_ARCHITECT = excluded.ZAR_ARCHITECT,
		  ZAR_YEAR = excluded.ZAR_YEAR,
		  ZAR_ADDRESS = excluded.ZAR_ADDRESS,
		  ZAR_PREFECTURE = excluded.ZAR_PREFECTURE,
		  ZAR_CITY = excluded.ZAR_CITY,
		  ZAR_LATITUDE = excluded.ZAR_LATITUDE,
		  ZAR_LONGITUDE = excluded.ZAR_LONGITUDE,
		  ZAR_CATEGORY = excluded.ZAR_CATEGORY,
		  ZAR_BIGCATEGORY = excluded.ZAR_BIGCATEGORY,
		  ZAR_DESCRIPTION = excluded.ZAR_DESCRIPTION,
		  ZAR_IMAGE_URL = excluded.ZAR_IMAGE_URL,
		  ZAR_TAG = excluded.ZAR_TAG,
		  ZAR_CONTRACTOR = excluded.ZAR_CONTRACTOR,
		  ZAR_STRUCTURAL_DESIGNER = excluded.ZAR_STRUCTURAL_DESIGNER,
		  ZAR_LANDSCAPE_DESIGNER = excluded.ZAR_LANDSCAPE_DESIGNER,
		  ZAR_SHINKENCHIKU_URL = excluded.ZAR_SHINKENCHIKU_URL
	`)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer stmt.Close()

	for _, b := range buildings {
		var image string
		if len(b.Images) > 0 {
			image = b.Images[0]
		}
		var lat, lng any
		if b.HasLocation() {
			lat, lng = b.Latitude, b.Longitude
		}
		if _, err := stmt.ExecContext(ctx,
			b.ID,
			nullString(b.Name),
			nullString(b.Architect),
			nullYear(b.Year),
			nullString(b.Address),
			nullString(b.Prefecture),
			nullString(b.City),
			lat,
			lng,
			nullString(b.Category),
			nullString(b.BigCategory),
			nullString(b.Description),
			nullString(image),
			nullString(models.JoinTags(b.Tags)),
			nullString(b.Contractor),
			nullString(b.Structural),
			nullString(b.Landscape),
			nullString(b.SourceURL),
		); err != nil {
			return fmt.Errorf("exec upsert for building %d: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SaveArchitects upserts architects by id in one transaction. Architects
// without an id are matched by name.
func SaveArchitects(ctx context.Context, db *sql.DB, architects []models.Architect) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ZCDARCHITECT (
			ZAR_ID, ZAR_NAME, ZAR_KANA, ZAR_NAMEENG, ZAR_BIRTHYEAR, ZAR_DEATHYEAR,
			ZAR_BIRTHPLACE, ZAR_NATIONALITY, ZAR_CATEGORY, ZAR_SCHOOL, ZAR_OFFICE,
			ZAR_BIO, ZAR_MAINWORKS, ZAR_AWARDS, ZAR_IMAGE
		) VALUES (
			COALESCE(?, (SELECT ZAR_ID FROM ZCDARCHITECT WHERE ZAR_NAME = ?)),
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		)
		ON CONFLICT(ZAR_ID) DO UPDATE SET
		  ZAR_NAME = excluded.ZAR_NAME,
		  ZAR_KANA = excluded.ZAR_KANA,
		  ZAR_NAMEENG = excluded.ZAR_NAMEENG,
		  ZAR_BIRTHYEAR = excluded.ZAR_BIRTHYEAR,
		  ZAR_DEATHYEAR = excluded.ZAR_DEATHYEAR,
		  ZAR_BIRTHPLACE = excluded.ZAR_BIRTHPLACE,
		  ZAR_NATIONALITY = excluded.ZAR_NATIONALITY,
		  ZAR_CATEGORY = excluded.ZAR_CATEGORY,
		  ZAR_SCHOOL = excluded.ZAR_SCHOOL,
		  ZAR_OFFICE = excluded.ZAR_OFFICE,
		  ZAR_BIO = excluded.ZAR_BIO,
		  ZAR_MAINWORKS = excluded.ZAR_MAINWORKS,
		  ZAR_AWARDS = excluded.ZAR_AWARDS,
		  ZAR_IMAGE = excluded.ZAR_IMAGE
	`)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer stmt.Close()

	for _, a := range architects {
		var id any
		if a.ID > 0 {
			id = a.ID
		}
		if _, err := stmt.ExecContext(ctx,
			id, a.Name,
			a.Name,
			nullString(a.Kana),
			nullString(a.NameEn),
			nullYear(a.BirthYear),
			nullYear(a.DeathYear),
			nullString(a.Birthplace),
			nullString(a.Nationality),
			nullString(a.Category),
			nullString(a.School),
			nullString(a.Office),
			nullString(a.Bio),
			nullString(a.MainWorks),
			nullString(a.Awards),
			nullString(a.Image),
		); err != nil {
			return fmt.Errorf("exec upsert for architect %q: %w", a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ArchitectsFromBuildings derives bare architect rows from the buildings'
// architect field, for imports without an architect file.
func ArchitectsFromBuildings(buildings []models.Building) []models.Architect {
	seen := make(map[string]bool)
	var out []models.Architect
	for _, b := range buildings {
		for _, name := range splitArchitects(b.Architect) {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, models.Architect{Name: name})
		}
	}
	return out
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullYear(y *int) any {
	if y == nil || *y <= 0 {
		return nil
	}
	return *y
}
