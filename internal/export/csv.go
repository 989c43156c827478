package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"archimap/pkg/models"
)

var csvHeader = []string{
	"id", "title", "architect", "year", "address", "latitude", "longitude",
	"category", "big_category", "description", "image_url", "tags", "prefecture",
	"contractor", "structural_designer", "landscape_designer", "shinkenchiku_url",
}

// WriteCSV writes every building to outPath in the column layout the
// importer reads back. Placeholders are left out.
func WriteCSV(ctx context.Context, items []models.ExportItem, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		year := ""
		if it.Year != nil {
			year = strconv.Itoa(*it.Year)
		}
		if err := w.Write([]string{
			strconv.FormatInt(it.ID, 10),
			unplaceholder(it.Title, models.UnknownTitle),
			unplaceholder(it.Architect, models.UnknownArchitect),
			year,
			unplaceholder(it.Address, models.UnknownAddress),
			formatFloat(it.Latitude),
			formatFloat(it.Longitude),
			deref(it.Category),
			deref(it.BigCategory),
			deref(it.Description),
			deref(it.ImageURL),
			deref(it.Tags),
			deref(it.Prefecture),
			deref(it.Contractor),
			deref(it.StructuralDesigner),
			deref(it.LandscapeDesigner),
			deref(it.ShinkenchikuURL),
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func unplaceholder(v, placeholder string) string {
	if v == placeholder {
		return ""
	}
	return v
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func formatFloat(p *float64) string {
	if p == nil || *p == 0 {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
