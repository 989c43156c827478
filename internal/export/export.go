// Package export writes the static JSON form of the catalog: page_N.json
// files, a prefix search index and a metadata file.
package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"archimap/pkg/models"
)

const (
	DefaultPageSize = 50
	FormatVersion   = "1.0"

	IndexFile    = "search_index.json"
	MetadataFile = "metadata.json"
)

type Options struct {
	PageSize int
	Now      func() time.Time
	Logger   *zap.Logger
}

func (o *Options) setDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Summary describes a finished export.
type Summary struct {
	TotalItems int   `json:"total_items"`
	TotalPages int   `json:"total_pages"`
	Bytes      int64 `json:"bytes"`
}

// PageFile is the file name of page n (1-based).
func PageFile(n int) string {
	return fmt.Sprintf("page_%d.json", n)
}

// ReadItems returns every building in id order, mapped to the export form.
func ReadItems(ctx context.Context, db *sql.DB) ([]models.ExportItem, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			Z_PK, ZAR_TITLE, ZAR_ARCHITECT, ZAR_YEAR, ZAR_ADDRESS,
			ZAR_LATITUDE, ZAR_LONGITUDE, ZAR_CATEGORY, ZAR_BIGCATEGORY,
			ZAR_DESCRIPTION, ZAR_IMAGE_URL, ZAR_TAG, ZAR_PREFECTURE,
			ZAR_CONTRACTOR, ZAR_STRUCTURAL_DESIGNER, ZAR_LANDSCAPE_DESIGNER,
			ZAR_SHINKENCHIKU_URL
		FROM ZCDARCHITECTURE
		ORDER BY Z_PK
	`)
	if err != nil {
		return nil, fmt.Errorf("query buildings: %w", err)
	}
	defer rows.Close()

	var out []models.ExportItem
	for rows.Next() {
		var (
			it                                 models.ExportItem
			title, architect, address          sql.NullString
			year                               sql.NullInt64
			lat, lng                           sql.NullFloat64
			category, bigCategory, description sql.NullString
			image, tags, prefecture            sql.NullString
			contractor, structural, landscape  sql.NullString
			sourceURL                          sql.NullString
		)
		if err := rows.Scan(
			&it.ID, &title, &architect, &year, &address,
			&lat, &lng, &category, &bigCategory,
			&description, &image, &tags, &prefecture,
			&contractor, &structural, &landscape,
			&sourceURL,
		); err != nil {
			return nil, fmt.Errorf("scan building: %w", err)
		}

		it.Title = orPlaceholder(title, models.UnknownTitle)
		it.Architect = orPlaceholder(architect, models.UnknownArchitect)
		it.Address = orPlaceholder(address, models.UnknownAddress)
		if year.Valid && year.Int64 > 0 {
			y := int(year.Int64)
			it.Year = &y
		}
		if lat.Valid {
			it.Latitude = &lat.Float64
		}
		if lng.Valid {
			it.Longitude = &lng.Float64
		}
		it.Category = ptr(category)
		it.BigCategory = ptr(bigCategory)
		it.Description = ptr(description)
		it.ImageURL = ptr(image)
		it.Tags = ptr(tags)
		it.Prefecture = ptr(prefecture)
		it.Contractor = ptr(contractor)
		it.StructuralDesigner = ptr(structural)
		it.LandscapeDesigner = ptr(landscape)
		it.ShinkenchikuURL = ptr(sourceURL)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buildings: %w", err)
	}
	return out, nil
}

func orPlaceholder(s sql.NullString, placeholder string) string {
	if !s.Valid || s.String == "" {
		return placeholder
	}
	return s.String
}

func ptr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// Paginate splits items into pages of size. No items means no pages.
func Paginate(items []models.ExportItem, size int) []models.ExportPage {
	if size <= 0 {
		size = DefaultPageSize
	}
	total := (len(items) + size - 1) / size
	pages := make([]models.ExportPage, 0, total)
	for n := 0; n < total; n++ {
		end := min((n+1)*size, len(items))
		pages = append(pages, models.ExportPage{
			Page:         n + 1,
			TotalPages:   total,
			ItemsPerPage: size,
			TotalItems:   len(items),
			Items:        items[n*size : end],
		})
	}
	return pages
}

// BuildIndex maps lowercased keys to building ids:
//
//   - architects: the full credit, unless it is the placeholder;
//   - years: the year as a string;
//   - titles: the first three characters of every title word of two or more characters;
//   - categories: the full category;
//   - addresses: the first five characters, unless it is the placeholder.
func BuildIndex(items []models.ExportItem) models.SearchIndex {
	idx := models.SearchIndex{
		Architects: map[string][]int64{},
		Years:      map[string][]int64{},
		Categories: map[string][]int64{},
		Titles:     map[string][]int64{},
		Addresses:  map[string][]int64{},
	}
	for _, it := range items {
		if it.Architect != "" && it.Architect != models.UnknownArchitect {
			add(idx.Architects, strings.ToLower(it.Architect), it.ID)
		}
		if it.Year != nil {
			add(idx.Years, strconv.Itoa(*it.Year), it.ID)
		}
		for _, word := range strings.Fields(strings.ToLower(it.Title)) {
			r := []rune(word)
			if len(r) < 2 {
				continue
			}
			add(idx.Titles, string(r[:min(3, len(r))]), it.ID)
		}
		if it.Category != nil && *it.Category != "" {
			add(idx.Categories, strings.ToLower(*it.Category), it.ID)
		}
		if it.Address != "" && it.Address != models.UnknownAddress {
			r := []rune(strings.ToLower(it.Address))
			add(idx.Addresses, string(r[:min(5, len(r))]), it.ID)
		}
	}
	return idx
}

// add appends id unless it is already the last entry, so a title repeating
// a word lists the building once.
func add(m map[string][]int64, key string, id int64) {
	ids := m[key]
	if n := len(ids); n > 0 && ids[n-1] == id {
		return
	}
	m[key] = append(ids, id)
}

// WriteJSON exports db into dir.
func WriteJSON(ctx context.Context, db *sql.DB, dir string, opts Options) (Summary, error) {
	opts.setDefaults()
	log := opts.Logger

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Summary{}, err
	}

	items, err := ReadItems(ctx, db)
	if err != nil {
		return Summary{}, err
	}
	pages := Paginate(items, opts.PageSize)
	log.Info("exporting", zap.Int("items", len(items)), zap.Int("pages", len(pages)), zap.String("dir", dir))

	var sum Summary
	sum.TotalItems = len(items)
	sum.TotalPages = len(pages)

	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		n, err := writeFile(filepath.Join(dir, PageFile(p.Page)), p, false)
		if err != nil {
			return sum, err
		}
		sum.Bytes += n
		log.Debug("page written", zap.Int("page", p.Page), zap.Int("items", len(p.Items)))
	}

	n, err := writeFile(filepath.Join(dir, IndexFile), BuildIndex(items), false)
	if err != nil {
		return sum, err
	}
	sum.Bytes += n

	meta := models.ExportMetadata{
		TotalItems:    len(items),
		TotalPages:    len(pages),
		ItemsPerPage:  opts.PageSize,
		GeneratedAt:   opts.Now().Format(time.RFC3339),
		FormatVersion: FormatVersion,
	}
	if n, err = writeFile(filepath.Join(dir, MetadataFile), meta, true); err != nil {
		return sum, err
	}
	sum.Bytes += n

	log.Info("export finished", zap.Int("items", sum.TotalItems), zap.Int("pages", sum.TotalPages), zap.Int64("bytes", sum.Bytes))
	return sum, nil
}

// writeFile writes v as JSON through a temp file so readers never see a
// partial page.
func writeFile(path string, v any, indent bool) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return 0, err
	}

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	st, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return st.Size(), nil
}
