package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"archimap/pkg/models"
)

// header aliases: the friendly export names and the raw column names.
var buildingColumns = map[string][]string{
	"id":                  {"id", "z_pk"},
	"title":               {"title", "name", "zar_title"},
	"architect":           {"architect", "zar_architect"},
	"year":                {"year", "zar_year"},
	"prefecture":          {"prefecture", "zar_prefecture"},
	"city":                {"city", "zar_city"},
	"address":             {"address", "zar_address"},
	"latitude":            {"latitude", "lat", "zar_latitude"},
	"longitude":           {"longitude", "lng", "lon", "zar_longitude"},
	"category":            {"category", "zar_category"},
	"big_category":        {"big_category", "zar_bigcategory"},
	"description":         {"description", "zar_description"},
	"image_url":           {"image_url", "zar_image_url"},
	"tags":                {"tags", "tag", "zar_tag"},
	"contractor":          {"contractor", "zar_contractor"},
	"structural_designer": {"structural_designer", "zar_structural_designer"},
	"landscape_designer":  {"landscape_designer", "zar_landscape_designer"},
	"shinkenchiku_url":    {"shinkenchiku_url", "zar_shinkenchiku_url"},
}

var architectColumns = map[string][]string{
	"id":          {"id", "zar_id"},
	"name":        {"name", "zar_name"},
	"kana":        {"kana", "zar_kana"},
	"name_en":     {"name_en", "nameeng", "zar_nameeng"},
	"birth_year":  {"birth_year", "zar_birthyear"},
	"death_year":  {"death_year", "zar_deathyear"},
	"birthplace":  {"birthplace", "zar_birthplace"},
	"nationality": {"nationality", "zar_nationality"},
	"category":    {"category", "zar_category"},
	"school":      {"school", "zar_school"},
	"office":      {"office", "zar_office"},
	"bio":         {"bio", "zar_bio"},
	"main_works":  {"main_works", "zar_mainworks"},
	"awards":      {"awards", "zar_awards"},
	"image":       {"image", "zar_image"},
}

// CSVSource reads buildings from a CSV file with a header row.
type CSVSource struct {
	Path string
}

func NewCSVSource(path string) *CSVSource { return &CSVSource{Path: path} }

func (s *CSVSource) Name() string { return "csv:" + s.Path }

func (s *CSVSource) FetchAll(ctx context.Context) ([]models.Building, error) {
	var out []models.Building
	err := readCSV(ctx, s.Path, buildingColumns, func(line int, row rowValues) error {
		b, err := buildingFromRow(row)
		if err != nil {
			return fmt.Errorf("%s line %d: %w", s.Path, line, err)
		}
		if b.Name == "" {
			return nil
		}
		out = append(out, b)
		return nil
	})
	return out, err
}

func buildingFromRow(row rowValues) (models.Building, error) {
	var (
		b   models.Building
		err error
	)
	if b.ID, err = parseInt64(row.get("id")); err != nil {
		return b, fmt.Errorf("id: %w", err)
	}
	b.Name = row.get("title")
	b.Architect = row.get("architect")
	if b.Year, err = parseYear(row.get("year")); err != nil {
		return b, fmt.Errorf("year: %w", err)
	}
	b.Prefecture = row.get("prefecture")
	b.City = row.get("city")
	b.Address = row.get("address")
	if b.Latitude, err = parseFloat(row.get("latitude")); err != nil {
		return b, fmt.Errorf("latitude: %w", err)
	}
	if b.Longitude, err = parseFloat(row.get("longitude")); err != nil {
		return b, fmt.Errorf("longitude: %w", err)
	}
	b.Category = row.get("category")
	b.BigCategory = row.get("big_category")
	b.Description = row.get("description")
	if u := row.get("image_url"); u != "" {
		b.Images = []string{u}
	}
	b.Tags = models.SplitTags(row.get("tags"))
	b.Contractor = row.get("contractor")
	b.Structural = row.get("structural_designer")
	b.Landscape = row.get("landscape_designer")
	b.SourceURL = row.get("shinkenchiku_url")
	return b, nil
}

// ReadArchitectsCSV reads architects from a CSV file with a header row.
func ReadArchitectsCSV(ctx context.Context, path string) ([]models.Architect, error) {
	var out []models.Architect
	err := readCSV(ctx, path, architectColumns, func(line int, row rowValues) error {
		var (
			a   models.Architect
			err error
		)
		if a.ID, err = parseInt64(row.get("id")); err != nil {
			return fmt.Errorf("%s line %d: id: %w", path, line, err)
		}
		if a.Name = row.get("name"); a.Name == "" {
			return nil
		}
		a.Kana = row.get("kana")
		a.NameEn = row.get("name_en")
		if a.BirthYear, err = parseYear(row.get("birth_year")); err != nil {
			return fmt.Errorf("%s line %d: birth_year: %w", path, line, err)
		}
		if a.DeathYear, err = parseYear(row.get("death_year")); err != nil {
			return fmt.Errorf("%s line %d: death_year: %w", path, line, err)
		}
		a.Birthplace = row.get("birthplace")
		a.Nationality = row.get("nationality")
		a.Category = row.get("category")
		a.School = row.get("school")
		a.Office = row.get("office")
		a.Bio = row.get("bio")
		a.MainWorks = row.get("main_works")
		a.Awards = row.get("awards")
		a.Image = row.get("image")
		out = append(out, a)
		return nil
	})
	return out, err
}

type rowValues struct {
	index map[string]int
	row   []string
}

func (r rowValues) get(field string) string {
	i, ok := r.index[field]
	if !ok || i >= len(r.row) {
		return ""
	}
	return strings.TrimSpace(r.row[i])
}

func readCSV(ctx context.Context, path string, columns map[string][]string, fn func(line int, row rowValues) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: empty csv", path)
		}
		return fmt.Errorf("%s: read header: %w", path, err)
	}
	index := mapHeader(header, columns)

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s line %d: %w", path, line, err)
		}
		if len(row) == 0 {
			continue
		}
		if err := fn(line, rowValues{index: index, row: row}); err != nil {
			return err
		}
	}
}

func mapHeader(header []string, columns map[string][]string) map[string]int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		pos[h] = i
	}
	index := make(map[string]int, len(columns))
	for field, aliases := range columns {
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				index[field] = i
				break
			}
		}
	}
	return index
}

func parseInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseYear treats empty and non-positive years as unknown.
func parseYear(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	return &n, nil
}
