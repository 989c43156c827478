package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"archimap/pkg/models"
)

// JSONSource reads the page_N.json files of a static export, from a local
// directory or from a base URL.
type JSONSource struct {
	Location string
	Client   *http.Client
	// MaxPages bounds remote fetches.
	MaxPages int
}

func NewJSONSource(location string) *JSONSource {
	return &JSONSource{
		Location: location,
		Client:   &http.Client{Timeout: 15 * time.Second},
		MaxPages: 10000,
	}
}

func (s *JSONSource) Name() string { return "json:" + s.Location }

func (s *JSONSource) remote() bool {
	return strings.HasPrefix(s.Location, "http://") || strings.HasPrefix(s.Location, "https://")
}

func (s *JSONSource) FetchAll(ctx context.Context) ([]models.Building, error) {
	if s.remote() {
		return s.fetchRemote(ctx)
	}
	return s.readDir(ctx)
}

func (s *JSONSource) readDir(ctx context.Context) ([]models.Building, error) {
	paths, err := filepath.Glob(filepath.Join(s.Location, "page_*.json"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no page_*.json in %s", s.Location)
	}
	sort.Strings(paths)

	var out []models.Building
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		page, err := decodePage(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = appendItems(out, page.Items)
	}
	return out, nil
}

func (s *JSONSource) fetchRemote(ctx context.Context) ([]models.Building, error) {
	base := strings.TrimRight(s.Location, "/")

	var out []models.Building
	for n := 1; n <= s.MaxPages; n++ {
		page, err := s.fetchPage(ctx, fmt.Sprintf("%s/page_%d.json", base, n))
		if err != nil {
			return nil, err
		}
		out = appendItems(out, page.Items)
		if n >= page.TotalPages {
			break
		}
	}
	return out, nil
}

func (s *JSONSource) fetchPage(ctx context.Context, url string) (*models.ExportPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("get %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	page, err := decodePage(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	return page, nil
}

func decodePage(r io.Reader) (*models.ExportPage, error) {
	var page models.ExportPage
	if err := json.NewDecoder(r).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &page, nil
}

func appendItems(out []models.Building, items []models.ExportItem) []models.Building {
	for _, it := range items {
		out = append(out, FromExportItem(it))
	}
	return out
}

// FromExportItem reverses the export mapping, dropping its placeholders.
func FromExportItem(it models.ExportItem) models.Building {
	b := models.Building{
		ID:          it.ID,
		Name:        unplaceholder(it.Title, models.UnknownTitle),
		Architect:   unplaceholder(it.Architect, models.UnknownArchitect),
		Address:     unplaceholder(it.Address, models.UnknownAddress),
		Prefecture:  deref(it.Prefecture),
		Category:    deref(it.Category),
		BigCategory: deref(it.BigCategory),
		Description: deref(it.Description),
		Tags:        models.SplitTags(deref(it.Tags)),
		Contractor:  deref(it.Contractor),
		Structural:  deref(it.StructuralDesigner),
		Landscape:   deref(it.LandscapeDesigner),
		SourceURL:   deref(it.ShinkenchikuURL),
	}
	if it.Year != nil && *it.Year > 0 {
		y := *it.Year
		b.Year = &y
	}
	if it.Latitude != nil {
		b.Latitude = *it.Latitude
	}
	if it.Longitude != nil {
		b.Longitude = *it.Longitude
	}
	if u := deref(it.ImageURL); u != "" {
		b.Images = []string{u}
	}
	return b
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
	return strings.TrimSpace(*p)
}
