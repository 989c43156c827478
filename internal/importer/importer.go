// Package importer collects building and architect records from CSV and JSON
// sources, merges duplicates and writes them into the catalog file.
package importer

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"archimap/pkg/models"
)

// Source is implemented by each input format. A source maps its records into
// models.Building; IDs may be zero when the source has none.
type Source interface {
	Name() string
	FetchAll(ctx context.Context) ([]models.Building, error)
}

// Aggregator fetches every source and merges records describing the same
// building.
type Aggregator struct {
	Sources []Source
	Logger  *zap.Logger
}

func NewAggregator(logger *zap.Logger, sources ...Source) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{Sources: sources, Logger: logger}
}

// FetchAndMerge returns the merged buildings ordered by id. A failing source
// is logged and skipped. Buildings without an id get fresh ids after the
// highest one seen.
func (a *Aggregator) FetchAndMerge(ctx context.Context) ([]models.Building, error) {
	byKey := make(map[string]models.Building)
	var order []string

	for _, src := range a.Sources {
		a.Logger.Info("fetching", zap.String("source", src.Name()))
		items, err := src.FetchAll(ctx)
		if err != nil {
			a.Logger.Warn("source failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, b := range items {
			key := canonicalKey(b)
			if key == "|" {
				continue
			}
			if existing, ok := byKey[key]; ok {
				byKey[key] = mergeBuilding(existing, b)
			} else {
				byKey[key] = b
				order = append(order, key)
			}
		}
		a.Logger.Info("fetched", zap.String("source", src.Name()), zap.Int("records", len(items)))
	}

	out := make([]models.Building, 0, len(byKey))
	var maxID int64
	for _, k := range order {
		b := byKey[k]
		if b.ID > maxID {
			maxID = b.ID
		}
		out = append(out, b)
	}
	seen := make(map[int64]bool, len(out))
	for i := range out {
		if out[i].ID == 0 || seen[out[i].ID] {
			maxID++
			out[i].ID = maxID
		}
		seen[out[i].ID] = true
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// canonicalKey groups records that describe the same building: the
// normalized title and architect.
func canonicalKey(b models.Building) string {
	return normalizeKey(b.Name) + "|" + normalizeKey(b.Architect)
}

// normalizeKey lowercases s, keeps letters and digits and collapses
// everything else into single spaces.
func normalizeKey(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))

	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			prevSpace = false
			continue
		}
		if !prevSpace {
			b.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// mergeBuilding resolves two records of the same building:
//
// - keep base's id unless it has none;
// - take the first non-empty value of every text field;
// - union the tags and images;
// - keep the longer description;
// - prefer non-zero coordinates and a known year.
func mergeBuilding(base, in models.Building) models.Building {
	if base.ID == 0 {
		base.ID = in.ID
	}
	firstNonEmpty(&base.Prefecture, in.Prefecture)
	firstNonEmpty(&base.City, in.City)
	firstNonEmpty(&base.Address, in.Address)
	firstNonEmpty(&base.Category, in.Category)
	firstNonEmpty(&base.BigCategory, in.BigCategory)
	firstNonEmpty(&base.Contractor, in.Contractor)
	firstNonEmpty(&base.Structural, in.Structural)
	firstNonEmpty(&base.Landscape, in.Landscape)
	firstNonEmpty(&base.SourceURL, in.SourceURL)

	if len([]rune(in.Description)) > len([]rune(base.Description)) {
		base.Description = in.Description
	}
	if !base.HasLocation() && in.HasLocation() {
		base.Latitude, base.Longitude = in.Latitude, in.Longitude
	}
	if base.Year == nil && in.Year != nil {
		base.Year = in.Year
	}

	base.Tags = mergeStringSlices(base.Tags, in.Tags)
	base.Images = mergeStringSlices(base.Images, in.Images)
	return base
}

func firstNonEmpty(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func appendIfMissing(slice []string, v string) []string {
	for _, x := range slice {
		if x == v {
			return slice
		}
	}
	return append(slice, v)
}

func mergeStringSlices(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		out = appendIfMissing(out, v)
	}
	for _, v := range b {
		out = appendIfMissing(out, v)
	}
	return out
}

// splitArchitects splits a credit such as "丹下健三、坪井善勝" into names.
func splitArchitects(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '、' || r == ',' || r == '/' || r == '／' || r == '+' || r == '＋'
	})
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
