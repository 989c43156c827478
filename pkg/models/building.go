package models

import "strings"

// Building is one entry of ZCDARCHITECTURE together with the collections
// stored in the optional side tables.
type Building struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Architect   string        `json:"architect"`
	Year        *int          `json:"year,omitempty"`
	Prefecture  string        `json:"prefecture"`
	City        string        `json:"city"`
	Address     string        `json:"address,omitempty"`
	Latitude    float64       `json:"latitude"`
	Longitude   float64       `json:"longitude"`
	Category    string        `json:"category,omitempty"`
	BigCategory string        `json:"big_category,omitempty"`
	Description string        `json:"description,omitempty"`
	Images      []string      `json:"images,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Contractor  string        `json:"contractor,omitempty"`
	Structural  string        `json:"structural_designer,omitempty"`
	Landscape   string        `json:"landscape_designer,omitempty"`
	SourceURL   string        `json:"shinkenchiku_url,omitempty"`
	References  []Reference   `json:"references,omitempty"`
	Visits      []Visit       `json:"visits,omitempty"`
	SocialMedia []SocialMedia `json:"socialMedia,omitempty"`
}

// HasLocation reports whether the building can be placed on a map.
func (b Building) HasLocation() bool {
	return b.Latitude != 0 || b.Longitude != 0
}

type Reference struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"` // book, article, video, website
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	URL         string `json:"url,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	Year        *int   `json:"year,omitempty"`
	Description string `json:"description,omitempty"`
}

type Visit struct {
	ID      int64  `json:"id"`
	Source  string `json:"source"` // note, blog, other
	Title   string `json:"title"`
	Author  string `json:"author"`
	URL     string `json:"url"`
	Date    string `json:"date,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

type SocialMedia struct {
	ID       int64  `json:"id"`
	Platform string `json:"platform"` // twitter, instagram, facebook, other
	URL      string `json:"url"`
	Author   string `json:"author,omitempty"`
	Date     string `json:"date,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Marker is the reduced form of a Building used by the map view.
type Marker struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Cluster groups markers that fall into the same grid cell.
type Cluster struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Count     int     `json:"count"`
	SampleID  int64   `json:"sample_id"`
}

// SplitTags splits a stored tag list on ASCII and Japanese commas.
func SplitTags(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '、' })
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinTags is the stored form of tags.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}
