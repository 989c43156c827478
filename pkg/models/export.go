package models

// Placeholders written by the static export for empty fields.
const (
	UnknownTitle     = "不明な建築物"
	UnknownArchitect = "不明な建築家"
	UnknownAddress   = "住所不明"
)

// ExportItem is one building in a page_N.json file of the static export.
type ExportItem struct {
	ID                 int64    `json:"id"`
	Title              string   `json:"title"`
	Architect          string   `json:"architect"`
	Year               *int     `json:"year"`
	Address            string   `json:"address"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
	Category           *string  `json:"category"`
	BigCategory        *string  `json:"big_category"`
	Description        *string  `json:"description"`
	ImageURL           *string  `json:"image_url"`
	Tags               *string  `json:"tags"`
	Prefecture         *string  `json:"prefecture"`
	Contractor         *string  `json:"contractor"`
	StructuralDesigner *string  `json:"structural_designer"`
	LandscapeDesigner  *string  `json:"landscape_designer"`
	ShinkenchikuURL    *string  `json:"shinkenchiku_url"`
}

type ExportPage struct {
	Page         int          `json:"page"`
	TotalPages   int          `json:"total_pages"`
	ItemsPerPage int          `json:"items_per_page"`
	TotalItems   int          `json:"total_items"`
	Items        []ExportItem `json:"items"`
}

type ExportMetadata struct {
	TotalItems    int    `json:"total_items"`
	TotalPages    int    `json:"total_pages"`
	ItemsPerPage  int    `json:"items_per_page"`
	GeneratedAt   string `json:"generated_at"`
	FormatVersion string `json:"format_version"`
}

// SearchIndex maps lowercased keys to building ids.
type SearchIndex struct {
	Architects map[string][]int64 `json:"architects"`
	Years      map[string][]int64 `json:"years"`
	Categories map[string][]int64 `json:"categories"`
	Titles     map[string][]int64 `json:"titles"`
	Addresses  map[string][]int64 `json:"addresses"`
}
