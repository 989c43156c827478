package catalog

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"archimap/internal/textnorm"
)

const (
	DefaultLimit          = 20
	MaxLimit              = 100
	DefaultArchitectLimit = 12

	// MaxPage keeps (page-1)*limit well inside a 32-bit OFFSET.
	MaxPage = math.MaxInt32 / MaxLimit
)

type Sort string

const (
	SortIDAsc         Sort = "id_asc"
	SortNameAsc       Sort = "name_asc"
	SortNameDesc      Sort = "name_desc"
	SortYearAsc       Sort = "year_asc"
	SortYearDesc      Sort = "year_desc"
	SortArchitectAsc  Sort = "architect_asc"
	SortPrefectureAsc Sort = "prefecture_asc"
)

var sortOrder = map[Sort]string{
	SortIDAsc:         "Z_PK ASC",
	SortNameAsc:       "ZAR_TITLE ASC, Z_PK ASC",
	SortNameDesc:      "ZAR_TITLE DESC, Z_PK ASC",
	SortYearAsc:       "(ZAR_YEAR IS NULL OR ZAR_YEAR = 0) ASC, ZAR_YEAR ASC, Z_PK ASC",
	SortYearDesc:      "(ZAR_YEAR IS NULL OR ZAR_YEAR = 0) ASC, ZAR_YEAR DESC, Z_PK ASC",
	SortArchitectAsc:  "(IFNULL(ZAR_ARCHITECT, '') = '') ASC, ZAR_ARCHITECT ASC, Z_PK ASC",
	SortPrefectureAsc: "(IFNULL(ZAR_PREFECTURE, '') = '') ASC, ZAR_PREFECTURE ASC, Z_PK ASC",
}

// Sorts lists the accepted sort keys.
func Sorts() []Sort {
	return []Sort{SortIDAsc, SortNameAsc, SortNameDesc, SortYearAsc, SortYearDesc, SortArchitectAsc, SortPrefectureAsc}
}

func (s Sort) Valid() bool {
	_, ok := sortOrder[s]
	return ok
}

// ListQuery is the state of the building list: filters, sort and page. It
// is carried in the URL so a list view can be shared or restored.
type ListQuery struct {
	Search     string
	Prefecture string
	Category   string
	Architect  string
	YearFrom   int
	YearTo     int
	Sort       Sort
	Page       int
	Limit      int
}

// ParseListQuery reads a ListQuery from URL parameters. Bad values fall back
// to defaults rather than failing.
func ParseListQuery(v url.Values) ListQuery {
	q := ListQuery{
		Search:     v.Get("search"),
		Prefecture: v.Get("prefecture"),
		Category:   v.Get("category"),
		Architect:  v.Get("architect"),
		YearFrom:   parseInt(v.Get("year_from"), 0),
		YearTo:     parseInt(v.Get("year_to"), 0),
		Sort:       Sort(v.Get("sort")),
		Page:       parseInt(v.Get("page"), 1),
		Limit:      parseInt(v.Get("limit"), DefaultLimit),
	}
	return q.Normalize()
}

// Normalize applies defaults and bounds. It is idempotent.
func (q ListQuery) Normalize() ListQuery {
	q.Search = textnorm.Normalize(q.Search, textnorm.DefaultMaxRunes)
	q.Prefecture = textnorm.Normalize(q.Prefecture, textnorm.DefaultMaxRunes)
	q.Category = textnorm.Normalize(q.Category, textnorm.DefaultMaxRunes)
	q.Architect = textnorm.Normalize(q.Architect, textnorm.DefaultMaxRunes)
	if !q.Sort.Valid() {
		q.Sort = SortIDAsc
	}
	q.Page = clampPage(q.Page)
	q.Limit = clampLimit(q.Limit, DefaultLimit)
	if q.YearFrom < 0 {
		q.YearFrom = 0
	}
	if q.YearTo < 0 {
		q.YearTo = 0
	}
	if q.YearFrom > 0 && q.YearTo > 0 && q.YearFrom > q.YearTo {
		q.YearFrom, q.YearTo = q.YearTo, q.YearFrom
	}
	return q
}

// Values encodes the query, leaving out parameters at their default.
func (q ListQuery) Values() url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Prefecture != "" {
		v.Set("prefecture", q.Prefecture)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.Architect != "" {
		v.Set("architect", q.Architect)
	}
	if q.YearFrom > 0 {
		v.Set("year_from", strconv.Itoa(q.YearFrom))
	}
	if q.YearTo > 0 {
		v.Set("year_to", strconv.Itoa(q.YearTo))
	}
	if q.Sort != "" && q.Sort != SortIDAsc {
		v.Set("sort", string(q.Sort))
	}
	if q.Page > 1 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit != 0 && q.Limit != DefaultLimit {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// Key is the canonical encoding used for cache keys.
func (q ListQuery) Key() string {
	return q.Normalize().Values().Encode()
}

func (q ListQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// WithPage returns a copy of q on another page.
func (q ListQuery) WithPage(page int) ListQuery {
	q.Page = page
	return q
}

// TotalPages is the number of pages of size limit needed for total rows.
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// ArchitectQuery is the state of the architect list.
type ArchitectQuery struct {
	Search        string
	Nationality   string
	Category      string
	School        string
	BirthYearFrom int
	BirthYearTo   int
	DeathYear     int
	Sort          string // name_asc, name_desc, birth_asc, birth_desc
	Page          int
	Limit         int
}

var architectSortOrder = map[string]string{
	"name_asc":   "ZAR_NAME ASC, ZAR_ID ASC",
	"name_desc":  "ZAR_NAME DESC, ZAR_ID ASC",
	"birth_asc":  "(ZAR_BIRTHYEAR IS NULL OR ZAR_BIRTHYEAR = 0) ASC, ZAR_BIRTHYEAR ASC, ZAR_ID ASC",
	"birth_desc": "(ZAR_BIRTHYEAR IS NULL OR ZAR_BIRTHYEAR = 0) ASC, ZAR_BIRTHYEAR DESC, ZAR_ID ASC",
}

func ParseArchitectQuery(v url.Values) ArchitectQuery {
	q := ArchitectQuery{
		Search:        v.Get("search"),
		Nationality:   v.Get("nationality"),
		Category:      v.Get("category"),
		School:        v.Get("school"),
		BirthYearFrom: parseInt(v.Get("birth_year_from"), 0),
		BirthYearTo:   parseInt(v.Get("birth_year_to"), 0),
		DeathYear:     parseInt(v.Get("death_year"), 0),
		Sort:          v.Get("sort"),
		Page:          parseInt(v.Get("page"), 1),
		Limit:         parseInt(v.Get("limit"), DefaultArchitectLimit),
	}
	return q.Normalize()
}

func (q ArchitectQuery) Normalize() ArchitectQuery {
	q.Search = textnorm.Normalize(q.Search, textnorm.DefaultMaxRunes)
	q.Nationality = strings.TrimSpace(q.Nationality)
	q.Category = strings.TrimSpace(q.Category)
	q.School = strings.TrimSpace(q.School)
	if _, ok := architectSortOrder[q.Sort]; !ok {
		q.Sort = "name_asc"
	}
	q.Page = clampPage(q.Page)
	q.Limit = clampLimit(q.Limit, DefaultArchitectLimit)
	return q
}

func (q ArchitectQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

func clampPage(page int) int {
	if page < 1 {
		return 1
	}
	if page > MaxPage {
		return MaxPage
	}
	return page
}

func clampLimit(limit, def int) int {
	if limit == 0 {
		return def
	}
	if limit < 1 {
		return 1
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func parseInt(s string, def int) int {
	if strings.TrimSpace(s) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching s anywhere, with LIKE
// wildcards in s taken literally. Use with ESCAPE '\'.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func prefixPattern(s string) string {
	return likeEscaper.Replace(s) + "%"
}
