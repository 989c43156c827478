package catalog

import (
	"math"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListQueryDefaults(t *testing.T) {
	q := ParseListQuery(url.Values{})
	assert.Equal(t, ListQuery{Sort: SortIDAsc, Page: 1, Limit: DefaultLimit}, q)
	assert.Empty(t, q.Values())
}

func TestParseListQueryBounds(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, q ListQuery)
	}{
		{"unknown sort", "sort=random", func(t *testing.T, q ListQuery) { assert.Equal(t, SortIDAsc, q.Sort) }},
		{"page zero", "page=0", func(t *testing.T, q ListQuery) { assert.Equal(t, 1, q.Page) }},
		{"page garbage", "page=abc", func(t *testing.T, q ListQuery) { assert.Equal(t, 1, q.Page) }},
		{"page huge", "page=9223372036854775807&limit=100", func(t *testing.T, q ListQuery) {
			assert.Equal(t, MaxPage, q.Page)
			assert.Positive(t, q.Offset())
		}},
		{"limit too big", "limit=5000", func(t *testing.T, q ListQuery) { assert.Equal(t, MaxLimit, q.Limit) }},
		{"limit negative", "limit=-3", func(t *testing.T, q ListQuery) { assert.Equal(t, 1, q.Limit) }},
		{"years swapped", "year_from=2000&year_to=1950", func(t *testing.T, q ListQuery) {
			assert.Equal(t, 1950, q.YearFrom)
			assert.Equal(t, 2000, q.YearTo)
		}},
		{"search normalized", "search=%E3%80%80%EF%BC%B4%EF%BD%8F%EF%BD%8B%EF%BD%99%EF%BD%8F%E3%80%80", func(t *testing.T, q ListQuery) {
			assert.Equal(t, "Tokyo", q.Search)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := url.ParseQuery(tt.raw)
			assert.NoError(t, err)
			tt.check(t, ParseListQuery(v))
		})
	}
}

func TestListQueryRoundTrip(t *testing.T) {
	queries := []ListQuery{
		{},
		{Search: "丹下 東京", Sort: SortYearDesc, Page: 3},
		{Prefecture: "大阪府", Category: "宗教施設", Limit: 50},
		{Architect: "安藤忠雄", YearFrom: 1970, YearTo: 1990, Sort: SortNameAsc},
		{Search: "100%_test", Limit: 1, Page: 12},
		{Search: "a&b=c?d#e", Sort: SortPrefectureAsc},
	}
	for _, q := range queries {
		n := q.Normalize()
		assert.Equal(t, n, ParseListQuery(n.Values()), n.Values().Encode())
	}
}

func TestListQueryValuesOmitDefaults(t *testing.T) {
	q := ListQuery{Search: "光", Sort: SortIDAsc, Page: 1, Limit: DefaultLimit}
	assert.Equal(t, "search=%E5%85%89", q.Values().Encode())

	q = ListQuery{Sort: SortYearAsc, Page: 2, Limit: 10}
	assert.Equal(t, "limit=10&page=2&sort=year_asc", q.Values().Encode())
}

func TestListQueryKeyIsCanonical(t *testing.T) {
	a := ParseListQuery(url.Values{"search": {"丹下"}, "page": {"1"}, "sort": {"id_asc"}})
	b := ListQuery{Search: " 丹下 "}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), a.WithPage(2).Key())
}

func TestOffsetAndTotalPages(t *testing.T) {
	q := ListQuery{Page: 3, Limit: 20}
	assert.Equal(t, 40, q.Offset())
	assert.Equal(t, 0, TotalPages(0, 20))
	assert.Equal(t, 1, TotalPages(20, 20))
	assert.Equal(t, 2, TotalPages(21, 20))
}

func TestOffsetNeverWraps(t *testing.T) {
	for _, page := range []int{MaxPage, MaxPage + 1, math.MaxInt64 / 20, math.MaxInt} {
		q := ListQuery{Page: page, Limit: MaxLimit}.Normalize()
		assert.Equal(t, MaxPage, q.Page)
		assert.Equal(t, (MaxPage-1)*MaxLimit, q.Offset())
		assert.LessOrEqual(t, q.Offset(), math.MaxInt32)

		a := ArchitectQuery{Page: page, Limit: MaxLimit}.Normalize()
		assert.Equal(t, MaxPage, a.Page)
		assert.Positive(t, a.Offset())
	}

	q := ParseListQuery(url.Values{"page": {"99999999999"}})
	assert.Equal(t, q, ParseListQuery(q.Values()))
}

func TestArchitectQueryDefaults(t *testing.T) {
	q := ParseArchitectQuery(url.Values{"sort": {"nope"}})
	assert.Equal(t, DefaultArchitectLimit, q.Limit)
	assert.Equal(t, "name_asc", q.Sort)
	assert.Equal(t, 1, q.Page)
}

func TestLikePatterns(t *testing.T) {
	assert.Equal(t, `%100\%\_test%`, containsPattern("100%_test"))
	assert.Equal(t, `a\\b%`, prefixPattern(`a\b`))
}
