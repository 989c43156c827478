package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archimap/internal/fixture"
	"archimap/internal/testdb"
	"archimap/pkg/models"
	"archimap/pkg/schema"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	return NewRepo(testdb.Open(t))
}

func ids(items []models.Building) []int64 {
	out := make([]int64, len(items))
	for i, b := range items {
		out[i] = b.ID
	}
	return out
}

func listIDs(t *testing.T, r *Repo, q ListQuery) []int64 {
	t.Helper()
	items, err := r.List(context.Background(), q)
	require.NoError(t, err)
	return ids(items)
}

func TestListDefault(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	total, err := r.Count(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, fixture.BuildingCount, total)

	got := listIDs(t, r, ListQuery{})
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, got)
}

func TestListSearch(t *testing.T) {
	r := newTestRepo(t)

	tests := []struct {
		name   string
		search string
		want   []int64
	}{
		{"architect", "丹下", []int64{1, 2, 7}},
		{"and terms", "丹下 東京", []int64{1, 2}},
		{"ideographic space", "丹下　東京", []int64{1, 2}},
		{"tag", "コンクリート", []int64{3, 4}},
		{"ascii case-insensitive", "tokyo", []int64{10}},
		{"full-width input", "ＴＯＫＹＯ", []int64{10}},
		{"percent is literal", "%", []int64{11}},
		{"underscore is literal", "_", []int64{11}},
		{"injection", "'; DROP TABLE ZCDARCHITECTURE; --", []int64{}},
		{"no match", "存在しない建築", []int64{}},
		{"emoji", "🏯", []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, listIDs(t, r, ListQuery{Search: tt.search}))
		})
	}

	total, err := r.Count(context.Background(), ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, fixture.BuildingCount, total, "table survives injection attempt")
}

func TestListFilters(t *testing.T) {
	r := newTestRepo(t)

	assert.Equal(t, []int64{3, 4}, listIDs(t, r, ListQuery{Prefecture: "大阪府"}))
	assert.Equal(t, []int64{5, 12}, listIDs(t, r, ListQuery{Category: "美術館"}))
	assert.Equal(t, []int64{5, 6, 10, 12}, listIDs(t, r, ListQuery{Category: "文化"}))
	assert.Equal(t, []int64{3, 4}, listIDs(t, r, ListQuery{Architect: "安藤"}))
	assert.Equal(t, []int64{1, 2, 4, 8}, listIDs(t, r, ListQuery{YearFrom: 1960, YearTo: 1980}))
	assert.Equal(t, []int64{5, 6, 11}, listIDs(t, r, ListQuery{YearFrom: 2000}))
	assert.Equal(t, []int64{7, 12}, listIDs(t, r, ListQuery{YearTo: 1960}))
}

func TestListSort(t *testing.T) {
	r := newTestRepo(t)

	got := listIDs(t, r, ListQuery{Sort: SortYearAsc})
	assert.Equal(t, int64(7), got[0])
	assert.Equal(t, int64(9), got[len(got)-1], "missing year sorts last")

	got = listIDs(t, r, ListQuery{Sort: SortYearDesc})
	assert.Equal(t, int64(11), got[0])
	assert.Equal(t, int64(9), got[len(got)-1], "missing year sorts last")

	got = listIDs(t, r, ListQuery{Sort: SortNameAsc})
	assert.Equal(t, []int64{11, 10}, got[:2])

	got = listIDs(t, r, ListQuery{Sort: SortArchitectAsc})
	assert.Equal(t, int64(9), got[len(got)-1], "empty architect sorts last")
}

func TestListPagination(t *testing.T) {
	r := newTestRepo(t)

	assert.Equal(t, []int64{6, 7, 8, 9, 10}, listIDs(t, r, ListQuery{Page: 2, Limit: 5}))
	assert.Equal(t, []int64{11, 12}, listIDs(t, r, ListQuery{Page: 3, Limit: 5}))
	assert.Empty(t, listIDs(t, r, ListQuery{Page: 9, Limit: 5}))
}

func TestGet(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	b, err := r.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "国立代々木競技場", b.Name)
	assert.Equal(t, "丹下健三", b.Architect)
	require.NotNil(t, b.Year)
	assert.Equal(t, 1964, *b.Year)
	assert.Equal(t, []string{"体育館", "オリンピック"}, b.Tags)
	assert.Equal(t, []string{"https://example.com/yoyogi.jpg"}, b.Images)
	assert.True(t, b.HasLocation())

	require.Len(t, b.References, 2)
	assert.Equal(t, "book", b.References[0].Type)
	require.NotNil(t, b.References[0].Year)
	assert.Equal(t, 1997, *b.References[0].Year)
	assert.Equal(t, "website", b.References[1].Type)
	require.Len(t, b.Visits, 1)
	assert.Equal(t, "note", b.Visits[0].Source)
	require.Len(t, b.SocialMedia, 1)
	assert.Equal(t, "instagram", b.SocialMedia[0].Platform)

	b, err = r.Get(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, b.Year)
	assert.False(t, b.HasLocation())
	assert.Empty(t, b.References)

	b, err = r.Get(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestGetWithoutSideTables(t *testing.T) {
	r := newTestRepo(t).WithTables([]string{schema.TableArchitecture, schema.TableArchitect})

	b, err := r.Get(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Empty(t, b.References)
	assert.Empty(t, b.Visits)
	assert.Empty(t, b.SocialMedia)
}

func TestFacets(t *testing.T) {
	r := newTestRepo(t)

	f, err := r.Facets(context.Background(), ListQuery{Prefecture: "東京都"})
	require.NoError(t, err)

	require.NotEmpty(t, f.Prefectures)
	assert.Equal(t, FacetCount{Value: "東京都", Count: 6}, f.Prefectures[0])
	assert.Contains(t, f.Prefectures, FacetCount{Value: "大阪府", Count: 2}, "own filter is ignored")

	total := 0
	for _, c := range f.Categories {
		total += c.Count
	}
	assert.Equal(t, 6, total, "categories are limited to the prefecture")

	assert.Equal(t, []FacetCount{
		{Value: "1950", Count: 1},
		{Value: "1960", Count: 2},
		{Value: "1970", Count: 1},
		{Value: "1990", Count: 1},
		{Value: "2020", Count: 1},
	}, f.Decades)
}

func TestSuggest(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	got, err := r.Suggest(ctx, "丹下", 10)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, Suggestion{Text: "丹下健三", Kind: "architect"}, got[0])

	got, err = r.Suggest(ctx, "国立", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "国立西洋美術館", got[0].Text)
	assert.Equal(t, "国立代々木競技場", got[1].Text)

	got, err = r.Suggest(ctx, "美術館", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = r.Suggest(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarkers(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	all, err := r.Markers(ctx, ListQuery{}, nil)
	require.NoError(t, err)
	assert.Len(t, all, fixture.BuildingCount-1, "building without coordinates is excluded")

	bbox, err := ParseBBox("139.5,35.5,140,35.8")
	require.NoError(t, err)
	tokyo, err := r.Markers(ctx, ListQuery{}, bbox)
	require.NoError(t, err)
	assert.Len(t, tokyo, 6)

	filtered, err := r.Markers(ctx, ListQuery{Search: "丹下"}, bbox)
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}

func TestParseBBox(t *testing.T) {
	b, err := ParseBBox("139.5, 35.5, 140, 35.8")
	require.NoError(t, err)
	assert.Equal(t, BBox{MinLng: 139.5, MinLat: 35.5, MaxLng: 140, MaxLat: 35.8}, *b)

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "140,35,139,36", "0,95,1,96", "NaN,0,1,1"} {
		_, err := ParseBBox(bad)
		assert.ErrorIs(t, err, ErrInvalidBBox, bad)
	}
}

func TestCluster(t *testing.T) {
	r := newTestRepo(t)
	markers, err := r.Markers(context.Background(), ListQuery{}, nil)
	require.NoError(t, err)

	coarse := Cluster(markers, 0)
	require.Len(t, coarse, 1)
	assert.Equal(t, len(markers), coarse[0].Count)
	assert.Equal(t, int64(1), coarse[0].SampleID)

	fine := Cluster(markers, 12)
	assert.Greater(t, len(fine), 5)
	sum := 0
	for i, c := range fine {
		sum += c.Count
		if i > 0 {
			assert.GreaterOrEqual(t, fine[i-1].Count, c.Count)
		}
	}
	assert.Equal(t, len(markers), sum)
}

func TestArchitects(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	total, err := r.CountArchitects(ctx, ArchitectQuery{})
	require.NoError(t, err)
	assert.Equal(t, fixture.ArchitectCount, total)

	list, err := r.ListArchitects(ctx, ArchitectQuery{})
	require.NoError(t, err)
	require.Len(t, list, fixture.ArchitectCount)
	assert.Equal(t, "SANAA", list[0].Name)

	total, err = r.CountArchitects(ctx, ArchitectQuery{Nationality: "日本"})
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	list, err = r.ListArchitects(ctx, ArchitectQuery{Search: "tange"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "丹下健三", list[0].Name)

	list, err = r.ListArchitects(ctx, ArchitectQuery{Sort: "birth_asc"})
	require.NoError(t, err)
	assert.Equal(t, "ル・コルビュジエ", list[0].Name)
	assert.Equal(t, "SANAA", list[len(list)-1].Name, "unknown birth year sorts last")

	a, err := r.GetArchitect(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NotNil(t, a.DeathYear)
	assert.Equal(t, 2005, *a.DeathYear)
	assert.Equal(t, []int64{7, 1, 2}, ids(a.Works))

	a, err = r.GetArchitect(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestStats(t *testing.T) {
	r := newTestRepo(t)

	st, err := r.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixture.BuildingCount, st.Buildings)
	assert.Equal(t, fixture.ArchitectCount, st.Architects)
	assert.Equal(t, 11, st.WithLocation)
	assert.Equal(t, 11, st.WithYear)
	require.NotEmpty(t, st.TopArchitects)
	assert.Equal(t, ArchitectCount{Name: "丹下健三", Count: 3}, st.TopArchitects[0])
	assert.Equal(t, "東京都", st.Prefectures[0].Value)
}


func TestDecadeLabel(t *testing.T) {
	assert.Equal(t, "1960s", DecadeLabel("1960"))
	assert.Equal(t, "n/a", DecadeLabel("n/a"))
}
