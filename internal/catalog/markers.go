package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"archimap/pkg/models"
)

// hasLocation excludes rows that cannot be placed on the map.
const hasLocation = `(ZAR_LATITUDE IS NOT NULL AND ZAR_LONGITUDE IS NOT NULL AND NOT (ZAR_LATITUDE = 0 AND ZAR_LONGITUDE = 0))`

// MaxMarkers bounds one map query.
const MaxMarkers = 20000

// ClusterThreshold is the marker count above which the map is served as
// grid clusters.
const ClusterThreshold = 500

var ErrInvalidBBox = errors.New("catalog: bbox must be minLng,minLat,maxLng,maxLat")

type BBox struct {
	MinLng, MinLat, MaxLng, MaxLat float64
}

// ParseBBox parses "minLng,minLat,maxLng,maxLat".
func ParseBBox(s string) (*BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, ErrInvalidBBox
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, ErrInvalidBBox
		}
		v[i] = f
	}
	b := &BBox{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}
	if b.MinLat > b.MaxLat || b.MinLat < -90 || b.MaxLat > 90 || b.MinLng < -180 || b.MaxLng > 180 || b.MinLng > b.MaxLng {
		return nil, ErrInvalidBBox
	}
	return b, nil
}

// Markers returns the located buildings matching q, inside bbox when given.
// Paging in q is ignored.
func (r *Repo) Markers(ctx context.Context, q ListQuery, bbox *BBox) ([]models.Marker, error) {
	f := buildingFilter(q.Normalize(), facetNone)
	f.add(hasLocation)
	if bbox != nil {
		f.add("ZAR_LATITUDE BETWEEN ? AND ?", bbox.MinLat, bbox.MaxLat)
		f.add("ZAR_LONGITUDE BETWEEN ? AND ?", bbox.MinLng, bbox.MaxLng)
	}
	args := append(f.args, MaxMarkers)

	rows, err := r.DB.QueryContext(ctx, `
		SELECT Z_PK, IFNULL(ZAR_TITLE, ''), IFNULL(ZAR_ADDRESS, ''), ZAR_LATITUDE, ZAR_LONGITUDE
		FROM ZCDARCHITECTURE`+f.clause()+`
		ORDER BY Z_PK
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("markers query: %w", err)
	}
	defer rows.Close()

	out := []models.Marker{}
	for rows.Next() {
		var m models.Marker
		if err := rows.Scan(&m.ID, &m.Name, &m.Address, &m.Latitude, &m.Longitude); err != nil {
			return nil, fmt.Errorf("markers scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("markers rows: %w", err)
	}
	return out, nil
}

// Cluster groups markers on a square grid whose cell halves with every zoom
// level. Clusters are ordered by size, largest first.
func Cluster(markers []models.Marker, zoom int) []models.Cluster {
	if zoom < 0 {
		zoom = 0
	}
	if zoom > 20 {
		zoom = 20
	}
	cell := 40.0 / math.Pow(2, float64(zoom))

	type acc struct {
		lat, lng float64
		count    int
		sample   int64
	}
	cells := make(map[[2]int64]*acc)
	for _, m := range markers {
		key := [2]int64{int64(math.Floor(m.Latitude / cell)), int64(math.Floor(m.Longitude / cell))}
		a, ok := cells[key]
		if !ok {
			a = &acc{sample: m.ID}
			cells[key] = a
		}
		a.lat += m.Latitude
		a.lng += m.Longitude
		a.count++
		if m.ID < a.sample {
			a.sample = m.ID
		}
	}

	out := make([]models.Cluster, 0, len(cells))
	for _, a := range cells {
		out = append(out, models.Cluster{
			Latitude:  a.lat / float64(a.count),
			Longitude: a.lng / float64(a.count),
			Count:     a.count,
			SampleID:  a.sample,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].SampleID < out[j].SampleID
	})
	return out
}
