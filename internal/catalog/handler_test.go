package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"archimap/internal/i18n"
	"archimap/internal/ratelimit"
	"archimap/internal/remotedb"
	"archimap/internal/testdb"
	"archimap/pkg/models"
	"archimap/pkg/schema"
)

type fakeDB struct {
	db  *sql.DB
	err error
}

func (f *fakeDB) Do(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(ctx, f.db)
}

func (f *fakeDB) Info() (models.DatabaseInfo, bool) {
	return models.DatabaseInfo{Tables: []string{
		schema.TableArchitect, schema.TableArchitecture, schema.TableReference, schema.TableVisit, schema.TableSocialMedia,
	}}, true
}

func newTestRouter(t *testing.T, q Querier, opts ...func(*Handler)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := NewHandler(q, zap.NewNop())
	for _, o := range opts {
		o(h)
	}
	r := gin.New()
	r.Use(i18n.Middleware())
	h.RegisterRoutes(r.Group("/api"))
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHandlerGetBuilding(t *testing.T) {
	r := newTestRouter(t, &fakeDB{db: testdb.Open(t)})

	w := do(r, http.MethodGet, "/api/architecture/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var b models.Building
	decode(t, w, &b)
	assert.Equal(t, "国立代々木競技場", b.Name)
	assert.Len(t, b.References, 2)

	for _, path := range []string{"/api/architecture/999", "/api/architecture/abc", "/api/architecture/-1"} {
		w = do(r, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		var body map[string]string
		decode(t, w, &body)
		assert.Equal(t, "not_found", body["error"])
	}
}

func TestHandlerDatabaseErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: boom", remotedb.ErrLoadFailed), http.StatusServiceUnavailable, "database_unavailable"},
		{remotedb.ErrNotReady, http.StatusServiceUnavailable, "database_loading"},
	}
	for _, tt := range tests {
		r := newTestRouter(t, &fakeDB{err: tt.err})
		w := do(r, http.MethodGet, "/api/architecture/1", "")
		assert.Equal(t, tt.status, w.Code)
		var body map[string]string
		decode(t, w, &body)
		assert.Equal(t, tt.code, body["error"])
		assert.NotEmpty(t, body["message"])
	}
}

func TestHandlerArchitects(t *testing.T) {
	r := newTestRouter(t, &fakeDB{db: testdb.Open(t)})

	w := do(r, http.MethodGet, "/api/architects?nationality=%E6%97%A5%E6%9C%AC&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Total      int                `json:"total"`
		TotalPages int                `json:"total_pages"`
		Items      []models.Architect `json:"items"`
	}
	decode(t, w, &page)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Items, 2)

	w = do(r, http.MethodGet, "/api/architects/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var a models.Architect
	decode(t, w, &a)
	assert.Equal(t, "安藤忠雄", a.Name)
	assert.Len(t, a.Works, 2)

	w = do(r, http.MethodGet, "/api/architects/77", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerMap(t *testing.T) {
	r := newTestRouter(t, &fakeDB{db: testdb.Open(t)})

	w := do(r, http.MethodGet, "/api/map?bbox=139.5,35.5,140,35.8&zoom=11", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Mode    string          `json:"mode"`
		Total   int             `json:"total"`
		Markers []models.Marker `json:"markers"`
	}
	decode(t, w, &body)
	assert.Equal(t, "markers", body.Mode)
	assert.Equal(t, 6, body.Total)
	assert.Len(t, body.Markers, 6)

	w = do(r, http.MethodGet, "/api/map?bbox=nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerFacetsAndStats(t *testing.T) {
	r := newTestRouter(t, &fakeDB{db: testdb.Open(t)})

	w := do(r, http.MethodGet, "/api/facets?prefecture=%E5%A4%A7%E9%98%AA%E5%BA%9C", "")
	require.Equal(t, http.StatusOK, w.Code)
	var f Facets
	decode(t, w, &f)
	assert.NotEmpty(t, f.Prefectures)
	assert.Equal(t, []FacetCount{{Value: "1970", Count: 1}, {Value: "1980", Count: 1}}, f.Decades)

	w = do(r, http.MethodGet, "/api/research/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st ResearchStats
	decode(t, w, &st)
	assert.Equal(t, 12, st.Buildings)
}

func TestHandlerExplorer(t *testing.T) {
	r := newTestRouter(t, &fakeDB{db: testdb.Open(t)}, func(h *Handler) { h.ExploreRows = 3 })

	w := do(r, http.MethodGet, "/api/explorer/tables", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tables struct {
		Tables []TableInfo `json:"tables"`
	}
	decode(t, w, &tables)
	assert.Len(t, tables.Tables, 5)

	w = do(r, http.MethodPost, "/api/explorer/query", `{"sql":"SELECT Z_PK FROM ZCDARCHITECTURE"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res ExploreResult
	decode(t, w, &res)
	assert.Len(t, res.Rows, 3)
	assert.True(t, res.Truncated)

	w = do(r, http.MethodPost, "/api/explorer/query", `{"sql":"DELETE FROM ZCDARCHITECTURE"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/explorer/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerExplorerRateLimit(t *testing.T) {
	lim := ratelimit.New(0.001, 1)
	r := newTestRouter(t, &fakeDB{db: testdb.Open(t)}, func(h *Handler) {
		h.ExploreLimit = lim.Middleware(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": i18n.CodeRateLimited})
		})
	})

	body := `{"sql":"SELECT 1"}`
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/explorer/query", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodPost, "/api/explorer/query", body).Code)
}
