package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"archimap/internal/events"
	"archimap/internal/i18n"
	"archimap/internal/remotedb"
	"archimap/internal/search"
)

type fakeDB struct {
	reloads    int
	chunkPurge int
	err        error
	gen        uint64
}

func (f *fakeDB) Reload(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.reloads++
	f.gen++
	return nil
}

func (f *fakeDB) Status() remotedb.Status {
	return remotedb.Status{State: remotedb.StateReady, Generation: f.gen, Source: "test.sqlite"}
}

func (f *fakeDB) PurgeChunks() { f.chunkPurge++ }

type fakeSearch struct {
	purges int
}

func (f *fakeSearch) Purge(context.Context) error { f.purges++; return nil }
func (f *fakeSearch) Stats() search.Stats         { return search.Stats{Backend: "memory", Hits: 3} }

func newTestRouter(h *Handler, allow bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(i18n.Middleware())
	guard := func(c *gin.Context) {
		if !allow {
			c.AbortWithStatus(http.StatusUnauthorized)
		}
	}
	h.RegisterRoutes(r.Group("/admin"), guard)
	return r
}

func do(r http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestReload(t *testing.T) {
	db := &fakeDB{gen: 1}
	r := newTestRouter(NewHandler(db, &fakeSearch{}, nil, zap.NewNop()), true)

	w := do(r, http.MethodPost, "/admin/reload")
	require.Equal(t, http.StatusOK, w.Code)
	var st remotedb.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.EqualValues(t, 2, st.Generation)
	assert.Equal(t, 1, db.reloads)
}

func TestReloadFailure(t *testing.T) {
	db := &fakeDB{err: remotedb.ErrLoadFailed}
	r := newTestRouter(NewHandler(db, &fakeSearch{}, nil, zap.NewNop()), true)

	w := do(r, http.MethodPost, "/admin/reload")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), i18n.CodeDatabaseUnavailable)
}

func TestPurgeCache(t *testing.T) {
	db, s := &fakeDB{}, &fakeSearch{}
	r := newTestRouter(NewHandler(db, s, nil, zap.NewNop()), true)

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/admin/cache/purge").Code)
	assert.Equal(t, 1, s.purges)
	assert.Zero(t, db.chunkPurge)

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/admin/cache/purge?chunks=1").Code)
	assert.Equal(t, 2, s.purges)
	assert.Equal(t, 1, db.chunkPurge)
}

func TestStats(t *testing.T) {
	hub := events.NewHub(zap.NewNop())
	r := newTestRouter(NewHandler(&fakeDB{gen: 4}, &fakeSearch{}, hub, zap.NewNop()), true)

	w := do(r, http.MethodGet, "/admin/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Database remotedb.Status `json:"database"`
		Cache    search.Stats    `json:"cache"`
		Events   events.Stats    `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 4, body.Database.Generation)
	assert.EqualValues(t, 3, body.Cache.Hits)
	assert.Equal(t, events.Stats{}, body.Events)
}

func TestGuardApplies(t *testing.T) {
	db := &fakeDB{}
	r := newTestRouter(NewHandler(db, &fakeSearch{}, nil, zap.NewNop()), false)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/admin/reload"},
		{http.MethodPost, "/admin/cache/purge"},
		{http.MethodGet, "/admin/stats"},
	} {
		assert.Equal(t, http.StatusUnauthorized, do(r, tc.method, tc.path).Code, tc.path)
	}
	assert.Zero(t, db.reloads)
}
