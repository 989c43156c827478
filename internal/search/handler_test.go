package search

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"archimap/internal/i18n"
	"archimap/internal/remotedb"
)

func newTestRouter(t *testing.T, h *Handler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(i18n.Middleware())
	h.RegisterRoutes(r.Group("/api"))
	r.GET("/ws/autocomplete", h.AutocompleteWS)
	return r
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestHandlerList(t *testing.T) {
	s, _ := newTestService(t, nil)
	r := newTestRouter(t, NewHandler(s, zap.NewNop()))

	w := get(r, "/api/architecture?search=%E5%AE%89%E8%97%A4&sort=year_asc&page=1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Items []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"items"`
		Total      int    `json:"total"`
		Page       int    `json:"page"`
		Limit      int    `json:"limit"`
		TotalPages int    `json:"total_pages"`
		Query      string `json:"query"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.Page)
	assert.Equal(t, 20, body.Limit)
	assert.Equal(t, 1, body.TotalPages)
	require.Len(t, body.Items, 2)
	assert.EqualValues(t, 4, body.Items[0].ID, "住吉の長屋 (1976) before 光の教会 (1989)")
	assert.Contains(t, body.Query, "sort=year_asc")
	assert.NotContains(t, body.Query, "page=")
}

func TestHandlerListBadParamsAreNormalized(t *testing.T) {
	s, _ := newTestService(t, nil)
	r := newTestRouter(t, NewHandler(s, zap.NewNop()))

	w := get(r, "/api/architecture?page=-1&limit=9999&sort=bogus&year_from=abc")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["page"])
	assert.EqualValues(t, 100, body["limit"])
}

func TestHandlerListDatabaseUnavailable(t *testing.T) {
	s, db := newTestService(t, nil)
	db.err = remotedb.ErrLoadFailed
	r := newTestRouter(t, NewHandler(s, zap.NewNop()))

	w := get(r, "/api/architecture")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"database_unavailable","message":"データベースの読み込みに失敗しました"}`, w.Body.String())

	w = get(r, "/api/architecture?lang=en")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"database_unavailable","message":"Failed to load the database"}`, w.Body.String())
}

func TestHandlerAutocomplete(t *testing.T) {
	s, _ := newTestService(t, nil)
	r := newTestRouter(t, NewHandler(s, zap.NewNop()))

	w := get(r, "/api/autocomplete?q=%E4%B8%B9")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"q":"丹","suggestions":[]}`, w.Body.String())

	w = get(r, "/api/autocomplete?q=%E4%B8%B9%E4%B8%8B")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"丹下健三"`)
}

func TestHandlerCacheStats(t *testing.T) {
	s, _ := newTestService(t, nil)
	r := newTestRouter(t, NewHandler(s, zap.NewNop()))

	get(r, "/api/architecture")
	get(r, "/api/architecture")

	w := get(r, "/api/cache/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var st Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 1, st.Misses)
	assert.Equal(t, "memory", st.Backend)
}

func TestAutocompleteWebsocket(t *testing.T) {
	s, _ := newTestService(t, nil)
	h := NewHandler(s, zap.NewNop())
	h.Debounce = 100 * time.Millisecond
	srv := httptest.NewServer(newTestRouter(t, h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/autocomplete"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var welcome map[string]string
	require.NoError(t, ws.ReadJSON(&welcome))
	assert.Equal(t, "welcome", welcome["type"])

	for i, q := range []string{"丹", "丹下", "安藤"} {
		require.NoError(t, ws.WriteJSON(autocompleteRequest{Seq: int64(i + 1), Query: q}))
	}

	var reply autocompleteReply
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, "suggestions", reply.Type)
	assert.EqualValues(t, 3, reply.Seq, "only the last input of the burst is answered")
	require.NotEmpty(t, reply.Suggestions)
	assert.Equal(t, "安藤忠雄", reply.Suggestions[0].Text)
}

func TestDebouncerRunsLastSubmission(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var (
		mu   sync.Mutex
		got  []int
		done = make(chan struct{})
	)
	for i := 1; i <= 5; i++ {
		d.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			close(done)
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced function never ran")
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{5}, got)
}

func TestDebouncerStop(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var ran atomic.Bool
	d.Submit(func() { ran.Store(true) })
	d.Stop()
	d.Submit(func() { ran.Store(true) })

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}
