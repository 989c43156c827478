package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"archimap/internal/i18n"
)

const testPassword = "correct horse battery"

func newTestHandler(t *testing.T) (*Handler, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := HashPassword(testPassword)
	require.NoError(t, err)
	h := NewHandler(NewAdmin(hash), TokenService{
		Secret:   []byte("test-secret"),
		Issuer:   "archimap",
		Duration: time.Hour,
	}, zap.NewNop())

	r := gin.New()
	r.Use(i18n.Middleware())
	h.RegisterRoutes(r.Group("/admin"))
	r.GET("/admin/ping", h.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": MustGetClaims(c).Subject})
	})
	return h, r
}

func request(r http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, r http.Handler) string {
	t.Helper()
	w := request(r, http.MethodPost, "/admin/login", `{"password":"`+testPassword+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	_, err := time.Parse(time.RFC3339, body.ExpiresAt)
	require.NoError(t, err)
	return body.Token
}

func TestLoginAndGuard(t *testing.T) {
	_, r := newTestHandler(t)
	token := login(t, r)

	w := request(r, http.MethodGet, "/admin/ping", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subject":"admin"}`, w.Body.String())
}

func TestLoginRejectsBadPassword(t *testing.T) {
	_, r := newTestHandler(t)

	w := request(r, http.MethodPost, "/admin/login", `{"password":"nope"}`, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), i18n.CodeInvalidCredentials)

	w = request(r, http.MethodPost, "/admin/login", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(r, http.MethodPost, "/admin/login", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(NewAdmin(""), TokenService{Secret: []byte("s"), Duration: time.Hour}, zap.NewNop())
	r := gin.New()
	h.RegisterRoutes(r.Group("/admin"))

	w := request(r, http.MethodPost, "/admin/login", `{"password":"anything-long"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.ErrorIs(t, h.Admin.Check("anything-long"), ErrAdminDisabled)
}

func TestMiddlewareRejects(t *testing.T) {
	h, r := newTestHandler(t)

	expired, _, err := TokenService{Secret: h.Tokens.Secret, Issuer: "archimap", Duration: -time.Minute}.
		Sign(AdminSubject, RoleAdmin, 0)
	require.NoError(t, err)
	wrongKey, _, err := TokenService{Secret: []byte("other"), Issuer: "archimap", Duration: time.Hour}.
		Sign(AdminSubject, RoleAdmin, 0)
	require.NoError(t, err)
	wrongRole, _, err := h.Tokens.Sign("viewer", "viewer", 0)
	require.NoError(t, err)
	wrongIssuer, _, err := TokenService{Secret: h.Tokens.Secret, Issuer: "elsewhere", Duration: time.Hour}.
		Sign(AdminSubject, RoleAdmin, 0)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"role": RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"garbage", "Bearer abc.def.ghi"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + wrongKey},
		{"wrong role", "Bearer " + wrongRole},
		{"wrong issuer", "Bearer " + wrongIssuer},
		{"alg none", "Bearer " + none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), i18n.CodeUnauthorized)
		})
	}
}

func TestLogoutRevokesTokens(t *testing.T) {
	_, r := newTestHandler(t)
	token := login(t, r)

	w := request(r, http.MethodPost, "/admin/logout", "", token)
	require.Equal(t, http.StatusOK, w.Code)

	w = request(r, http.MethodGet, "/admin/ping", "", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	fresh := login(t, r)
	w = request(r, http.MethodGet, "/admin/ping", "", fresh)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("short")
	require.Error(t, err)
	_, err = HashPassword(strings.Repeat("x", 73))
	require.Error(t, err)

	hash, err := HashPassword("long enough")
	require.NoError(t, err)
	assert.NoError(t, NewAdmin(hash).Check("long enough"))
	assert.ErrorIs(t, NewAdmin(hash).Check("wrong"), ErrInvalidCredentials)
}
