package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"archimap/internal/i18n"
	"archimap/internal/rangefetch"
	"archimap/internal/remotedb"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{remotedb.ErrNotReady, http.StatusServiceUnavailable, i18n.CodeDatabaseLoading},
		{fmt.Errorf("%w: %w", remotedb.ErrNotReady, rangefetch.ErrSourceChanged), http.StatusServiceUnavailable, i18n.CodeDatabaseLoading},
		{fmt.Errorf("%w: boom", remotedb.ErrLoadFailed), http.StatusServiceUnavailable, i18n.CodeDatabaseUnavailable},
		{fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, i18n.CodeDatabaseLoading},
		{errors.New("disk on fire"), http.StatusInternalServerError, i18n.CodeInternal},
	}
	for _, tt := range tests {
		status, code := Classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestRespondLocalizes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(i18n.Middleware())
	r.GET("/", func(c *gin.Context) {
		Respond(c, zap.NewNop(), "test", fmt.Errorf("%w: missing", remotedb.ErrLoadFailed))
	})

	for lang, msg := range map[string]string{
		"":   "データベースの読み込みに失敗しました",
		"en": "Failed to load the database",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?lang="+lang, nil))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "database_unavailable", body["error"])
		assert.Equal(t, msg, body["message"])
	}
}
