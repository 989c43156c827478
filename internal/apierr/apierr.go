// Package apierr turns errors from the query layer into stable JSON error
// responses.
package apierr

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"archimap/internal/i18n"
	"archimap/internal/remotedb"
)

// Abort writes {error, message} in the request language and stops the chain.
func Abort(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": i18n.Message(i18n.FromContext(c), code),
	})
}

// Classify maps err to a status and error code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, remotedb.ErrNotReady):
		return http.StatusServiceUnavailable, i18n.CodeDatabaseLoading
	case errors.Is(err, remotedb.ErrLoadFailed), errors.Is(err, remotedb.ErrClosed):
		return http.StatusServiceUnavailable, i18n.CodeDatabaseUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, i18n.CodeDatabaseLoading
	default:
		return http.StatusInternalServerError, i18n.CodeInternal
	}
}

// Respond logs err with the request id and aborts with its classified status.
func Respond(c *gin.Context, logger *zap.Logger, op string, err error) {
	status, code := Classify(err)
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("code", code),
		zap.String("request_id", c.GetString("request_id")),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error("request failed", fields...)
	} else {
		logger.Warn("request failed", fields...)
	}
	Abort(c, status, code)
}
