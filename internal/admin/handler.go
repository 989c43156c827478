// Package admin serves the operator endpoints behind admin auth.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"archimap/internal/apierr"
	"archimap/internal/auth"
	"archimap/internal/events"
	"archimap/internal/remotedb"
	"archimap/internal/search"
)

type Database interface {
	Reload(ctx context.Context) error
	Status() remotedb.Status
	PurgeChunks()
}

type Search interface {
	Purge(ctx context.Context) error
	Stats() search.Stats
}

type Handler struct {
	DB     Database
	Search Search
	Hub    *events.Hub
	Logger *zap.Logger
}

func NewHandler(db Database, s Search, hub *events.Hub, logger *zap.Logger) *Handler {
	return &Handler{DB: db, Search: s, Hub: hub, Logger: logger}
}

// RegisterRoutes mounts the admin routes behind guard.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, guard gin.HandlerFunc) {
	rg.POST("/reload", guard, h.reload)
	rg.POST("/cache/purge", guard, h.purgeCache)
	rg.GET("/stats", guard, h.stats)
}

func (h *Handler) reload(c *gin.Context) {
	if err := h.DB.Reload(c.Request.Context()); err != nil {
		apierr.Respond(c, h.Logger, "reload", err)
		return
	}
	st := h.DB.Status()
	fields := []zap.Field{zap.Uint64("generation", st.Generation)}
	if claims := auth.MustGetClaims(c); claims != nil {
		fields = append(fields, zap.String("by", claims.Subject))
	}
	h.Logger.Info("database reloaded by admin", fields...)
	c.JSON(http.StatusOK, st)
}

func (h *Handler) purgeCache(c *gin.Context) {
	if err := h.Search.Purge(c.Request.Context()); err != nil {
		apierr.Respond(c, h.Logger, "purge cache", err)
		return
	}
	if c.Query("chunks") == "1" {
		h.DB.PurgeChunks()
	}
	c.JSON(http.StatusOK, gin.H{"status": "purged"})
}

func (h *Handler) stats(c *gin.Context) {
	out := gin.H{
		"database": h.DB.Status(),
		"cache":    h.Search.Stats(),
	}
	if h.Hub != nil {
		out["events"] = h.Hub.Stats()
	}
	c.JSON(http.StatusOK, out)
}
