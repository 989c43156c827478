package search

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"archimap/internal/apierr"
	"archimap/internal/catalog"
)

type Handler struct {
	Service  *Service
	Logger   *zap.Logger
	Debounce time.Duration
}

func NewHandler(s *Service, logger *zap.Logger) *Handler {
	return &Handler{Service: s, Logger: logger, Debounce: DefaultDebounce}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/architecture", h.list) // GET /api/architecture?search=&sort=&page=
	rg.GET("/autocomplete", h.autocomplete)
	rg.GET("/cache/stats", h.cacheStats)
}

func (h *Handler) list(c *gin.Context) {
	q := catalog.ParseListQuery(c.Request.URL.Query())

	page, err := h.Service.Search(c.Request.Context(), q)
	if err != nil {
		apierr.Respond(c, h.Logger, "search", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) autocomplete(c *gin.Context) {
	out, err := h.Service.Autocomplete(c.Request.Context(), c.Query("q"))
	if err != nil {
		apierr.Respond(c, h.Logger, "autocomplete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"q": c.Query("q"), "suggestions": out})
}

func (h *Handler) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.Stats())
}
