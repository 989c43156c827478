package catalog

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"archimap/internal/apierr"
	"archimap/internal/i18n"
	"archimap/pkg/models"
)

// Querier runs queries against the current catalog database.
type Querier interface {
	Do(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error
	Info() (models.DatabaseInfo, bool)
}

type Handler struct {
	DB          Querier
	Logger      *zap.Logger
	ExploreRows int
	// ExploreLimit guards the explorer query endpoint when set.
	ExploreLimit gin.HandlerFunc
}

func NewHandler(db Querier, logger *zap.Logger) *Handler {
	return &Handler{DB: db, Logger: logger, ExploreRows: DefaultExploreRows}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/architecture/:id", h.getBuilding) // GET /api/architecture/:id
	rg.GET("/architects", h.listArchitects)
	rg.GET("/architects/:id", h.getArchitect)
	rg.GET("/map", h.mapMarkers)
	rg.GET("/facets", h.facets)
	rg.GET("/research/stats", h.researchStats)
	rg.GET("/explorer/tables", h.explorerTables)

	explore := []gin.HandlerFunc{h.explorerQuery}
	if h.ExploreLimit != nil {
		explore = append([]gin.HandlerFunc{h.ExploreLimit}, explore...)
	}
	rg.POST("/explorer/query", explore...)
}

// With runs fn with a Repo bound to the current database.
func With(ctx context.Context, q Querier, fn func(ctx context.Context, r *Repo) error) error {
	return q.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		repo := NewRepo(db)
		if info, ok := q.Info(); ok && len(info.Tables) > 0 {
			repo.WithTables(info.Tables)
		}
		return fn(ctx, repo)
	})
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) getBuilding(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		apierr.Abort(c, http.StatusNotFound, i18n.CodeNotFound)
		return
	}

	var b *models.Building
	err := With(c.Request.Context(), h.DB, func(ctx context.Context, r *Repo) error {
		var err error
		b, err = r.Get(ctx, id)
		return err
	})
	if err != nil {
		apierr.Respond(c, h.Logger, "get building", err)
		return
	}
	if b == nil {
		apierr.Abort(c, http.StatusNotFound, i18n.CodeNotFound)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) listArchitects(c *gin.Context) {
	q := ParseArchitectQuery(c.Request.URL.Query())

	var (
		total int
		items []models.Architect
	)
	err := With(c.Request.Context(), h.DB, func(ctx context.Context, r *Repo) error {
		var err error
		if total, err = r.CountArchitects(ctx, q); err != nil {
			return err
		}
		items, err = r.ListArchitects(ctx, q)
		return err
	})
	if err != nil {
		apierr.Respond(c, h.Logger, "list architects", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":       total,
		"page":        q.Page,
		"limit":       q.Limit,
		"total_pages": TotalPages(total, q.Limit),
		"items":       items,
	})
}

func (h *Handler) getArchitect(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		apierr.Abort(c, http.StatusNotFound, i18n.CodeNotFound)
		return
	}

	var a *models.Architect
	err := With(c.Request.Context(), h.DB, func(ctx context.Context, r *Repo) error {
		var err error
		a, err = r.GetArchitect(ctx, id)
		return err
	})
	if err != nil {
		apierr.Respond(c, h.Logger, "get architect", err)
		return
	}
	if a == nil {
		apierr.Abort(c, http.StatusNotFound, i18n.CodeNotFound)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) mapMarkers(c *gin.Context) {
	q := ParseListQuery(c.Request.URL.Query())

	var bbox *BBox
	if s := c.Query("bbox"); s != "" {
		var err error
		if bbox, err = ParseBBox(s); err != nil {
			apierr.Abort(c, http.StatusBadRequest, i18n.CodeBadRequest)
			return
		}
	}
	zoom := parseInt(c.Query("zoom"), 5)

	var markers []models.Marker
	err := With(c.Request.Context(), h.DB, func(ctx context.Context, r *Repo) error {
		var err error
		markers, err = r.Markers(ctx, q, bbox)
		return err
	})
	if err != nil {
		apierr.Respond(c, h.Logger, "map markers", err)
		return
	}

	if len(markers) > ClusterThreshold {
		c.JSON(http.StatusOK, gin.H{
			"mode":     "clusters",
			"total":    len(markers),
			"zoom":     zoom,
			"clusters": Cluster(markers, zoom),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":    "markers",
		"total":   len(markers),
		"zoom":    zoom,
		"markers": markers,
	})
}

func (h *Handler) facets(c *gin.Context) {
	q := ParseListQuery(c.Request.URL.Query())

	var f *Facets
	err := With(c.Request.Context(), h.DB, func(ctx context.Context, r *Repo) error {
		var err error
		f, err = r.Facets(ctx, q)
		return err
	})
	if err != nil {
		apierr.Respond(c, h.Logger, "facets", err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h *Handler) researchStats(c *gin.Context) {
	var st *ResearchStats
	err := With(c.Request.Context(), h.DB, func(ctx context.Context, r *Repo) error {
		var err error
		st, err = r.Stats(ctx)
		return err
	})
	if err != nil {
		apierr.Respond(c, h.Logger, "research stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) explorerTables(c *gin.Context) {
	var tables []TableInfo
	err := With(c.Request.Context(), h.DB, func(ctx context.Context, r *Repo) error {
		var err error
		tables, err = r.Tables(ctx)
		return err
	})
	if err != nil {
		apierr.Respond(c, h.Logger, "explorer tables", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

type exploreRequest struct {
	SQL string `json:"sql" binding:"required"`
}

func (h *Handler) explorerQuery(c *gin.Context) {
	var req exploreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Abort(c, http.StatusBadRequest, i18n.CodeBadRequest)
		return
	}
	if _, err := CheckStatement(req.SQL); err != nil {
		apierr.Abort(c, http.StatusBadRequest, i18n.CodeInvalidStatement)
		return
	}

	var res *ExploreResult
	err := With(c.Request.Context(), h.DB, func(ctx context.Context, r *Repo) error {
		var err error
		res, err = r.Explore(ctx, req.SQL, h.ExploreRows)
		return err
	})
	if errors.Is(err, ErrStatementNotAllowed) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   i18n.CodeInvalidStatement,
			"message": i18n.Message(i18n.FromContext(c), i18n.CodeInvalidStatement),
			"detail":  err.Error(),
		})
		return
	}
	if err != nil {
		apierr.Respond(c, h.Logger, "explorer query", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
