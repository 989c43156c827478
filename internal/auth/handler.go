package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"archimap/internal/apierr"
	"archimap/internal/i18n"
)

type Handler struct {
	Admin  *Admin
	Tokens TokenService
	Logger *zap.Logger
}

func NewHandler(admin *Admin, tokens TokenService, logger *zap.Logger) *Handler {
	return &Handler{Admin: admin, Tokens: tokens, Logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/login", h.login)
	rg.POST("/logout", h.Middleware(), h.logout)
}

// Middleware guards admin routes.
func (h *Handler) Middleware() gin.HandlerFunc {
	return AuthMiddleware(h.Tokens, h.Admin)
}

type loginReq struct {
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		apierr.Abort(c, http.StatusBadRequest, i18n.CodeBadRequest)
		return
	}

	if err := h.Admin.Check(req.Password); err != nil {
		if errors.Is(err, ErrAdminDisabled) {
			h.Logger.Warn("admin login attempted without a configured password")
		}
		apierr.Abort(c, http.StatusUnauthorized, i18n.CodeInvalidCredentials)
		return
	}

	token, exp, err := h.Tokens.Sign(AdminSubject, RoleAdmin, h.Admin.TokenVersion())
	if err != nil {
		apierr.Respond(c, h.Logger, "sign token", err)
		return
	}

	h.Logger.Info("admin logged in", zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) logout(c *gin.Context) {
	h.Admin.Logout()
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}
