package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"archimap/internal/apierr"
	"archimap/internal/i18n"
)

const CtxClaimsKey = "auth_claims"

// AuthMiddleware requires a bearer token signed by tokens for the current
// admin token version.
func AuthMiddleware(tokens TokenService, admin *Admin) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
			apierr.Abort(c, http.StatusUnauthorized, i18n.CodeUnauthorized)
			return
		}

		raw := strings.TrimSpace(h[len("Bearer "):])
		claims, err := tokens.Parse(raw)
		if err != nil || claims.Role != RoleAdmin {
			apierr.Abort(c, http.StatusUnauthorized, i18n.CodeUnauthorized)
			return
		}
		if admin != nil && claims.TokenVersion != admin.TokenVersion() {
			apierr.Abort(c, http.StatusUnauthorized, i18n.CodeUnauthorized)
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

func MustGetClaims(c *gin.Context) *Claims {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
