package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	errs "ProjChat/tools/errs"
	sec "ProjChat/tools/security"
)

// Context keys set for downstream handlers.
const (
	CtxIdentityKey = "identity" // canonical identity key string ("client:42")
	CtxTokenKey    = "authorization"
)

type Options struct {
	JWT sec.Options
}

// Middleware verifies the Bearer token and stashes the authenticated
// identity key into the gin context.
func Middleware(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"code": errs.CodeAuthRequired, "msg": "token required"})
			return
		}

		claims, err := sec.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"code": errs.CodeAuthFailed, "msg": "token rejected"})
			return
		}

		c.Set(CtxTokenKey, token)
		c.Set(CtxIdentityKey, claims.Subject())
		c.Next()
	}
}
