package httpgin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kirinyoku/pelada/internal/auth"
	"github.com/kirinyoku/pelada/internal/domain"
)

const (
	ctxMemberID = "member_id"
	ctxRole     = "role"
)

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: msg})
}

func abortForbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
}

// JWTAuth validates the bearer token and stores the member id and role
// in the gin context.
func JWTAuth(authn *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims, err := authn.ValidateToken(raw)
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Set(ctxMemberID, claims.MemberID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireRole must run after JWTAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := c.Get(ctxRole)
		if !ok {
			abortUnauthorized(c, "missing role")
			return
		}
		if s, _ := got.(string); s != role {
			abortForbidden(c)
			return
		}
		c.Next()
	}
}

// SchedulerOrAdmin accepts either the static scheduler token or an admin
// JWT. An empty schedulerToken disables the static token.
func SchedulerOrAdmin(authn *auth.Service, schedulerToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		if schedulerToken != "" &&
			subtle.ConstantTimeCompare([]byte(raw), []byte(schedulerToken)) == 1 {
			c.Set(ctxRole, "scheduler")
			c.Next()
			return
		}

		claims, err := authn.ValidateToken(raw)
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}
		if claims.Role != domain.RoleAdmin {
			abortForbidden(c)
			return
		}

		c.Set(ctxMemberID, claims.MemberID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

func memberID(c *gin.Context) int64 {
	return c.GetInt64(ctxMemberID)
}
