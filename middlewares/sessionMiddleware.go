package middlewares

import (
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/gin-gonic/gin"
)

const (
	RoleOwner    = "owner"
	RoleEmployee = "employee"
)

// SessionMiddleware attaches the caller's identity to the request context.
// Token verification happens at the edge; when a token header is present we
// resolve it through the Redis session store, otherwise we trust the
// proxy-verified identity headers.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		token := c.Request.Header.Get("token")
		if token != "" {
			username, exists, err := config.GetRedisValue("Token:" + token)
			if err != nil || !exists {
				c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
				c.Abort()
				return
			}
			ctx = utils.SetTokenInContext(ctx, token)
			ctx = utils.SetUsernameInContext(ctx, username)
		}

		if userId := c.Request.Header.Get("x-user-id"); userId != "" {
			if id, err := strconv.Atoi(userId); err == nil {
				ctx = utils.SetUserIdInContext(ctx, id)
			}
		}
		if userName := c.Request.Header.Get("x-user-name"); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		if role := c.Request.Header.Get("x-user-role"); role != "" {
			ctx = utils.SetUserRoleInContext(ctx, role)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole gates mutating routes on the roles carried by the session.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := utils.GetUserRoleFromContext(c.Request.Context())
		if !ok || role == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
			c.Abort()
			return
		}
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "forbidden"})
		c.Abort()
	}
}
