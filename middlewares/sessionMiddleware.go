package middlewares

import (
	"context"
	"net/http"

	"bitbucket.org/mmdatafocus/fieldops_backend/config"
	"bitbucket.org/mmdatafocus/fieldops_backend/models"
	"bitbucket.org/mmdatafocus/fieldops_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware resolves the token header against the Redis session
// store and loads the caller's identity into the request context. Requests
// without a token header fall back to the JWT claims AuthMiddleware validated.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			claims := CtxValue(c.Request.Context())
			if claims == nil {
				c.Next()
				return
			}
			user, err := models.GetUser(c.Request.Context(), claims.ID)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			if !*user.IsActive {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "user is disabled"})
				c.Abort()
				return
			}
			ctx := context.WithValue(c.Request.Context(), utils.ContextKeyUsername, user.Username)
			c.Request = c.Request.WithContext(identityContext(ctx, user))
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyToken, token)
		ctx = context.WithValue(ctx, utils.ContextKeyUsername, username)

		user, err := models.GetUserByUsername(ctx, username)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		if !*user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user is disabled"})
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(identityContext(ctx, user))
		c.Next()
	}
}

func identityContext(ctx context.Context, user *models.User) context.Context {
	ctx = context.WithValue(ctx, utils.ContextKeyUserId, user.ID)
	ctx = context.WithValue(ctx, utils.ContextKeyUserName, user.Name)
	ctx = context.WithValue(ctx, utils.ContextKeyBusinessId, user.BusinessId)
	return context.WithValue(ctx, utils.ContextKeyIsAdmin, user.Role == models.UserRoleAdmin)
}

// RequireSession rejects requests that carry no resolved identity.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
