package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/voxus/pkg/auth"
)

const (
	UserIDKey = "userID"
	TokenKey  = "token"
)

// AuthMiddleware проверяет JWT из Authorization header
func AuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		authorize(c, verifier, token)
	}
}

// WSAuthMiddleware специальный middleware для WebSocket: токен берётся
// из ?token= (браузер не умеет заголовки при handshake) или из header
func WSAuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractToken(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		authorize(c, verifier, token)
	}
}

func authorize(c *gin.Context, verifier *auth.Verifier, token string) {
	userID, err := verifier.Verify(c.Request.Context(), token)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, auth.ErrTokenRevoked) {
			msg = "token is blacklisted"
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
		return
	}

	c.Set(UserIDKey, userID)
	c.Set(TokenKey, token)
	c.Next()
}
