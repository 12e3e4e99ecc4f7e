package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/thereayou/voxus/internal/handlers"
	"github.com/thereayou/voxus/internal/middleware"
	"github.com/thereayou/voxus/pkg/auth"
)

// Pinger зависимость, проверяемая в /healthz
type Pinger interface {
	Ping(ctx context.Context) error
}

type routes struct {
	auth     *handlers.AuthHandler
	ws       *handlers.WebSocketHandler
	verifier *auth.Verifier
	checks   map[string]Pinger
}

func newRouter(rt routes, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))

	r.GET("/healthz", healthz(rt.checks))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", rt.auth.Register)
		authGroup.POST("/login", rt.auth.Login)
		authGroup.POST("/logout", middleware.AuthMiddleware(rt.verifier), rt.auth.Logout)
	}

	r.GET("/ws", middleware.WSAuthMiddleware(rt.verifier), rt.ws.HandleWebSocket)
	return r
}

func healthz(checks map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := gin.H{}
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}
		c.JSON(status, result)
	}
}
