package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/lexfind/lexfind-backend/internal/handlers"
	"github.com/lexfind/lexfind-backend/internal/middleware"
)

type RouterConfig struct {
	AuthHandler     *handlers.AuthHandler
	DocumentHandler *handlers.DocumentHandler
	ChatHandler     *handlers.ChatHandler
	HealthHandler   *handlers.HealthHandler

	AuthMiddleware      *middleware.AuthMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware

	AllowOrigins []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/api/health", cfg.HealthHandler.Check)
	router.POST("/api/auth/signup", cfg.AuthHandler.SignUp)
	router.POST("/api/auth/login", cfg.AuthHandler.Login)

	// Protected
	protected := router.Group("/api")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	protected.Use(cfg.RateLimitMiddleware.Limit())

	protected.POST("/documents/upload", cfg.DocumentHandler.Upload)
	protected.POST("/documents/search", cfg.DocumentHandler.Search)
	protected.GET("/documents", cfg.DocumentHandler.List)
	protected.GET("/documents/:id", cfg.DocumentHandler.Get)
	protected.POST("/documents/:id/labels", cfg.DocumentHandler.UpdateLabels)
	protected.GET("/labels", cfg.DocumentHandler.ListLabels)
	protected.POST("/chat/ask", cfg.ChatHandler.Ask)

	return router
}
