package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/akarpov/llmbot-backend/internal/handlers"
)

type RouterConfig struct {
	ChatHandler *handlers.ChatHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://localhost:8080"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/v1")
	{
		api.POST("/chat/handle", cfg.ChatHandler.HandleChat)
		api.POST("/chat/reset", cfg.ChatHandler.ResetChat)
	}

	return router
}
