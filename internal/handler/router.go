package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docchat/internal/middleware"
)

type RouterDeps struct {
	Documents     *DocumentHandler
	Sessions      *SessionHandler
	Chat          *ChatHandler
	Files         *FileHandler
	JWTSecret     []byte
	ChatRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	authGroup.POST("/documents", deps.Documents.Upload)
	authGroup.GET("/documents", deps.Documents.List)
	authGroup.GET("/documents/:id", deps.Documents.Get)
	authGroup.DELETE("/documents/:id", deps.Documents.Delete)
	authGroup.GET("/documents/:id/url", deps.Documents.URL)
	authGroup.POST("/documents/:id/repair", deps.Documents.Repair)

	authGroup.POST("/sessions", deps.Sessions.Open)
	authGroup.GET("/sessions", deps.Sessions.List)
	authGroup.GET("/sessions/:id/messages", deps.Sessions.Messages)

	chatGroup := authGroup.Group("/chat")
	chatGroup.Use(middleware.RateLimit(deps.ChatRateLimit))
	chatGroup.POST("/ask", deps.Chat.Ask)
	chatGroup.POST("/stream", deps.Chat.Stream)

	api.GET("/files/*key", deps.Files.Get)
}
