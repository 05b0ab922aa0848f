package main

import (
	"github.com/gin-gonic/gin"
	"github.com/thereayou/pairchat/internal/config"
	"github.com/thereayou/pairchat/internal/handlers"
)

func APIEndpoints(
	r *gin.Engine,
	cfg *config.Config,
	wsH *handlers.WebSocketHandler,
	msgH *handlers.HTTPMessageHandler,
	uploadH *handlers.UploadHandler,
	presenceH *handlers.PresenceHandler,
) {
	// Загруженные файлы раздаются статикой
	r.Static("/uploads", cfg.UploadDir)

	r.GET("/ws", wsH.HandleWebSocket)

	api := r.Group("/api")
	{
		api.GET("/health", handlers.Health)
		api.POST("/upload", uploadH.Upload)
		api.GET("/rooms/:roomId/messages", msgH.GetRoomMessages)
		api.GET("/users/:id/last-seen", presenceH.GetLastSeen)
	}
}
