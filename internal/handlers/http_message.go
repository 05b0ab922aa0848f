package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/pairchat/internal/broker"
	"github.com/thereayou/pairchat/pkg/roomkey"
	"go.uber.org/zap"
)

type HTTPMessageHandler struct {
	store broker.MessageStore
	log   *zap.Logger
}

func NewHTTPMessageHandler(store broker.MessageStore, log *zap.Logger) *HTTPMessageHandler {
	return &HTTPMessageHandler{store: store, log: log}
}

// GetRoomMessages получает историю сообщений комнаты, старые первыми
func (h *HTTPMessageHandler) GetRoomMessages(c *gin.Context) {
	roomID := c.Param("roomId")

	if !roomkey.IsValid(roomID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	messages, err := h.store.GetRoomMessages(roomID)
	if err != nil {
		h.log.Error("failed to fetch messages", zap.String("room", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}

	c.JSON(http.StatusOK, messages)
}

// Health проверка живости сервиса
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC(),
	})
}
