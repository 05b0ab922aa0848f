package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/pairchat/internal/presence"
	"go.uber.org/zap"
)

type PresenceHandler struct {
	tracker *presence.Tracker
	log     *zap.Logger
}

func NewPresenceHandler(tracker *presence.Tracker, log *zap.Logger) *PresenceHandler {
	return &PresenceHandler{tracker: tracker, log: log}
}

// GetLastSeen возвращает последнюю отметку активности пользователя
func (h *PresenceHandler) GetLastSeen(c *gin.Context) {
	userID := c.Param("id")

	lastSeen, err := h.tracker.LastSeen(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, presence.ErrNeverSeen) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user has never been seen"})
			return
		}
		h.log.Error("last seen lookup failed", zap.String("user", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch last seen"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":     userID,
		"lastSeenAt": lastSeen,
	})
}
