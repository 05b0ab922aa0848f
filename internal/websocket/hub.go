package websocket

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/thereayou/pairchat/internal/presence"
	"go.uber.org/zap"
)

// Hub владеет реестром комнат и трекером сессий. Создается при старте
// процесса, останавливается при завершении; глобального состояния нет.
type Hub struct {
	// Все живые сессии
	clients map[uuid.UUID]*Client

	// Участники по идентификатору комнаты
	rooms map[string]map[uuid.UUID]*Client

	// Каналы для регистрации/отмены регистрации
	register   chan *Client
	unregister chan *Client

	presence *presence.Tracker
	log      *zap.Logger

	// Хук удаления опустевшей комнаты (устанавливается брокером)
	onRoomEmpty func(roomID string)

	mu sync.RWMutex

	// Контекст для graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub создает новый Hub
func NewHub(log *zap.Logger, tracker *presence.Tracker) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		rooms:      make(map[string]map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		presence:   tracker,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run запускает hub
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

// Stop останавливает hub
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.markClosed()
		if client.Conn != nil {
			client.Conn.Close()
		}
	}
}

// Register регистрирует нового клиента
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister отменяет регистрацию клиента
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client

	h.log.Info("client registered",
		zap.String("client", client.ID.String()),
		zap.String("user", client.UserID))

	go h.presence.Touch(context.Background(), client.UserID)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	if roomID := client.Room(); roomID != "" {
		h.removeFromRoomLocked(client, roomID)
	}

	delete(h.clients, client.ID)
	client.markClosed()

	h.log.Info("client unregistered",
		zap.String("client", client.ID.String()),
		zap.String("user", client.UserID))

	go h.presence.Touch(context.Background(), client.UserID)
}

// JoinRoom добавляет клиента в комнату и уведомляет остальных участников.
// Сессия находится не более чем в одной комнате: повторный join переносит
// клиента из предыдущей комнаты (последний join выигрывает).
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev := client.Room(); prev != "" && prev != roomID {
		h.removeFromRoomLocked(client, prev)
	}

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[uuid.UUID]*Client)
	}

	h.rooms[roomID][client.ID] = client
	client.setRoom(roomID)

	// Уведомление о входе строго best-effort: без повторов и подтверждений
	if data, err := NewEvent(TypeUserJoined, PresencePayload{RoomID: roomID}); err == nil {
		h.sendToRoomLocked(roomID, data, client.ID)
	}
}

// OnRoomEmpty регистрирует хук, вызываемый после удаления опустевшей
// комнаты из реестра. Хук вызывается под мьютексом hub-а.
func (h *Hub) OnRoomEmpty(fn func(roomID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.onRoomEmpty = fn
}

func (h *Hub) removeFromRoomLocked(client *Client, roomID string) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}

	if _, ok := room[client.ID]; !ok {
		return
	}

	delete(room, client.ID)
	client.setRoom("")

	if len(room) == 0 {
		// Пустые комнаты не хранятся
		delete(h.rooms, roomID)
		if h.onRoomEmpty != nil {
			h.onRoomEmpty(roomID)
		}
		return
	}

	if data, err := NewEvent(TypeUserLeft, PresencePayload{RoomID: roomID}); err == nil {
		h.sendToRoomLocked(roomID, data, client.ID)
	}
}

// SendToRoom рассылает кадр всем участникам комнаты, включая отправителя
func (h *Hub) SendToRoom(roomID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.sendToRoomLocked(roomID, message, uuid.Nil)
}

// SendToRoomExcept рассылает кадр всем участникам комнаты, кроме excludeID
func (h *Hub) SendToRoomExcept(roomID string, message []byte, excludeID uuid.UUID) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.sendToRoomLocked(roomID, message, excludeID)
}

func (h *Hub) sendToRoomLocked(roomID string, message []byte, excludeID uuid.UUID) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}

	for _, client := range room {
		if client.ID == excludeID {
			continue
		}
		if err := client.enqueue(message); err != nil {
			h.log.Warn("dropping frame for client",
				zap.String("client", client.ID.String()),
				zap.Error(err))
		}
	}
}

// RoomClients возвращает сессии, находящиеся в комнате
func (h *Hub) RoomClients(roomID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return nil
	}

	return lo.Values(room)
}

// RoomUsers возвращает пользователей в комнате без дубликатов
func (h *Hub) RoomUsers(roomID string) []string {
	clients := h.RoomClients(roomID)

	return lo.Uniq(lo.Map(clients, func(c *Client, _ int) string {
		return c.UserID
	}))
}

// HasRoom сообщает, существует ли комната в реестре
func (h *Hub) HasRoom(roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.rooms[roomID]
	return ok
}

// ClientCount возвращает число живых сессий
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// RoomCount возвращает число активных комнат
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms)
}
