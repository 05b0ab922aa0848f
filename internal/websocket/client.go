package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время ожидания записи
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента
	pongWait = 60 * time.Second

	// Интервал отправки ping
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер сообщения
	maxMessageSize = 512 * 1024 // 512KB
)

// ClientEventHandler обрабатывает входящие события клиента
type ClientEventHandler interface {
	HandleEvent(client *Client, evt *Event) error
}

// Client одно живое соединение. Сессия существует только в памяти процесса
// и принадлежит не более чем одной комнате одновременно.
type Client struct {
	ID       uuid.UUID
	UserID   string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
	JoinedAt time.Time

	mu           sync.RWMutex
	room         string
	lastActivity time.Time
	closed       bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	now := time.Now()
	return &Client{
		ID:           uuid.New(),
		UserID:       userID,
		Conn:         conn,
		Send:         make(chan []byte, 256),
		Hub:          hub,
		JoinedAt:     now,
		lastActivity: now,
	}
}

// Room возвращает текущую комнату клиента ("" если не в комнате)
func (c *Client) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Client) setRoom(roomID string) {
	c.mu.Lock()
	c.room = roomID
	c.mu.Unlock()
}

// Touch обновляет отметку активности сессии
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// ReadPump читает события от клиента и передает их обработчику.
// Отключение клиента приводит к отмене регистрации в Hub.
func (c *Client) ReadPump(handler ClientEventHandler) {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var evt Event
		err := c.Conn.ReadJSON(&evt)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("websocket read error", zap.String("client", c.ID.String()), zap.Error(err))
			}
			break
		}

		c.Touch()

		if handler != nil {
			// Ошибка одного события не роняет соединение: отправляем ее
			// инициатору и продолжаем читать
			if err := handler.HandleEvent(c, &evt); err != nil {
				c.Hub.log.Warn("event handling failed",
					zap.String("client", c.ID.String()),
					zap.String("event", string(evt.Type)),
					zap.Error(err))
				c.SendError(err.Error())
			}
		}
	}
}

// WritePump отправляет события клиенту
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Отправляем все накопившиеся события, сохраняя порядок
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent сериализует и ставит событие в очередь отправки клиенту
func (c *Client) SendEvent(eventType EventType, data interface{}) error {
	msg, err := NewEvent(eventType, data)
	if err != nil {
		return err
	}
	return c.enqueue(msg)
}

func (c *Client) SendError(message string) {
	c.SendEvent(TypeError, ErrorPayload{Message: message})
}

// enqueue кладет готовый кадр в очередь. Канал закрывается Hub-ом под тем же
// мьютексом, поэтому отправка в закрытый канал невозможна.
func (c *Client) enqueue(msg []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.Send <- msg:
		return nil
	default:
		return ErrClientQueueFull
	}
}

func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
