package websocket

import "encoding/json"

// EventType определяет типы событий протокола
type EventType string

const (
	// Клиент -> сервер
	TypeJoin       EventType = "join"
	TypeChat       EventType = "chat"
	TypeFileMsg    EventType = "fileMessage"
	TypeTyping     EventType = "typing"
	TypeStopTyping EventType = "stopTyping"
	TypeMarkAsRead EventType = "markAsRead"

	// Сервер -> клиент
	TypeLoadMessages EventType = "loadMessages"
	TypeMessagesRead EventType = "messagesRead"
	TypeUserJoined   EventType = "userJoined"
	TypeUserLeft     EventType = "userLeft"
	TypeError        EventType = "error"
)

// Event конверт события на проводе
type Event struct {
	Type EventType       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent сериализует полезную нагрузку в готовый к отправке конверт.
func NewEvent(eventType EventType, data interface{}) ([]byte, error) {
	evt := Event{Type: eventType}

	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		evt.Data = payload
	}

	return json.Marshal(evt)
}

// JoinPayload запрос на вход в комнату
type JoinPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

// ChatPayload входящее текстовое сообщение
type ChatPayload struct {
	RoomID      string `json:"roomId" validate:"required"`
	Sender      string `json:"sender" validate:"required"`
	Receiver    string `json:"receiver"`
	Message     string `json:"message" validate:"required"`
	MessageType string `json:"messageType,omitempty" validate:"omitempty,oneof=text image file emoji"`
}

// FilePayload сообщение с вложением; метаданные файла уже получены
// от процессора загрузок через POST /api/upload
type FilePayload struct {
	RoomID      string `json:"roomId" validate:"required"`
	Sender      string `json:"sender" validate:"required"`
	Receiver    string `json:"receiver"`
	FileURL     string `json:"fileUrl" validate:"required"`
	FileName    string `json:"fileName" validate:"required"`
	FileSize    int64  `json:"fileSize"`
	MessageType string `json:"messageType,omitempty" validate:"omitempty,oneof=text image file emoji"`
}

// TypingPayload индикатор набора текста
type TypingPayload struct {
	RoomID string `json:"roomId" validate:"required"`
	Sender string `json:"sender" validate:"required"`
}

// MarkReadPayload запрос на пометку сообщений прочитанными
type MarkReadPayload struct {
	RoomID string `json:"roomId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

// PresencePayload уведомление о входе/выходе участника
type PresencePayload struct {
	RoomID string `json:"roomId"`
}

// ErrorPayload сообщение об ошибке для инициатора события
type ErrorPayload struct {
	Message string `json:"message"`
}
