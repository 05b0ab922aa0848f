package models

import (
	"github.com/google/uuid"
	"time"
)

// Типы сообщений
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeFile  = "file"
	TypeEmoji = "emoji"
)

// Message хранимая запись сообщения. JSON-теги совпадают с форматом событий
// на проводе, поэтому сохраненная запись рассылается клиентам как есть.
// После записи изменяется только флаг IsRead (false -> true).
type Message struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RoomID      string    `gorm:"not null;index" json:"roomId"`
	Sender      string    `gorm:"not null" json:"sender"`
	Receiver    string    `json:"receiver"`
	Message     string    `gorm:"not null" json:"message"`
	MessageType string    `gorm:"default:'text'" json:"messageType"`
	FileURL     string    `json:"fileUrl,omitempty"`
	FileName    string    `json:"fileName,omitempty"`
	FileSize    int64     `json:"fileSize,omitempty"`
	IsRead      bool      `gorm:"default:false" json:"isRead"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`

	// Seq монотонный порядок добавления в журнал: разрешает записи
	// с одинаковой меткой времени
	Seq int64 `gorm:"autoIncrement;uniqueIndex" json:"-"`
}
