package database

import (
	"github.com/thereayou/pairchat/internal/models"
)

func (d *Database) SaveMessage(message *models.Message) error {
	return d.db.Create(message).Error
}

// GetRoomMessages возвращает полную историю комнаты, старые сообщения первыми.
// Seq разрешает записи, попавшие в одну и ту же метку времени (postgres
// усекает ее до микросекунд), поэтому порядок выборки совпадает с порядком
// добавления.
func (d *Database) GetRoomMessages(roomID string) ([]models.Message, error) {
	var messages []models.Message

	err := d.db.
		Where("room_id = ?", roomID).
		Order("timestamp ASC, seq ASC").
		Find(&messages).Error

	if err != nil {
		return nil, err
	}

	return messages, nil
}

// MarkMessagesRead помечает прочитанными все непрочитанные сообщения,
// адресованные reader. Возвращает число обновленных записей: повторный
// вызов без новых сообщений дает 0.
func (d *Database) MarkMessagesRead(roomID, reader string) (int64, error) {
	res := d.db.
		Model(&models.Message{}).
		Where("room_id = ? AND receiver = ? AND is_read = ?", roomID, reader, false).
		Update("is_read", true)

	return res.RowsAffected, res.Error
}
