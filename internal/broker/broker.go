package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/thereayou/pairchat/internal/models"
	"github.com/thereayou/pairchat/internal/presence"
	ws "github.com/thereayou/pairchat/internal/websocket"
	"github.com/thereayou/pairchat/pkg/roomkey"
	"go.uber.org/zap"
)

// MessageStore упорядоченный журнал сообщений комнаты. Брокер не делает
// предположений о движке хранения, ему важна только долговечность записи
// до подтверждения отправки.
type MessageStore interface {
	SaveMessage(message *models.Message) error
	GetRoomMessages(roomID string) ([]models.Message, error)
	MarkMessagesRead(roomID, reader string) (int64, error)
}

// Broker маршрутизирует входящие события: валидация, запись в журнал,
// рассылка участникам комнаты. Каждое событие обрабатывается независимо,
// ошибка возвращается только инициатору.
type Broker struct {
	store    MessageStore
	hub      *ws.Hub
	presence *presence.Tracker
	log      *zap.Logger
	validate *validator.Validate

	// Мьютекс на комнату: запись в журнал и рассылка для одной комнаты
	// сериализованы, чтобы порядок доставки совпадал с порядком записи.
	// Несвязанные комнаты не блокируют друг друга.
	mu        sync.Mutex
	roomLocks map[string]*roomLock
}

// roomLock мьютекс комнаты со счетчиком ожидающих: запись удаляется из
// реестра только когда ее никто не держит и не ждет
type roomLock struct {
	sync.Mutex
	refs int
}

func New(store MessageStore, hub *ws.Hub, tracker *presence.Tracker, log *zap.Logger) *Broker {
	b := &Broker{
		store:     store,
		hub:       hub,
		presence:  tracker,
		log:       log,
		validate:  validator.New(),
		roomLocks: make(map[string]*roomLock),
	}

	// Hub сообщает об удалении опустевшей комнаты, чтобы ее мьютекс
	// не жил дольше самой комнаты
	hub.OnRoomEmpty(b.releaseRoom)

	return b
}

// HandleEvent единая точка диспетчеризации входящих событий клиента
func (b *Broker) HandleEvent(client *ws.Client, evt *ws.Event) error {
	switch evt.Type {
	case ws.TypeJoin:
		return b.handleJoin(client, evt)

	case ws.TypeChat:
		return b.handleChat(client, evt)

	case ws.TypeFileMsg:
		return b.handleFileMessage(client, evt)

	case ws.TypeTyping, ws.TypeStopTyping:
		return b.handleTyping(client, evt)

	case ws.TypeMarkAsRead:
		return b.handleMarkRead(client, evt)

	default:
		b.log.Warn("unknown event type", zap.String("event", string(evt.Type)))
		return nil
	}
}

// handleJoin регистрирует сессию в комнате и отправляет вошедшему полную
// историю. Снимок истории берется под мьютексом комнаты, поэтому он не
// может пересечься с незавершенной записью в ту же комнату.
func (b *Broker) handleJoin(client *ws.Client, evt *ws.Event) error {
	var payload ws.JoinPayload
	if err := b.decode(evt.Data, &payload); err != nil {
		return err
	}

	if !roomkey.IsValid(payload.RoomID) {
		return ws.ErrInvalidRoom
	}

	lock := b.lockRoom(payload.RoomID)
	defer b.unlockRoom(payload.RoomID, lock)

	b.hub.JoinRoom(client, payload.RoomID)

	messages, err := b.store.GetRoomMessages(payload.RoomID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	go b.presence.Touch(context.Background(), client.UserID)

	b.log.Info("client joined room",
		zap.String("room", payload.RoomID),
		zap.String("user", client.UserID),
		zap.Int("history", len(messages)))

	return client.SendEvent(ws.TypeLoadMessages, messages)
}

// handleChat сохраняет сообщение и рассылает его всем сессиям комнаты,
// включая отправителя. Запись обязана завершиться до рассылки: клиент,
// перезагрузивший историю после получения события, увидит то же сообщение.
func (b *Broker) handleChat(client *ws.Client, evt *ws.Event) error {
	var payload ws.ChatPayload
	if err := b.decode(evt.Data, &payload); err != nil {
		return err
	}

	msgType := payload.MessageType
	if msgType == "" {
		msgType = models.TypeText
	}

	message := &models.Message{
		RoomID:      payload.RoomID,
		Sender:      payload.Sender,
		Receiver:    payload.Receiver,
		Message:     payload.Message,
		MessageType: msgType,
	}

	if err := b.persistAndBroadcast(message); err != nil {
		return err
	}

	go b.presence.Touch(context.Background(), payload.Sender)

	return nil
}

// handleFileMessage то же, что handleChat, но тело сообщения - имя файла,
// а запись несет метаданные вложения, полученные от процессора загрузок
func (b *Broker) handleFileMessage(client *ws.Client, evt *ws.Event) error {
	var payload ws.FilePayload
	if err := b.decode(evt.Data, &payload); err != nil {
		return err
	}

	msgType := payload.MessageType
	if msgType == "" {
		msgType = models.TypeFile
	}

	message := &models.Message{
		RoomID:      payload.RoomID,
		Sender:      payload.Sender,
		Receiver:    payload.Receiver,
		Message:     payload.FileName,
		MessageType: msgType,
		FileURL:     payload.FileURL,
		FileName:    payload.FileName,
		FileSize:    payload.FileSize,
	}

	if err := b.persistAndBroadcast(message); err != nil {
		return err
	}

	go b.presence.Touch(context.Background(), payload.Sender)

	return nil
}

// handleTyping рассылает индикатор набора всем, кроме отправителя.
// Событие эфемерно: без записи, без мьютекса комнаты, без гарантий порядка.
func (b *Broker) handleTyping(client *ws.Client, evt *ws.Event) error {
	var payload ws.TypingPayload
	if err := b.decode(evt.Data, &payload); err != nil {
		return err
	}

	data, err := ws.NewEvent(evt.Type, payload)
	if err != nil {
		return err
	}

	b.hub.SendToRoomExcept(payload.RoomID, data, client.ID)

	return nil
}

// handleMarkRead помечает прочитанными сообщения, адресованные userId,
// и уведомляет остальных участников комнаты. Идемпотентно.
func (b *Broker) handleMarkRead(client *ws.Client, evt *ws.Event) error {
	var payload ws.MarkReadPayload
	if err := b.decode(evt.Data, &payload); err != nil {
		return err
	}

	lock := b.lockRoom(payload.RoomID)
	defer b.unlockRoom(payload.RoomID, lock)

	updated, err := b.store.MarkMessagesRead(payload.RoomID, payload.UserID)
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}

	if updated > 0 {
		b.log.Info("messages marked read",
			zap.String("room", payload.RoomID),
			zap.String("user", payload.UserID),
			zap.Int64("updated", updated))
	}

	data, err := ws.NewEvent(ws.TypeMessagesRead, payload)
	if err != nil {
		return err
	}

	b.hub.SendToRoomExcept(payload.RoomID, data, client.ID)

	go b.presence.Touch(context.Background(), payload.UserID)

	return nil
}

// persistAndBroadcast записывает сообщение в журнал и рассылает сохраненную
// запись в комнату. При ошибке записи рассылки не происходит, состояние
// комнаты не меняется.
func (b *Broker) persistAndBroadcast(message *models.Message) error {
	lock := b.lockRoom(message.RoomID)
	defer b.unlockRoom(message.RoomID, lock)

	// Метка времени присваивается под мьютексом комнаты: порядок меток
	// не убывает в порядке добавления в журнал
	message.Timestamp = time.Now().UTC()

	if err := b.store.SaveMessage(message); err != nil {
		b.log.Error("failed to save message",
			zap.String("room", message.RoomID),
			zap.Error(err))
		return fmt.Errorf("save message: %w", err)
	}

	data, err := ws.NewEvent(ws.TypeChat, message)
	if err != nil {
		return err
	}

	b.hub.SendToRoom(message.RoomID, data)

	return nil
}

// decode разбирает и валидирует полезную нагрузку события
func (b *Broker) decode(data json.RawMessage, payload interface{}) error {
	if len(data) == 0 {
		return ws.ErrInvalidEvent
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return ws.ErrInvalidEvent
	}

	if err := b.validate.Struct(payload); err != nil {
		return err
	}

	return nil
}

func (b *Broker) lockRoom(roomID string) *roomLock {
	b.mu.Lock()
	lock, ok := b.roomLocks[roomID]
	if !ok {
		lock = &roomLock{}
		b.roomLocks[roomID] = lock
	}
	lock.refs++
	b.mu.Unlock()

	lock.Lock()
	return lock
}

func (b *Broker) unlockRoom(roomID string, lock *roomLock) {
	lock.Unlock()

	// HasRoom берет мьютекс hub-а, поэтому читается до захвата b.mu:
	// hub вызывает releaseRoom под своим мьютексом
	roomAlive := b.hub.HasRoom(roomID)

	b.mu.Lock()
	lock.refs--
	if lock.refs == 0 && !roomAlive {
		delete(b.roomLocks, roomID)
	}
	b.mu.Unlock()
}

// releaseRoom вызывается hub-ом после удаления опустевшей комнаты.
// Занятый мьютекс не трогаем: его удалит unlockRoom текущего держателя.
func (b *Broker) releaseRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if lock, ok := b.roomLocks[roomID]; ok && lock.refs == 0 {
		delete(b.roomLocks, roomID)
	}
}
