package broker

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/pairchat/internal/models"
	ws "github.com/thereayou/pairchat/internal/websocket"
	"go.uber.org/zap"
)

// fakeStore журнал сообщений в памяти для тестов брокера
type fakeStore struct {
	mu       sync.Mutex
	messages []models.Message
	nextSeq  int64
	failSave bool
	failRead bool
}

func (s *fakeStore) SaveMessage(message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSave {
		return errors.New("storage unavailable")
	}

	message.ID = uuid.New()
	s.nextSeq++
	message.Seq = s.nextSeq
	s.messages = append(s.messages, *message)
	return nil
}

// GetRoomMessages повторяет порядок выборки адаптера:
// ORDER BY timestamp ASC, seq ASC
func (s *fakeStore) GetRoomMessages(roomID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failRead {
		return nil, errors.New("storage unavailable")
	}

	var result []models.Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			result = append(result, m)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

func (s *fakeStore) MarkMessagesRead(roomID, reader string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for i := range s.messages {
		if s.messages[i].RoomID == roomID && s.messages[i].Receiver == reader && !s.messages[i].IsRead {
			s.messages[i].IsRead = true
			updated++
		}
	}
	return updated, nil
}

func newTestBroker(store MessageStore) (*Broker, *ws.Hub) {
	hub := ws.NewHub(zap.NewNop(), nil)
	return New(store, hub, nil, zap.NewNop()), hub
}

func rawEvent(t *testing.T, eventType ws.EventType, payload interface{}) *ws.Event {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &ws.Event{Type: eventType, Data: data}
}

func nextEvent(t *testing.T, c *ws.Client) ws.Event {
	t.Helper()

	select {
	case data := <-c.Send:
		var evt ws.Event
		require.NoError(t, json.Unmarshal(data, &evt))
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return ws.Event{}
	}
}

func nextChatMessage(t *testing.T, c *ws.Client) models.Message {
	t.Helper()

	evt := nextEvent(t, c)
	require.Equal(t, ws.TypeChat, evt.Type)

	var msg models.Message
	require.NoError(t, json.Unmarshal(evt.Data, &msg))
	return msg
}

func requireNoEvent(t *testing.T, c *ws.Client) {
	t.Helper()

	select {
	case data := <-c.Send:
		t.Fatalf("unexpected event: %s", data)
	default:
	}
}

// join подключает клиента к комнате через брокер и съедает loadMessages
func join(t *testing.T, b *Broker, c *ws.Client, roomID string) []models.Message {
	t.Helper()

	require.NoError(t, b.HandleEvent(c, rawEvent(t, ws.TypeJoin, ws.JoinPayload{RoomID: roomID})))

	evt := nextEvent(t, c)
	require.Equal(t, ws.TypeLoadMessages, evt.Type)

	var history []models.Message
	if len(evt.Data) > 0 {
		require.NoError(t, json.Unmarshal(evt.Data, &history))
	}
	return history
}

func Test_Chat_Is_Persisted_Then_Broadcast_To_All_Including_Sender(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}
	b, hub := newTestBroker(store)

	alice := ws.NewClient(hub, nil, "alice")
	bob := ws.NewClient(hub, nil, "bob")
	join(t, b, alice, "alice_bob")
	join(t, b, bob, "alice_bob")
	nextEvent(t, alice) // userJoined от bob

	err := b.HandleEvent(alice, rawEvent(t, ws.TypeChat, ws.ChatPayload{
		RoomID:   "alice_bob",
		Sender:   "alice",
		Receiver: "bob",
		Message:  "hello",
	}))
	req.NoError(err)

	// Отправитель тоже получает копию (консистентность нескольких вкладок)
	for _, c := range []*ws.Client{alice, bob} {
		msg := nextChatMessage(t, c)
		req.Equal("hello", msg.Message)
		req.Equal("alice", msg.Sender)
		req.Equal("text", msg.MessageType)
		req.False(msg.IsRead)
		req.NotEqual(uuid.Nil, msg.ID)
		requireNoEvent(t, c)
	}

	req.Len(store.messages, 1)
}

func Test_Broadcast_Order_Matches_Append_Order(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}
	b, hub := newTestBroker(store)

	alice := ws.NewClient(hub, nil, "alice")
	bob := ws.NewClient(hub, nil, "bob")
	join(t, b, alice, "alice_bob")
	join(t, b, bob, "alice_bob")
	nextEvent(t, alice)

	bodies := []string{"one", "two", "three", "four", "five"}
	for _, body := range bodies {
		req.NoError(b.HandleEvent(alice, rawEvent(t, ws.TypeChat, ws.ChatPayload{
			RoomID: "alice_bob", Sender: "alice", Receiver: "bob", Message: body,
		})))
	}

	for i, body := range bodies {
		msg := nextChatMessage(t, bob)
		req.Equal(body, msg.Message)
		req.Equal(store.messages[i].ID, msg.ID)
	}
}

func Test_Storage_Failure_Broadcasts_Nothing(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{failSave: true}
	b, hub := newTestBroker(store)

	alice := ws.NewClient(hub, nil, "alice")
	bob := ws.NewClient(hub, nil, "bob")
	join(t, b, alice, "alice_bob")
	join(t, b, bob, "alice_bob")
	nextEvent(t, alice)

	err := b.HandleEvent(alice, rawEvent(t, ws.TypeChat, ws.ChatPayload{
		RoomID: "alice_bob", Sender: "alice", Receiver: "bob", Message: "hello",
	}))
	req.Error(err)

	requireNoEvent(t, alice)
	requireNoEvent(t, bob)
	req.Empty(store.messages)

	// Членство в комнате не пострадало
	req.ElementsMatch([]string{"alice", "bob"}, hub.RoomUsers("alice_bob"))
}

func Test_Join_Replays_Full_Ordered_History(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}
	b, hub := newTestBroker(store)

	alice := ws.NewClient(hub, nil, "alice")
	join(t, b, alice, "alice_bob")
	for _, body := range []string{"first", "second", "third"} {
		req.NoError(b.HandleEvent(alice, rawEvent(t, ws.TypeChat, ws.ChatPayload{
			RoomID: "alice_bob", Sender: "alice", Receiver: "bob", Message: body,
		})))
		nextChatMessage(t, alice)
	}

	bob := ws.NewClient(hub, nil, "bob")
	history := join(t, b, bob, "alice_bob")

	req.Len(history, 3)
	req.Equal("first", history[0].Message)
	req.Equal("second", history[1].Message)
	req.Equal("third", history[2].Message)
}

func Test_Join_History_Read_Failure_Reported_To_Joiner_Only(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{failRead: true}
	b, hub := newTestBroker(store)

	alice := ws.NewClient(hub, nil, "alice")
	err := b.HandleEvent(alice, rawEvent(t, ws.TypeJoin, ws.JoinPayload{RoomID: "alice_bob"}))
	req.Error(err)
	requireNoEvent(t, alice)
	req.True(hub.HasRoom("alice_bob")) // сессия зарегистрирована, история придет после переподключения
}

func Test_Join_Rejects_Malformed_Room_Id(t *testing.T) {
	req := require.New(t)
	b, _ := newTestBroker(&fakeStore{})

	alice := ws.NewClient(b.hub, nil, "alice")
	err := b.HandleEvent(alice, rawEvent(t, ws.TypeJoin, ws.JoinPayload{RoomID: "noseparator"}))
	req.ErrorIs(err, ws.ErrInvalidRoom)
}

func Test_Typing_Excludes_Sender_And_Is_Not_Persisted(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}
	b, hub := newTestBroker(store)

	alice := ws.NewClient(hub, nil, "alice")
	bob := ws.NewClient(hub, nil, "bob")
	join(t, b, alice, "alice_bob")
	join(t, b, bob, "alice_bob")
	nextEvent(t, alice)

	req.NoError(b.HandleEvent(alice, rawEvent(t, ws.TypeTyping, ws.TypingPayload{
		RoomID: "alice_bob", Sender: "alice",
	})))

	evt := nextEvent(t, bob)
	req.Equal(ws.TypeTyping, evt.Type)
	requireNoEvent(t, alice)
	req.Empty(store.messages)

	req.NoError(b.HandleEvent(alice, rawEvent(t, ws.TypeStopTyping, ws.TypingPayload{
		RoomID: "alice_bob", Sender: "alice",
	})))
	req.Equal(ws.TypeStopTyping, nextEvent(t, bob).Type)
}

func Test_MarkRead_Is_Idempotent_And_Notifies_Room(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}
	b, hub := newTestBroker(store)

	alice := ws.NewClient(hub, nil, "alice")
	bob := ws.NewClient(hub, nil, "bob")
	join(t, b, alice, "alice_bob")
	join(t, b, bob, "alice_bob")
	nextEvent(t, alice)

	req.NoError(b.HandleEvent(alice, rawEvent(t, ws.TypeChat, ws.ChatPayload{
		RoomID: "alice_bob", Sender: "alice", Receiver: "bob", Message: "hello",
	})))
	nextChatMessage(t, alice)
	nextChatMessage(t, bob)

	markRead := rawEvent(t, ws.TypeMarkAsRead, ws.MarkReadPayload{RoomID: "alice_bob", UserID: "bob"})
	req.NoError(b.HandleEvent(bob, markRead))

	evt := nextEvent(t, alice)
	req.Equal(ws.TypeMessagesRead, evt.Type)
	requireNoEvent(t, bob) // читатель сам уведомление не получает
	req.True(store.messages[0].IsRead)

	// Повторный вызов без новых сообщений ничего не меняет
	updated, err := store.MarkMessagesRead("alice_bob", "bob")
	req.NoError(err)
	req.Zero(updated)
	req.NoError(b.HandleEvent(bob, markRead))
}

func Test_File_Message_Carries_Attachment_And_Broadcasts_As_Chat(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}
	b, hub := newTestBroker(store)

	alice := ws.NewClient(hub, nil, "alice")
	bob := ws.NewClient(hub, nil, "bob")
	join(t, b, alice, "alice_bob")
	join(t, b, bob, "alice_bob")
	nextEvent(t, alice)

	req.NoError(b.HandleEvent(alice, rawEvent(t, ws.TypeFileMsg, ws.FilePayload{
		RoomID:      "alice_bob",
		Sender:      "alice",
		Receiver:    "bob",
		FileURL:     "/uploads/compressed-file-1.jpg",
		FileName:    "cat.png",
		FileSize:    2048,
		MessageType: "image",
	})))

	msg := nextChatMessage(t, bob)
	req.Equal("cat.png", msg.Message) // тело - имя файла
	req.Equal("image", msg.MessageType)
	req.Equal("/uploads/compressed-file-1.jpg", msg.FileURL)
	req.Equal(int64(2048), msg.FileSize)
}

func Test_Empty_Message_Rejected_Before_Side_Effects(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}
	b, hub := newTestBroker(store)

	alice := ws.NewClient(hub, nil, "alice")
	join(t, b, alice, "alice_bob")

	err := b.HandleEvent(alice, rawEvent(t, ws.TypeChat, ws.ChatPayload{
		RoomID: "alice_bob", Sender: "alice", Message: "",
	}))
	req.Error(err)
	req.Empty(store.messages)
	requireNoEvent(t, alice)
}

func Test_Concurrent_Sends_Keep_Journal_Order_Monotonic(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}
	b, hub := newTestBroker(store)

	alice := ws.NewClient(hub, nil, "alice")
	join(t, b, alice, "alice_bob")

	evt := rawEvent(t, ws.TypeChat, ws.ChatPayload{
		RoomID: "alice_bob", Sender: "alice", Receiver: "bob", Message: "ping",
	})

	const goroutines, perGoroutine = 8, 25

	var failed atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if err := b.HandleEvent(alice, evt); err != nil {
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	req.Zero(failed.Load())
	req.Len(store.messages, goroutines*perGoroutine)

	// Метки времени не убывают в порядке добавления, Seq строго растет
	for i := 1; i < len(store.messages); i++ {
		req.False(store.messages[i].Timestamp.Before(store.messages[i-1].Timestamp),
			"timestamp regressed at offset %d", i)
		req.Greater(store.messages[i].Seq, store.messages[i-1].Seq)
	}

	// Выборка истории возвращает тот же порядок, что и порядок добавления
	history, err := store.GetRoomMessages("alice_bob")
	req.NoError(err)
	req.Len(history, len(store.messages))
	for i := range history {
		req.Equal(store.messages[i].ID, history[i].ID)
	}
}

func Test_Equal_Timestamps_Ordered_By_Sequence(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}

	// Postgres усекает метку до микросекунд: две записи могут получить
	// одинаковый timestamp, порядок тогда определяется seq
	at := time.Now().UTC().Truncate(time.Microsecond)
	first := &models.Message{RoomID: "alice_bob", Sender: "alice", Message: "first", Timestamp: at}
	second := &models.Message{RoomID: "alice_bob", Sender: "alice", Message: "second", Timestamp: at}
	req.NoError(store.SaveMessage(first))
	req.NoError(store.SaveMessage(second))
	req.Less(first.Seq, second.Seq)

	history, err := store.GetRoomMessages("alice_bob")
	req.NoError(err)
	req.Equal("first", history[0].Message)
	req.Equal("second", history[1].Message)
}

func Test_Room_Lock_Released_After_Room_Empties(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}
	b, hub := newTestBroker(store)
	go hub.Run()
	defer hub.Stop()

	alice := ws.NewClient(hub, nil, "alice")
	hub.Register(alice)
	join(t, b, alice, "alice_bob")

	req.NoError(b.HandleEvent(alice, rawEvent(t, ws.TypeChat, ws.ChatPayload{
		RoomID: "alice_bob", Sender: "alice", Receiver: "bob", Message: "hello",
	})))
	nextChatMessage(t, alice)

	b.mu.Lock()
	req.Len(b.roomLocks, 1)
	b.mu.Unlock()

	// Последний участник уходит, комната удаляется вместе с мьютексом
	hub.Unregister(alice)

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.roomLocks) == 0
	}, time.Second, 10*time.Millisecond)
}

func Test_Chat_Rejects_Unknown_Message_Type(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}
	b, hub := newTestBroker(store)

	alice := ws.NewClient(hub, nil, "alice")
	join(t, b, alice, "alice_bob")

	err := b.HandleEvent(alice, rawEvent(t, ws.TypeChat, ws.ChatPayload{
		RoomID: "alice_bob", Sender: "alice", Message: "hi", MessageType: "sticker",
	}))
	req.Error(err)
	req.Empty(store.messages)
	requireNoEvent(t, alice)

	// Каждый тип из допустимого набора проходит
	req.NoError(b.HandleEvent(alice, rawEvent(t, ws.TypeChat, ws.ChatPayload{
		RoomID: "alice_bob", Sender: "alice", Message: "\U0001F525", MessageType: models.TypeEmoji,
	})))
	msg := nextChatMessage(t, alice)
	req.Equal(models.TypeEmoji, msg.MessageType)
}

func Test_End_To_End_Two_Party_Scenario(t *testing.T) {
	req := require.New(t)
	store := &fakeStore{}
	b, hub := newTestBroker(store)

	roomID := "A_B"

	a := ws.NewClient(hub, nil, "A")
	req.Empty(join(t, b, a, roomID))

	bClient := ws.NewClient(hub, nil, "B")
	req.Empty(join(t, b, bClient, roomID))
	req.Equal(ws.TypeUserJoined, nextEvent(t, a).Type)

	req.NoError(b.HandleEvent(a, rawEvent(t, ws.TypeChat, ws.ChatPayload{
		RoomID: roomID, Sender: "A", Receiver: "B", Message: "hello",
	})))

	for _, c := range []*ws.Client{a, bClient} {
		msg := nextChatMessage(t, c)
		req.Equal("hello", msg.Message)
		req.Equal("A", msg.Sender)
		req.False(msg.IsRead)
	}

	req.NoError(b.HandleEvent(bClient, rawEvent(t, ws.TypeMarkAsRead, ws.MarkReadPayload{
		RoomID: roomID, UserID: "B",
	})))
	req.Equal(ws.TypeMessagesRead, nextEvent(t, a).Type)

	history, err := store.GetRoomMessages(roomID)
	req.NoError(err)
	req.Len(history, 1)
	req.True(history[0].IsRead)
}
