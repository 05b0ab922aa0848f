package presence

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const keyPrefix = "presence:last_seen:"

var ErrNeverSeen = errors.New("user has never been seen")

// Cmdable минимальный срез redis-клиента, который нужен трекеру.
type Cmdable interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Tracker хранит отметку last seen пользователя в Redis.
// Ошибки Redis логируются и не влияют на доставку сообщений.
type Tracker struct {
	client Cmdable
	log    *zap.Logger
}

func NewTracker(client Cmdable, log *zap.Logger) *Tracker {
	if client == nil {
		return nil
	}
	return &Tracker{client: client, log: log}
}

// Touch обновляет отметку last seen текущим временем.
func (t *Tracker) Touch(ctx context.Context, userID string) {
	if t == nil || userID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := t.client.Set(ctx, keyPrefix+userID, now, 0).Err(); err != nil {
		t.log.Warn("presence touch failed", zap.String("user", userID), zap.Error(err))
	}
}

// LastSeen возвращает последнюю отметку активности пользователя.
func (t *Tracker) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	if t == nil {
		return time.Time{}, ErrNeverSeen
	}

	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	val, err := t.client.Get(ctx, keyPrefix+userID).Result()
	if err == redis.Nil {
		return time.Time{}, ErrNeverSeen
	}
	if err != nil {
		return time.Time{}, err
	}

	return time.Parse(time.RFC3339Nano, val)
}
