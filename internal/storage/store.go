package storage

import "context"

// Ключи клиентских настроек.
const (
	KeyDarkMode = "darkMode"
)

func LastSessionKey(username string) string { return "lastSession_" + username }
func StreakKey(username string) string      { return "streak_" + username }

// PrefStore: хранилище клиентских настроек (тема, последняя сессия, серия дней).
// Реализации: redis.Client, memory.Client (по умолчанию, без Redis).
type PrefStore interface {
	// Get возвращает значение и false, если ключа нет.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
