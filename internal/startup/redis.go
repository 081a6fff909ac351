package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/classfeed/internal/config"
	"github.com/classfeed/internal/logger"
	"github.com/classfeed/internal/storage"
	"github.com/classfeed/internal/storage/memory"
	redisstorage "github.com/classfeed/internal/storage/redis"
)

// OpenPrefStore выбирает хранилище настроек по конфигу: "memory" (по умолчанию) или "redis".
func OpenPrefStore(ctx context.Context, cfg config.PrefsConfig, maxWait time.Duration) (storage.PrefStore, error) {
	switch cfg.Store {
	case "", "memory":
		return memory.New(), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("prefs store redis: REDIS_URL is empty")
		}
		return ConnectRedisWithRetry(ctx, cfg.RedisURL, maxWait, "prefs: ")
	default:
		return nil, fmt.Errorf("unknown prefs store %q", cfg.Store)
	}
}

// ConnectRedisWithRetry подключается к Redis с повторами.
// logPrefix добавляется к сообщениям лога (например "prefs: ").
func ConnectRedisWithRetry(ctx context.Context, redisURL string, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstorage.New(dialCtx, redisURL)
		cancel()
		if err == nil {
			return client, nil
		}
		if time.Now().After(deadline) {
			logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
			return nil, err
		}
		logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
