package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Все ключи настроек лежат под общим префиксом, чтобы не пересекаться с другими данными в БД.
const keyPrefix = "classfeed:pref:"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Get возвращает значение настройки; отсутствие ключа (redis.Nil): не ошибка.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.cli.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set сохраняет настройку без TTL: тема и серия дней должны переживать перезапуск.
func (c *Client) Set(ctx context.Context, key, value string) error {
	return c.cli.Set(ctx, keyPrefix+key, value, 0).Err()
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.cli.Del(ctx, keyPrefix+key).Err()
}
