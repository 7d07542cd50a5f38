package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Client wraps go-redis with the hash operations the count projection needs.
type Client struct {
	rdb    redis.UniversalClient
	logger ectologger.Logger
}

func NewClient(ctx context.Context, cfg Config, logger ectologger.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Infof("Connected to Redis at %s", addr)

	return &Client{
		rdb:    rdb,
		logger: logger,
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// hincrByExisting applies field/delta pairs only when the hash exists and reports whether it did.
var hincrByExisting = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
for i = 1, #ARGV, 2 do
	redis.call('HINCRBY', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// HIncrByExisting applies every delta to the hash atomically. A missing hash is left missing and
// reported as false so the caller can seed it from the source of truth.
func (c *Client) HIncrByExisting(ctx context.Context, key string, deltas map[string]int64) (bool, error) {
	args := make([]any, 0, len(deltas)*2)
	for field, delta := range deltas {
		if delta == 0 {
			continue
		}
		args = append(args, field, delta)
	}
	if len(args) == 0 {
		return true, nil
	}

	applied, err := hincrByExisting.Run(ctx, c.rdb, []string{key}, args...).Int()
	if err != nil {
		return false, err
	}
	return applied == 1, nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// HReplace atomically swaps the hash contents for values.
func (c *Client) HReplace(ctx context.Context, key string, values map[string]int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		fields := make(map[string]any, len(values))
		for k, v := range values {
			fields[k] = v
		}
		pipe.HSet(ctx, key, fields)
	}
	_, err := pipe.Exec(ctx)
	return err
}
