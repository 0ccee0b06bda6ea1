package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const redisKeyPrefix = "tasksync:blob:"

// Redis keeps blobs as plain string values under a fixed key prefix.
type Redis struct {
	client *redis.Client
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects and pings the server so misconfiguration shows up at
// startup instead of on the first attachment.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("blob: redis ping %s: %w", opts.Addr, err)
	}
	return &Redis{client: client}, nil
}

func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Save(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	id := uuid.NewString()
	if err := r.client.Set(ctx, redisKeyPrefix+id, data, 0).Err(); err != nil {
		return "", fmt.Errorf("blob: save %s: %w", id, err)
	}
	return id, nil
}

func (r *Redis) Load(ctx context.Context, id string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("blob: load %s: %w", id, err)
	}
	return data, true, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("blob: delete %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
