package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix    = "commitment-engine:lock:"
	defaultPollInterval = 25 * time.Millisecond
	releaseTimeout      = 3 * time.Second
)

// Deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every replica pointing at the same Redis.
// A holder that dies keeps the key until the TTL expires.
type Redis struct {
	client       *redis.Client
	ttl          time.Duration
	prefix       string
	pollInterval time.Duration
}

// RedisConfig holds Redis lock configuration
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects to Redis and returns a locker
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisFromClient(client, cfg.TTL), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client:       client,
		ttl:          ttl,
		prefix:       defaultKeyPrefix,
		pollInterval: defaultPollInterval,
	}
}

// Lock polls SET NX until it wins the key or ctx is done
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", k, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()

			if err := releaseScript.Run(ctx, r.client, []string{k}, token).Err(); err != nil {
				slog.Warn("failed to release lock", "key", k, "error", err)
			}
		})
	}, nil
}

// HealthCheck pings Redis
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}
