package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore wraps the shared Redis connection used for locks and
// webhook deduplication
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redisURL and verifies the connection
func NewRedisStore(redisURL string, log *zap.SugaredLogger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Infow("redis_connected", "addr", opt.Addr)
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for advanced operations
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// releaseScript deletes the lock only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every API instance
type RedisLocker struct {
	store *RedisStore
	ttl   time.Duration
	poll  time.Duration
	log   *zap.SugaredLogger
}

// NewRedisLocker creates a locker whose locks expire after ttl
func NewRedisLocker(store *RedisStore, ttl time.Duration, log *zap.SugaredLogger) *RedisLocker {
	return &RedisLocker{store: store, ttl: ttl, poll: 25 * time.Millisecond, log: log}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.store.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.store.client, []string{key}, token).Err(); err != nil {
				l.log.Warnw("lock_release_failed", "key", key, "error", err)
			}
		})
	}, nil
}

const (
	webhookStatusProcessing = "processing"
	webhookStatusProcessed  = "processed"
)

// RedisEventDeduper claims webhook event ids with SETNX. Claims expire
// after the dedup window.
type RedisEventDeduper struct {
	store  *RedisStore
	window time.Duration
}

func NewRedisEventDeduper(store *RedisStore, window time.Duration) *RedisEventDeduper {
	return &RedisEventDeduper{store: store, window: window}
}

func webhookEventKey(eventID string) string {
	return "webhook:event:" + eventID
}

func (d *RedisEventDeduper) Claim(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	return d.store.client.SetNX(ctx, webhookEventKey(eventID), webhookStatusProcessing, d.window).Result()
}

func (d *RedisEventDeduper) Complete(ctx context.Context, eventID string) error {
	return d.store.client.Set(ctx, webhookEventKey(eventID), webhookStatusProcessed, redis.KeepTTL).Err()
}

func (d *RedisEventDeduper) Release(ctx context.Context, eventID string, cause error) error {
	return d.store.client.Del(ctx, webhookEventKey(eventID)).Err()
}
