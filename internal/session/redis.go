package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "botsession:"

// RedisStore keeps sessions in Redis as CBOR blobs with the idle timeout as
// TTL, so several bot processes can share them.
type RedisStore struct {
	client *redis.Client
	prefix string
	idle   time.Duration
}

func NewRedisStore(redisURL string, idle time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, idle), nil
}

func NewRedisStoreWithClient(client *redis.Client, idle time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: defaultPrefix, idle: idle}
}

func (s *RedisStore) key(accountID int64) string {
	return s.prefix + strconv.FormatInt(accountID, 10)
}

func (s *RedisStore) Load(ctx context.Context, accountID int64) (Session, error) {
	data, err := s.client.Get(ctx, s.key(accountID)).Bytes()
	if err == redis.Nil {
		return New(accountID), nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	sess, err := decode(data)
	if err != nil {
		// An unreadable blob is treated like an expired one.
		return New(accountID), nil
	}
	sess.AccountID = accountID
	return sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess Session) error {
	sess.UpdatedAt = time.Now().UTC()
	data, err := encode(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sess.AccountID), data, s.idle).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, accountID int64) error {
	if err := s.client.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
