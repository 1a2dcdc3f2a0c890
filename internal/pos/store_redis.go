package pos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pos/internal/lock"
)

const redisSessionPrefix = "pos:session:"

// RedisStore keeps sessions as JSON documents so any API replica can serve a
// cashier. Updates hold a per-session Redis lock.
type RedisStore struct {
	R       *redis.Client
	TTL     time.Duration
	Locker  lock.Locker
	LockTTL time.Duration
	Now     func() time.Time
}

// NewRedisStore wires a store and its locker on client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		R:   client,
		TTL: ttl,
		Locker: lock.Locker{
			R:            client,
			Prefix:       "lock:",
			RetryBackoff: 20 * time.Millisecond,
			MaxWait:      2 * time.Second,
		},
		LockTTL: 10 * time.Second,
	}
}

func (s *RedisStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RedisStore) key(id string) string { return redisSessionPrefix + id }

func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session id required")
	}
	return s.write(ctx, sess)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.R.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	var out *Session
	err := s.Locker.WithLock(ctx, s.key(id), s.LockTTL, func(ctx context.Context) error {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		sess.UpdatedAt = s.now()
		if err := s.write(ctx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.R.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) write(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.R.Set(ctx, s.key(sess.ID), data, s.TTL).Err(); err != nil {
		return fmt.Errorf("store session %s: %w", sess.ID, err)
	}
	return nil
}
