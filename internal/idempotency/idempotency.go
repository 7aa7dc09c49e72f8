// Package idempotency lets a caller retry a send with the same key and get
// the original message back instead of paying twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInFlight = errors.New("idempotency: request with this key is in flight")
	// ErrUnresolved means an earlier request with this key may have charged
	// the caller but produced no message.
	ErrUnresolved = errors.New("idempotency: earlier request with this key did not complete")
)

const (
	pending    = "-"
	unresolved = "!"
)

// Store tracks send requests by caller-supplied key. Begin either reserves
// the key, returns the message id recorded for it, or reports ErrInFlight or
// ErrUnresolved.
type Store interface {
	Begin(ctx context.Context, userID, key string) (messageID string, replay bool, err error)
	Complete(ctx context.Context, userID, key, messageID string) error
	Abort(ctx context.Context, userID, key string) error
	Hold(ctx context.Context, userID, key string) error
}

type RedisOpts struct {
	KeyPrefix string        // default "paysms:idem:"
	TTL       time.Duration // how long a completed key replays, default 24h
	LockTTL   time.Duration // how long a reservation holds without Complete, default 1m
}

type RedisStore struct {
	rdb  *redis.Client
	opts RedisOpts
}

var _ Store = (*RedisStore)(nil)

// abortScript deletes the key only while it is still a reservation.
var abortScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// holdScript turns a reservation into an unresolved marker with the full
// TTL; a completed key is left alone.
var holdScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
end
return false
`)

func NewRedisStore(rdb *redis.Client, opts RedisOpts) *RedisStore {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "paysms:idem:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	return &RedisStore{rdb: rdb, opts: opts}
}

func (s *RedisStore) key(userID, key string) string {
	return s.opts.KeyPrefix + userID + ":" + key
}

func (s *RedisStore) Begin(ctx context.Context, userID, key string) (string, bool, error) {
	k := s.key(userID, key)
	ok, err := s.rdb.SetNX(ctx, k, pending, s.opts.LockTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if ok {
		return "", false, nil
	}

	v, err := s.rdb.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between SETNX and GET; let the caller retry
		return "", false, ErrInFlight
	case err != nil:
		return "", false, fmt.Errorf("idempotency: lookup: %w", err)
	case v == pending:
		return "", false, ErrInFlight
	case v == unresolved:
		return "", false, ErrUnresolved
	}
	return v, true, nil
}

func (s *RedisStore) Complete(ctx context.Context, userID, key, messageID string) error {
	if err := s.rdb.Set(ctx, s.key(userID, key), messageID, s.opts.TTL).Err(); err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	return nil
}

// Abort frees a reservation whose request created nothing, so the key can
// be reused.
func (s *RedisStore) Abort(ctx context.Context, userID, key string) error {
	if err := abortScript.Run(ctx, s.rdb, []string{s.key(userID, key)}, pending).Err(); err != nil {
		return fmt.Errorf("idempotency: abort: %w", err)
	}
	return nil
}

// Hold keeps a reservation whose request failed after money may have moved.
// Replays are refused for the full TTL instead of charging again once the
// short reservation lapses.
func (s *RedisStore) Hold(ctx context.Context, userID, key string) error {
	err := holdScript.Run(ctx, s.rdb, []string{s.key(userID, key)}, pending, unresolved, s.opts.TTL.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency: hold: %w", err)
	}
	return nil
}
