package db

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOpts configures the client shared by rate limiting and send
// idempotency. Both issue short single-key commands, so a small pool with
// tight timeouts is enough.
type RedisOpts struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int           // default: go-redis (10 per CPU)
	DialTimeout  time.Duration // default 5s
	ReadTimeout  time.Duration // default 500ms
	WriteTimeout time.Duration // default ReadTimeout
}

func (o *RedisOpts) defaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 500 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = o.ReadTimeout
	}
}

// NewRedisClient builds the client and pings it within DialTimeout.
func NewRedisClient(opts RedisOpts) (*redis.Client, error) {
	opts.defaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
