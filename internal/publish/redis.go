package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stanksmarket/internal/market"
)

const (
	defaultRedisPrefix = "stanks:market"
	viewTTL            = 10 * time.Minute
)

// Redis caches the latest view under <prefix>:view and announces each
// tick report on the <prefix>:ticks channel.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) ViewKey() string { return r.prefix + ":view" }

func (r *Redis) TickChannel() string { return r.prefix + ":ticks" }

func (r *Redis) Publish(ctx context.Context, rep market.TickReport, view *market.View) error {
	viewJSON, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal view: %w", err)
	}
	repJSON, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal tick report: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.ViewKey(), viewJSON, viewTTL)
		pipe.Publish(ctx, r.TickChannel(), repJSON)
		return nil
	})
	return err
}

func (r *Redis) Close() error {
	return r.client.Close()
}
