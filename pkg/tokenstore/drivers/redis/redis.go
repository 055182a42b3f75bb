// Package redis provides a KV driver backed by Redis, for deployments where
// session state should be shared with other tooling rather than kept in a
// local file.
package redis

import (
	"context"
	"errors"

	"github.com/chesspath/chessauth/pkg/tokenstore"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces the engine's keys inside a shared Redis.
const keyPrefix = "chessauth:"

type KV struct {
	client *redis.Client
}

// New connects to the Redis at redisURL (redis://...) and verifies the
// connection.
func New(ctx context.Context, redisURL string) (*KV, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &KV{client: client}, nil
}

// NewFromClient wraps an existing client, which the caller keeps ownership of.
func NewFromClient(client *redis.Client) *KV {
	return &KV{client: client}
}

func (k *KV) Get(ctx context.Context, key string) (string, error) {
	value, err := k.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", tokenstore.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (k *KV) Set(ctx context.Context, key, value string) error {
	return k.client.Set(ctx, keyPrefix+key, value, 0).Err()
}

func (k *KV) Delete(ctx context.Context, key string) error {
	return k.client.Del(ctx, keyPrefix+key).Err()
}

func (k *KV) Close() error { return k.client.Close() }
