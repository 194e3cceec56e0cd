// Package redisbackend implements a Backend over a Redis key-value store,
// using plain string keys prefixed by namespace.
package redisbackend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mike-north/vaultkeeper-sub000/backend"
	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

const keyPrefix = "vaultkeeper:secret:"

// Backend stores secrets as plain Redis string values.
type Backend struct {
	client *redis.Client
}

// New returns a Backend wrapping an already-configured Redis client.
func New(client *redis.Client) *Backend {
	return &Backend{client: client}
}

// Factory builds a Backend from options {"addr": string, "password": string, "db": number}.
func Factory(options map[string]any) (backend.Backend, error) {
	addr, _ := options["addr"].(string)
	if addr == "" {
		addr = "localhost:6379"
	}
	password, _ := options["password"].(string)
	db := 0
	if v, ok := options["db"].(float64); ok {
		db = int(v)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return New(client), nil
}

func (b *Backend) Type() string        { return "redis" }
func (b *Backend) DisplayName() string { return "Redis" }

func (b *Backend) IsAvailable(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := b.client.Ping(pingCtx).Result()
	return err == nil
}

func (b *Backend) Store(ctx context.Context, id, secret string) error {
	if err := b.client.Set(ctx, keyPrefix+id, secret, 0).Err(); err != nil {
		return fmt.Errorf("redisbackend: store: %w", err)
	}
	return nil
}

func (b *Backend) Retrieve(ctx context.Context, id string) (string, error) {
	v, err := b.client.Get(ctx, keyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", &vaulterrors.SecretNotFound{Backend: b.Type(), ID: id}
	}
	if err != nil {
		return "", fmt.Errorf("redisbackend: retrieve: %w", err)
	}
	return v, nil
}

func (b *Backend) Delete(ctx context.Context, id string) error {
	n, err := b.client.Del(ctx, keyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("redisbackend: delete: %w", err)
	}
	if n == 0 {
		return &vaulterrors.SecretNotFound{Backend: b.Type(), ID: id}
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	n, err := b.client.Exists(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("redisbackend: exists: %w", err)
	}
	return n > 0, nil
}

func (b *Backend) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := b.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redisbackend: list: %w", err)
	}
	return ids, nil
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.Listable = (*Backend)(nil)
