// Package redisrepo stores entities as JSON strings in Redis. A sorted set
// scored by the added timestamp indexes every stored id.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/ledger/pkg/entity"
	"github.com/platinummonkey/ledger/pkg/repository"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// Repository is a Redis-backed repository.Repository
type Repository[T entity.Entity] struct {
	client *redis.Client
	prefix string
	newT   func() T
	now    func() time.Time
}

// NewClient connects to the Redis server at url and pings it
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w: %w", sentinel.ErrConfiguration, err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w: %w", sentinel.ErrDatabase, err)
	}

	return client, nil
}

// New creates a repository whose keys live under prefix
func New[T entity.Entity](client *redis.Client, prefix string, newT func() T) (*Repository[T], error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required: %w", sentinel.ErrConfiguration)
	}
	if prefix == "" {
		return nil, fmt.Errorf("redis key prefix is required: %w", sentinel.ErrConfiguration)
	}
	return &Repository[T]{client: client, prefix: prefix, newT: newT, now: time.Now}, nil
}

func (r *Repository[T]) key(id string) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}

func (r *Repository[T]) indexKey() string {
	return r.prefix + ":index"
}

func (r *Repository[T]) Save(ctx context.Context, id string, e T, asNew bool) (T, error) {
	var zero T
	data, err := json.Marshal(e)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %q: %w", id, err)
	}

	if asNew {
		created, err := r.client.SetNX(ctx, r.key(id), data, 0).Result()
		if err != nil {
			return zero, fmt.Errorf("redis setnx failed: %w: %w", sentinel.ErrDatabase, err)
		}
		if !created {
			return zero, fmt.Errorf("id %q already stored: %w", id, sentinel.ErrDuplicate)
		}
	} else if err := r.client.Set(ctx, r.key(id), data, 0).Err(); err != nil {
		return zero, fmt.Errorf("redis set failed: %w: %w", sentinel.ErrDatabase, err)
	}

	score := float64(e.GetAdded().UnixNano())
	if err := r.client.ZAdd(ctx, r.indexKey(), &redis.Z{Score: score, Member: id}).Err(); err != nil {
		return zero, fmt.Errorf("redis zadd failed: %w: %w", sentinel.ErrDatabase, err)
	}

	return r.decode(data)
}

func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, bool, error) {
	var zero T
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get failed: %w: %w", sentinel.ErrDatabase, err)
	}

	v, err := r.decode(data)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (r *Repository[T]) FindAll(ctx context.Context) ([]T, error) {
	return r.Query(ctx, nil)
}

func (r *Repository[T]) Query(ctx context.Context, pred func(T) bool) ([]T, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange failed: %w: %w", sentinel.ErrDatabase, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w: %w", sentinel.ErrDatabase, err)
	}

	out := make([]T, 0, len(values))
	for _, raw := range values {
		s, ok := raw.(string)
		if !ok {
			// indexed but already removed
			continue
		}
		v, err := r.decode([]byte(s))
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *Repository[T]) QueryPage(ctx context.Context, pred func(T) bool, page, size int) ([]T, error) {
	items, err := r.Query(ctx, pred)
	if err != nil {
		return nil, err
	}
	return repository.Window(items, page, size), nil
}

func (r *Repository[T]) DeleteByID(ctx context.Context, id string) (*time.Time, error) {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis delete failed: %w: %w", sentinel.ErrDatabase, err)
	}
	if del.Val() == 0 {
		return nil, nil
	}

	now := r.now()
	return &now, nil
}

func (r *Repository[T]) decode(data []byte) (T, error) {
	v := r.newT()
	if err := json.Unmarshal(data, v); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to decode %s document: %w", r.prefix, err)
	}
	return v, nil
}
