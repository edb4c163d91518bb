package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "order:"

// RedisStore keeps the gateway's view of host-platform orders in redis.
// The host registers an order before checkout starts; the gateway mutates
// status and meta as settlement progresses.
type RedisStore struct {
	R   *redis.Client
	TTL time.Duration
}

func (s *RedisStore) Put(ctx context.Context, o Order) error {
	if o.Meta == nil {
		o.Meta = map[string]string{}
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return s.R.Set(ctx, keyPrefix+o.ID, raw, s.TTL).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (Order, error) {
	raw, err := s.R.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return Order{}, err
	}
	if o.Meta == nil {
		o.Meta = map[string]string{}
	}
	return o, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, id, status string) error {
	return s.update(ctx, id, func(o *Order) {
		o.Status = status
	})
}

func (s *RedisStore) SetMeta(ctx context.Context, id, key, value string) error {
	return s.update(ctx, id, func(o *Order) {
		o.Meta[key] = value
	})
}

func (s *RedisStore) DeleteMeta(ctx context.Context, id, key string) error {
	return s.update(ctx, id, func(o *Order) {
		delete(o.Meta, key)
	})
}

func (s *RedisStore) update(ctx context.Context, id string, mutate func(*Order)) error {
	o, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(&o)
	return s.Put(ctx, o)
}
