package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisStore keeps records in a capped list, newest at the head.
type redisStore struct {
	client   *redis.Client
	ttl      time.Duration
	capacity int
	key      string
}

func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "facecam:journal"
	}
	return &redisStore{
		client:   client,
		ttl:      cfg.ttl(),
		capacity: cfg.capacity(),
		key:      prefix + ":records",
	}, nil
}

func (s *redisStore) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, int64(s.capacity-1))
	pipe.Expire(ctx, s.key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	limit = clampLimit(limit, s.capacity)
	raw, err := s.client.LRange(ctx, s.key, 0, int64(s.capacity-1)).Result()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-s.ttl)
	out := make([]Record, 0, min(limit, len(raw)))
	for _, item := range raw {
		if len(out) == limit {
			break
		}
		var rec Record
		if err := sonic.UnmarshalString(item, &rec); err != nil {
			return nil, fmt.Errorf("decode journal record: %w", err)
		}
		if rec.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// CleanupExpired removes expired entries from the tail of the list.
func (s *redisStore) CleanupExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-s.ttl)
	for {
		tail, err := s.client.LIndex(ctx, s.key, -1).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		var rec Record
		if err := sonic.UnmarshalString(tail, &rec); err == nil && !rec.CreatedAt.Before(cutoff) {
			return nil
		}
		if err := s.client.RPop(ctx, s.key).Err(); err != nil && err != redis.Nil {
			return err
		}
	}
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	size, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":     DriverRedis,
		"total":    size,
		"capacity": s.capacity,
		"ttl":      int(s.ttl.Seconds()),
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
