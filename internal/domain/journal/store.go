// Package journal keeps a bounded history of processed frames.
package journal

import (
	"context"
	"time"

	"facecam-server/internal/domain/face"
)

// Record is one processed frame.
type Record struct {
	ID        string        `json:"id"`
	Source    string        `json:"source"`
	SessionID string        `json:"session_id,omitempty"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Faces     []face.Region `json:"faces"`
	Elapsed   time.Duration `json:"elapsed"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store persists records. Recent returns newest first.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	CleanupExpired(ctx context.Context) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config describes the store selection parameters.
type Config struct {
	Driver   string
	TTL      time.Duration
	Capacity int
	Redis    *RedisConfig
	Memory   *MemoryConfig
}

type MemoryConfig struct {
	GCInterval time.Duration
}

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

const (
	defaultTTL      = 24 * time.Hour
	defaultCapacity = 1000
)

func (c Config) ttl() time.Duration {
	if c.TTL <= 0 {
		return defaultTTL
	}
	return c.TTL
}

func (c Config) capacity() int {
	if c.Capacity <= 0 {
		return defaultCapacity
	}
	return c.Capacity
}

func clampLimit(limit, capacity int) int {
	if limit <= 0 || limit > capacity {
		return capacity
	}
	return limit
}
