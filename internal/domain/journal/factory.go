package journal

import (
	"fmt"

	"gorm.io/gorm"

	"facecam-server/internal/platform/config"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New creates a journal store for cfg.Driver (memory when empty).
func New(cfg Config, deps Dependencies) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverSQLite:
		if deps.SQLiteDB == nil {
			return nil, fmt.Errorf("sqlite driver requires database handle")
		}
		return NewSQLite(deps.SQLiteDB, cfg)
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", driver)
	}
}

// ConfigFrom maps the file configuration onto store parameters.
func ConfigFrom(cfg config.JournalConfig) Config {
	out := Config{
		Driver:   cfg.Driver,
		TTL:      cfg.TTL,
		Capacity: cfg.Capacity,
	}
	if cfg.Driver == DriverRedis {
		out.Redis = &RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	}
	return out
}
