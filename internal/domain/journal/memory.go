package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore is a ring buffer of the last Capacity records.
type memoryStore struct {
	items       []Record
	next        int
	size        int
	mutex       sync.RWMutex
	ttl         time.Duration
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewMemory(cfg Config) Store {
	cleanup := 5 * time.Minute
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	s := &memoryStore{
		items:       make([]Record, cfg.capacity()),
		ttl:         cfg.ttl(),
		cleanupFreq: cleanup,
		stop:        make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *memoryStore) gcLoop() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.CleanupExpired(context.Background())
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) Append(_ context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.mutex.Lock()
	s.items[s.next] = rec
	s.next = (s.next + 1) % len(s.items)
	if s.size < len(s.items) {
		s.size++
	}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	cutoff := time.Now().Add(-s.ttl)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	limit = clampLimit(limit, len(s.items))
	out := make([]Record, 0, min(limit, s.size))
	for i := 1; i <= s.size && len(out) < limit; i++ {
		rec := s.items[(s.next-i+len(s.items))%len(s.items)]
		if rec.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// CleanupExpired drops the expired tail of the ring.
func (s *memoryStore) CleanupExpired(context.Context) error {
	cutoff := time.Now().Add(-s.ttl)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	for s.size > 0 {
		oldest := (s.next - s.size + len(s.items)) % len(s.items)
		if !s.items[oldest].CreatedAt.Before(cutoff) {
			break
		}
		s.items[oldest] = Record{}
		s.size--
	}
	return nil
}

func (s *memoryStore) Stats(context.Context) (map[string]any, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return map[string]any{
		"type":     DriverMemory,
		"total":    s.size,
		"capacity": len(s.items),
		"ttl":      int(s.ttl.Seconds()),
	}, nil
}

func (s *memoryStore) Close(context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}
