package journal

import (
	"context"
	"sync"
	"time"

	"facecam-server/internal/domain/eventbus"
	"facecam-server/internal/domain/face"
	"facecam-server/internal/utils"
)

// Subscriber is satisfied by *eventbus.AsyncEventBus.
type Subscriber interface {
	Subscribe(topic string, fn interface{}) error
	Unsubscribe(topic string, handler interface{}) error
}

// Recorder appends every processed-frame event to a store.
type Recorder struct {
	store   Store
	logger  *utils.Logger
	timeout time.Duration

	mu      sync.Mutex
	bus     Subscriber
	handler func(eventbus.FrameEventData)
}

func NewRecorder(store Store, logger *utils.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, timeout: 5 * time.Second}
}

// Attach subscribes the recorder to bus. Calling it twice is a no-op.
func (r *Recorder) Attach(bus Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bus != nil {
		return nil
	}
	handler := func(data eventbus.FrameEventData) { r.Record(data) }
	if err := bus.Subscribe(eventbus.EventFrameProcessed, handler); err != nil {
		return err
	}
	r.bus, r.handler = bus, handler
	return nil
}

func (r *Recorder) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bus == nil {
		return
	}
	if err := r.bus.Unsubscribe(eventbus.EventFrameProcessed, r.handler); err != nil {
		r.logger.WarnTag("Journal", "unsubscribe: %v", err)
	}
	r.bus, r.handler = nil, nil
}

// Record stores one event. Failures are logged, never returned to the bus.
func (r *Recorder) Record(data eventbus.FrameEventData) {
	faces := make([]face.Region, len(data.Faces))
	for i, b := range data.Faces {
		faces[i] = face.Region{Top: b.Top, Right: b.Right, Bottom: b.Bottom, Left: b.Left}
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	err := r.store.Append(ctx, Record{
		Source:    data.Source,
		SessionID: data.SessionID,
		Width:     data.Width,
		Height:    data.Height,
		Faces:     faces,
		Elapsed:   data.Elapsed,
		CreatedAt: data.At,
	})
	if err != nil {
		r.logger.WarnTag("Journal", "append %s record: %v", data.Source, err)
	}
}

// RunCleanup calls CleanupExpired every interval until ctx is done.
func (r *Recorder) RunCleanup(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.store.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnTag("Journal", "cleanup: %v", err)
			}
		}
	}
}
