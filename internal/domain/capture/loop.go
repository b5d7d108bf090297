package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"facecam-server/internal/domain/eventbus"
	"facecam-server/internal/domain/face"
	"facecam-server/internal/domain/frame"
	"facecam-server/internal/platform/observability"
	"facecam-server/internal/utils"
)

// ErrLoopRunning is returned by Run when the loop is already running.
var ErrLoopRunning = errors.New("capture loop already running")

type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateDegraded  State = "degraded"
	StateStopped   State = "stopped"
)

// Health is a snapshot of the loop for the health endpoint.
type Health struct {
	State               State     `json:"state"`
	Device              string    `json:"device"`
	Viewers             int       `json:"viewers"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	FramesStreamed      int64     `json:"frames_streamed"`
	LastFrameAt         time.Time `json:"last_frame_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

type LoopConfig struct {
	Device                 string
	StreamQuality          int
	ReopenAfterFailures    int
	UnhealthyAfterFailures int
	BackoffInitial         time.Duration
	BackoffMax             time.Duration
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.StreamQuality <= 0 {
		c.StreamQuality = 80
	}
	if c.ReopenAfterFailures <= 0 {
		c.ReopenAfterFailures = 5
	}
	if c.UnhealthyAfterFailures <= 0 {
		c.UnhealthyAfterFailures = 10
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	return c
}

// Loop reads the camera, annotates each frame and publishes it as JPEG to the
// broadcaster. The device is only held while someone is watching.
type Loop struct {
	cfg         LoopConfig
	open        Opener
	annotator   Annotator
	broadcaster *Broadcaster
	publisher   face.Publisher
	logger      *utils.Logger

	running atomic.Bool
	mu      sync.RWMutex
	health  Health
}

func NewLoop(cfg LoopConfig, open Opener, annotator Annotator, broadcaster *Broadcaster, publisher face.Publisher, logger *utils.Logger) *Loop {
	cfg = cfg.withDefaults()
	return &Loop{
		cfg:         cfg,
		open:        open,
		annotator:   annotator,
		broadcaster: broadcaster,
		publisher:   publisher,
		logger:      logger,
		health:      Health{State: StateStopped, Device: cfg.Device},
	}
}

func (l *Loop) Broadcaster() *Broadcaster {
	return l.broadcaster
}

// Health returns the current snapshot.
func (l *Loop) Health() Health {
	l.mu.RLock()
	h := l.health
	l.mu.RUnlock()
	h.Viewers = l.broadcaster.Count()
	return h
}

// Run blocks until ctx is done. Only one Run may be active per Loop.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)
	defer l.setState(StateStopped)

	l.logger.InfoTag("Capture", "capture loop started for device %s", l.cfg.Device)
	defer l.logger.InfoTag("Capture", "capture loop stopped")

	var cam Camera
	closeCam := func() {
		if cam != nil {
			if err := cam.Close(); err != nil {
				l.logger.WarnTag("Capture", "closing device: %v", err)
			}
			cam = nil
		}
	}
	defer closeCam()

	bo := newBackoff(l.cfg.BackoffInitial, l.cfg.BackoffMax)
	frameCtx := face.WithOrigin(ctx, face.Origin{Source: eventbus.SourceCapture})
	failures := 0

	for ctx.Err() == nil {
		if l.broadcaster.Count() == 0 {
			closeCam()
			l.setIdle(failures)
			if err := l.broadcaster.WaitForViewers(ctx); err != nil {
				return nil
			}
			continue
		}

		if cam == nil {
			opened, err := l.open(ctx)
			if err != nil {
				failures = l.fail(failures, err)
				if bo.Sleep(ctx) != nil {
					return nil
				}
				continue
			}
			cam = opened
		}

		f, err := cam.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures = l.fail(failures, err)
			if failures%l.cfg.ReopenAfterFailures == 0 {
				l.logger.WarnTag("Capture", "reopening device %s after %d failures", l.cfg.Device, failures)
				closeCam()
			}
			if bo.Sleep(ctx) != nil {
				return nil
			}
			continue
		}

		if failures > 0 {
			l.recovered(failures)
			failures = 0
			bo.Reset()
		}
		l.stream(frameCtx, f)
	}
	return nil
}

func (l *Loop) stream(ctx context.Context, f *frame.Frame) {
	if _, err := l.annotator.AnnotateFrame(ctx, f); err != nil {
		// the viewer still gets the raw frame
		l.logger.DebugTag("Capture", "annotation skipped: %v", err)
	}

	data, err := frame.EncodeJPEG(f, l.cfg.StreamQuality)
	if err != nil {
		l.logger.WarnTag("Capture", "encode frame: %v", err)
		return
	}
	l.broadcaster.Publish(data)
	observability.RecordMetric(ctx, "capture.frames", 1, nil)

	l.mu.Lock()
	l.health.State = StateStreaming
	l.health.FramesStreamed++
	l.health.LastFrameAt = time.Now()
	l.health.ConsecutiveFailures = 0
	l.health.LastError = ""
	l.mu.Unlock()
}

// fail records one more consecutive failure and returns the new count.
func (l *Loop) fail(failures int, err error) int {
	failures++
	l.logger.WarnTag("Capture", "device %s failure #%d: %v", l.cfg.Device, failures, err)

	l.mu.Lock()
	l.health.ConsecutiveFailures = failures
	l.health.LastError = err.Error()
	if failures >= l.cfg.UnhealthyAfterFailures {
		l.health.State = StateDegraded
	}
	l.mu.Unlock()

	data := eventbus.DeviceEventData{Device: l.cfg.Device, Failures: failures, Message: err.Error(), At: time.Now()}
	l.publish(eventbus.EventDeviceError, data)
	if failures == l.cfg.UnhealthyAfterFailures {
		l.logger.ErrorTag("Capture", "device %s unhealthy after %d consecutive failures", l.cfg.Device, failures)
		l.publish(eventbus.EventDeviceUnhealthy, data)
	}
	return failures
}

func (l *Loop) recovered(failures int) {
	if failures >= l.cfg.UnhealthyAfterFailures {
		l.logger.InfoTag("Capture", "device %s recovered", l.cfg.Device)
		l.publish(eventbus.EventDeviceRecovered, eventbus.DeviceEventData{Device: l.cfg.Device, Failures: failures, At: time.Now()})
	}
}

func (l *Loop) publish(topic string, data eventbus.DeviceEventData) {
	if l.publisher != nil {
		l.publisher.PublishAsync(topic, data)
	}
}

// setIdle keeps a degraded state visible while nobody is watching.
func (l *Loop) setIdle(failures int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if failures < l.cfg.UnhealthyAfterFailures {
		l.health.State = StateIdle
	}
}

func (l *Loop) setState(state State) {
	l.mu.Lock()
	l.health.State = state
	l.mu.Unlock()
}
