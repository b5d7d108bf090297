package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facecam-server/internal/domain/eventbus"
	"facecam-server/internal/domain/face"
	"facecam-server/internal/domain/frame"
)

// fakeCamera fails while failing is set and otherwise returns a small frame.
type fakeCamera struct {
	failing *atomic.Bool
	reads   *atomic.Int32
	closed  atomic.Bool
}

func (c *fakeCamera) Read(ctx context.Context) (*frame.Frame, error) {
	c.reads.Add(1)
	if c.failing.Load() {
		return nil, errors.New("read failed")
	}
	time.Sleep(time.Millisecond)
	return frame.New(32, 24), nil
}

func (c *fakeCamera) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeRig struct {
	failing atomic.Bool
	reads   atomic.Int32
	opens   atomic.Int32
}

func (r *fakeRig) opener() Opener {
	return func(context.Context) (Camera, error) {
		r.opens.Add(1)
		return &fakeCamera{failing: &r.failing, reads: &r.reads}, nil
	}
}

type countingAnnotator struct {
	calls atomic.Int32
}

func (a *countingAnnotator) AnnotateFrame(context.Context, *frame.Frame) ([]face.Region, error) {
	a.calls.Add(1)
	return nil, nil
}

type topicRecorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *topicRecorder) PublishAsync(topic string, _ ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
}

func (r *topicRecorder) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func fastConfig() LoopConfig {
	return LoopConfig{
		Device:                 "test",
		ReopenAfterFailures:    3,
		UnhealthyAfterFailures: 5,
		BackoffInitial:         time.Millisecond,
		BackoffMax:             2 * time.Millisecond,
	}
}

func startLoop(t *testing.T, l *Loop) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("loop did not stop")
		}
	})
	return cancel, done
}

func TestLoopStreamsAnnotatedFramesToViewers(t *testing.T) {
	rig := &fakeRig{}
	ann := &countingAnnotator{}
	b := NewBroadcaster()
	l := NewLoop(fastConfig(), rig.opener(), ann, b, nil, nil)
	startLoop(t, l)

	sub := b.Subscribe()
	defer sub.Close()

	select {
	case data := <-sub.C:
		require.NotEmpty(t, data)
		assert.Equal(t, []byte{0xFF, 0xD8}, data[:2], "expected a JPEG")
	case <-time.After(2 * time.Second):
		t.Fatal("no frame streamed")
	}
	assert.Positive(t, ann.calls.Load())
	assert.Eventually(t, func() bool { return l.Health().State == StateStreaming }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, l.Health().Viewers)
}

func TestLoopStaysIdleWithoutViewers(t *testing.T) {
	rig := &fakeRig{}
	l := NewLoop(fastConfig(), rig.opener(), &countingAnnotator{}, NewBroadcaster(), nil, nil)
	startLoop(t, l)

	assert.Eventually(t, func() bool { return l.Health().State == StateIdle }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rig.opens.Load())
}

func TestLoopRejectsSecondRun(t *testing.T) {
	l := NewLoop(fastConfig(), (&fakeRig{}).opener(), &countingAnnotator{}, NewBroadcaster(), nil, nil)
	startLoop(t, l)

	assert.Eventually(t, func() bool { return l.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, l.Run(context.Background()), ErrLoopRunning)
}

func TestLoopReportsUnhealthyDeviceAndRecovery(t *testing.T) {
	rig := &fakeRig{}
	rig.failing.Store(true)
	events := &topicRecorder{}
	b := NewBroadcaster()
	l := NewLoop(fastConfig(), rig.opener(), &countingAnnotator{}, b, events, nil)
	startLoop(t, l)

	sub := b.Subscribe()
	defer sub.Close()

	require.Eventually(t, func() bool { return l.Health().State == StateDegraded }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, events.count(eventbus.EventDeviceUnhealthy))
	assert.GreaterOrEqual(t, l.Health().ConsecutiveFailures, 5)
	assert.Equal(t, "read failed", l.Health().LastError)
	// the device is reopened every 3 failures
	assert.GreaterOrEqual(t, rig.opens.Load(), int32(2))

	rig.failing.Store(false)
	require.Eventually(t, func() bool { return l.Health().State == StateStreaming }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return events.count(eventbus.EventDeviceRecovered) == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, l.Health().ConsecutiveFailures)
}

func TestLoopStopsOnCancel(t *testing.T) {
	l := NewLoop(fastConfig(), (&fakeRig{}).opener(), &countingAnnotator{}, NewBroadcaster(), nil, nil)
	cancel, done := startLoop(t, l)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop ignored cancellation")
	}
	assert.Equal(t, StateStopped, l.Health().State)
}

func TestBackoffGrowsAndResets(t *testing.T) {
	b := newBackoff(100*time.Millisecond, 350*time.Millisecond)
	first := b.Next()
	assert.InDelta(t, float64(100*time.Millisecond), float64(first), float64(20*time.Millisecond))
	assert.Equal(t, 200*time.Millisecond, b.Current())
	b.Next()
	assert.Equal(t, 350*time.Millisecond, b.Current())
	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Current())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, newBackoff(time.Hour, time.Hour).Sleep(ctx), context.Canceled)
}
