package face

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"facecam-server/internal/domain/eventbus"
	"facecam-server/internal/domain/frame"
	platformerrors "facecam-server/internal/platform/errors"
)

var (
	background = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	skin       = color.RGBA{R: 250, G: 250, B: 250, A: 255}
)

// brightBlobDetector reports the bounding box of all near-white pixels as a
// single face. It is deterministic and reads the frame only.
type brightBlobDetector struct{}

func (brightBlobDetector) Detect(_ context.Context, f *frame.Frame) ([]Region, error) {
	minX, minY, maxX, maxY := f.Width(), f.Height(), -1, -1
	for y := 0; y < f.Height(); y++ {
		for x := 0; x < f.Width(); x++ {
			c := f.RGBAt(x, y)
			if c.R > 200 && c.G > 200 && c.B > 200 {
				minX, minY = min(minX, x), min(minY, y)
				maxX, maxY = max(maxX, x), max(maxY, y)
			}
		}
	}
	if maxX < 0 {
		return []Region{}, nil
	}
	return []Region{{Top: minY, Right: maxX + 1, Bottom: maxY + 1, Left: minX}}, nil
}

type mockDetector struct {
	mock.Mock
}

func (m *mockDetector) Detect(ctx context.Context, f *frame.Frame) ([]Region, error) {
	args := m.Called(ctx, f)
	regions, _ := args.Get(0).([]Region)
	return regions, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []interface{}
}

func (r *recordingPublisher) PublishAsync(topic string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.events = append(r.events, args...)
}

func sceneFrame(w, h int, face image.Rectangle) *frame.Frame {
	f := frame.New(w, h)
	f.Fill(f.Bounds(), background)
	if !face.Empty() {
		f.Fill(face, skin)
	}
	return f
}

func newTestPipeline(t *testing.T, detector Detector, opts Options) *Pipeline {
	t.Helper()
	p, err := NewPipeline(Config{Detector: detector, Options: opts})
	require.NoError(t, err)
	return p
}

func isRed(c color.RGBA) bool {
	return int(c.R)-int(c.G) > 60 && int(c.R)-int(c.B) > 60
}

func TestNewPipelineRequiresDetector(t *testing.T) {
	_, err := NewPipeline(Config{})
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindVision))
}

func TestProcessEndToEndScalesRegionToOutput(t *testing.T) {
	input := sceneFrame(1280, 720, image.Rect(200, 100, 500, 400))
	payload, err := frame.Encode(input, frame.Size{Width: 1280, Height: 720}, 95)
	require.NoError(t, err)

	p := newTestPipeline(t, brightBlobDetector{}, DefaultOptions())
	res, err := p.Process(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, res.Regions, 1)
	assert.Equal(t, 1280, res.Width)
	assert.Equal(t, 720, res.Height)

	out, err := frame.Decode(res.Payload)
	require.NoError(t, err)
	require.Equal(t, 640, out.Width())
	require.Equal(t, 360, out.Height())

	minX, minY, maxX, maxY := out.Width(), out.Height(), -1, -1
	for y := 0; y < out.Height(); y++ {
		for x := 0; x < out.Width(); x++ {
			if isRed(out.RGBAt(x, y)) {
				minX, minY = min(minX, x), min(minY, y)
				maxX, maxY = max(maxX, x), max(maxY, y)
			}
		}
	}
	require.GreaterOrEqual(t, maxX, 0, "no annotation found in output")

	// input box (top=100, right=500, bottom=400, left=200) halves to (50, 250, 200, 100)
	assert.InDelta(t, 100, minX, 2)
	assert.InDelta(t, 50, minY, 2)
	assert.InDelta(t, 250, maxX, 2)
	assert.InDelta(t, 200, maxY, 2)

	// the region is scaled, not drawn at its input coordinates
	assert.False(t, isRed(out.RGBAt(500, 150)))
}

func TestProcessWithoutFacesMatchesPlainReencode(t *testing.T) {
	input := sceneFrame(320, 240, image.Rectangle{})
	payload, err := frame.Encode(input, frame.Size{Width: 320, Height: 240}, 90)
	require.NoError(t, err)

	p := newTestPipeline(t, brightBlobDetector{}, DefaultOptions())
	res, err := p.Process(context.Background(), payload)
	require.NoError(t, err)
	assert.Empty(t, res.Regions)

	decoded, err := frame.Decode(payload)
	require.NoError(t, err)
	expected, err := frame.Encode(decoded, frame.DefaultSize, frame.DefaultQuality)
	require.NoError(t, err)
	assert.Equal(t, expected, res.Payload)
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	det := new(mockDetector)
	p := newTestPipeline(t, det, DefaultOptions())
	pub := &recordingPublisher{}
	p.publisher = pub

	ctx := WithOrigin(context.Background(), Origin{Source: eventbus.SourceSocket, SessionID: "s1"})
	res, err := p.Process(ctx, "data:image/jpg;base64,not-an-image")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindDecode))
	assert.Equal(t, CodeDecode, ErrorCode(err))

	det.AssertNotCalled(t, "Detect", mock.Anything, mock.Anything)
	require.Equal(t, []string{eventbus.EventFrameFailed}, pub.topics)
	failed := pub.events[0].(eventbus.FrameFailedEventData)
	assert.Equal(t, "s1", failed.SessionID)
	assert.Equal(t, CodeDecode, failed.Code)
}

func TestProcessPublishesProcessedEvent(t *testing.T) {
	det := new(mockDetector)
	det.On("Detect", mock.Anything, mock.Anything).Return([]Region{{Top: 5, Right: 30, Bottom: 40, Left: 4}}, nil).Once()

	p := newTestPipeline(t, det, DefaultOptions())
	pub := &recordingPublisher{}
	p.publisher = pub

	payload, err := frame.Encode(sceneFrame(64, 48, image.Rectangle{}), frame.Size{Width: 64, Height: 48}, 90)
	require.NoError(t, err)

	ctx := WithOrigin(context.Background(), Origin{Source: eventbus.SourceHTTP})
	_, err = p.Process(ctx, payload)
	require.NoError(t, err)
	det.AssertExpectations(t)

	require.Equal(t, []string{eventbus.EventFrameProcessed}, pub.topics)
	ev := pub.events[0].(eventbus.FrameEventData)
	assert.Equal(t, eventbus.SourceHTTP, ev.Source)
	assert.Equal(t, []eventbus.Box{{Top: 5, Right: 30, Bottom: 40, Left: 4}}, ev.Faces)
	assert.Equal(t, 64, ev.Width)
}

func TestDetectFacesIsIdempotent(t *testing.T) {
	f := sceneFrame(200, 100, image.Rect(40, 20, 90, 80))
	snapshot := f.Clone()
	p := newTestPipeline(t, brightBlobDetector{}, DefaultOptions())

	first, err := p.DetectFaces(context.Background(), f)
	require.NoError(t, err)
	second, err := p.DetectFaces(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []Region{{Top: 20, Right: 90, Bottom: 80, Left: 40}}, first)
	assert.True(t, f.Equal(snapshot), "detection must not modify the frame")
}

func TestDetectFacesClipsAndDropsRegions(t *testing.T) {
	det := DetectorFunc(func(context.Context, *frame.Frame) ([]Region, error) {
		return []Region{
			{Top: -10, Right: 120, Bottom: 30, Left: 90},
			{Top: 50, Right: 50, Bottom: 60, Left: 50},
			{Top: 200, Right: 20, Bottom: 210, Left: 10},
		}, nil
	})
	p := newTestPipeline(t, det, DefaultOptions())

	regions, err := p.DetectFaces(context.Background(), frame.New(100, 80))
	require.NoError(t, err)
	assert.Equal(t, []Region{{Top: 0, Right: 100, Bottom: 30, Left: 90}}, regions)
}

func TestDetectFacesTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	det := DetectorFunc(func(ctx context.Context, _ *frame.Frame) ([]Region, error) {
		<-release
		return nil, nil
	})
	opts := DefaultOptions()
	opts.DetectTimeout = 30 * time.Millisecond
	p := newTestPipeline(t, det, opts)

	start := time.Now()
	_, err := p.DetectFaces(context.Background(), frame.New(10, 10))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, errors.Is(err, ErrDetectTimeout), "got %v", err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindVision))
	assert.Equal(t, CodeDetectTimeout, ErrorCode(err))
}

func TestDetectFacesCancelledIsNotTimeout(t *testing.T) {
	det := DetectorFunc(func(ctx context.Context, _ *frame.Frame) ([]Region, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := newTestPipeline(t, det, DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.DetectFaces(ctx, frame.New(10, 10))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDetectTimeout))
	assert.Equal(t, CodeDetectFailed, ErrorCode(err))
}

func TestDetectorFailure(t *testing.T) {
	det := new(mockDetector)
	det.On("Detect", mock.Anything, mock.Anything).Return(nil, errors.New("model exploded"))
	p := newTestPipeline(t, det, DefaultOptions())

	_, err := p.DetectFaces(context.Background(), frame.New(10, 10))
	require.Error(t, err)
	assert.Equal(t, CodeDetectFailed, ErrorCode(err))
	assert.Contains(t, err.Error(), "model exploded")
}

func TestDetectFacesBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	det := DetectorFunc(func(context.Context, *frame.Frame) ([]Region, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return []Region{}, nil
	})
	p, err := NewPipeline(Config{Detector: det, MaxConcurrency: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.DetectFaces(context.Background(), frame.New(4, 4))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestUpdateOptions(t *testing.T) {
	p := newTestPipeline(t, NoopDetector, Options{})
	assert.Equal(t, DefaultOptions(), p.Options())

	p.UpdateOptions(Options{Size: frame.Size{Width: 320, Height: 180}, Quality: 500, DetectTimeout: time.Second})
	assert.Equal(t, 100, p.Options().Quality)

	payload, err := frame.Encode(sceneFrame(64, 64, image.Rectangle{}), frame.Size{Width: 64, Height: 64}, 90)
	require.NoError(t, err)
	res, err := p.Process(context.Background(), payload)
	require.NoError(t, err)

	out, err := frame.Decode(res.Payload)
	require.NoError(t, err)
	assert.Equal(t, 320, out.Width())
	assert.Equal(t, 180, out.Height())
}

func TestAnnotateFrame(t *testing.T) {
	f := sceneFrame(160, 120, image.Rect(40, 20, 120, 100))
	p := newTestPipeline(t, brightBlobDetector{}, DefaultOptions())

	regions, err := p.AnnotateFrame(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.True(t, isRed(f.RGBAt(40, 60)))
}

func TestAnnotateFramePublishesOnlyFacesWithElapsed(t *testing.T) {
	p := newTestPipeline(t, DetectorFunc(func(_ context.Context, f *frame.Frame) ([]Region, error) {
		time.Sleep(2 * time.Millisecond)
		return brightBlobDetector{}.Detect(context.Background(), f)
	}), DefaultOptions())
	pub := &recordingPublisher{}
	p.publisher = pub
	ctx := WithOrigin(context.Background(), Origin{Source: eventbus.SourceCapture})

	_, err := p.AnnotateFrame(ctx, sceneFrame(160, 120, image.Rectangle{}))
	require.NoError(t, err)
	assert.Empty(t, pub.topics, "frames without faces are not journaled")

	regions, err := p.AnnotateFrame(ctx, sceneFrame(160, 120, image.Rect(40, 20, 120, 100)))
	require.NoError(t, err)
	require.Len(t, regions, 1)
	require.Equal(t, []string{eventbus.EventFrameProcessed}, pub.topics)
	ev := pub.events[0].(eventbus.FrameEventData)
	assert.Equal(t, eventbus.SourceCapture, ev.Source)
	assert.GreaterOrEqual(t, ev.Elapsed, 2*time.Millisecond)
}

func TestOriginDefaults(t *testing.T) {
	assert.Equal(t, "unknown", OriginFrom(context.Background()).Source)
	ctx := WithOrigin(context.Background(), Origin{Source: "capture"})
	assert.Equal(t, "capture", OriginFrom(ctx).Source)
}
