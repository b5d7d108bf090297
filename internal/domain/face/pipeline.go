package face

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"facecam-server/internal/domain/eventbus"
	"facecam-server/internal/domain/frame"
	platformerrors "facecam-server/internal/platform/errors"
	"facecam-server/internal/platform/observability"
	"facecam-server/internal/utils"
)

// ErrDetectTimeout is the cause of vision errors raised when the detector
// does not answer within Options.DetectTimeout.
var ErrDetectTimeout = errors.New("face detection timed out")

// Options are the tunables that may change while the pipeline is running.
type Options struct {
	Size          frame.Size
	Quality       int
	DetectTimeout time.Duration
}

// DefaultOptions returns 640x360 at JPEG quality 90 with a 2s detection bound.
func DefaultOptions() Options {
	return Options{
		Size:          frame.DefaultSize,
		Quality:       frame.DefaultQuality,
		DetectTimeout: 2 * time.Second,
	}
}

func (o Options) sanitize() Options {
	def := DefaultOptions()
	if o.Size.Width <= 0 || o.Size.Height <= 0 {
		o.Size = def.Size
	}
	if o.Quality <= 0 {
		o.Quality = def.Quality
	}
	o.Quality = utils.ClampInt(o.Quality, 1, 100)
	if o.DetectTimeout <= 0 {
		o.DetectTimeout = def.DetectTimeout
	}
	return o
}

// Publisher is satisfied by *eventbus.AsyncEventBus.
type Publisher interface {
	PublishAsync(topic string, args ...interface{})
}

// Config wires a Pipeline. Detector is required.
type Config struct {
	Detector       Detector
	Codec          *frame.Codec
	Annotator      *Annotator
	Logger         *utils.Logger
	Publisher      Publisher
	Options        Options
	MaxConcurrency int
}

// Result is the outcome of one processed payload.
type Result struct {
	Payload string
	Regions []Region
	Width   int // of the decoded input
	Height  int
	Elapsed time.Duration
}

// Pipeline runs decode, detect, annotate and encode. It holds no per-frame
// state so one instance is shared by every caller.
type Pipeline struct {
	detector  Detector
	codec     *frame.Codec
	annotator *Annotator
	logger    *utils.Logger
	publisher Publisher
	sem       *semaphore.Weighted
	opts      atomic.Pointer[Options]
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Detector == nil {
		return nil, platformerrors.New(platformerrors.KindVision, "face.new-pipeline", "detector is required")
	}
	if cfg.Codec == nil {
		cfg.Codec = frame.NewCodec(nil)
	}
	if cfg.Annotator == nil {
		cfg.Annotator = NewAnnotator(DefaultStyle())
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = runtime.NumCPU()
	}

	p := &Pipeline{
		detector:  cfg.Detector,
		codec:     cfg.Codec,
		annotator: cfg.Annotator,
		logger:    cfg.Logger,
		publisher: cfg.Publisher,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
	p.UpdateOptions(cfg.Options)
	return p, nil
}

// Options returns the options in effect.
func (p *Pipeline) Options() Options {
	return *p.opts.Load()
}

// UpdateOptions swaps the options atomically. Calls already in flight keep
// the options they started with.
func (p *Pipeline) UpdateOptions(opts Options) {
	opts = opts.sanitize()
	p.opts.Store(&opts)
}

// DetectFaces returns the faces in f, clipped to its bounds. The detector is
// bounded by DetectTimeout and by the concurrency limit; waiting for a slot
// counts against the timeout.
func (p *Pipeline) DetectFaces(ctx context.Context, f *frame.Frame) ([]Region, error) {
	const op = "face.detect"

	if f.Empty() {
		return []Region{}, nil
	}

	opts := p.Options()
	detectCtx, cancel := context.WithTimeoutCause(ctx, opts.DetectTimeout, ErrDetectTimeout)
	defer cancel()

	if err := p.sem.Acquire(detectCtx, 1); err != nil {
		return nil, p.detectAborted(ctx, detectCtx, op)
	}

	type outcome struct {
		regions []Region
		err     error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		// the slot is held until the detector really returns
		defer p.sem.Release(1)
		regions, err := p.detector.Detect(detectCtx, f)
		done <- outcome{regions: regions, err: err}
	}()

	select {
	case out := <-done:
		observability.RecordMetric(ctx, "vision.detect.duration_ms", float64(time.Since(start).Milliseconds()), nil)
		if out.err != nil {
			if detectCtx.Err() != nil {
				return nil, p.detectAborted(ctx, detectCtx, op)
			}
			return nil, platformerrors.Wrap(platformerrors.KindVision, op, "detector failed", out.err)
		}
		regions, dropped := normalizeRegions(out.regions, f.Bounds())
		if dropped > 0 {
			p.logger.DebugTag("Vision", "dropped %d degenerate regions", dropped)
		}
		return regions, nil
	case <-detectCtx.Done():
		return nil, p.detectAborted(ctx, detectCtx, op)
	}
}

func (p *Pipeline) detectAborted(parent, detectCtx context.Context, op string) error {
	if parent.Err() != nil {
		return platformerrors.Wrap(platformerrors.KindVision, op, "detection cancelled", parent.Err())
	}
	observability.RecordMetric(parent, "vision.detect.timeouts", 1, nil)
	return platformerrors.Wrap(platformerrors.KindVision, op,
		fmt.Sprintf("no answer within %s", p.Options().DetectTimeout), context.Cause(detectCtx))
}

// Annotate draws the markers for regions onto f.
func (p *Pipeline) Annotate(f *frame.Frame, regions []Region) {
	p.annotator.Annotate(f, regions)
}

// AnnotateFrame detects and annotates f in place. Used by the capture loop,
// which owns its frames. A processed event is published only when a face was
// found, so a camera running at full rate does not flood the journal.
func (p *Pipeline) AnnotateFrame(ctx context.Context, f *frame.Frame) ([]Region, error) {
	start := time.Now()
	regions, err := p.DetectFaces(ctx, f)
	if err != nil {
		p.publishFailure(ctx, err)
		return nil, err
	}
	p.Annotate(f, regions)

	elapsed := time.Since(start)
	observability.RecordMetric(ctx, "vision.annotate.duration_ms", float64(elapsed.Milliseconds()),
		map[string]string{"source": OriginFrom(ctx).Source})
	if len(regions) > 0 {
		p.publishProcessed(ctx, f.Width(), f.Height(), regions, elapsed)
	}
	return regions, nil
}

// Process decodes payload, marks every face and returns the annotated frame
// as a 640x360 (by default) JPEG data-URL.
func (p *Pipeline) Process(ctx context.Context, payload string) (_ *Result, err error) {
	ctx, endSpan := observability.StartSpan(ctx, "vision", "process")
	defer func() { endSpan(err) }()

	start := time.Now()
	opts := p.Options()

	f, err := p.codec.Decode(payload)
	if err != nil {
		p.publishFailure(ctx, err)
		return nil, err
	}

	regions, err := p.DetectFaces(ctx, f)
	if err != nil {
		p.publishFailure(ctx, err)
		return nil, err
	}
	p.Annotate(f, regions)

	out, err := frame.Encode(f, opts.Size, opts.Quality)
	if err != nil {
		p.publishFailure(ctx, err)
		return nil, err
	}

	elapsed := time.Since(start)
	observability.RecordMetric(ctx, "vision.process.duration_ms", float64(elapsed.Milliseconds()),
		map[string]string{"source": OriginFrom(ctx).Source})
	p.publishProcessed(ctx, f.Width(), f.Height(), regions, elapsed)

	return &Result{
		Payload: out,
		Regions: regions,
		Width:   f.Width(),
		Height:  f.Height(),
		Elapsed: elapsed,
	}, nil
}

func (p *Pipeline) publishProcessed(ctx context.Context, width, height int, regions []Region, elapsed time.Duration) {
	if p.publisher == nil {
		return
	}
	origin := OriginFrom(ctx)
	boxes := make([]eventbus.Box, len(regions))
	for i, r := range regions {
		boxes[i] = eventbus.Box{Top: r.Top, Right: r.Right, Bottom: r.Bottom, Left: r.Left}
	}
	p.publisher.PublishAsync(eventbus.EventFrameProcessed, eventbus.FrameEventData{
		Source:    origin.Source,
		SessionID: origin.SessionID,
		Width:     width,
		Height:    height,
		Faces:     boxes,
		Elapsed:   elapsed,
		At:        time.Now(),
	})
}

func (p *Pipeline) publishFailure(ctx context.Context, err error) {
	origin := OriginFrom(ctx)
	p.logger.WarnTag("Vision", "%s frame failed (%s): %v", origin.Source, ErrorCode(err), err)
	if p.publisher == nil {
		return
	}
	p.publisher.PublishAsync(eventbus.EventFrameFailed, eventbus.FrameFailedEventData{
		Source:    origin.Source,
		SessionID: origin.SessionID,
		Code:      ErrorCode(err),
		Message:   err.Error(),
		At:        time.Now(),
	})
}

// Error codes reported to clients.
const (
	CodeDecode        = "decode_error"
	CodeDetectTimeout = "detect_timeout"
	CodeDetectFailed  = "detect_failed"
	CodeEncode        = "encode_error"
)

// ErrorCode maps a pipeline error to its client-facing code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrDetectTimeout):
		return CodeDetectTimeout
	case platformerrors.IsKind(err, platformerrors.KindDecode):
		return CodeDecode
	case platformerrors.IsKind(err, platformerrors.KindEncode):
		return CodeEncode
	default:
		return CodeDetectFailed
	}
}
