// Package cascade detects faces with an OpenCV Haar cascade.
package cascade

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"facecam-server/internal/domain/face"
	"facecam-server/internal/domain/frame"
	"facecam-server/internal/platform/config"
	platformerrors "facecam-server/internal/platform/errors"
)

// Classifiers are not safe for concurrent use, so the detector keeps a pool
// of them and hands one to each call.
type Detector struct {
	cfg       config.CascadeConfig
	pool      chan *gocv.CascadeClassifier
	all       []*gocv.CascadeClassifier
	closeOnce sync.Once
}

// New loads poolSize copies of the cascade at cfg.Path, resolved with
// ResolvePath.
func New(cfg config.CascadeConfig, poolSize int) (*Detector, error) {
	const op = "cascade.new"

	if cfg.ScaleFactor <= 1 {
		cfg.ScaleFactor = 1.1
	}
	if cfg.MinNeighbors <= 0 {
		cfg.MinNeighbors = 5
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 30
	}
	if poolSize <= 0 {
		poolSize = 1
	}
	path, err := ResolvePath(cfg.Path)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindVision, op, "cascade file not readable", err)
	}
	cfg.Path = path

	d := &Detector{
		cfg:  cfg,
		pool: make(chan *gocv.CascadeClassifier, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		classifier := gocv.NewCascadeClassifier()
		if !classifier.Load(cfg.Path) {
			_ = classifier.Close()
			d.Close()
			return nil, platformerrors.New(platformerrors.KindVision, op, fmt.Sprintf("failed to load cascade %s", cfg.Path))
		}
		d.all = append(d.all, &classifier)
		d.pool <- &classifier
	}
	return d, nil
}

// Detect runs the cascade on an equalised grayscale copy of f.
func (d *Detector) Detect(ctx context.Context, f *frame.Frame) ([]face.Region, error) {
	const op = "cascade.detect"

	var classifier *gocv.CascadeClassifier
	select {
	case classifier = <-d.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { d.pool <- classifier }()

	src, err := gocv.NewMatFromBytes(f.Height(), f.Width(), gocv.MatTypeCV8UC3, f.BGR())
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindVision, op, "frame to mat", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	minSize := image.Pt(d.cfg.MinSize, d.cfg.MinSize)
	rects := classifier.DetectMultiScaleWithParams(gray, d.cfg.ScaleFactor, d.cfg.MinNeighbors, 0, minSize, image.Point{})

	regions := make([]face.Region, 0, len(rects))
	for _, r := range rects {
		regions = append(regions, face.RegionFromRect(r))
	}
	return regions, nil
}

// Close releases every classifier. Detect must not be called afterwards.
func (d *Detector) Close() error {
	d.closeOnce.Do(func() {
		for _, c := range d.all {
			_ = c.Close()
		}
	})
	return nil
}
