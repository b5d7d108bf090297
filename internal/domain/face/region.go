package face

import (
	"context"
	"image"
	"math"

	"facecam-server/internal/domain/frame"
)

// Region is a detected face in pixel coordinates of the frame it came from.
// A valid region satisfies 0 <= Top < Bottom <= height and 0 <= Left < Right <= width.
type Region struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// RegionFromRect converts an image.Rectangle (Min inclusive, Max exclusive).
func RegionFromRect(r image.Rectangle) Region {
	r = r.Canon()
	return Region{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X}
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

func (r Region) Width() int  { return r.Right - r.Left }
func (r Region) Height() int { return r.Bottom - r.Top }

// Clip intersects the region with bounds and reports whether anything is left.
func (r Region) Clip(bounds image.Rectangle) (Region, bool) {
	clipped := r.Rect().Intersect(bounds)
	if clipped.Empty() {
		return Region{}, false
	}
	return RegionFromRect(clipped.Sub(bounds.Min)), true
}

// Scale maps the region into a frame resized by (sx, sy).
func (r Region) Scale(sx, sy float64) Region {
	return Region{
		Top:    int(math.Round(float64(r.Top) * sy)),
		Right:  int(math.Round(float64(r.Right) * sx)),
		Bottom: int(math.Round(float64(r.Bottom) * sy)),
		Left:   int(math.Round(float64(r.Left) * sx)),
	}
}

// Detector finds faces in a frame. Implementations must not modify the frame
// and should return an empty slice, not an error, when there are no faces.
type Detector interface {
	Detect(ctx context.Context, f *frame.Frame) ([]Region, error)
}

// DetectorFunc adapts a plain function to Detector.
type DetectorFunc func(ctx context.Context, f *frame.Frame) ([]Region, error)

func (fn DetectorFunc) Detect(ctx context.Context, f *frame.Frame) ([]Region, error) {
	return fn(ctx, f)
}

// NoopDetector never finds a face. Used when detection is switched off.
var NoopDetector Detector = DetectorFunc(func(context.Context, *frame.Frame) ([]Region, error) {
	return []Region{}, nil
})

// normalizeRegions clips detector output to the frame and drops empty boxes.
func normalizeRegions(regions []Region, bounds image.Rectangle) ([]Region, int) {
	out := make([]Region, 0, len(regions))
	dropped := 0
	for _, r := range regions {
		clipped, ok := r.Clip(bounds)
		if !ok {
			dropped++
			continue
		}
		out = append(out, clipped)
	}
	return out, dropped
}
