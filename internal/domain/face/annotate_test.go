package face

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facecam-server/internal/domain/frame"
)

func TestAnnotateWithoutRegionsIsNoop(t *testing.T) {
	f := sceneFrame(120, 80, image.Rect(10, 10, 50, 50))
	before := f.Clone()

	a := NewAnnotator(DefaultStyle())
	a.Annotate(f, nil)
	a.Annotate(f, []Region{})

	assert.True(t, f.Equal(before))
	assert.Equal(t, before.Pix, f.Pix)
}

func TestAnnotateMarksOutlineBarAndCaption(t *testing.T) {
	f := sceneFrame(160, 120, image.Rectangle{})
	r := Region{Top: 20, Right: 80, Bottom: 60, Left: 10}

	NewAnnotator(DefaultStyle()).Annotate(f, []Region{r})

	// outline on all four edges
	for _, p := range []image.Point{{10, 22}, {79, 22}, {45, 19}, {45, 20}, {9, 40}, {80, 40}} {
		assert.True(t, isRed(f.RGBAt(p.X, p.Y)), "expected outline at %v, got %v", p, f.RGBAt(p.X, p.Y))
	}
	// label bar spans bottom-35 to bottom
	assert.True(t, isRed(f.RGBAt(75, r.Bottom-35)))
	assert.True(t, isRed(f.RGBAt(75, r.Bottom)))
	// interior above the bar is untouched
	assert.Equal(t, background, f.RGBAt(45, 23))
	// outside the box is untouched
	assert.Equal(t, background, f.RGBAt(120, 100))

	white := 0
	for y := r.Bottom - 35; y <= r.Bottom; y++ {
		for x := r.Left; x < r.Right; x++ {
			c := f.RGBAt(x, y)
			if c.G > 200 && c.B > 200 {
				white++
			}
		}
	}
	assert.Positive(t, white, "caption pixels missing from the label bar")
}

func TestAnnotateClipsAtFrameEdges(t *testing.T) {
	f := sceneFrame(40, 30, image.Rectangle{})
	require.NotPanics(t, func() {
		NewAnnotator(DefaultStyle()).Annotate(f, []Region{{Top: 0, Right: 40, Bottom: 30, Left: 0}})
	})
	assert.True(t, isRed(f.RGBAt(0, 0)))
	assert.True(t, isRed(f.RGBAt(0, 29)))
	assert.True(t, isRed(f.RGBAt(39, 0)))
}

func TestAnnotateCustomStyle(t *testing.T) {
	style := DefaultStyle()
	style.Caption = ""
	style.Thickness = 0
	f := sceneFrame(60, 60, image.Rectangle{})

	NewAnnotator(style).Annotate(f, []Region{{Top: 10, Right: 50, Bottom: 50, Left: 10}})

	assert.True(t, isRed(f.RGBAt(10, 30)))
	for x := 10; x <= 50; x++ {
		c := f.RGBAt(x, 40)
		assert.False(t, c.G > 200, "no caption expected at (%d,40)", x)
	}
}

func TestRegionHelpers(t *testing.T) {
	r := RegionFromRect(image.Rect(30, 20, 10, 5))
	assert.Equal(t, Region{Top: 5, Right: 30, Bottom: 20, Left: 10}, r)
	assert.Equal(t, 20, r.Width())
	assert.Equal(t, 15, r.Height())

	assert.Equal(t, Region{Top: 3, Right: 15, Bottom: 10, Left: 5}, r.Scale(0.5, 0.5))

	_, ok := Region{Top: 5, Right: 5, Bottom: 10, Left: 5}.Clip(frame.New(10, 10).Bounds())
	assert.False(t, ok)
}
