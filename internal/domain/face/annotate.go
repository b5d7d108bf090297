package face

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"facecam-server/internal/domain/frame"
)

// Caption is drawn on the label bar of every detected face.
const Caption = "Capture Face!"

// Style controls how a region is marked.
type Style struct {
	BoxColor    color.RGBA
	TextColor   color.RGBA
	Thickness   int
	LabelHeight int
	TextOffset  image.Point // from the bottom-left corner of the region
	Caption     string
	FontSize    float64
}

// DefaultStyle draws a 2px red outline, a 35px red label bar and white text.
func DefaultStyle() Style {
	return Style{
		BoxColor:    color.RGBA{R: 255, A: 255},
		TextColor:   color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Thickness:   2,
		LabelHeight: 35,
		TextOffset:  image.Pt(6, -6),
		Caption:     Caption,
		FontSize:    22,
	}
}

// Annotator draws face markers. The parsed font is shared; a font.Face is
// created per call because faces keep per-glyph scratch state.
type Annotator struct {
	style Style
	font  *opentype.Font
}

// NewAnnotator parses the bundled Go Medium font. If parsing fails the
// annotator falls back to the fixed 7x13 bitmap face.
func NewAnnotator(style Style) *Annotator {
	if style.Thickness <= 0 {
		style.Thickness = 1
	}
	a := &Annotator{style: style}
	if parsed, err := opentype.Parse(gomedium.TTF); err == nil {
		a.font = parsed
	}
	return a
}

// Annotate marks every region on f in place: outline, filled label bar
// anchored to the bottom edge, caption on the bar. No regions means no writes.
func (a *Annotator) Annotate(f *frame.Frame, regions []Region) {
	if len(regions) == 0 || f.Empty() {
		return
	}

	face, closeFace := a.newFace()
	defer closeFace()

	for _, r := range regions {
		a.drawOutline(f, r)
		a.drawLabel(f, r, face)
	}
}

func (a *Annotator) drawOutline(f *frame.Frame, r Region) {
	t := a.style.Thickness
	half := t / 2
	left, top := r.Left-half, r.Top-half
	right, bottom := r.Right-half+t, r.Bottom-half+t

	c := a.style.BoxColor
	f.Fill(image.Rect(left, top, right, top+t), c)
	f.Fill(image.Rect(left, bottom-t, right, bottom), c)
	f.Fill(image.Rect(left, top, left+t, bottom), c)
	f.Fill(image.Rect(right-t, top, right, bottom), c)
}

func (a *Annotator) drawLabel(f *frame.Frame, r Region, face font.Face) {
	f.Fill(image.Rect(r.Left, r.Bottom-a.style.LabelHeight, r.Right+1, r.Bottom+1), a.style.BoxColor)

	if a.style.Caption == "" {
		return
	}
	d := &font.Drawer{
		Dst:  f,
		Src:  image.NewUniform(a.style.TextColor),
		Face: face,
		Dot:  fixed.P(r.Left+a.style.TextOffset.X, r.Bottom+a.style.TextOffset.Y),
	}
	d.DrawString(a.style.Caption)
}

func (a *Annotator) newFace() (font.Face, func()) {
	if a.font != nil {
		face, err := opentype.NewFace(a.font, &opentype.FaceOptions{
			Size:    a.style.FontSize,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err == nil {
			return face, func() { _ = face.Close() }
		}
	}
	return basicfont.Face7x13, func() {}
}
