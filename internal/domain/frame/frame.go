package frame

import (
	"bytes"
	"image"
	"image/color"
)

// Frame is an 8-bit RGB bitmap without alpha. Pixel (x, y) channel c lives at
// Pix[(y-Rect.Min.Y)*Stride + (x-Rect.Min.X)*3 + c].
//
// A Frame is owned by whoever created it; it is never shared between
// concurrent requests.
type Frame struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

// New allocates a black frame of the given size.
func New(width, height int) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Pix:    make([]uint8, width*height*3),
		Stride: width * 3,
		Rect:   image.Rect(0, 0, width, height),
	}
}

// FromImage copies any decoded image into a new Frame, dropping alpha.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := New(b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < b.Dy(); y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			di := y * f.Stride
			for x := 0; x < b.Dx(); x++ {
				f.Pix[di] = src.Pix[si]
				f.Pix[di+1] = src.Pix[si+1]
				f.Pix[di+2] = src.Pix[si+2]
				si += 4
				di += 3
			}
		}
	case *image.YCbCr:
		for y := 0; y < b.Dy(); y++ {
			di := y * f.Stride
			for x := 0; x < b.Dx(); x++ {
				yi := src.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := src.COffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				f.Pix[di], f.Pix[di+1], f.Pix[di+2] = r, g, bl
				di += 3
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			di := y * f.Stride
			for x := 0; x < b.Dx(); x++ {
				c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
				f.Pix[di], f.Pix[di+1], f.Pix[di+2] = c.R, c.G, c.B
				di += 3
			}
		}
	}
	return f
}

// FromBGR builds a Frame from tightly packed BGR rows, the layout OpenCV uses.
func FromBGR(data []byte, width, height int) *Frame {
	f := New(width, height)
	n := len(f.Pix)
	if len(data) < n {
		n = len(data) - len(data)%3
	}
	for i := 0; i < n; i += 3 {
		f.Pix[i] = data[i+2]
		f.Pix[i+1] = data[i+1]
		f.Pix[i+2] = data[i]
	}
	return f
}

// BGR returns the pixels as tightly packed BGR rows.
func (f *Frame) BGR() []byte {
	out := make([]byte, f.Width()*f.Height()*3)
	i := 0
	for y := 0; y < f.Height(); y++ {
		row := f.Pix[y*f.Stride : y*f.Stride+f.Width()*3]
		for x := 0; x < len(row); x += 3 {
			out[i] = row[x+2]
			out[i+1] = row[x+1]
			out[i+2] = row[x]
			i += 3
		}
	}
	return out
}

func (f *Frame) Width() int  { return f.Rect.Dx() }
func (f *Frame) Height() int { return f.Rect.Dy() }

// Empty reports whether the frame holds no pixels.
func (f *Frame) Empty() bool {
	return f == nil || f.Rect.Empty()
}

func (f *Frame) ColorModel() color.Model { return color.RGBAModel }

func (f *Frame) Bounds() image.Rectangle { return f.Rect }

// PixOffset returns the index of the first channel of pixel (x, y).
func (f *Frame) PixOffset(x, y int) int {
	return (y-f.Rect.Min.Y)*f.Stride + (x-f.Rect.Min.X)*3
}

func (f *Frame) At(x, y int) color.Color {
	return f.RGBAt(x, y)
}

// RGBAt returns the opaque colour at (x, y), or transparent black outside the frame.
func (f *Frame) RGBAt(x, y int) color.RGBA {
	if !(image.Point{X: x, Y: y}.In(f.Rect)) {
		return color.RGBA{}
	}
	i := f.PixOffset(x, y)
	return color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 0xff}
}

func (f *Frame) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}.In(f.Rect)) {
		return
	}
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	i := f.PixOffset(x, y)
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = rgba.R, rgba.G, rgba.B
}

// SetRGB writes one pixel without going through color.Color.
func (f *Frame) SetRGB(x, y int, r, g, b uint8) {
	if !(image.Point{X: x, Y: y}.In(f.Rect)) {
		return
	}
	i := f.PixOffset(x, y)
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = r, g, b
}

// Fill paints every pixel of rect (clipped to the frame) with one colour.
func (f *Frame) Fill(rect image.Rectangle, c color.RGBA) {
	rect = rect.Intersect(f.Rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		i := f.PixOffset(rect.Min.X, y)
		for x := rect.Min.X; x < rect.Max.X; x++ {
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Pix: pix, Stride: f.Stride, Rect: f.Rect}
}

// Equal reports whether both frames have identical geometry and pixels.
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.Rect == other.Rect && f.Stride == other.Stride && bytes.Equal(f.Pix, other.Pix)
}

// RGBA converts to an *image.RGBA, which encoders handle on their fast path.
func (f *Frame) RGBA() *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, f.Width(), f.Height()))
	for y := 0; y < f.Height(); y++ {
		si := y * f.Stride
		di := y * dst.Stride
		for x := 0; x < f.Width(); x++ {
			dst.Pix[di] = f.Pix[si]
			dst.Pix[di+1] = f.Pix[si+1]
			dst.Pix[di+2] = f.Pix[si+2]
			dst.Pix[di+3] = 0xff
			si += 3
			di += 4
		}
	}
	return dst
}
