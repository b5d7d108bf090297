package frame

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"golang.org/x/image/draw"

	platformerrors "facecam-server/internal/platform/errors"
	"facecam-server/internal/utils"
)

// DataURLPrefix is prepended to every payload this package encodes.
const DataURLPrefix = "data:image/jpg;base64,"

const (
	DefaultWidth   = 640
	DefaultHeight  = 360
	DefaultQuality = 90
)

// Size is a target resolution in pixels.
type Size struct {
	Width  int
	Height int
}

// DefaultSize is the outbound resolution of processed frames.
var DefaultSize = Size{Width: DefaultWidth, Height: DefaultHeight}

func (s Size) valid() bool { return s.Width > 0 && s.Height > 0 }

// Codec converts between data-URL payloads and Frames.
type Codec struct {
	validator *Validator
}

// NewCodec builds a codec that screens input with validator. A nil validator
// applies the default limits.
func NewCodec(validator *Validator) *Codec {
	if validator == nil {
		validator = NewValidator(nil, nil)
	}
	return &Codec{validator: validator}
}

var defaultCodec = NewCodec(nil)

// Decode parses a data-URL payload with the default limits.
func Decode(text string) (*Frame, error) {
	return defaultCodec.Decode(text)
}

// Decode strips the metadata prefix, base64-decodes the body and decodes the
// image. Every failure is a decode-kind error.
func (c *Codec) Decode(text string) (*Frame, error) {
	const op = "frame.decode"

	declared, body := splitDataURL(text)
	if body == "" {
		return nil, platformerrors.New(platformerrors.KindDecode, op, "empty payload")
	}

	raw, err := decodeBase64(body)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindDecode, op, "malformed base64 body", err)
	}

	check := c.validator.Validate(raw, declared)
	if !check.IsValid {
		return nil, platformerrors.Wrap(platformerrors.KindDecode, op, "payload rejected", check.Error)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindDecode, op, "unrecognised image data", err)
	}
	return FromImage(img), nil
}

// splitDataURL returns the declared image subtype ("png" for
// "data:image/png;base64") and the base64 body. Text without a comma is
// treated as a bare body.
func splitDataURL(text string) (string, string) {
	text = strings.TrimSpace(text)
	idx := strings.IndexByte(text, ',')
	if idx < 0 {
		return "", text
	}
	meta, body := text[:idx], strings.TrimSpace(text[idx+1:])

	declared := ""
	if rest, ok := strings.CutPrefix(meta, "data:image/"); ok {
		declared, _, _ = strings.Cut(rest, ";")
		declared = strings.ToLower(declared)
	}
	return declared, body
}

func decodeBase64(body string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(body)
	if err == nil {
		return raw, nil
	}
	// some clients drop the padding
	if !strings.HasSuffix(body, "=") {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(body); rawErr == nil {
			return raw, nil
		}
	}
	return nil, err
}

// Encode resizes f to size (aspect ratio not preserved), compresses it as JPEG
// at quality and returns the data-URL form.
func Encode(f *Frame, size Size, quality int) (string, error) {
	const op = "frame.encode"

	if !size.valid() {
		return "", platformerrors.New(platformerrors.KindEncode, op, fmt.Sprintf("invalid target size %dx%d", size.Width, size.Height))
	}
	if f.Empty() {
		return "", platformerrors.New(platformerrors.KindEncode, op, "empty frame")
	}

	data, err := encodeJPEG(Resize(f, size).RGBA(), quality)
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindEncode, op, "jpeg encode failed", err)
	}
	return DataURLPrefix + base64.StdEncoding.EncodeToString(data), nil
}

// EncodeJPEG compresses f at its native resolution.
func EncodeJPEG(f *Frame, quality int) ([]byte, error) {
	const op = "frame.encode-jpeg"

	if f.Empty() {
		return nil, platformerrors.New(platformerrors.KindEncode, op, "empty frame")
	}
	data, err := encodeJPEG(f.RGBA(), quality)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindEncode, op, "jpeg encode failed", err)
	}
	return data, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: utils.ClampInt(quality, 1, 100)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Resize scales f to exactly size with bilinear interpolation. A frame that
// already has the target size is copied.
func Resize(f *Frame, size Size) *Frame {
	if f.Width() == size.Width && f.Height() == size.Height {
		return f.Clone()
	}
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), f.RGBA(), f.Bounds().Sub(f.Bounds().Min), draw.Src, nil)
	return FromImage(dst)
}
