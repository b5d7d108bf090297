package frame

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facecam-server/internal/platform/config"
	platformerrors "facecam-server/internal/platform/errors"
)

func gradientFrame(w, h int) *Frame {
	f := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.SetRGB(x, y, uint8(x*255/w), uint8(y*255/h), 128)
		}
	}
	return f
}

func pngDataURL(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sizes := []Size{DefaultSize, {Width: 320, Height: 240}, {Width: 17, Height: 9}}
	src := gradientFrame(1280, 720)

	for _, size := range sizes {
		payload, err := Encode(src, size, DefaultQuality)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(payload, DataURLPrefix))

		decoded, err := Decode(payload)
		require.NoError(t, err, "own output must always decode")
		assert.Equal(t, size.Width, decoded.Width())
		assert.Equal(t, size.Height, decoded.Height())
	}
}

func TestEncodeKeepsColours(t *testing.T) {
	src := New(64, 36)
	src.Fill(src.Bounds(), color.RGBA{R: 200, G: 30, B: 40, A: 255})

	payload, err := Encode(src, Size{Width: 64, Height: 36}, 95)
	require.NoError(t, err)
	decoded, err := Decode(payload)
	require.NoError(t, err)

	c := decoded.RGBAt(32, 18)
	assert.InDelta(t, 200, int(c.R), 12)
	assert.InDelta(t, 30, int(c.G), 12)
	assert.InDelta(t, 40, int(c.B), 12)
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encode(New(0, 0), DefaultSize, DefaultQuality)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindEncode))

	_, err = Encode(gradientFrame(10, 10), Size{Width: 0, Height: 10}, DefaultQuality)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindEncode))

	_, err = EncodeJPEG(nil, DefaultQuality)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindEncode))
}

func TestEncodeJPEGNativeSize(t *testing.T) {
	data, err := EncodeJPEG(gradientFrame(100, 50), 80)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestDecodeAcceptsPrefixVariants(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	payload := pngDataURL(t, img)
	body := payload[strings.IndexByte(payload, ',')+1:]

	cases := map[string]string{
		"png data url":    payload,
		"bare body":       body,
		"unpadded body":   "data:image/png;base64," + strings.TrimRight(body, "="),
		"arbitrary label": "whatever," + body,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := Decode(text)
			require.NoError(t, err)
			assert.Equal(t, 8, f.Width())
			assert.Equal(t, 4, f.Height())
		})
	}
}

func TestDecodeMalformedInput(t *testing.T) {
	valid, err := Encode(gradientFrame(64, 64), Size{Width: 64, Height: 64}, 90)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":             "",
		"prefix only":       "data:image/jpg;base64,",
		"not base64":        "data:image/jpg;base64,@@@not-base64@@@",
		"base64 of text":    "data:image/jpg;base64," + base64.StdEncoding.EncodeToString([]byte("hello world")),
		"truncated payload": valid[:len(valid)/2],
		"truncated header":  valid[:len(DataURLPrefix)+16],
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			var f *Frame
			assert.NotPanics(t, func() {
				f, err = Decode(text)
			})
			assert.Nil(t, f)
			require.Error(t, err)
			assert.True(t, platformerrors.IsKind(err, platformerrors.KindDecode), "got %v", err)
		})
	}
}

func TestCodecHonoursSecurityLimits(t *testing.T) {
	payload := pngDataURL(t, image.NewRGBA(image.Rect(0, 0, 40, 30)))

	tests := []struct {
		name string
		cfg  config.SecurityConfig
	}{
		{name: "too wide", cfg: config.SecurityConfig{MaxWidth: 32, MaxHeight: 100}},
		{name: "too many pixels", cfg: config.SecurityConfig{MaxPixels: 100}},
		{name: "too large", cfg: config.SecurityConfig{MaxFileSize: 10}},
		{name: "format not allowed", cfg: config.SecurityConfig{AllowedFormats: []string{"jpeg"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			codec := NewCodec(NewValidator(&cfg, nil))
			_, err := codec.Decode(payload)
			assert.True(t, platformerrors.IsKind(err, platformerrors.KindDecode), "got %v", err)
		})
	}
}

func TestCodecDecodesOwnOutputUnderEitherJPEGName(t *testing.T) {
	encoded, err := Encode(gradientFrame(64, 48), Size{Width: 64, Height: 48}, 90)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, DataURLPrefix))

	for _, formats := range [][]string{{"jpeg"}, {"jpg"}, {"JPEG", "png"}} {
		cfg := config.SecurityConfig{AllowedFormats: formats, EnableDeepScan: true}
		codec := NewCodec(NewValidator(&cfg, nil))
		f, err := codec.Decode(encoded)
		require.NoError(t, err, "allowed formats %v", formats)
		assert.Equal(t, 64, f.Width())
	}

	cfg := config.SecurityConfig{AllowedFormats: []string{"png"}}
	_, err = NewCodec(NewValidator(&cfg, nil)).Decode(encoded)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindDecode))
}

func TestValidatorDeepScan(t *testing.T) {
	cfg := config.SecurityConfig{EnableDeepScan: true}
	v := NewValidator(&cfg, nil)

	exe := append([]byte{0x4D, 0x5A}, bytes.Repeat([]byte{0}, 64)...)
	result := v.Validate(exe, "")
	assert.False(t, result.IsValid)
	assert.Equal(t, "suspicious content", result.SecurityRisk)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 2))))
	result = v.Validate(buf.Bytes(), "png")
	assert.True(t, result.IsValid)
	assert.Equal(t, "png", result.Format)
	assert.Equal(t, 3, result.Width)
	assert.Equal(t, 2, result.Height)
}

func TestSplitDataURL(t *testing.T) {
	declared, body := splitDataURL(" data:image/PNG;base64,abcd ")
	assert.Equal(t, "png", declared)
	assert.Equal(t, "abcd", body)

	declared, body = splitDataURL("abcd")
	assert.Equal(t, "", declared)
	assert.Equal(t, "abcd", body)
}

func TestResize(t *testing.T) {
	src := gradientFrame(200, 100)

	same := Resize(src, Size{Width: 200, Height: 100})
	assert.True(t, same.Equal(src))
	same.SetRGB(0, 0, 1, 2, 3)
	assert.False(t, same.Equal(src), "resize must not alias the source")

	scaled := Resize(src, Size{Width: 50, Height: 80})
	assert.Equal(t, 50, scaled.Width())
	assert.Equal(t, 80, scaled.Height())
}
