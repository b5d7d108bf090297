// Package webcam reads frames from a local camera through OpenCV.
package webcam

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"facecam-server/internal/domain/capture"
	"facecam-server/internal/domain/frame"
	"facecam-server/internal/platform/config"
	platformerrors "facecam-server/internal/platform/errors"
)

type Camera struct {
	device int
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	mu     sync.Mutex
}

// Open opens device and requests width x height. Zero sizes keep the
// device default.
func Open(device, width, height int) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindDevice, "webcam.open", fmt.Sprintf("open device %d", device), err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, platformerrors.New(platformerrors.KindDevice, "webcam.open", fmt.Sprintf("device %d not available", device))
	}
	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	return &Camera{device: device, vc: vc, mat: gocv.NewMat()}, nil
}

// Opener adapts Open to the capture loop.
func Opener(cfg config.CaptureConfig) capture.Opener {
	return func(context.Context) (capture.Camera, error) {
		return Open(cfg.Device, cfg.Width, cfg.Height)
	}
}

// DeviceName is the label used in logs and events.
func DeviceName(cfg config.CaptureConfig) string {
	return "video" + strconv.Itoa(cfg.Device)
}

// Read grabs the next frame. The returned frame is a copy the caller owns.
func (c *Camera) Read(ctx context.Context) (*frame.Frame, error) {
	const op = "webcam.read"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil, platformerrors.New(platformerrors.KindDevice, op, "camera closed")
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, platformerrors.New(platformerrors.KindDevice, op, fmt.Sprintf("no frame from device %d", c.device))
	}
	if c.mat.Channels() != 3 {
		return nil, platformerrors.New(platformerrors.KindDevice, op, fmt.Sprintf("unexpected %d-channel frame", c.mat.Channels()))
	}
	return frame.FromBGR(c.mat.ToBytes(), c.mat.Cols(), c.mat.Rows()), nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	_ = c.mat.Close()
	c.vc = nil
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindDevice, "webcam.close", "release device", err)
	}
	return nil
}
