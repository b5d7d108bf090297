// Package capture runs the server-side camera loop and fans annotated JPEG
// frames out to stream viewers.
package capture

import (
	"context"

	"facecam-server/internal/domain/face"
	"facecam-server/internal/domain/frame"
)

// Camera yields frames from a device. Each Read returns a frame the caller
// owns. Read failures are device-kind errors.
type Camera interface {
	Read(ctx context.Context) (*frame.Frame, error)
	Close() error
}

// Opener opens the configured device.
type Opener func(ctx context.Context) (Camera, error)

// Annotator is satisfied by *face.Pipeline.
type Annotator interface {
	AnnotateFrame(ctx context.Context, f *frame.Frame) ([]face.Region, error)
}
