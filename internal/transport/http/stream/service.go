package stream

import (
	"context"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/gin-gonic/gin"

	"facecam-server/internal/domain/capture"
	httptransport "facecam-server/internal/transport/http"
	"facecam-server/internal/utils"
)

// Boundary separates the JPEG parts of /video_feed.
const Boundary = "frame"

// Service serves the capture loop as an MJPEG stream. A nil broadcaster
// means capture is disabled.
type Service struct {
	broadcaster *capture.Broadcaster
	logger      *utils.Logger
}

func NewService(broadcaster *capture.Broadcaster, logger *utils.Logger) *Service {
	return &Service{broadcaster: broadcaster, logger: logger}
}

// Register mounts GET /video_feed.
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.GET("/video_feed", s.handleStream)
	return nil
}

func (s *Service) handleStream(c *gin.Context) {
	if s.broadcaster == nil {
		httptransport.RespondError(c, http.StatusServiceUnavailable, "capture is disabled", nil)
		return
	}

	sub := s.broadcaster.Subscribe()
	defer sub.Close()

	w := c.Writer
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(Boundary); err != nil {
		return
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case jpeg, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeJPEGFrame(mw, jpeg); err != nil {
				s.logger.DebugTag("Stream", "viewer %s gone: %v", c.ClientIP(), err)
				return
			}
			w.Flush()
		}
	}
}

func writeJPEGFrame(mw *multipart.Writer, jpeg []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", strconv.Itoa(len(jpeg)))

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(jpeg)
	return err
}
