package vision

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"facecam-server/internal/domain/eventbus"
	"facecam-server/internal/domain/face"
	platformerrors "facecam-server/internal/platform/errors"
	httptransport "facecam-server/internal/transport/http"
	"facecam-server/internal/utils"
)

// DefaultMaxBodySize bounds the request body. A data-URL is about 4/3 of
// the encoded image.
const DefaultMaxBodySize = 8 << 20

// Processor is satisfied by *face.Pipeline.
type Processor interface {
	Process(ctx context.Context, payload string) (*face.Result, error)
}

// ProcessRequest is the body of POST /api/process.
type ProcessRequest struct {
	Image string `json:"image" binding:"required"`
}

// ProcessResponse is the data of a successful POST /api/process.
type ProcessResponse struct {
	Image     string        `json:"image"`
	Faces     []face.Region `json:"faces"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	ElapsedMS int64         `json:"elapsed_ms"`
}

// Service answers single-frame requests over HTTP with the same pipeline the
// socket uses.
type Service struct {
	logger      *utils.Logger
	processor   Processor
	maxBodySize int64
}

func NewService(processor Processor, maxBodySize int64, logger *utils.Logger) (*Service, error) {
	if processor == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "vision.new", "processor is required")
	}
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &Service{
		logger:      logger,
		processor:   processor,
		maxBodySize: maxBodySize,
	}, nil
}

// Register mounts the vision routes.
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.POST("/process", s.handleProcess)
	s.logger.InfoTag("HTTP", "vision routes registered")
	return nil
}

// handleProcess annotates one frame.
// @Summary Annotate a frame
// @Description Decodes a data-URL frame, outlines every detected face and returns the annotated 640x360 JPEG data-URL
// @Tags Vision
// @Accept json
// @Produce json
// @Param request body ProcessRequest true "data-URL frame"
// @Success 200 {object} httptransport.APIResponse{data=ProcessResponse}
// @Failure 400 {object} httptransport.APIResponse
// @Failure 413 {object} httptransport.APIResponse
// @Failure 500 {object} httptransport.APIResponse
// @Failure 504 {object} httptransport.APIResponse
// @Router /process [post]
func (s *Service) handleProcess(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodySize)

	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httptransport.RespondError(c, http.StatusRequestEntityTooLarge, "request body too large", nil)
			return
		}
		httptransport.RespondError(c, http.StatusBadRequest, "body must be {\"image\": \"<data-url>\"}", nil)
		return
	}

	ctx := face.WithOrigin(c.Request.Context(), face.Origin{
		Source:    eventbus.SourceHTTP,
		SessionID: c.ClientIP(),
	})
	res, err := s.processor.Process(ctx, req.Image)
	if err != nil {
		code := face.ErrorCode(err)
		_ = c.Error(err)
		httptransport.RespondError(c, statusFor(err), err.Error(), gin.H{"code": code})
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, ProcessResponse{
		Image:     res.Payload,
		Faces:     res.Regions,
		Width:     res.Width,
		Height:    res.Height,
		ElapsedMS: res.Elapsed.Milliseconds(),
	}, "")
}

func statusFor(err error) int {
	switch face.ErrorCode(err) {
	case face.CodeDecode:
		return http.StatusBadRequest
	case face.CodeDetectTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
