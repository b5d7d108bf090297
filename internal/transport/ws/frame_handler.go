package ws

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"facecam-server/internal/domain/eventbus"
	"facecam-server/internal/domain/face"
	platformerrors "facecam-server/internal/platform/errors"
	"facecam-server/internal/utils"
)

// Processor is satisfied by *face.Pipeline.
type Processor interface {
	Process(ctx context.Context, payload string) (*face.Result, error)
}

// FrameHandler answers "image" events on one connection. A reader goroutine
// parses messages; a worker processes frames one at a time. While a frame is
// in flight only the newest submitted frame is kept.
type FrameHandler struct {
	conn      *Connection
	processor Processor
	logger    *utils.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	pending chan string
	dropped atomic.Int64
	served  atomic.Int64
	wg      sync.WaitGroup
}

func NewFrameHandler(conn *Connection, processor Processor, logger *utils.Logger) *FrameHandler {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = face.WithOrigin(ctx, face.Origin{Source: eventbus.SourceSocket, SessionID: conn.GetID()})
	return &FrameHandler{
		conn:      conn,
		processor: processor,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(chan string, 1),
	}
}

func (h *FrameHandler) GetSessionID() string {
	return h.conn.GetID()
}

// Handle greets the client and reads until the connection ends.
func (h *FrameHandler) Handle() {
	h.wg.Add(1)
	go h.worker()
	defer h.wg.Wait()
	defer h.cancel()

	h.send(EventMyResponse, statusData{Data: "Connected"})

	for {
		messageType, raw, err := h.conn.ReadMessage()
		if err != nil {
			if h.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.DebugTag("WebSocket", "session %s read ended: %v", h.GetSessionID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			h.sendError(CodeBadMessage, "binary messages are not supported")
			continue
		}
		h.dispatch(raw)
	}
}

func (h *FrameHandler) dispatch(raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		h.sendError(CodeBadMessage, err.Error())
		return
	}

	switch env.Event {
	case EventImage:
		payload, err := env.ImagePayload()
		if err != nil {
			h.sendError(CodeBadMessage, err.Error())
			return
		}
		h.enqueue(payload)
	default:
		h.sendError(CodeBadMessage, "unknown event "+env.Event)
	}
}

// enqueue replaces a frame still waiting for the worker.
func (h *FrameHandler) enqueue(payload string) {
	select {
	case h.pending <- payload:
		return
	default:
	}
	select {
	case <-h.pending:
		h.dropped.Add(1)
	default:
	}
	select {
	case h.pending <- payload:
	default:
		h.dropped.Add(1)
	}
}

func (h *FrameHandler) worker() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case payload := <-h.pending:
			h.process(payload)
		}
	}
}

func (h *FrameHandler) process(payload string) {
	res, err := h.processor.Process(h.ctx, payload)
	if h.ctx.Err() != nil {
		// the client is gone; nothing to deliver
		return
	}
	if err != nil {
		if platformerrors.IsKind(err, platformerrors.KindEncode) {
			h.logger.ErrorTag("WebSocket", "session %s: %v", h.GetSessionID(), err)
		}
		h.sendError(face.ErrorCode(err), err.Error())
		return
	}
	h.served.Add(1)
	h.send(EventProcessedImage, res.Payload)
}

func (h *FrameHandler) send(event string, data any) {
	msg, err := EncodeEnvelope(event, data)
	if err != nil {
		h.logger.ErrorTag("WebSocket", "encode %s: %v", event, err)
		return
	}
	if err := h.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		h.logger.DebugTag("WebSocket", "session %s write %s: %v", h.GetSessionID(), event, err)
	}
}

func (h *FrameHandler) sendError(code, message string) {
	h.send(EventError, ErrorData{Code: code, Message: message})
}

// Close stops the worker and unblocks the reader.
func (h *FrameHandler) Close() {
	h.cancel()
	_ = h.conn.Close()
}

// Stats reports frames answered and frames replaced before processing.
func (h *FrameHandler) Stats() (served, dropped int64) {
	return h.served.Load(), h.dropped.Load()
}
