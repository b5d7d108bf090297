package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"facecam-server/internal/domain/eventbus"
	"facecam-server/internal/domain/face"
	"facecam-server/internal/platform/observability"
	"facecam-server/internal/utils"
)

const maxClientLabel = 64

// HandlerBuilder creates a session handler for an upgraded websocket connection.
type HandlerBuilder func(conn *Connection, req *http.Request) (SessionHandler, error)

// Router upgrades HTTP requests to websocket sessions.
type Router struct {
	hub    *Hub
	logger *utils.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	readLimit        int64
	idleTimeout      time.Duration
	publisher        face.Publisher
	builder          atomic.Value // HandlerBuilder
}

type RouterOptions struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
	IdleTimeout      time.Duration
	CheckOrigin      func(r *http.Request) bool
	Publisher        face.Publisher
}

func NewRouter(hub *Hub, logger *utils.Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	upgrader.HandshakeTimeout = timeout

	return &Router{
		hub:              hub,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
		readLimit:        opts.ReadLimit,
		idleTimeout:      opts.IdleTimeout,
		publisher:        opts.Publisher,
	}
}

// SetHandlerBuilder registers the handler builder invoked after a successful upgrade.
func (r *Router) SetHandlerBuilder(builder HandlerBuilder) {
	r.builder.Store(builder)
}

// UseProcessor installs a builder that answers frames with processor.
func (r *Router) UseProcessor(processor Processor) {
	r.SetHandlerBuilder(func(conn *Connection, _ *http.Request) (SessionHandler, error) {
		return NewFrameHandler(conn, processor, r.logger), nil
	})
}

func (r *Router) Hub() *Hub {
	return r.hub
}

// Handle upgrades the HTTP connection and launches a new websocket session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	value := r.builder.Load()
	if value == nil {
		http.Error(w, "websocket handler not ready", http.StatusServiceUnavailable)
		return
	}
	builder := value.(HandlerBuilder)

	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.upgrade.error", 1,
			map[string]string{"component": "transport.websocket"})
		r.logger.ErrorTag("WebSocket", "handshake failed: %v", err)
		return
	}

	sessionID := resolveSessionID(req)
	wsConn := NewConnection(sessionID, conn)
	wsConn.SetLimits(r.readLimit, r.idleTimeout)
	r.logger.InfoTag("WebSocket", "session %s opened from %s", sessionID, wsConn.RemoteAddr())

	handler, err := builder(wsConn, req)
	if err != nil || handler == nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.connection.error", 1,
			map[string]string{"component": "transport.websocket", "reason": "handler_creation_failed"})
		r.logger.ErrorTag("WebSocket", "failed to create session handler: %v", err)
		_ = wsConn.Close()
		return
	}

	// the request context ends when this handler returns
	session := NewSession(context.WithoutCancel(spanCtx), handler, wsConn, r.logger)
	if !r.hub.Register(session) {
		spanErr = ErrDuplicateSession
		r.logger.ErrorTag("WebSocket", "session %s already registered", session.ID())
		_ = wsConn.Close()
		return
	}
	r.publish(eventbus.EventConnectionOpened, session.ID(), wsConn.RemoteAddr())
	observability.RecordMetric(spanCtx, "websocket.connection.opened", 1,
		map[string]string{"component": "transport.websocket"})

	go session.Run(func(runErr error) {
		r.hub.Unregister(session)
		if runErr != nil {
			r.logger.WarnTag("WebSocket", "session %s ended abnormally: %v", session.ID(), runErr)
		}
		r.logger.InfoTag("WebSocket", "session %s closed", session.ID())
		r.publish(eventbus.EventConnectionClosed, session.ID(), wsConn.RemoteAddr())
		observability.RecordMetric(session.Context(), "websocket.connection.closed", 1,
			map[string]string{"component": "transport.websocket"})
	})
}

func (r *Router) publish(topic, sessionID, remote string) {
	if r.publisher == nil {
		return
	}
	r.publisher.PublishAsync(topic, eventbus.ConnectionEventData{SessionID: sessionID, RemoteAddr: remote})
}

// resolveSessionID mints a server-side UUID. A client supplied id is kept
// only as a prefix label, so two sockets sending the same id stay distinct.
func resolveSessionID(req *http.Request) string {
	id := uuid.NewString()
	label := req.Header.Get("Client-Id")
	if label == "" {
		label = req.URL.Query().Get("client-id")
	}
	if label == "" {
		return id
	}
	if len(label) > maxClientLabel {
		label = label[:maxClientLabel]
	}
	return label + ":" + id
}
