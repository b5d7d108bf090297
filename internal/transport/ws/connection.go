package ws

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Connection wraps a gorilla websocket connection. Writes are serialised;
// reads must come from a single goroutine.
type Connection struct {
	id          string
	socket      *websocket.Conn
	mu          sync.Mutex
	closed      atomic.Bool
	lastActive  atomic.Int64
	idleTimeout time.Duration
}

// NewConnection creates a tracked websocket connection.
func NewConnection(id string, socket *websocket.Conn) *Connection {
	conn := &Connection{
		id:     id,
		socket: socket,
	}
	conn.touch()
	return conn
}

// SetLimits caps inbound message size and drops peers silent for longer
// than idle. Zero values disable the limit.
func (c *Connection) SetLimits(readLimit int64, idle time.Duration) {
	if readLimit > 0 {
		c.socket.SetReadLimit(readLimit)
	}
	c.idleTimeout = idle
}

// WriteMessage sends a message to the client.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("connection %s: %w", c.id, ErrConnectionClosed)
	}

	_ = c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.socket.WriteMessage(messageType, data); err != nil {
		return err
	}

	c.touch()
	return nil
}

// ReadMessage blocks for the next client message.
func (c *Connection) ReadMessage() (int, []byte, error) {
	if c.idleTimeout > 0 {
		_ = c.socket.SetReadDeadline(time.Now().Add(c.idleTimeout))
	}
	messageType, payload, err := c.socket.ReadMessage()
	if err == nil {
		c.touch()
	}
	return messageType, payload, err
}

// Close terminates the underlying websocket connection.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	// WriteControl may run concurrently with WriteMessage
	_ = c.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.socket.Close()
}

func (c *Connection) GetID() string {
	return c.id
}

func (c *Connection) RemoteAddr() string {
	return c.socket.RemoteAddr().String()
}

func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// GetLastActiveTime exposes when the client last interacted with the server.
func (c *Connection) GetLastActiveTime() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// IsStale checks whether the connection has been idle for longer than timeout.
func (c *Connection) IsStale(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return time.Since(c.GetLastActiveTime()) > timeout
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}
