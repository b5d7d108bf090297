package eventbus

import "time"

// Topics published on the bus.
const (
	// Vision pipeline
	EventFrameProcessed = "vision:frame-processed"
	EventFrameFailed    = "vision:frame-failed"

	// Capture device
	EventDeviceError     = "capture:device-error"
	EventDeviceUnhealthy = "capture:device-unhealthy"
	EventDeviceRecovered = "capture:device-recovered"

	// Socket connections
	EventConnectionOpened = "connection:opened"
	EventConnectionClosed = "connection:closed"
)

// Frame sources.
const (
	SourceSocket  = "socket"
	SourceHTTP    = "http"
	SourceCapture = "capture"
)

// Box mirrors a detected face region without importing the vision package.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

type FrameEventData struct {
	Source    string        `json:"source"`
	SessionID string        `json:"session_id,omitempty"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Faces     []Box         `json:"faces"`
	Elapsed   time.Duration `json:"elapsed"`
	At        time.Time     `json:"at"`
}

type FrameFailedEventData struct {
	Source    string    `json:"source"`
	SessionID string    `json:"session_id,omitempty"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

type DeviceEventData struct {
	Device   string    `json:"device"`
	Failures int       `json:"failures"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

type ConnectionEventData struct {
	SessionID  string            `json:"session_id"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}
