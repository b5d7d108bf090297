package eventbus

import (
	"facecam-server/internal/utils"
)

// EventHandler reacts to bus events.
type EventHandler interface {
	Handle(eventType string, data interface{})
}

// DefaultEventHandler writes device health and connection events to the log.
type DefaultEventHandler struct {
	logger *utils.Logger
}

func NewDefaultEventHandler(logger *utils.Logger) *DefaultEventHandler {
	return &DefaultEventHandler{logger: logger}
}

func (h *DefaultEventHandler) Handle(eventType string, data interface{}) {
	switch d := data.(type) {
	case DeviceEventData:
		h.handleDevice(eventType, d)
	case ConnectionEventData:
		h.logger.DebugTag("EventBus", "%s session=%s remote=%s", eventType, d.SessionID, d.RemoteAddr)
	case FrameFailedEventData:
		h.logger.DebugTag("EventBus", "%s source=%s code=%s: %s", eventType, d.Source, d.Code, d.Message)
	default:
		h.logger.DebugTag("EventBus", "unhandled event %s (%T)", eventType, data)
	}
}

func (h *DefaultEventHandler) handleDevice(eventType string, d DeviceEventData) {
	switch eventType {
	case EventDeviceUnhealthy:
		h.logger.ErrorTag("EventBus", "camera %s unhealthy after %d consecutive failures: %s", d.Device, d.Failures, d.Message)
	case EventDeviceRecovered:
		h.logger.InfoTag("EventBus", "camera %s recovered after %d failures", d.Device, d.Failures)
	default:
		h.logger.DebugTag("EventBus", "camera %s error #%d: %s", d.Device, d.Failures, d.Message)
	}
}

// SetupEventHandlers subscribes the default handler on bus.
func SetupEventHandlers(bus *AsyncEventBus, logger *utils.Logger) error {
	handler := NewDefaultEventHandler(logger)

	for _, topic := range []string{EventDeviceError, EventDeviceUnhealthy, EventDeviceRecovered} {
		topic := topic
		if err := bus.Subscribe(topic, func(d DeviceEventData) { handler.Handle(topic, d) }); err != nil {
			return err
		}
	}
	for _, topic := range []string{EventConnectionOpened, EventConnectionClosed} {
		topic := topic
		if err := bus.Subscribe(topic, func(d ConnectionEventData) { handler.Handle(topic, d) }); err != nil {
			return err
		}
	}
	return bus.Subscribe(EventFrameFailed, func(d FrameFailedEventData) { handler.Handle(EventFrameFailed, d) })
}
