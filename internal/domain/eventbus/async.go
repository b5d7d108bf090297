package eventbus

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"

	"facecam-server/internal/utils"
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 1000
)

// AsyncEventBus dispatches published events on a fixed worker pool. Publishing
// never blocks: when the queue is full the event is dropped and counted.
type AsyncEventBus struct {
	bus       evbus.Bus
	workerNum int
	workChan  chan asyncEvent
	stopChan  chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	dropped   atomic.Int64
	logger    *utils.Logger

	// mu guards pending and stopped; idle is signalled when pending hits zero.
	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	stopped bool
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

// NewAsyncEventBus creates a bus with workerNum workers (10 when <= 0).
func NewAsyncEventBus(workerNum int, logger *utils.Logger) *AsyncEventBus {
	if workerNum <= 0 {
		workerNum = defaultWorkers
	}

	aeb := &AsyncEventBus{
		bus:       evbus.New(),
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, defaultQueueSize),
		stopChan:  make(chan struct{}),
		logger:    logger,
	}
	aeb.idle = sync.NewCond(&aeb.mu)
	return aeb
}

// SetLogger attaches a logger for dropped events and handler panics.
func (aeb *AsyncEventBus) SetLogger(logger *utils.Logger) {
	aeb.logger = logger
}

func (aeb *AsyncEventBus) Start() {
	for i := 0; i < aeb.workerNum; i++ {
		aeb.wg.Add(1)
		go aeb.worker()
	}
}

// Stop is idempotent. Events still queued are discarded and later
// PublishAsync calls are dropped.
func (aeb *AsyncEventBus) Stop() {
	aeb.stopOnce.Do(func() {
		aeb.mu.Lock()
		aeb.stopped = true
		aeb.mu.Unlock()

		close(aeb.stopChan)
		aeb.wg.Wait()

		for {
			select {
			case <-aeb.workChan:
				aeb.done()
			default:
				return
			}
		}
	})
}

func (aeb *AsyncEventBus) worker() {
	defer aeb.wg.Done()

	for {
		select {
		case <-aeb.stopChan:
			return
		case event := <-aeb.workChan:
			aeb.dispatch(event)
		}
	}
}

func (aeb *AsyncEventBus) done() {
	aeb.mu.Lock()
	aeb.pending--
	if aeb.pending == 0 {
		aeb.idle.Broadcast()
	}
	aeb.mu.Unlock()
}

func (aeb *AsyncEventBus) dispatch(event asyncEvent) {
	defer aeb.done()
	defer func() {
		if r := recover(); r != nil {
			aeb.logger.ErrorTag("EventBus", "handler for %s panicked: %v", event.topic, r)
		}
	}()
	aeb.bus.Publish(event.topic, event.args...)
}

// Publish delivers synchronously on the caller's goroutine.
func (aeb *AsyncEventBus) Publish(topic string, args ...interface{}) {
	aeb.bus.Publish(topic, args...)
}

func (aeb *AsyncEventBus) PublishAsync(topic string, args ...interface{}) {
	aeb.mu.Lock()
	if aeb.stopped {
		aeb.mu.Unlock()
		aeb.dropped.Add(1)
		return
	}
	select {
	case aeb.workChan <- asyncEvent{topic: topic, args: args}:
		aeb.pending++
		aeb.mu.Unlock()
	default:
		aeb.mu.Unlock()
		n := aeb.dropped.Add(1)
		aeb.logger.WarnTag("EventBus", "queue full, dropped %s (total dropped %d)", topic, n)
	}
}

func (aeb *AsyncEventBus) Subscribe(topic string, fn interface{}) error {
	return aeb.bus.Subscribe(topic, fn)
}

func (aeb *AsyncEventBus) SubscribeAsync(topic string, fn interface{}) error {
	return aeb.bus.Subscribe(topic, fn)
}

func (aeb *AsyncEventBus) Unsubscribe(topic string, handler interface{}) error {
	return aeb.bus.Unsubscribe(topic, handler)
}

func (aeb *AsyncEventBus) HasCallback(topic string) bool {
	return aeb.bus.HasCallback(topic)
}

// Dropped reports how many events were discarded because the queue was full.
func (aeb *AsyncEventBus) Dropped() int64 {
	return aeb.dropped.Load()
}

// WaitAsync blocks until every queued event has been handled. Intended for tests.
func (aeb *AsyncEventBus) WaitAsync() {
	aeb.mu.Lock()
	for aeb.pending > 0 {
		aeb.idle.Wait()
	}
	aeb.mu.Unlock()
}
