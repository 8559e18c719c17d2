// Package telemetry is the build event bus: a buffered, non-blocking
// pub/sub hub that scheduler and driver code publish task lifecycle
// events to, and that a CLI progress renderer or metrics exporter
// subscribes to. Grounded on the teacher's pkg/telemetry/telemetry.go
// Hub (buffered queue, batching, rate-limited flush, graceful Stop).
package telemetry

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// EventType identifies what happened to a build task.
type EventType string

const (
	EventTaskStarted   EventType = "task_started"
	EventTaskSkipped   EventType = "task_skipped"
	EventTaskSucceeded EventType = "task_succeeded"
	EventTaskFailed    EventType = "task_failed"
	EventToolDone      EventType = "tool_done"
	EventBuildFinished EventType = "build_finished"
)

// Event is one published build lifecycle occurrence.
type Event struct {
	Type    EventType
	Project string
	Tool    string
	At      time.Time
	Details map[string]any
}

// Hub fans published events out to subscribers without blocking the
// publisher: Publish drops the event rather than stall when the internal
// queue is full.
type Hub struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int

	limiter *rate.Limiter

	queue  chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewHub creates a Hub that passes publishes through an internal queue
// of the given buffer size and dispatches them one event at a time,
// rate-limited to at most ratePerSecond events per second (0 disables
// limiting).
func NewHub(bufferSize int, ratePerSecond float64) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	h := &Hub{
		subscribers: make(map[int]chan Event),
		queue:       make(chan Event, bufferSize),
		done:        make(chan struct{}),
	}
	if ratePerSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case ev, ok := <-h.queue:
			if !ok {
				return
			}
			if h.limiter != nil {
				_ = h.limiter.Wait(context.Background())
			}
			h.dispatch(ev)
		case <-h.done:
			for {
				select {
				case ev, ok := <-h.queue:
					if !ok {
						return
					}
					h.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) dispatch(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			// Subscriber too slow; drop rather than block the hub.
		}
	}
}

// Publish enqueues ev for dispatch. Non-blocking: if the internal queue
// is full the event is dropped.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case h.queue <- ev:
	default:
	}
}

// Subscribe returns a channel of events and an unsubscribe function. The
// channel is buffered; slow readers miss events rather than blocking the
// hub.
func (h *Hub) Subscribe(bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, bufferSize)
	h.subscribers[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subscribers, id)
		h.mu.Unlock()
		close(ch)
	}
}

// Stop drains the queue and shuts the hub down. Calls after the first are
// no-ops.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	close(h.queue)
	h.wg.Wait()
}
