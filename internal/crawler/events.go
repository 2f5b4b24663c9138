package crawler

import (
	"sync"

	"go.uber.org/zap"
)

// eventQueue delivers events to listeners from a single goroutine in the
// order they were pushed.
type eventQueue struct {
	mu        sync.Mutex
	items     []Event
	listeners []listenerEntry
	nextID    int
	closed    bool
	wake      chan struct{}
	done      chan struct{}
	logger    *zap.Logger
}

type listenerEntry struct {
	id int
	fn Listener
}

func newEventQueue(logger *zap.Logger) *eventQueue {
	q := &eventQueue{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go q.run()
	return q
}

func (q *eventQueue) subscribe(fn Listener) func() {
	q.mu.Lock()
	q.nextID++
	id := q.nextID
	q.listeners = append(q.listeners, listenerEntry{id: id, fn: fn})
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			for i, l := range q.listeners {
				if l.id == id {
					q.listeners = append(q.listeners[:i:i], q.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (q *eventQueue) push(evt Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, evt)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops accepting events and waits for queued ones to be delivered.
func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *eventQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}
		evt := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		listeners := append([]listenerEntry(nil), q.listeners...)
		q.mu.Unlock()

		for _, l := range listeners {
			q.deliver(l.fn, evt)
		}
	}
}

func (q *eventQueue) deliver(fn Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("event listener panicked",
				zap.String("event", string(evt.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	fn(evt)
}
