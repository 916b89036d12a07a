package ofconn

import (
	"log/slog"
	"sync"
)

// updateQueue delivers switch added/removed notifications in order on a
// dedicated goroutine, so that worker loops never wait on switch listeners.
type updateQueue struct {
	log    *slog.Logger
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
	done   chan struct{}
	closed bool
}

func newUpdateQueue(log *slog.Logger) *updateQueue {
	return &updateQueue{
		log:    log,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *updateQueue) start() {
	go q.run()
}

func (q *updateQueue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// stop delivers everything already queued, then returns
func (q *updateQueue) stop() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *updateQueue) run() {
	defer close(q.done)
	for range q.signal {
		q.mu.Lock()
		items, closed := q.items, q.closed
		q.items = nil
		q.mu.Unlock()

		for _, fn := range items {
			q.deliver(fn)
		}
		if closed {
			return
		}
	}
}

func (q *updateQueue) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("switch listener panicked", "panic", r)
		}
	}()
	fn()
}
