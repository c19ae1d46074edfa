package console

import (
	"context"
	"sync"
)

type eventKind int

const (
	eventInit eventKind = iota
	eventAuthenticated
	eventShopChanged
)

func (k eventKind) String() string {
	switch k {
	case eventInit:
		return "init"
	case eventAuthenticated:
		return "authenticated"
	case eventShopChanged:
		return "shop_changed"
	default:
		return "unknown"
	}
}

type event struct {
	kind   eventKind
	shopID string
}

// queue is an unbounded FIFO. push never blocks, so listeners can post from
// inside any callback.
type queue struct {
	mu      sync.Mutex
	items   []event
	pending int
	wake    chan struct{}
	idle    chan struct{}
}

func newQueue() *queue {
	idle := make(chan struct{})
	close(idle)
	return &queue{
		wake: make(chan struct{}, 1),
		idle: idle,
	}
}

func (q *queue) push(e event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.pending++
	if q.pending == 1 {
		q.idle = make(chan struct{})
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next blocks until an event is available or ctx is done.
func (q *queue) next(ctx context.Context) (event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return event{}, false
		}
	}
}

// done marks one event from next as fully handled.
func (q *queue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

// idleCh is closed once every pushed event has been handled.
func (q *queue) idleCh() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}
