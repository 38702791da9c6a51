package supervisor

import (
	"sync"

	"github.com/italolelis/termidl/internal/task"
)

// subscription queues events for one subscriber and forwards them in order on an
// unbuffered channel. Only progress events are ever dropped, and only while the
// subscriber is more than limit events behind; added and status events always
// arrive.
type subscription struct {
	out   chan task.Event
	limit int
	wake  chan struct{}

	mu     sync.Mutex
	queue  []task.Event
	closed bool
}

func newSubscription(limit int) *subscription {
	return &subscription{
		out:   make(chan task.Event),
		limit: limit,
		wake:  make(chan struct{}, 1),
	}
}

func (sub *subscription) push(ev task.Event) {
	sub.mu.Lock()

	if sub.closed {
		sub.mu.Unlock()

		return
	}

	if ev.Kind == task.EventProgress && len(sub.queue) >= sub.limit {
		sub.mu.Unlock()

		return
	}

	sub.queue = append(sub.queue, ev)
	sub.mu.Unlock()

	sub.signal()
}

// close stops accepting events. Queued events are still delivered before out is
// closed.
func (sub *subscription) close() {
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()

	sub.signal()
}

func (sub *subscription) signal() {
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription) run() {
	defer close(sub.out)

	for {
		sub.mu.Lock()

		if len(sub.queue) == 0 {
			closed := sub.closed
			sub.mu.Unlock()

			if closed {
				return
			}

			<-sub.wake

			continue
		}

		ev := sub.queue[0]
		sub.queue[0] = task.Event{}
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		sub.out <- ev
	}
}
