package backend

import (
	"sync"
)

// errorQueue is an unbounded multi-producer queue of sampler errors. Send
// never blocks.
type errorQueue struct {
	mu   sync.Mutex
	errs []error
}

func (q *errorQueue) Send(err error) {
	if err == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.errs = append(q.errs, err)
}

// drain returns the queued errors in arrival order and empties the queue.
func (q *errorQueue) drain() []error {
	q.mu.Lock()
	defer q.mu.Unlock()

	errs := q.errs
	q.errs = nil

	return errs
}
