package usecase

import (
	"sync"

	"golang.org/x/net/html"

	"QualityMarker/internal/discovery"
)

// Queue is a FIFO of cards with set semantics on element identity. It also
// counts cards taken but not yet finished so callers can tell when the
// pipeline is idle.
type Queue struct {
	mu     sync.Mutex
	items  []discovery.Card
	index  map[*html.Node]struct{}
	active int
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{index: map[*html.Node]struct{}{}}
}

// Push appends card unless it is already queued or the queue is closed.
func (q *Queue) Push(card discovery.Card) bool {
	if card.Node == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, ok := q.index[card.Node]; ok {
		return false
	}
	q.index[card.Node] = struct{}{}
	q.items = append(q.items, card)
	return true
}

// Take removes up to n cards from the head and marks them active.
func (q *Queue) Take(n int) []discovery.Card {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}

	batch := make([]discovery.Card, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	for _, card := range batch {
		delete(q.index, card.Node)
	}
	q.active += n
	return batch
}

// Done marks one taken card as finished.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active > 0 {
		q.active--
	}
}

// Len returns the number of waiting cards.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Idle reports whether nothing is waiting or running.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.active == 0
}

// Close drops waiting cards and rejects further pushes.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.index = map[*html.Node]struct{}{}
}
