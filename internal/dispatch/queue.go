// Package dispatch serializes outbound whispers through a
// rate-limited, single-consumer queue.
package dispatch

import (
	"sync"

	"github.com/arvx/poeflip/internal/models"
)

// Entry is one queued contact: a counterparty snapshot taken at
// enqueue time plus the rendered whisper.
type Entry struct {
	Counterparty models.Counterparty
	Whisper      string
}

// Queue is a FIFO with unbounded producers and a single consumer.
// Clear removes all pending entries in one critical section, so a
// concurrent enqueue lands either fully before or fully after it.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// Pop removes and returns the oldest entry.
func (q *Queue) Pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Clear discards all pending entries atomically.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.entries = nil
	return n
}
