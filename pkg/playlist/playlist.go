// Package playlist provides the playback queue the player drives the
// pipeline with: current track, upcoming tracks, and a peek at the
// successor for arming gapless transitions.
package playlist

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Item is one queued track.
type Item struct {
	// URL is the playable location handed to the pipeline.
	URL string

	// OriginalURL preserves what the user asked for, when it differs.
	OriginalURL string

	Title    string
	Artist   string
	Duration time.Duration

	RequestedBy string
	AddedAt     time.Time
	StartedAt   time.Time
}

// Queue is a thread-safe playback queue.
type Queue struct {
	mu      sync.RWMutex
	items   []*Item
	current *Item
	skipped bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Add appends an item. AddedAt is stamped here.
func (q *Queue) Add(item *Item) {
	if item == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	item.AddedAt = time.Now()
	q.items = append(q.items, item)
}

// Next pops the head of the queue and makes it the current item,
// stamping StartedAt. Returns nil when the queue is empty.
func (q *Queue) Next() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		q.current = nil
		return nil
	}

	item := q.items[0]
	q.items = q.items[1:]
	item.StartedAt = time.Now()
	q.current = item
	q.skipped = false
	return item
}

// Peek returns the upcoming item without removing it, nil when none.
// The player uses this to arm the pipeline's gapless successor.
func (q *Queue) Peek() *Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Current returns the item playing now, nil when idle.
func (q *Queue) Current() *Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current
}

// List returns a snapshot of the upcoming items.
func (q *Queue) List() []*Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*Item, len(q.items))
	copy(out, q.items)
	return out
}

// Size returns the number of upcoming items.
func (q *Queue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Remove deletes the upcoming item at index.
func (q *Queue) Remove(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) {
		return errors.Errorf("invalid queue index %d", index)
	}
	q.items = append(q.items[:index], q.items[index+1:]...)
	return nil
}

// Clear drops every upcoming item and the current one.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.current = nil
}

// MarkSkipped flags the current item as skipped, so the end-of-track
// handling can tell a skip from a natural finish.
func (q *Queue) MarkSkipped() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.skipped = true
}

// WasSkipped reports whether the current item was skipped. The flag
// resets when the next item starts.
func (q *Queue) WasSkipped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.skipped
}
