package pipeline

import (
	"sync"

	"github.com/latoulicious/Kanade/pkg/engine"
)

// BufferConsumer receives every decoded audio buffer a pipeline
// produces. ConsumeBuffer runs on the engine's buffer-production
// thread and must not block; a slow consumer is the consumer's
// responsibility.
type BufferConsumer interface {
	ConsumeBuffer(buf *engine.Buffer, pipelineID string)
}

// consumerRegistry is a thread-safe set of buffer consumers. Delivery
// takes a snapshot of the set per buffer, so a consumer removed while
// a buffer is in flight may still receive that one buffer but no
// subsequent ones.
type consumerRegistry struct {
	mu        sync.RWMutex
	consumers []BufferConsumer
}

func newConsumerRegistry() *consumerRegistry {
	return &consumerRegistry{}
}

// Add registers a consumer. Adding the same consumer twice is a no-op.
func (r *consumerRegistry) Add(c BufferConsumer) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.consumers {
		if existing == c {
			return
		}
	}
	r.consumers = append(r.consumers, c)
}

// Remove unregisters a consumer. Once Remove returns, the consumer
// receives no further buffers.
func (r *consumerRegistry) Remove(c BufferConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.consumers {
		if existing == c {
			r.consumers = append(r.consumers[:i], r.consumers[i+1:]...)
			return
		}
	}
}

// RemoveAll unregisters every consumer.
func (r *consumerRegistry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers = nil
}

// Len returns the number of registered consumers.
func (r *consumerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.consumers)
}

// Deliver fans buf out to a snapshot of the registered consumers. The
// lock is not held across consumer calls.
func (r *consumerRegistry) Deliver(buf *engine.Buffer, pipelineID string) {
	r.mu.RLock()
	snapshot := make([]BufferConsumer, len(r.consumers))
	copy(snapshot, r.consumers)
	r.mu.RUnlock()

	for _, c := range snapshot {
		c.ConsumeBuffer(buf, pipelineID)
	}
}
