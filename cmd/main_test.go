package main

import (
	"sync"
	"testing"
	"time"

	"github.com/latoulicious/Kanade/pkg/pipeline"
	"github.com/latoulicious/Kanade/pkg/playlist"
)

// Track hand-off runs on the pipeline's bus goroutine while shutdown
// runs on the main one; both paths must go through the player's mutex.
func TestPlayerSharedStateSynchronized(t *testing.T) {
	p := &player{
		logger: pipeline.NullLogger(),
		queue:  playlist.New(),
		done:   make(chan struct{}),
	}
	p.queue.Add(&playlist.Item{URL: "file:///music/a.flac", Title: "A"})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			p.mu.Lock()
			p.current = p.queue.Peek()
			p.started = time.Now()
			p.mu.Unlock()
			p.recordFinished("")
			p.armNext()
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			p.shutdown()
		}
	}()

	wg.Wait()
}
