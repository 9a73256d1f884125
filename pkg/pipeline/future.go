package pipeline

import (
	"sync"
	"time"

	"github.com/latoulicious/Kanade/pkg/engine"
)

// PendingStateChange is a single-resolution future for an asynchronous
// state transition request. Every RequestState call gets its own
// future; concurrent requests are legal and each resolves to the
// outcome observed for its own target.
type PendingStateChange struct {
	target engine.State

	once sync.Once
	ch   chan StateChangeOutcome

	// mu guards timer and resolved. The future becomes reachable from
	// the bus goroutine before the timeout is armed, so the timer must
	// not be touched unsynchronized.
	mu       sync.Mutex
	timer    *time.Timer
	resolved bool
}

func newPendingStateChange(target engine.State) *PendingStateChange {
	return &PendingStateChange{
		target: target,
		ch:     make(chan StateChangeOutcome, 1),
	}
}

// Target returns the state this request asked for.
func (p *PendingStateChange) Target() engine.State {
	return p.target
}

// Done returns a channel that receives the outcome exactly once.
func (p *PendingStateChange) Done() <-chan StateChangeOutcome {
	return p.ch
}

// Wait blocks until the request resolves and returns the outcome.
func (p *PendingStateChange) Wait() StateChangeOutcome {
	return <-p.ch
}

// resolve delivers the outcome. Later calls are no-ops, so the
// confirmation path and the timeout path can race safely.
func (p *PendingStateChange) resolve(outcome StateChangeOutcome) {
	p.once.Do(func() {
		p.mu.Lock()
		p.resolved = true
		if p.timer != nil {
			p.timer.Stop()
		}
		p.mu.Unlock()
		p.ch <- outcome
	})
}

// armTimeout schedules resolution with a timeout outcome. current
// reports the engine's actual state at expiry, since the pipeline's
// real state is whatever the engine says, not the requested target.
// Arming after the future already resolved is a no-op.
func (p *PendingStateChange) armTimeout(d time.Duration, current func() engine.State, expired func(*PendingStateChange)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return
	}
	p.timer = time.AfterFunc(d, func() {
		p.resolve(StateChangeOutcome{State: current(), TimedOut: true})
		if expired != nil {
			expired(p)
		}
	})
}
