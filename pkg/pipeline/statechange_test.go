package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/Kanade/pkg/engine"
	"github.com/latoulicious/Kanade/pkg/engine/enginetest"
)

func TestRequestState_Immediate(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)
	g.SetStateReturn(engine.StateChangeSuccess)

	outcome := p.RequestState(engine.StatePlaying).Wait()
	assert.True(t, outcome.Succeeded)
	assert.False(t, outcome.TimedOut)
	assert.Equal(t, engine.StatePlaying, outcome.State)
	assert.Equal(t, []engine.State{engine.StatePlaying}, g.Targets())
}

func TestRequestState_Failure(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)
	g.SetStateReturn(engine.StateChangeFailure)

	outcome := p.RequestState(engine.StatePlaying).Wait()
	assert.False(t, outcome.Succeeded)
	assert.False(t, outcome.TimedOut)
	assert.Equal(t, engine.StateNull, outcome.State)
}

func TestRequestState_AsyncConfirmed(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)

	psc := p.RequestState(engine.StatePlaying)
	select {
	case <-psc.Done():
		t.Fatal("future resolved before the engine confirmed")
	default:
	}

	g.CompleteStateChange(engine.StatePlaying)

	outcome := psc.Wait()
	assert.True(t, outcome.Succeeded)
	assert.False(t, outcome.TimedOut)
	assert.Equal(t, engine.StatePlaying, outcome.State)
}

func TestRequestState_AsyncIgnoresOtherStates(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)

	psc := p.RequestState(engine.StatePlaying)

	// An intermediate transition must not resolve the future.
	g.CompleteStateChange(engine.StatePaused)
	select {
	case <-psc.Done():
		t.Fatal("future resolved on an intermediate state")
	default:
	}

	g.CompleteStateChange(engine.StatePlaying)
	assert.True(t, psc.Wait().Succeeded)
}

func TestRequestState_ConcurrentFutures(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)

	pause := p.RequestState(engine.StatePaused)
	play := p.RequestState(engine.StatePlaying)

	g.CompleteStateChange(engine.StatePaused)
	assert.True(t, pause.Wait().Succeeded)
	select {
	case <-play.Done():
		t.Fatal("playing future resolved by the paused confirmation")
	default:
	}

	g.CompleteStateChange(engine.StatePlaying)
	assert.True(t, play.Wait().Succeeded)
}

func TestRequestState_Timeout(t *testing.T) {
	p, _, _ := buildPipeline(t, "file:///music/a.flac", 0)

	// The fake never confirms; the future must resolve on its own.
	outcome := p.RequestState(engine.StatePlaying).Wait()
	assert.True(t, outcome.TimedOut)
	assert.False(t, outcome.Succeeded)
	assert.Equal(t, engine.StateNull, outcome.State)
}

func TestRequestState_Unbuilt(t *testing.T) {
	p, _ := newTestPipeline(t)

	outcome := p.RequestState(engine.StatePlaying).Wait()
	assert.False(t, outcome.Succeeded)
	assert.Equal(t, engine.StateNull, outcome.State)
}

func TestClose_ResolvesPendingFutures(t *testing.T) {
	p, _, _ := buildPipeline(t, "file:///music/a.flac", 0)

	psc := p.RequestState(engine.StatePlaying)
	p.Close()

	outcome := psc.Wait()
	assert.False(t, outcome.Succeeded)
	assert.Equal(t, engine.StateNull, outcome.State)
}

func TestRedirect_FailsPendingFutures(t *testing.T) {
	p, _, g := buildPipeline(t, "http://radio.example/stream", 0)

	psc := p.RequestState(engine.StatePlaying)
	g.PostRedirect("http://radio.example/relocated")

	outcome := psc.Wait()
	assert.False(t, outcome.Succeeded)
	assert.False(t, outcome.TimedOut)
	assert.Equal(t, "http://radio.example/relocated", p.RedirectURL())

	// The redirect is consumed on the engine thread and never reaches
	// the async watch.
	bus, ok := g.Bus().(*enginetest.Bus)
	require.True(t, ok)
	assert.Equal(t, 1, bus.Dropped())
}

func TestRequestState_ConcurrentConfirmation(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)

	// Hammer confirmations from another goroutine so they can land in
	// the window between the future becoming reachable and its timeout
	// being armed.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				g.CompleteStateChange(engine.StatePlaying)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		outcome := p.RequestState(engine.StatePlaying).Wait()
		require.True(t, outcome.Succeeded)
		require.Equal(t, engine.StatePlaying, outcome.State)
	}

	close(stop)
	wg.Wait()
}

func TestPendingStateChange_ArmAfterResolutionIsNoOp(t *testing.T) {
	psc := newPendingStateChange(engine.StatePlaying)
	psc.resolve(StateChangeOutcome{State: engine.StatePlaying, Succeeded: true})

	expired := make(chan struct{}, 1)
	psc.armTimeout(10*time.Millisecond, func() engine.State { return engine.StateNull }, func(*PendingStateChange) {
		expired <- struct{}{}
	})

	assert.True(t, psc.Wait().Succeeded)
	select {
	case <-expired:
		t.Fatal("timeout armed on a resolved future")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPendingStateChange_ResolveOnce(t *testing.T) {
	psc := newPendingStateChange(engine.StatePlaying)
	psc.resolve(StateChangeOutcome{State: engine.StatePlaying, Succeeded: true})
	psc.resolve(StateChangeOutcome{State: engine.StateNull})

	outcome := psc.Wait()
	assert.True(t, outcome.Succeeded)
	assert.Equal(t, engine.StatePlaying, outcome.State)

	select {
	case <-psc.Done():
		t.Fatal("second outcome delivered")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPendingStateChange_TimeoutStoppedByResolution(t *testing.T) {
	psc := newPendingStateChange(engine.StatePlaying)
	expired := make(chan struct{}, 1)
	psc.armTimeout(30*time.Millisecond, func() engine.State { return engine.StateNull }, func(*PendingStateChange) {
		expired <- struct{}{}
	})

	psc.resolve(StateChangeOutcome{State: engine.StatePlaying, Succeeded: true})
	assert.True(t, psc.Wait().Succeeded)

	select {
	case <-expired:
		t.Fatal("timeout fired after resolution")
	case <-time.After(80 * time.Millisecond):
	}
}
