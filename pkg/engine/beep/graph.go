package beepengine

import (
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/pkg/errors"

	"github.com/latoulicious/Kanade/pkg/engine"
)

// resampleQuality balances CPU cost against artifacts; beep's docs put
// 3-4 at transparent for music.
const resampleQuality = 4

// graph renders one decode bin through the shared speaker. State
// transitions to paused/playing are asynchronous: the decode happens on
// a worker goroutine and the transition is confirmed on the bus.
type graph struct {
	eng  *Engine
	name string
	bus  *bus

	mu       sync.Mutex
	state    engine.State
	elements []engine.Element
	volumes  []*element
	bin      *decodeBin
	session  *session
	tapFn    func(*engine.Buffer)
	released bool
}

func newGraph(eng *Engine, name string) *graph {
	return &graph{eng: eng, name: name, bus: newBus()}
}

// session is one live decode of the current bin.
type session struct {
	bin    *decodeBin
	open   *openResult
	source *sourceStreamer
	ctrl   *beep.Ctrl
}

func (g *graph) Add(elements ...engine.Element) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, el := range elements {
		if el == nil {
			return errors.New("cannot add nil element")
		}
		g.elements = append(g.elements, el)
		if bin, ok := el.(*decodeBin); ok {
			g.bin = bin
		}
		if plain, ok := el.(*element); ok && plain.factory == "volume" {
			g.volumes = append(g.volumes, plain)
		}
	}
	return nil
}

func (g *graph) Remove(el engine.Element) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.elements {
		if existing == el {
			g.elements = append(g.elements[:i], g.elements[i+1:]...)
			if bin, ok := el.(*decodeBin); ok && g.bin == bin {
				g.bin = nil
			}
			return nil
		}
	}
	return errors.Errorf("element %q not in graph", el.Name())
}

// Link is bookkeeping only: the render path is fixed, and the property
// elements have no pads to wire.
func (g *graph) Link(elements ...engine.Element) error {
	if len(elements) < 2 {
		return errors.New("linking needs at least two elements")
	}
	return nil
}

func (g *graph) Unlink(a, b engine.Element) {}

func (g *graph) SetState(target engine.State) engine.StateChangeReturn {
	g.mu.Lock()

	if g.released {
		g.mu.Unlock()
		return engine.StateChangeFailure
	}
	if g.state == target {
		g.mu.Unlock()
		return engine.StateChangeSuccess
	}

	switch target {
	case engine.StateNull, engine.StateReady:
		old := g.state
		g.stopSessionLocked()
		g.state = target
		g.mu.Unlock()
		g.postStateChanged(old, target)
		return engine.StateChangeSuccess

	case engine.StatePaused, engine.StatePlaying:
		g.mu.Unlock()
		go g.transitionTo(target)
		return engine.StateChangeAsync

	default:
		g.mu.Unlock()
		return engine.StateChangeFailure
	}
}

// transitionTo performs the slow part of a paused/playing transition:
// opening and decoding the resource on first use, then flipping the
// pause control.
func (g *graph) transitionTo(target engine.State) {
	g.mu.Lock()
	sess := g.session
	bin := g.bin
	g.mu.Unlock()

	if sess == nil {
		if bin == nil {
			g.bus.Post(&engine.Message{
				Type:         engine.MessageError,
				Origin:       g.name,
				ErrorMessage: "no decode bin in graph",
			})
			return
		}

		open, err := bin.open()
		if err != nil {
			g.bus.Post(&engine.Message{
				Type:         engine.MessageError,
				Origin:       bin.Name(),
				ErrorMessage: err.Error(),
			})
			return
		}
		sess = g.startSession(bin, open, target == engine.StatePaused)
		if sess == nil {
			open.streamer.Close()
			return
		}

		// The decode output exists now; this is the moment the owner
		// links it in and replays any deferred seek.
		bin.firePadAdded()

		if open.finalURL != "" {
			g.bus.Post(&engine.Message{
				Type:        engine.MessageRedirect,
				Origin:      bin.Name(),
				RedirectURI: open.finalURL,
			})
		}
		g.bus.Post(&engine.Message{
			Type:   engine.MessageTag,
			Origin: bin.Name(),
			Tags:   map[string]string{engine.TagTitle: open.title},
		})
	} else {
		g.setPaused(sess, target == engine.StatePaused)
	}

	g.mu.Lock()
	old := g.state
	g.state = target
	g.mu.Unlock()
	g.postStateChanged(old, target)
}

// startSession wires the render chain for an opened resource and hands
// it to the speaker. Returns nil when the graph was released meanwhile.
func (g *graph) startSession(bin *decodeBin, open *openResult, paused bool) *session {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return nil
	}

	source := &sourceStreamer{
		graph:    g,
		streamer: open.streamer,
		format:   open.format,
		done:     make(chan struct{}),
	}

	var chain beep.Streamer = source
	if open.format.SampleRate != SampleRate {
		chain = beep.Resample(resampleQuality, open.format.SampleRate, SampleRate, chain)
	}
	ctrl := &beep.Ctrl{Streamer: chain, Paused: paused}

	sess := &session{bin: bin, open: open, source: source, ctrl: ctrl}
	g.session = sess
	g.mu.Unlock()

	if g.eng.Silent {
		go pump(ctrl, source)
	} else {
		speaker.Play(ctrl)
	}
	go g.watchSession(sess)
	return sess
}

// watchSession waits for the session's source to run dry, then runs the
// end-of-stream protocol off the audio path: announce drained, and if
// the owner swapped a fresh decode bin in during that announcement,
// keep rendering with it instead of reporting end of stream.
func (g *graph) watchSession(sess *session) {
	<-sess.source.done

	g.mu.Lock()
	if g.session != sess || g.released {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	sess.bin.fireDrained()

	g.mu.Lock()
	nextBin := g.bin
	stillCurrent := g.session == sess && !g.released
	state := g.state
	g.mu.Unlock()

	if !stillCurrent {
		return
	}

	if nextBin != nil && nextBin != sess.bin {
		open, err := nextBin.open()
		if err != nil {
			g.bus.Post(&engine.Message{
				Type:         engine.MessageError,
				Origin:       nextBin.Name(),
				ErrorMessage: err.Error(),
			})
			g.bus.Post(&engine.Message{Type: engine.MessageEOS, Origin: g.name})
			return
		}
		sess.open.streamer.Close()
		if g.startSession(nextBin, open, state != engine.StatePlaying) == nil {
			open.streamer.Close()
			return
		}
		nextBin.firePadAdded()
		g.bus.Post(&engine.Message{
			Type:   engine.MessageTag,
			Origin: nextBin.Name(),
			Tags:   map[string]string{engine.TagTitle: open.title},
		})
		return
	}

	g.bus.Post(&engine.Message{Type: engine.MessageEOS, Origin: g.name})
}

// pump drives a chain without a speaker, for silent mode. It runs
// faster than real time but yields so a paused control does not spin.
func pump(ctrl *beep.Ctrl, source *sourceStreamer) {
	buf := make([][2]float64, 512)
	for {
		select {
		case <-source.done:
			return
		default:
		}
		if _, ok := ctrl.Stream(buf); !ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (g *graph) setPaused(sess *session, paused bool) {
	if g.eng.Silent {
		sess.ctrl.Paused = paused
		return
	}
	speaker.Lock()
	sess.ctrl.Paused = paused
	speaker.Unlock()
}

// stopSessionLocked tears the live session down. The source streamer
// reports exhaustion to the speaker on its next pull, so no speaker
// lock is needed here.
func (g *graph) stopSessionLocked() {
	if g.session == nil {
		return
	}
	g.session.source.stop()
	g.session.open.streamer.Close()
	g.session = nil
}

func (g *graph) postStateChanged(from, to engine.State) {
	g.bus.Post(&engine.Message{
		Type:     engine.MessageStateChanged,
		Origin:   g.name,
		OldState: from,
		NewState: to,
	})
}

func (g *graph) State() engine.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *graph) Bus() engine.Bus { return g.bus }

func (g *graph) Position() (time.Duration, bool) {
	g.mu.Lock()
	sess := g.session
	g.mu.Unlock()
	if sess == nil {
		return 0, false
	}
	return sess.source.position(), true
}

func (g *graph) Duration() (time.Duration, bool) {
	g.mu.Lock()
	sess := g.session
	g.mu.Unlock()
	if sess == nil {
		return 0, false
	}
	return sess.open.format.SampleRate.D(sess.open.streamer.Len()), true
}

func (g *graph) Seek(offset time.Duration) bool {
	g.mu.Lock()
	sess := g.session
	g.mu.Unlock()
	if sess == nil {
		return false
	}

	n := sess.open.format.SampleRate.N(offset)
	if n < 0 {
		n = 0
	}
	if max := sess.open.streamer.Len(); n > max {
		n = max
	}

	if !g.eng.Silent {
		speaker.Lock()
		defer speaker.Unlock()
	}
	return sess.source.seek(n) == nil
}

func (g *graph) SetBufferTap(fn func(*engine.Buffer)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tapFn = fn
}

func (g *graph) Release() {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return
	}
	g.released = true
	g.stopSessionLocked()
	g.mu.Unlock()
	g.bus.close()
}

// currentTap returns the armed buffer tap, nil when disarmed.
func (g *graph) currentTap() func(*engine.Buffer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tapFn
}

// currentGain multiplies the volume properties of every volume-factory
// element in the graph; the pipeline keeps user volume and preamp on
// separate elements.
func (g *graph) currentGain() float64 {
	g.mu.Lock()
	volumes := g.volumes
	g.mu.Unlock()

	gain := 1.0
	for _, el := range volumes {
		gain *= el.floatProperty("volume", 1.0)
	}
	return gain
}

var _ engine.Graph = (*graph)(nil)
