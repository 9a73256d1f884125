package beepengine

import (
	"sync"
	"time"

	"github.com/faiface/beep"

	"github.com/latoulicious/Kanade/pkg/engine"
)

// sourceStreamer sits between the decoder and the rest of the render
// chain. Per pull it applies the graph's current gain, feeds the buffer
// tap and tracks exhaustion so the graph can run its end-of-stream
// protocol off the audio path.
type sourceStreamer struct {
	graph  *graph
	format beep.Format

	// done is closed exactly once, when the decoder runs dry or the
	// session is stopped.
	done     chan struct{}
	doneOnce sync.Once

	mu       sync.Mutex
	streamer beep.StreamSeekCloser
	stopped  bool
}

func (s *sourceStreamer) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *sourceStreamer) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.signalDone()
}

func (s *sourceStreamer) Stream(samples [][2]float64) (int, bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, false
	}
	n, ok := s.streamer.Stream(samples)
	pos := s.streamer.Position()
	s.mu.Unlock()

	if n > 0 {
		if gain := s.graph.currentGain(); gain != 1.0 {
			for i := 0; i < n; i++ {
				samples[i][0] *= gain
				samples[i][1] *= gain
			}
		}
		if tap := s.graph.currentTap(); tap != nil {
			tap(s.buffer(samples[:n], pos-n))
		}
	}

	if !ok {
		s.signalDone()
	}
	return n, ok
}

func (s *sourceStreamer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamer.Err()
}

func (s *sourceStreamer) position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format.SampleRate.D(s.streamer.Position())
}

func (s *sourceStreamer) seek(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	return s.streamer.Seek(n)
}

// buffer converts one pulled chunk to the wire form consumers see:
// interleaved signed 16-bit little-endian stereo.
func (s *sourceStreamer) buffer(samples [][2]float64, startSample int) *engine.Buffer {
	data := make([]byte, len(samples)*4)
	for i, sample := range samples {
		l := clampSample(sample[0])
		r := clampSample(sample[1])
		data[i*4] = byte(l)
		data[i*4+1] = byte(l >> 8)
		data[i*4+2] = byte(r)
		data[i*4+3] = byte(r >> 8)
	}
	return &engine.Buffer{
		Data:       data,
		Timestamp:  s.format.SampleRate.D(startSample),
		Duration:   s.format.SampleRate.D(len(samples)),
		SampleRate: int(s.format.SampleRate),
		Channels:   2,
	}
}

func clampSample(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

// bus queues messages to a per-graph delivery goroutine so the watch
// observes them in posting order without blocking the audio path. The
// queue is unbounded; a slow watch delays delivery but never loses a
// message, since a dropped state-changed confirmation would strand the
// pipeline's pending future until its timeout.
type bus struct {
	mu      sync.Mutex
	syncFn  func(*engine.Message) engine.BusSyncReply
	watch   func(*engine.Message)
	pending []*engine.Message
	wake    chan struct{}
	closed  bool
}

func newBus() *bus {
	b := &bus{wake: make(chan struct{}, 1)}
	go b.deliver()
	return b
}

func (b *bus) deliver() {
	for {
		b.mu.Lock()
		for len(b.pending) == 0 {
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			<-b.wake
			b.mu.Lock()
		}
		batch := b.pending
		b.pending = nil
		b.mu.Unlock()

		for _, msg := range batch {
			b.mu.Lock()
			watch := b.watch
			b.mu.Unlock()
			if watch != nil {
				watch(msg)
			}
		}
	}
}

func (b *bus) SetSyncHandler(fn func(*engine.Message) engine.BusSyncReply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncFn = fn
}

func (b *bus) AddWatch(fn func(*engine.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watch = fn
}

func (b *bus) RemoveWatch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watch = nil
}

// Post runs the synchronous handler on the calling goroutine, then
// queues the message for the watch.
func (b *bus) Post(msg *engine.Message) {
	b.mu.Lock()
	syncFn := b.syncFn
	b.mu.Unlock()

	if syncFn != nil && syncFn(msg) == engine.BusDrop {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, msg)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *bus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

var _ engine.Bus = (*bus)(nil)
