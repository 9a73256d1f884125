package beepengine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/Kanade/pkg/engine"
)

func newSilentEngine() *Engine {
	e := New()
	e.Silent = true
	return e
}

func TestDecoderSelection(t *testing.T) {
	for _, uri := range []string{
		"file:///music/track.mp3",
		"/music/track.wav",
		"https://cdn.example/stream.flac?token=abc",
		"track.ogg",
		"track.oga",
	} {
		_, err := decoderFor(uri)
		assert.NoError(t, err, uri)
	}

	_, err := decoderFor("file:///music/track.aac")
	assert.Error(t, err)
	_, err = decoderFor("no-extension")
	assert.Error(t, err)
}

func TestTitleFromURI(t *testing.T) {
	assert.Equal(t, "track", titleFromURI("file:///music/track.mp3"))
	assert.Equal(t, "one two", titleFromURI("https://cdn.example/one%20two.flac?sig=x"))
	assert.Equal(t, "track", titleFromURI("track.ogg"))
}

func TestElementProperties(t *testing.T) {
	e := newSilentEngine()
	el, err := e.NewElement("volume", "volume")
	require.NoError(t, err)

	require.NoError(t, el.SetProperty("volume", 0.5))
	v, ok := el.Property("volume")
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	_, ok = el.Property("missing")
	assert.False(t, ok)

	_, err = e.NewElement("", "x")
	assert.Error(t, err)
}

func TestFloatProperty(t *testing.T) {
	el := newElement("volume", "volume")
	assert.Equal(t, 1.0, el.floatProperty("volume", 1.0))

	el.SetProperty("volume", 0.25)
	assert.Equal(t, 0.25, el.floatProperty("volume", 1.0))

	el.SetProperty("volume", 2)
	assert.Equal(t, 2.0, el.floatProperty("volume", 1.0))

	el.SetProperty("volume", "bogus")
	assert.Equal(t, 1.0, el.floatProperty("volume", 1.0))
}

func TestDecodeBinFromDescription(t *testing.T) {
	e := newSilentEngine()

	bin, err := e.NewDecodeBinFromDescription("uri=file:///music/a.ogg")
	require.NoError(t, err)
	assert.Equal(t, "file:///music/a.ogg", bin.URI())

	_, err = e.NewDecodeBinFromDescription("appsrc ! vorbisdec")
	assert.Error(t, err)
}

func TestGraphElementBookkeeping(t *testing.T) {
	e := newSilentEngine()
	g, err := e.NewGraph("playback-test")
	require.NoError(t, err)
	defer g.Release()

	bin, err := e.NewDecodeBin("decode")
	require.NoError(t, err)
	vol, err := e.NewElement("volume", "volume")
	require.NoError(t, err)
	conv, err := e.NewElement("audioconvert", "convert-in")
	require.NoError(t, err)

	require.NoError(t, g.Add(bin, vol, conv))
	require.NoError(t, g.Link(conv, vol))
	assert.Error(t, g.Link(conv))

	require.NoError(t, g.Remove(bin))
	assert.Error(t, g.Remove(bin))
}

func TestGraphGainCombinesVolumeElements(t *testing.T) {
	e := newSilentEngine()
	raw, err := e.NewGraph("playback-test")
	require.NoError(t, err)
	g := raw.(*graph)
	defer g.Release()

	user, _ := e.NewElement("volume", "volume")
	preamp, _ := e.NewElement("volume", "eq-preamp")
	other, _ := e.NewElement("audioconvert", "convert-in")
	require.NoError(t, g.Add(user, preamp, other))

	assert.InDelta(t, 1.0, g.currentGain(), 1e-9)

	user.SetProperty("volume", 0.5)
	preamp.SetProperty("volume", 2.0)
	assert.InDelta(t, 1.0, g.currentGain(), 1e-9)

	preamp.SetProperty("volume", 1.5)
	assert.InDelta(t, 0.75, g.currentGain(), 1e-9)
}

func TestGraphStateWithoutMedia(t *testing.T) {
	e := newSilentEngine()
	g, err := e.NewGraph("playback-test")
	require.NoError(t, err)
	defer g.Release()

	assert.Equal(t, engine.StateNull, g.State())
	assert.Equal(t, engine.StateChangeSuccess, g.SetState(engine.StateNull))

	_, ok := g.Position()
	assert.False(t, ok)
	_, ok = g.Duration()
	assert.False(t, ok)
	assert.False(t, g.Seek(time.Second))
}

func TestGraphTransitionErrorPostsMessage(t *testing.T) {
	e := newSilentEngine()
	g, err := e.NewGraph("playback-test")
	require.NoError(t, err)
	defer g.Release()

	bin, err := e.NewDecodeBin("decode")
	require.NoError(t, err)
	bin.SetURI("file:///does/not/exist.ogg")
	require.NoError(t, g.Add(bin))

	var mu sync.Mutex
	var msgs []*engine.Message
	g.Bus().AddWatch(func(msg *engine.Message) {
		mu.Lock()
		msgs = append(msgs, msg)
		mu.Unlock()
	})

	require.Equal(t, engine.StateChangeAsync, g.SetState(engine.StatePlaying))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(msgs)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no bus message arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, engine.MessageError, msgs[0].Type)
	// The transition never confirmed.
	assert.Equal(t, engine.StateNull, g.State())
}

func TestClampSample(t *testing.T) {
	assert.Equal(t, int16(32767), clampSample(2.0))
	assert.Equal(t, int16(-32767), clampSample(-2.0))
	assert.Equal(t, int16(0), clampSample(0))
}

func TestBusDeliversInOrder(t *testing.T) {
	b := newBus()
	defer b.close()

	var mu sync.Mutex
	var seen []engine.MessageType
	done := make(chan struct{})
	b.AddWatch(func(msg *engine.Message) {
		mu.Lock()
		seen = append(seen, msg.Type)
		if len(seen) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	b.Post(&engine.Message{Type: engine.MessageTag})
	b.Post(&engine.Message{Type: engine.MessageElement})
	b.Post(&engine.Message{Type: engine.MessageEOS})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []engine.MessageType{engine.MessageTag, engine.MessageElement, engine.MessageEOS}, seen)
}

func TestBusKeepsMessagesUnderPressure(t *testing.T) {
	b := newBus()
	defer b.close()

	// Stall delivery so the backlog builds up well past any plausible
	// fixed queue size, then release and count every message through.
	release := make(chan struct{})
	var got atomic.Int32
	b.AddWatch(func(*engine.Message) {
		<-release
		got.Add(1)
	})

	const total = 1000
	for i := 0; i < total; i++ {
		b.Post(&engine.Message{Type: engine.MessageElement})
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for got.Load() != total && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int32(total), got.Load())
}

func TestBusSyncHandlerDrops(t *testing.T) {
	b := newBus()
	defer b.close()

	var watched atomic.Int32
	b.AddWatch(func(*engine.Message) { watched.Add(1) })
	b.SetSyncHandler(func(msg *engine.Message) engine.BusSyncReply {
		if msg.Type == engine.MessageRedirect {
			return engine.BusDrop
		}
		return engine.BusPass
	})

	b.Post(&engine.Message{Type: engine.MessageRedirect})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, watched.Load())
}
