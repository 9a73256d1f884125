// Package beepengine implements the engine boundary on top of
// faiface/beep: decoding via beep/mp3, beep/wav, beep/flac and
// beep/vorbis, playback via beep/speaker. Processing elements that have
// no beep equivalent (rgvolume, rglimiter, equalizer) are property
// carriers; volume-factory elements are honored at render time.
package beepengine

import (
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
	"github.com/pkg/errors"

	"github.com/latoulicious/Kanade/pkg/engine"
)

// SampleRate is the fixed output sample rate. Decoded streams at other
// rates are resampled onto it.
const SampleRate = beep.SampleRate(48000)

// speakerBuffer is the speaker's internal buffer length.
const speakerBuffer = 100 * time.Millisecond

// Engine is the beep-backed engine.Engine. One Engine owns the speaker;
// graphs share it and take turns rendering.
type Engine struct {
	mu          sync.Mutex
	speakerOnce sync.Once
	speakerErr  error

	// Silent disables the speaker entirely; graphs render on their own
	// clock instead. Used where no audio device exists.
	Silent bool
}

// New creates a beep engine.
func New() *Engine {
	return &Engine{}
}

// initSpeaker initializes the shared speaker on first use.
func (e *Engine) initSpeaker() error {
	e.speakerOnce.Do(func() {
		if e.Silent {
			return
		}
		e.speakerErr = speaker.Init(SampleRate, SampleRate.N(speakerBuffer))
	})
	return e.speakerErr
}

// NewElement implements engine.Engine. Every factory is constructible;
// factories without a beep counterpart become plain property carriers.
func (e *Engine) NewElement(factory, name string) (engine.Element, error) {
	if factory == "" || name == "" {
		return nil, errors.New("element factory and name must not be empty")
	}
	return newElement(factory, name), nil
}

// NewDecodeBin implements engine.Engine.
func (e *Engine) NewDecodeBin(name string) (engine.DecodeBin, error) {
	if name == "" {
		return nil, errors.New("decode bin name must not be empty")
	}
	return &decodeBin{element: *newElement("uridecodebin", name)}, nil
}

// NewDecodeBinFromDescription implements engine.Engine. The only
// description form supported is "uri=<location>"; richer graph
// descriptions belong to engines that have a parser for them.
func (e *Engine) NewDecodeBinFromDescription(description string) (engine.DecodeBin, error) {
	bin, err := e.NewDecodeBin("described-bin")
	if err != nil {
		return nil, err
	}
	if rest, ok := strings.CutPrefix(strings.TrimSpace(description), "uri="); ok {
		bin.SetURI(strings.TrimSpace(rest))
		return bin, nil
	}
	return nil, errors.Errorf("unsupported decode description %q", description)
}

// NewGraph implements engine.Engine.
func (e *Engine) NewGraph(name string) (engine.Graph, error) {
	if err := e.initSpeaker(); err != nil {
		return nil, errors.Wrap(err, "initializing speaker")
	}
	return newGraph(e, name), nil
}

// element is a named property bag. Factories that map onto real beep
// processing (the volume elements) have their properties read on the
// render path; the rest only store what the pipeline pushes.
type element struct {
	factory string
	name    string

	mu    sync.RWMutex
	props map[string]interface{}
}

func newElement(factory, name string) *element {
	return &element{factory: factory, name: name, props: make(map[string]interface{})}
}

func (el *element) Name() string    { return el.name }
func (el *element) Factory() string { return el.factory }

func (el *element) SetProperty(name string, value interface{}) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.props[name] = value
	return nil
}

func (el *element) Property(name string) (interface{}, bool) {
	el.mu.RLock()
	defer el.mu.RUnlock()
	v, ok := el.props[name]
	return v, ok
}

// floatProperty reads a numeric property, defaulting when unset.
func (el *element) floatProperty(name string, def float64) float64 {
	v, ok := el.Property(name)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

// decodeBin opens a media resource and decodes it to a sample stream.
// The open happens during preroll, not at construction.
type decodeBin struct {
	element

	mu       sync.Mutex
	uri      string
	padAdded func()
	drained  func()
}

func (b *decodeBin) SetURI(uri string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uri = uri
}

func (b *decodeBin) URI() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uri
}

func (b *decodeBin) OnPadAdded(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.padAdded = fn
}

func (b *decodeBin) OnDrained(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drained = fn
}

func (b *decodeBin) firePadAdded() {
	b.mu.Lock()
	fn := b.padAdded
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *decodeBin) fireDrained() {
	b.mu.Lock()
	fn := b.drained
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// openResult is a probed and decoded resource.
type openResult struct {
	streamer beep.StreamSeekCloser
	format   beep.Format

	// finalURL differs from the requested URI when an HTTP fetch was
	// redirected.
	finalURL string
	title    string
}

// open probes the resource behind the bin's URI and builds a decoder
// for it.
func (b *decodeBin) open() (*openResult, error) {
	uri := b.URI()
	if uri == "" {
		return nil, errors.New("decode bin has no uri")
	}

	reader, finalURL, err := openReader(uri)
	if err != nil {
		return nil, err
	}

	decode, err := decoderFor(uri)
	if err != nil {
		reader.Close()
		return nil, err
	}

	streamer, format, err := decode(reader)
	if err != nil {
		reader.Close()
		return nil, errors.Wrapf(err, "decoding %q", uri)
	}

	return &openResult{
		streamer: streamer,
		format:   format,
		finalURL: finalURL,
		title:    titleFromURI(uri),
	}, nil
}

// openReader turns a URI into a byte stream. Bare paths and file://
// URLs read from disk; http(s) URLs are fetched. The second return is
// the final URL after any HTTP redirects, empty when it matches the
// request.
func openReader(uri string) (io.ReadCloser, string, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		resp, err := http.Get(uri)
		if err != nil {
			return nil, "", errors.Wrapf(err, "fetching %q", uri)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", errors.Errorf("fetching %q: %s", uri, resp.Status)
		}
		finalURL := ""
		if resp.Request != nil && resp.Request.URL.String() != uri {
			finalURL = resp.Request.URL.String()
		}
		return resp.Body, finalURL, nil

	case strings.HasPrefix(uri, "file://"):
		u, err := url.Parse(uri)
		if err != nil {
			return nil, "", errors.Wrapf(err, "parsing %q", uri)
		}
		f, err := os.Open(u.Path)
		return f, "", errors.Wrapf(err, "opening %q", u.Path)

	default:
		f, err := os.Open(uri)
		return f, "", errors.Wrapf(err, "opening %q", uri)
	}
}

type decodeFunc func(io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

// decoderFor picks a decoder by the resource's extension.
func decoderFor(uri string) (decodeFunc, error) {
	ext := strings.ToLower(path.Ext(stripQuery(uri)))
	switch ext {
	case ".mp3":
		return mp3.Decode, nil
	case ".wav":
		return func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
			return wav.Decode(rc)
		}, nil
	case ".flac":
		return func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
			return flac.Decode(rc)
		}, nil
	case ".ogg", ".oga":
		return vorbis.Decode, nil
	default:
		return nil, errors.Errorf("no decoder for %q", ext)
	}
}

func stripQuery(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}

// titleFromURI derives a display title from the resource location, the
// only metadata the decoders expose.
func titleFromURI(uri string) string {
	base := path.Base(stripQuery(uri))
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "." || base == "/" || base == "" {
		return uri
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		return unescaped
	}
	return base
}

var _ engine.Engine = (*Engine)(nil)
