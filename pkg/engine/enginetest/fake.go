// Package enginetest provides an in-memory engine implementation for
// exercising the pipeline without a real audio backend. Bus messages
// are delivered synchronously on the caller's goroutine so tests can
// control interleaving precisely.
package enginetest

import (
	"fmt"
	"sync"
	"time"

	"github.com/latoulicious/Kanade/pkg/engine"
)

// Engine is a scriptable engine.Engine. The zero value is not usable;
// create instances with New.
type Engine struct {
	mu sync.Mutex

	// FailFactories lists element factories whose construction fails.
	FailFactories map[string]bool

	// DecodeBinErr, when set, makes decode bin construction fail.
	DecodeBinErr error

	elements []*Element
	graphs   []*Graph
	bins     []*DecodeBin
}

// New creates a fake engine.
func New() *Engine {
	return &Engine{FailFactories: make(map[string]bool)}
}

// NewElement implements engine.Engine.
func (e *Engine) NewElement(factory, name string) (engine.Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailFactories[factory] {
		return nil, fmt.Errorf("no such element factory %q", factory)
	}
	el := &Element{factory: factory, name: name, props: make(map[string]interface{})}
	e.elements = append(e.elements, el)
	return el, nil
}

// NewDecodeBin implements engine.Engine.
func (e *Engine) NewDecodeBin(name string) (engine.DecodeBin, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.DecodeBinErr != nil {
		return nil, e.DecodeBinErr
	}
	bin := &DecodeBin{Element: Element{factory: "uridecodebin", name: name, props: make(map[string]interface{})}}
	e.bins = append(e.bins, bin)
	return bin, nil
}

// NewDecodeBinFromDescription implements engine.Engine.
func (e *Engine) NewDecodeBinFromDescription(description string) (engine.DecodeBin, error) {
	bin, err := e.NewDecodeBin("described-bin")
	if err != nil {
		return nil, err
	}
	bin.(*DecodeBin).Description = description
	return bin, nil
}

// NewGraph implements engine.Engine.
func (e *Engine) NewGraph(name string) (engine.Graph, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g := &Graph{
		name:            name,
		bus:             &Bus{},
		stateReturn:     engine.StateChangeAsync,
		seekOK:          true,
		links:           make(map[string]string),
	}
	e.graphs = append(e.graphs, g)
	return g, nil
}

// Graphs returns every graph created so far.
func (e *Engine) Graphs() []*Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Graph, len(e.graphs))
	copy(out, e.graphs)
	return out
}

// DecodeBins returns every decode bin created so far.
func (e *Engine) DecodeBins() []*DecodeBin {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*DecodeBin, len(e.bins))
	copy(out, e.bins)
	return out
}

// Element records property writes.
type Element struct {
	mu      sync.Mutex
	factory string
	name    string
	props   map[string]interface{}
}

func (el *Element) Name() string    { return el.name }
func (el *Element) Factory() string { return el.factory }

func (el *Element) SetProperty(name string, value interface{}) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.props[name] = value
	return nil
}

func (el *Element) Property(name string) (interface{}, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	v, ok := el.props[name]
	return v, ok
}

// DecodeBin is a fake decode stage whose pad-added and drained
// callbacks are fired manually by the test.
type DecodeBin struct {
	Element
	Description string

	mu       sync.Mutex
	uri      string
	padAdded func()
	drained  func()
}

func (b *DecodeBin) SetURI(uri string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uri = uri
}

func (b *DecodeBin) URI() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uri
}

func (b *DecodeBin) OnPadAdded(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.padAdded = fn
}

func (b *DecodeBin) OnDrained(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drained = fn
}

// TriggerPadAdded fires the registered pad-added callback.
func (b *DecodeBin) TriggerPadAdded() {
	b.mu.Lock()
	fn := b.padAdded
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// TriggerDrained fires the registered drained callback.
func (b *DecodeBin) TriggerDrained() {
	b.mu.Lock()
	fn := b.drained
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Bus delivers posted messages to the sync handler first, then the
// watch, all on the posting goroutine.
type Bus struct {
	mu      sync.Mutex
	sync    func(*engine.Message) engine.BusSyncReply
	watch   func(*engine.Message)
	dropped int
}

func (b *Bus) SetSyncHandler(fn func(*engine.Message) engine.BusSyncReply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sync = fn
}

func (b *Bus) AddWatch(fn func(*engine.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watch = fn
}

func (b *Bus) RemoveWatch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watch = nil
}

// Post runs the bus delivery path for msg.
func (b *Bus) Post(msg *engine.Message) {
	b.mu.Lock()
	syncFn := b.sync
	watchFn := b.watch
	b.mu.Unlock()

	if syncFn != nil && syncFn(msg) == engine.BusDrop {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		return
	}
	if watchFn != nil {
		watchFn(msg)
	}
}

// Dropped reports how many messages the sync handler swallowed.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Graph is a scriptable engine.Graph.
type Graph struct {
	name string
	bus  *Bus

	mu          sync.Mutex
	state       engine.State
	stateReturn engine.StateChangeReturn
	targets     []engine.State

	elements []engine.Element
	links    map[string]string

	position    time.Duration
	positionOK  bool
	duration    time.Duration
	durationOK  bool
	seekOK      bool
	seeks       []time.Duration
	linkErr     error
	bufferTap   func(*engine.Buffer)
	released    bool
}

func (g *Graph) Add(elements ...engine.Element) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.elements = append(g.elements, elements...)
	return nil
}

func (g *Graph) Remove(element engine.Element) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, el := range g.elements {
		if el == element {
			g.elements = append(g.elements[:i], g.elements[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("element %q not in graph", element.Name())
}

func (g *Graph) Link(elements ...engine.Element) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.linkErr != nil {
		return g.linkErr
	}
	for i := 0; i+1 < len(elements); i++ {
		g.links[elements[i].Name()] = elements[i+1].Name()
	}
	return nil
}

func (g *Graph) Unlink(a, b engine.Element) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.links[a.Name()] == b.Name() {
		delete(g.links, a.Name())
	}
}

func (g *Graph) SetState(s engine.State) engine.StateChangeReturn {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.targets = append(g.targets, s)
	if g.stateReturn == engine.StateChangeSuccess {
		g.state = s
	}
	return g.stateReturn
}

func (g *Graph) State() engine.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Graph) Bus() engine.Bus { return g.bus }

func (g *Graph) Position() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.position, g.positionOK
}

func (g *Graph) Duration() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.duration, g.durationOK
}

func (g *Graph) Seek(offset time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seeks = append(g.seeks, offset)
	if g.seekOK {
		g.position = offset
		g.positionOK = true
	}
	return g.seekOK
}

func (g *Graph) SetBufferTap(fn func(*engine.Buffer)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bufferTap = fn
}

func (g *Graph) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = true
}

// Test controls below.

// SetStateReturn scripts the immediate result of subsequent SetState
// calls. The default is async.
func (g *Graph) SetStateReturn(r engine.StateChangeReturn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stateReturn = r
}

// SetPosition scripts the reported playback position.
func (g *Graph) SetPosition(pos time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.position = pos
	g.positionOK = true
}

// SetDuration scripts the reported media duration.
func (g *Graph) SetDuration(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.duration = d
	g.durationOK = true
}

// SetSeekOK scripts whether seeks succeed.
func (g *Graph) SetSeekOK(ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seekOK = ok
}

// SetLinkErr makes subsequent Link calls fail.
func (g *Graph) SetLinkErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.linkErr = err
}

// CompleteStateChange moves the graph to s and posts the state-changed
// confirmation, the way an async transition finishes.
func (g *Graph) CompleteStateChange(s engine.State) {
	g.mu.Lock()
	old := g.state
	g.state = s
	g.mu.Unlock()
	g.bus.Post(&engine.Message{Type: engine.MessageStateChanged, Origin: g.name, OldState: old, NewState: s})
}

// EmitBuffer pushes one buffer through the tap.
func (g *Graph) EmitBuffer(buf *engine.Buffer) {
	g.mu.Lock()
	fn := g.bufferTap
	g.mu.Unlock()
	if fn != nil {
		fn(buf)
	}
}

// PostTags posts a tag message.
func (g *Graph) PostTags(tags map[string]string) {
	g.bus.Post(&engine.Message{Type: engine.MessageTag, Origin: g.name, Tags: tags})
}

// PostError posts an error message.
func (g *Graph) PostError(message string, domain, code int) {
	g.bus.Post(&engine.Message{Type: engine.MessageError, Origin: g.name, ErrorMessage: message, ErrorDomain: domain, ErrorCode: code})
}

// PostRedirect posts a redirect request.
func (g *Graph) PostRedirect(uri string) {
	g.bus.Post(&engine.Message{Type: engine.MessageRedirect, Origin: g.name, RedirectURI: uri})
}

// PostEOS posts an end-of-stream message.
func (g *Graph) PostEOS() {
	g.bus.Post(&engine.Message{Type: engine.MessageEOS, Origin: g.name})
}

// Elements returns the elements currently in the graph.
func (g *Graph) Elements() []engine.Element {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]engine.Element, len(g.elements))
	copy(out, g.elements)
	return out
}

// ElementByName finds an element by name, or nil.
func (g *Graph) ElementByName(name string) engine.Element {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, el := range g.elements {
		if el.Name() == name {
			return el
		}
	}
	return nil
}

// Linked reports whether a is linked directly to b.
func (g *Graph) Linked(a, b string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.links[a] == b
}

// Targets returns the sequence of requested states.
func (g *Graph) Targets() []engine.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]engine.State, len(g.targets))
	copy(out, g.targets)
	return out
}

// Seeks returns the recorded seek offsets.
func (g *Graph) Seeks() []time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]time.Duration, len(g.seeks))
	copy(out, g.seeks)
	return out
}

// Released reports whether Release was called.
func (g *Graph) Released() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}
