package engine

import "time"

// State represents the lifecycle state of an engine graph
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// StateChangeReturn is the immediate result of a state change request
type StateChangeReturn int

const (
	StateChangeFailure StateChangeReturn = iota
	StateChangeSuccess
	StateChangeAsync
)

func (r StateChangeReturn) String() string {
	switch r {
	case StateChangeFailure:
		return "failure"
	case StateChangeSuccess:
		return "success"
	case StateChangeAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Buffer is one chunk of decoded audio on its way to the sink
type Buffer struct {
	Data       []byte
	Timestamp  time.Duration
	Duration   time.Duration
	SampleRate int
	Channels   int
}

// Element is a single node of a processing graph, addressed by the
// factory it was created from and a per-graph unique name. Properties
// are dynamically typed the way the underlying engine exposes them.
type Element interface {
	Name() string
	Factory() string
	SetProperty(name string, value interface{}) error
	Property(name string) (interface{}, bool)
}

// DecodeBin is the element that turns a media resource into raw audio
// buffers. Its output pad appears asynchronously once the resource has
// been probed, and it announces when it is about to run dry so a
// successor can be preloaded.
type DecodeBin interface {
	Element

	SetURI(uri string)
	URI() string

	// OnPadAdded registers fn to run when the decode output pad is
	// ready to be linked. Runs on an engine thread.
	OnPadAdded(fn func())

	// OnDrained registers fn to run when the source has delivered its
	// last buffer downstream. Runs on an engine thread.
	OnDrained(fn func())
}

// BusSyncReply tells the bus what to do with a message handled in the
// synchronous (engine-thread) handler.
type BusSyncReply int

const (
	BusPass BusSyncReply = iota
	BusDrop
)

// Bus delivers out-of-band engine messages. The synchronous handler
// runs on the engine's own thread and must return quickly; the watch
// runs on a dedicated message goroutine, in posting order per graph.
type Bus interface {
	SetSyncHandler(fn func(*Message) BusSyncReply)
	AddWatch(fn func(*Message))
	RemoveWatch()
}

// Graph is one assembled decode→process→render chain plus its control
// surface. All methods are safe for concurrent use.
type Graph interface {
	Add(elements ...Element) error
	Remove(element Element) error
	Link(elements ...Element) error
	Unlink(a, b Element)

	SetState(s State) StateChangeReturn
	State() State

	Bus() Bus

	// Position and Duration report false when the engine cannot answer
	// yet, e.g. before preroll.
	Position() (time.Duration, bool)
	Duration() (time.Duration, bool)
	Seek(offset time.Duration) bool

	// SetBufferTap arms fn for every decoded buffer before it reaches
	// the sink. Runs on the engine's buffer-production thread; a nil fn
	// disarms the tap.
	SetBufferTap(fn func(*Buffer))

	// Release tears the graph down and frees engine resources. The
	// caller must detach bus handlers and the buffer tap first.
	Release()
}

// Engine constructs elements and graphs. Implementations wrap a real
// decoding/output backend; tests use the enginetest fake.
type Engine interface {
	NewElement(factory, name string) (Element, error)
	NewDecodeBin(name string) (DecodeBin, error)

	// NewDecodeBinFromDescription builds a decode stage from an opaque
	// textual description, for non-standard or test sources.
	NewDecodeBinFromDescription(description string) (DecodeBin, error)

	NewGraph(name string) (Graph, error)
}
