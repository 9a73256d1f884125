package pipeline

import (
	"time"

	"github.com/latoulicious/Kanade/pkg/engine"
)

// EqBandCount is the number of equalizer bands the processing chain
// carries.
const EqBandCount = 10

// EqBandFrequencies lists the center frequency in Hz of each equalizer
// band.
var EqBandFrequencies = [EqBandCount]int{60, 170, 310, 600, 1000, 3000, 6000, 12000, 14000, 16000}

const (
	// DefaultStateChangeTimeout bounds how long a RequestState future
	// waits for the engine to confirm an asynchronous transition.
	DefaultStateChangeTimeout = 10 * time.Second

	// DefaultFaderTickInterval is how often an active fader recomputes
	// the volume multiplier.
	DefaultFaderTickInterval = 25 * time.Millisecond

	// DefaultGaplessEpsilon is the tolerance used when comparing the
	// current section's end offset against the next section's begin
	// offset. Timestamps coming back from the engine carry rounding
	// jitter, so exact equality is too strict.
	DefaultGaplessEpsilon = time.Millisecond

	// faderFudgeInterval is the delay between a fader's nominal end and
	// the FaderFinished notification. The timeline can run slightly
	// ahead of actual audio delivery, so completion is re-checked after
	// this grace period.
	faderFudgeInterval = 20 * time.Millisecond
)

// PipelineError is an error reported by the engine, cached on the
// pipeline and surfaced through the Error event. Domain and Code are
// engine-specific numeric identifiers.
type PipelineError struct {
	Message string
	Domain  int
	Code    int
}

func (e *PipelineError) Error() string {
	return e.Message
}

// Metadata is the tag bundle extracted from a tag message. Keys follow
// the engine tag constants; unrecognized keys are preserved as-is.
type Metadata map[string]string

// Title returns the title tag, if present.
func (m Metadata) Title() string { return m[engine.TagTitle] }

// Artist returns the artist tag, if present.
func (m Metadata) Artist() string { return m[engine.TagArtist] }

// Album returns the album tag, if present.
func (m Metadata) Album() string { return m[engine.TagAlbum] }

// Events is the set of notifications a pipeline pushes to its owner.
// Callbacks run on the pipeline's message goroutine; they must not
// block for long, and any nil callback is skipped.
type Events struct {
	// EndOfStream fires when the current track finishes. hasNext is
	// true when a preloaded next track was swapped in and is now the
	// current one.
	EndOfStream func(hasNext bool)

	// MetadataFound fires whenever new tags arrive for the current
	// track.
	MetadataFound func(meta Metadata)

	// Error fires for runtime engine errors. Playback is not stopped
	// automatically; that decision belongs to the caller.
	Error func(message string, domain, code int)

	// FaderFinished fires when a fader runs to natural completion.
	FaderFinished func()
}

// StateChangeOutcome is what a PendingStateChange resolves to.
type StateChangeOutcome struct {
	// State is the engine state actually reached (or the current state
	// when the request failed or timed out).
	State engine.State

	// TimedOut is true when the engine did not confirm the transition
	// within the state-change timeout.
	TimedOut bool

	// Succeeded is true when the requested target state was reached.
	Succeeded bool
}
