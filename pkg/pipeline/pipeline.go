package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/latoulicious/Kanade/pkg/engine"
)

// Pipeline owns one playback session: a decode→process→render graph
// plus the control state around it. Control calls are safe from any
// goroutine; buffer and bus callbacks arrive on engine-owned threads
// and are marshaled back through the live-pipeline table.
type Pipeline struct {
	id      string
	eng     engine.Engine
	config  *Config
	logger  Logger
	metrics *MetricsCollector

	consumers *consumerRegistry

	// mu guards every field below. It is never held across consumer
	// callbacks, event callbacks or engine seeks.
	mu    sync.Mutex
	token uint64

	events Events

	valid  bool
	closed bool
	url    string

	graph     engine.Graph
	decodeBin engine.DecodeBin
	chain     *audioChain

	segmentStart time.Duration
	endOffset    time.Duration

	nextURL   string
	nextBegin time.Duration
	nextEnd   time.Duration

	initialised bool
	connected   bool

	ignoreNextSeek bool
	ignoreTags     bool

	pendingSeek    time.Duration
	hasPendingSeek bool

	redirectURL string
	lastError   *PipelineError

	pending []*PendingStateChange

	// Cached settings, applied to the live graph when it exists and at
	// construction time otherwise.
	sinkFactory    string
	device         string
	volumePercent  int
	volumeModifier float64
	eqEnabled      bool
	eqPreamp       int
	eqBandGains    [EqBandCount]int
	rgEnabled      bool
	rgMode         int
	rgPreamp       float64
	rgCompression  bool
	bufferDuration time.Duration

	fader       *fader
	faderVolume float64
}

// New creates an unbuilt pipeline on the given engine. The pipeline
// holds no graph until one of the Init calls succeeds.
func New(eng engine.Engine, config *Config, logger Logger) (*Pipeline, error) {
	if eng == nil {
		return nil, errors.New("engine must not be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = DefaultLogger()
	}

	id := uuid.NewString()

	p := &Pipeline{
		id:             id,
		eng:            eng,
		config:         config,
		logger:         logger.With(String("component", "pipeline"), String("pipeline_id", id)),
		consumers:      newConsumerRegistry(),
		sinkFactory:    config.Output.Sink,
		device:         config.Output.Device,
		volumePercent:  100,
		volumeModifier: 1.0,
		faderVolume:    1.0,
	}
	p.metrics = NewMetricsCollector(p.logger)
	p.token = registerPipeline(p)

	return p, nil
}

// ID returns the pipeline's unique identifier, the same value passed
// to buffer consumers.
func (p *Pipeline) ID() string {
	return p.id
}

// SetEvents registers the caller's event callbacks. Call before
// requesting playback; replacing callbacks mid-flight is legal but the
// old set may still observe in-flight notifications.
func (p *Pipeline) SetEvents(events Events) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = events
}

// SetOutputDevice selects the sink element and device. Valid only
// before construction; once a graph exists the call is ignored.
func (p *Pipeline) SetOutputDevice(sink, device string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.valid {
		p.logger.Warn("SetOutputDevice ignored, pipeline already built")
		return
	}
	if sink != "" {
		p.sinkFactory = sink
	}
	p.device = device
}

// SetReplayGain configures replaygain handling. Valid only before
// construction.
func (p *Pipeline) SetReplayGain(enabled bool, mode int, preamp float64, compression bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.valid {
		p.logger.Warn("SetReplayGain ignored, pipeline already built")
		return
	}
	p.rgEnabled = enabled
	p.rgMode = mode
	p.rgPreamp = preamp
	p.rgCompression = compression
}

// SetBufferDuration sets the decode stage's buffer duration. Valid
// only before construction.
func (p *Pipeline) SetBufferDuration(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.valid {
		p.logger.Warn("SetBufferDuration ignored, pipeline already built")
		return
	}
	p.bufferDuration = d
}

// InitFromURL builds the pipeline for url. endOffset, when positive,
// bounds playback to [0, endOffset) of the resource. On failure no
// partial graph is retained and IsValid stays false.
func (p *Pipeline) InitFromURL(url string, endOffset time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("pipeline is closed")
	}
	if p.valid {
		return errors.New("pipeline is already built")
	}

	if err := p.initLocked(func() (engine.DecodeBin, error) {
		bin, err := p.eng.NewDecodeBin("decode-" + p.id)
		if err != nil {
			return nil, errors.Wrap(err, "creating decode bin")
		}
		bin.SetURI(url)
		return bin, nil
	}); err != nil {
		return err
	}

	p.url = url
	p.endOffset = endOffset
	p.valid = true

	p.logger.Info("Pipeline built",
		String("url", url),
		Duration("end_offset", endOffset),
	)
	return nil
}

// InitFromDescriptor builds the pipeline from an opaque textual graph
// description instead of a URL. Same contract as InitFromURL.
func (p *Pipeline) InitFromDescriptor(descriptor string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("pipeline is closed")
	}
	if p.valid {
		return errors.New("pipeline is already built")
	}

	if err := p.initLocked(func() (engine.DecodeBin, error) {
		bin, err := p.eng.NewDecodeBinFromDescription(descriptor)
		if err != nil {
			return nil, errors.Wrap(err, "creating decode bin from description")
		}
		return bin, nil
	}); err != nil {
		return err
	}

	p.url = descriptor
	p.valid = true

	p.logger.Info("Pipeline built from descriptor")
	return nil
}

// AddBufferConsumer registers a consumer for decoded audio buffers.
// Thread-safe, callable while delivery is in progress.
func (p *Pipeline) AddBufferConsumer(c BufferConsumer) {
	p.consumers.Add(c)
}

// RemoveBufferConsumer unregisters a consumer. After it returns the
// consumer receives no further buffers.
func (p *Pipeline) RemoveBufferConsumer(c BufferConsumer) {
	p.consumers.Remove(c)
}

// RemoveAllBufferConsumers unregisters every consumer.
func (p *Pipeline) RemoveAllBufferConsumers() {
	p.consumers.RemoveAll()
}

// RequestState asks the engine to move the graph to target and returns
// a future for the outcome. The call never blocks; the future resolves
// with the achieved state, a failure, or a timeout after the
// configured state-change timeout.
func (p *Pipeline) RequestState(target engine.State) *PendingStateChange {
	psc := newPendingStateChange(target)

	p.mu.Lock()
	if p.closed || p.graph == nil {
		p.mu.Unlock()
		psc.resolve(StateChangeOutcome{State: engine.StateNull})
		return psc
	}

	graph := p.graph
	switch graph.SetState(target) {
	case engine.StateChangeSuccess:
		p.mu.Unlock()
		p.metrics.RecordCounter("pipeline.state_changes", 1, map[string]string{"state": target.String()})
		psc.resolve(StateChangeOutcome{State: target, Succeeded: true})

	case engine.StateChangeFailure:
		p.mu.Unlock()
		psc.resolve(StateChangeOutcome{State: graph.State()})

	case engine.StateChangeAsync:
		p.pending = append(p.pending, psc)
		p.mu.Unlock()
		psc.armTimeout(p.config.Timing.StateChangeTimeout, graph.State, p.dropPending)
	}

	return psc
}

// dropPending removes an expired future from the pending list.
func (p *Pipeline) dropPending(psc *PendingStateChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pending := range p.pending {
		if pending == psc {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}

// Seek moves playback to offset. Before the graph is initialised and
// the decode stage connected, the offset is stored and replayed
// exactly once after readiness; the call reports success optimistically
// in that case.
func (p *Pipeline) Seek(offset time.Duration) error {
	p.mu.Lock()

	if p.ignoreNextSeek {
		// Internal rewiring (gapless section hop) already positioned
		// the stream; swallow the redundant request.
		p.ignoreNextSeek = false
		p.mu.Unlock()
		return nil
	}

	if p.graph == nil || !p.initialised || !p.connected {
		p.pendingSeek = offset
		p.hasPendingSeek = true
		p.mu.Unlock()
		p.logger.Debug("Seek deferred until pipeline is ready", Duration("offset", offset))
		return nil
	}

	graph := p.graph
	p.mu.Unlock()

	if !graph.Seek(offset) {
		return errors.Errorf("seek to %v failed", offset)
	}
	p.metrics.RecordCounter("pipeline.seeks", 1, nil)
	return nil
}

// SetNextURL arms gapless playback: when the current track finishes,
// the pipeline either continues into the next section of the same
// resource or hot-swaps the decode stage for url.
func (p *Pipeline) SetNextURL(url string, begin, end time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextURL = url
	p.nextBegin = begin
	p.nextEnd = end
}

// HasNextValidURL reports whether a gapless successor is armed.
func (p *Pipeline) HasNextValidURL() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextURL != ""
}

// SetVolume sets the user volume as a percentage, clamped to [0, 100].
func (p *Pipeline) SetVolume(percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	p.volumePercent = percent
	p.updateVolumeLocked()
}

// SetVolumeModifier scales the user volume by an application-owned
// ratio, independent of the fader.
func (p *Pipeline) SetVolumeModifier(mod float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volumeModifier = mod
	p.updateVolumeLocked()
}

// SetEqualizerEnabled toggles the equalizer stage.
func (p *Pipeline) SetEqualizerEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eqEnabled = enabled
	p.syncEqualizerLocked()
}

// SetEqualizerParams sets the equalizer preamp and per-band gains.
// Gains beyond EqBandCount entries are ignored; missing entries keep
// their previous value.
func (p *Pipeline) SetEqualizerParams(preamp int, bandGains []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eqPreamp = preamp
	for i, gain := range bandGains {
		if i >= EqBandCount {
			break
		}
		p.eqBandGains[i] = gain
	}
	p.syncEqualizerLocked()
}

// URL returns the URL of the track currently owned by the pipeline.
func (p *Pipeline) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// IsValid reports whether construction succeeded and the graph is
// addressable.
func (p *Pipeline) IsValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valid
}

// State returns the engine state of the graph, StateNull while
// unbuilt.
func (p *Pipeline) State() engine.State {
	p.mu.Lock()
	graph := p.graph
	p.mu.Unlock()
	if graph == nil {
		return engine.StateNull
	}
	return graph.State()
}

// SegmentStart returns the start offset of the current media section.
func (p *Pipeline) SegmentStart() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.segmentStart
}

// RedirectURL returns the URL the engine asked to redirect to, empty
// when no redirect happened. It is populated before the pending state
// change fails, so callers can detect the redirect and rebuild.
func (p *Pipeline) RedirectURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.redirectURL
}

// LastError returns the most recent engine error, nil when none
// occurred.
func (p *Pipeline) LastError() *PipelineError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}

// Position returns the playback position clamped to the current
// segment's bounds. Like Length, it is unaware of multiple-section
// media: the caller owns section accounting across tracks.
func (p *Pipeline) Position() time.Duration {
	p.mu.Lock()
	graph := p.graph
	segmentStart := p.segmentStart
	p.mu.Unlock()

	if graph == nil {
		return 0
	}
	pos, ok := graph.Position()
	if !ok {
		return segmentStart
	}

	if pos < segmentStart {
		return segmentStart
	}
	if length, ok := graph.Duration(); ok && pos > segmentStart+length {
		return segmentStart + length
	}
	return pos
}

// Length returns the duration the engine reports for the current
// resource, 0 while unknown. Section-unaware, like Position.
func (p *Pipeline) Length() time.Duration {
	p.mu.Lock()
	graph := p.graph
	p.mu.Unlock()

	if graph == nil {
		return 0
	}
	length, ok := graph.Duration()
	if !ok {
		return 0
	}
	return length
}

// Metrics returns the pipeline's metrics collector.
func (p *Pipeline) Metrics() *MetricsCollector {
	return p.metrics
}

// Close tears the pipeline down. Callback detachment happens before
// any engine handle is released, so no callback can observe a
// partially-destroyed pipeline; this ordering is the most
// safety-critical part of teardown. Close is idempotent.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	unregisterPipeline(p.token)

	if p.fader != nil {
		p.fader.stop()
		p.fader = nil
	}

	graph := p.graph
	pending := p.pending
	p.pending = nil
	p.graph = nil
	p.decodeBin = nil
	p.chain = nil
	p.valid = false
	p.mu.Unlock()

	for _, psc := range pending {
		psc.resolve(StateChangeOutcome{State: engine.StateNull})
	}

	if graph != nil {
		bus := graph.Bus()
		bus.SetSyncHandler(nil)
		bus.RemoveWatch()
		graph.SetBufferTap(nil)
		graph.SetState(engine.StateNull)
		graph.Release()
	}

	p.consumers.RemoveAll()
	p.logger.Info("Pipeline closed")
}

// handleBuffer fans a decoded buffer out to the registered consumers.
// Runs on the engine's buffer-production thread.
func (p *Pipeline) handleBuffer(buf *engine.Buffer) {
	p.consumers.Deliver(buf, p.id)
	p.metrics.RecordCounter("pipeline.buffers_delivered", 1, nil)
}

// updateVolumeLocked pushes the effective volume into the live graph.
// Effective volume is always user% × modifier × fader multiplier.
func (p *Pipeline) updateVolumeLocked() {
	if p.chain == nil {
		return
	}
	percent := p.volumePercent
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	effective := float64(percent) / 100.0 * p.volumeModifier * p.faderVolume
	p.chain.volume.SetProperty("volume", effective)
}

// takePendingSeekLocked consumes the deferred seek once the pipeline
// is ready for it.
func (p *Pipeline) takePendingSeekLocked() (time.Duration, bool) {
	if !p.hasPendingSeek || !p.initialised || !p.connected {
		return 0, false
	}
	offset := p.pendingSeek
	p.hasPendingSeek = false
	p.pendingSeek = 0
	return offset, true
}
