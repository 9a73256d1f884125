package pipeline

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/latoulicious/Kanade/pkg/engine"
)

// audioChain is the fixed processing chain between the decode stage
// and the output. The order is load-bearing: gain analysis and
// limiting must see the signal before the preamp/equalizer, and the
// user volume must sit after the equalizer for replaygain and
// equalization to come out right.
//
//	convert → rgvolume → rglimiter → convert → eq-preamp → equalizer →
//	volume → resample → convert → sink
type audioChain struct {
	convertIn  engine.Element
	rgVolume   engine.Element
	rgLimiter  engine.Element
	convertMid engine.Element
	eqPreamp   engine.Element
	equalizer  engine.Element
	volume     engine.Element
	resample   engine.Element
	convertOut engine.Element
	sink       engine.Element
}

// elements returns the chain in link order.
func (c *audioChain) elements() []engine.Element {
	return []engine.Element{
		c.convertIn,
		c.rgVolume,
		c.rgLimiter,
		c.convertMid,
		c.eqPreamp,
		c.equalizer,
		c.volume,
		c.resample,
		c.convertOut,
		c.sink,
	}
}

// buildChainLocked constructs the processing chain elements. Any
// construction failure aborts the whole build.
func (p *Pipeline) buildChainLocked() (*audioChain, error) {
	factories := []struct {
		factory string
		name    string
	}{
		{"audioconvert", "convert-in"},
		{"rgvolume", "rgvolume"},
		{"rglimiter", "rglimiter"},
		{"audioconvert", "convert-mid"},
		{"volume", "eq-preamp"},
		{"equalizer-10bands", "equalizer"},
		{"volume", "volume"},
		{"audioresample", "resample"},
		{"audioconvert", "convert-out"},
		{p.sinkFactory, "sink"},
	}

	built := make([]engine.Element, 0, len(factories))
	for _, f := range factories {
		el, err := p.eng.NewElement(f.factory, f.name)
		if err != nil {
			return nil, errors.Wrapf(err, "creating element %q", f.factory)
		}
		built = append(built, el)
	}

	chain := &audioChain{
		convertIn:  built[0],
		rgVolume:   built[1],
		rgLimiter:  built[2],
		convertMid: built[3],
		eqPreamp:   built[4],
		equalizer:  built[5],
		volume:     built[6],
		resample:   built[7],
		convertOut: built[8],
		sink:       built[9],
	}

	if p.device != "" {
		chain.sink.SetProperty("device", p.device)
	}

	return chain, nil
}

// initLocked builds the graph: decode stage (from makeBin), processing
// chain, linking, callbacks and cached settings. On error every
// partially-built handle is released and the pipeline stays unbuilt.
func (p *Pipeline) initLocked(makeBin func() (engine.DecodeBin, error)) error {
	graph, err := p.eng.NewGraph("playback-" + p.id)
	if err != nil {
		return errors.Wrap(err, "creating graph")
	}

	fail := func(err error) error {
		graph.Release()
		return err
	}

	bin, err := makeBin()
	if err != nil {
		return fail(err)
	}
	if p.bufferDuration > 0 {
		bin.SetProperty("buffer-duration", int64(p.bufferDuration))
	}

	chain, err := p.buildChainLocked()
	if err != nil {
		return fail(err)
	}

	all := append([]engine.Element{bin}, chain.elements()...)
	if err := graph.Add(all...); err != nil {
		return fail(errors.Wrap(err, "adding elements to graph"))
	}

	// The decode stage links in later, when its output pad appears.
	if err := graph.Link(chain.elements()...); err != nil {
		return fail(errors.Wrap(err, "linking processing chain"))
	}

	p.graph = graph
	p.decodeBin = bin
	p.chain = chain

	p.armDecodeBinLocked(bin)
	p.armBusLocked(graph)
	p.armBufferTapLocked(graph)
	p.syncSettingsLocked()

	return nil
}

// armDecodeBinLocked wires the decode stage's callbacks through the
// live-pipeline table.
func (p *Pipeline) armDecodeBinLocked(bin engine.DecodeBin) {
	token := p.token
	bin.OnPadAdded(func() {
		if pl := lookupPipeline(token); pl != nil {
			pl.onDecodePadAdded()
		}
	})
	bin.OnDrained(func() {
		if pl := lookupPipeline(token); pl != nil {
			pl.onSourceDrained()
		}
	})
}

// armBusLocked attaches the synchronous and asynchronous bus handlers.
func (p *Pipeline) armBusLocked(graph engine.Graph) {
	token := p.token
	bus := graph.Bus()
	bus.SetSyncHandler(func(msg *engine.Message) engine.BusSyncReply {
		pl := lookupPipeline(token)
		if pl == nil {
			return engine.BusPass
		}
		return pl.onBusMessageSync(msg)
	})
	bus.AddWatch(func(msg *engine.Message) {
		if pl := lookupPipeline(token); pl != nil {
			pl.onBusMessage(msg)
		}
	})
}

// armBufferTapLocked attaches the decoded-buffer tap.
func (p *Pipeline) armBufferTapLocked(graph engine.Graph) {
	token := p.token
	graph.SetBufferTap(func(buf *engine.Buffer) {
		if pl := lookupPipeline(token); pl != nil {
			pl.handleBuffer(buf)
		}
	})
}

// replaceDecodeBinLocked hot-swaps the decode stage for url while the
// processing chain and sink stay live. Tags are suppressed until the
// new stage connects so stale metadata from the outgoing stage is not
// attributed to the new track. On failure the old stage is left in
// place.
func (p *Pipeline) replaceDecodeBinLocked(url string) error {
	if p.graph == nil || p.chain == nil {
		return errors.New("no live graph to swap into")
	}

	newBin, err := p.eng.NewDecodeBin("decode-" + p.id)
	if err != nil {
		return errors.Wrap(err, "creating replacement decode bin")
	}
	newBin.SetURI(url)
	if p.bufferDuration > 0 {
		newBin.SetProperty("buffer-duration", int64(p.bufferDuration))
	}

	old := p.decodeBin
	if old != nil {
		if p.connected {
			p.graph.Unlink(old, p.chain.convertIn)
		}
		if err := p.graph.Remove(old); err != nil {
			return errors.Wrap(err, "removing old decode bin")
		}
	}

	if err := p.graph.Add(newBin); err != nil {
		// Put the old stage back so the graph is never half-swapped.
		if old != nil {
			p.graph.Add(old)
			p.graph.Link(old, p.chain.convertIn)
		}
		return errors.Wrap(err, "adding replacement decode bin")
	}

	p.ignoreTags = true
	p.connected = false
	p.decodeBin = newBin
	p.armDecodeBinLocked(newBin)

	p.logger.Debug("Decode stage replaced", String("url", url))
	return nil
}

// onDecodePadAdded links the decode stage's fresh output pad into the
// processing chain and replays a deferred seek when the pipeline is
// otherwise ready. Runs via the live-pipeline table on an engine
// thread.
func (p *Pipeline) onDecodePadAdded() {
	p.mu.Lock()
	if p.graph == nil || p.chain == nil || p.decodeBin == nil {
		p.mu.Unlock()
		return
	}

	if err := p.graph.Link(p.decodeBin, p.chain.convertIn); err != nil {
		p.logger.Error("Failed to link decode stage", Error(err))
		p.mu.Unlock()
		return
	}
	p.connected = true
	p.ignoreTags = false

	graph := p.graph
	offset, replay := p.takePendingSeekLocked()
	p.mu.Unlock()

	if replay {
		p.logger.Debug("Replaying deferred seek", Duration("offset", offset))
		if !graph.Seek(offset) {
			p.logger.Warn("Deferred seek failed", Duration("offset", offset))
		}
	}
}

// syncSettingsLocked applies every cached setting to the live graph.
// Idempotent; called at construction and from each setter.
func (p *Pipeline) syncSettingsLocked() {
	p.updateVolumeLocked()
	p.syncEqualizerLocked()
	p.syncReplayGainLocked()
}

// syncEqualizerLocked pushes the cached equalizer settings into the
// preamp and band elements. When disabled, both fall back to unity.
func (p *Pipeline) syncEqualizerLocked() {
	if p.chain == nil {
		return
	}

	preampGain := 1.0
	if p.eqEnabled {
		// Preamp ranges -100..100, mapped onto a 0..2 gain factor.
		preampGain = float64(p.eqPreamp+100) / 100.0
	}
	p.chain.eqPreamp.SetProperty("volume", preampGain)

	for i := 0; i < EqBandCount; i++ {
		gain := 0.0
		if p.eqEnabled {
			gain = float64(p.eqBandGains[i])
			// Band gains range -100..100; negative swings are wider
			// than positive ones on the dB scale.
			if gain < 0 {
				gain *= 0.24
			} else {
				gain *= 0.12
			}
		}
		p.chain.equalizer.SetProperty(fmt.Sprintf("band%d", i), gain)
	}
}

// syncReplayGainLocked pushes the cached replaygain settings into the
// gain-analysis and limiter elements.
func (p *Pipeline) syncReplayGainLocked() {
	if p.chain == nil {
		return
	}

	preamp := 0.0
	if p.rgEnabled {
		preamp = p.rgPreamp
	}
	p.chain.rgVolume.SetProperty("album-mode", p.rgMode)
	p.chain.rgVolume.SetProperty("pre-amp", preamp)
	p.chain.rgLimiter.SetProperty("enabled", p.rgEnabled && p.rgCompression)
}
