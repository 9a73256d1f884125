package pipeline

import (
	"github.com/latoulicious/Kanade/pkg/engine"
)

// onBusMessageSync runs on the engine's own thread and must return
// quickly. Only work that has to happen before the next buffer is
// rendered belongs here; everything else waits for the async watch.
func (p *Pipeline) onBusMessageSync(msg *engine.Message) engine.BusSyncReply {
	if msg.Type != engine.MessageRedirect {
		return engine.BusPass
	}

	// Store the redirect target and fail the in-flight state changes.
	// The caller observes the failed future, reads RedirectURL and
	// rebuilds against the new location.
	p.mu.Lock()
	p.redirectURL = msg.RedirectURI
	pending := p.pending
	p.pending = nil
	graph := p.graph
	p.mu.Unlock()

	state := engine.StateNull
	if graph != nil {
		state = graph.State()
	}
	for _, psc := range pending {
		psc.resolve(StateChangeOutcome{State: state})
	}

	p.logger.Info("Engine requested redirect", String("redirect_url", msg.RedirectURI))
	return engine.BusDrop
}

// onBusMessage runs on the graph's message goroutine, in posting
// order. Messages for one pipeline never block another pipeline's
// handling; each graph has its own delivery context.
func (p *Pipeline) onBusMessage(msg *engine.Message) {
	switch msg.Type {
	case engine.MessageTag:
		p.tagMessageReceived(msg)
	case engine.MessageError:
		p.errorMessageReceived(msg)
	case engine.MessageElement:
		p.elementMessageReceived(msg)
	case engine.MessageStateChanged:
		p.stateChangedMessageReceived(msg)
	case engine.MessageEOS:
		p.transitionToNext()
	}
}

func (p *Pipeline) tagMessageReceived(msg *engine.Message) {
	p.mu.Lock()
	if p.ignoreTags || len(msg.Tags) == 0 {
		p.mu.Unlock()
		return
	}

	meta := make(Metadata, len(msg.Tags))
	for key, value := range msg.Tags {
		if value != "" {
			meta[key] = value
		}
	}
	notify := p.events.MetadataFound
	p.mu.Unlock()

	if len(meta) == 0 {
		return
	}
	p.logger.Debug("Metadata received",
		String("title", meta.Title()),
		String("artist", meta.Artist()),
	)
	if notify != nil {
		notify(meta)
	}
}

func (p *Pipeline) errorMessageReceived(msg *engine.Message) {
	p.mu.Lock()
	p.lastError = &PipelineError{
		Message: msg.ErrorMessage,
		Domain:  msg.ErrorDomain,
		Code:    msg.ErrorCode,
	}
	notify := p.events.Error
	p.mu.Unlock()

	p.metrics.RecordCounter("pipeline.errors", 1, nil)
	p.logger.Error("Engine error",
		String("message", msg.ErrorMessage),
		Int("domain", msg.ErrorDomain),
		Int("code", msg.ErrorCode),
	)

	// Playback is not stopped here; the caller observing the event
	// decides.
	if notify != nil {
		notify(msg.ErrorMessage, msg.ErrorDomain, msg.ErrorCode)
	}
}

func (p *Pipeline) elementMessageReceived(msg *engine.Message) {
	p.logger.Debug("Element message",
		String("origin", msg.Origin),
		Any("structure", msg.Structure),
	)
}

func (p *Pipeline) stateChangedMessageReceived(msg *engine.Message) {
	p.mu.Lock()

	if msg.NewState == engine.StatePaused || msg.NewState == engine.StatePlaying {
		p.initialised = true
	} else if msg.NewState == engine.StateNull {
		p.initialised = false
	}

	var resolved []*PendingStateChange
	remaining := p.pending[:0]
	for _, psc := range p.pending {
		if psc.Target() == msg.NewState {
			resolved = append(resolved, psc)
		} else {
			remaining = append(remaining, psc)
		}
	}
	p.pending = remaining

	graph := p.graph
	offset, replay := p.takePendingSeekLocked()
	p.mu.Unlock()

	p.metrics.RecordCounter("pipeline.state_changes", 1, map[string]string{"state": msg.NewState.String()})

	for _, psc := range resolved {
		psc.resolve(StateChangeOutcome{State: msg.NewState, Succeeded: true})
	}

	if replay && graph != nil {
		p.logger.Debug("Replaying deferred seek", Duration("offset", offset))
		if !graph.Seek(offset) {
			p.logger.Warn("Deferred seek failed", Duration("offset", offset))
		}
	}
}
