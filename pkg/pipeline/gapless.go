package pipeline

import "time"

// transitionToNext decides what happens when the current track runs
// out, either on an end-of-stream message or on the decode stage's
// drained notification.
//
// Three outcomes:
//   - no successor armed: EndOfStream(false), teardown left to the
//     caller;
//   - the successor is the next contiguous section of the same
//     resource: keep playing, only the segment bounds move, and the
//     caller sees no end-of-stream at all;
//   - anything else: hot-swap the decode stage and report
//     EndOfStream(true) so the caller promotes the preloaded track to
//     current.
func (p *Pipeline) transitionToNext() {
	p.mu.Lock()

	if p.closed || p.graph == nil {
		p.mu.Unlock()
		return
	}

	if p.nextURL == "" {
		notify := p.events.EndOfStream
		p.mu.Unlock()
		if notify != nil {
			notify(false)
		}
		return
	}

	if p.isContiguousContinuationLocked() {
		p.segmentStart = p.nextBegin
		p.endOffset = p.nextEnd
		// The engine keeps decoding through the section boundary; the
		// owner's bookkeeping seek that follows must not disturb it.
		p.ignoreNextSeek = true
		p.clearNextLocked()
		p.mu.Unlock()

		p.metrics.RecordCounter("pipeline.gapless_transitions", 1, map[string]string{"kind": "section"})
		p.logger.Debug("Continuing into next section of the same resource")
		return
	}

	nextURL, nextBegin, nextEnd := p.nextURL, p.nextBegin, p.nextEnd

	if err := p.replaceDecodeBinLocked(nextURL); err != nil {
		p.lastError = &PipelineError{Message: err.Error()}
		p.clearNextLocked()
		notifyErr := p.events.Error
		notifyEOS := p.events.EndOfStream
		p.mu.Unlock()

		p.logger.Error("Gapless decode swap failed", Error(err))
		if notifyErr != nil {
			notifyErr(err.Error(), 0, 0)
		}
		if notifyEOS != nil {
			notifyEOS(false)
		}
		return
	}

	p.url = nextURL
	p.segmentStart = nextBegin
	p.endOffset = nextEnd
	p.redirectURL = ""
	p.clearNextLocked()
	notify := p.events.EndOfStream
	p.mu.Unlock()

	p.metrics.RecordCounter("pipeline.gapless_transitions", 1, map[string]string{"kind": "swap"})
	p.logger.Info("Gapless transition to preloaded track", String("url", nextURL))
	if notify != nil {
		notify(true)
	}
}

// isContiguousContinuationLocked reports whether the armed successor
// is the next section of the resource already being decoded: same
// URL, and its begin offset lines up with the current end offset
// within the configured epsilon.
func (p *Pipeline) isContiguousContinuationLocked() bool {
	if p.nextURL != p.url || p.endOffset <= 0 {
		return false
	}
	delta := p.nextBegin - p.endOffset
	if delta < 0 {
		delta = -delta
	}
	return delta <= p.config.Timing.GaplessEpsilon
}

func (p *Pipeline) clearNextLocked() {
	p.nextURL = ""
	p.nextBegin = 0
	p.nextEnd = 0
}

// onSourceDrained runs when the decode stage has pushed its last
// buffer downstream. This is the preferred moment for a gapless swap:
// the processing chain still has audio in flight, so a replacement
// decode stage can connect without an audible gap.
func (p *Pipeline) onSourceDrained() {
	p.transitionToNext()
}

// EndOffset returns the current section's end bound, 0 when unbounded.
func (p *Pipeline) EndOffset() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endOffset
}
