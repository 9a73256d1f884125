package pipeline

import (
	"math"
	"sync"
	"time"
)

// FadeDirection selects whether a fader ramps the multiplier up or
// down.
type FadeDirection int

const (
	// FadeIn ramps the multiplier from 0 to 1.
	FadeIn FadeDirection = iota
	// FadeOut ramps the multiplier from 1 to 0.
	FadeOut
)

func (d FadeDirection) String() string {
	switch d {
	case FadeIn:
		return "fade-in"
	case FadeOut:
		return "fade-out"
	default:
		return "unknown"
	}
}

// FadeCurve maps fade progress in [0, 1] to a volume multiplier in
// [0, 1]. The curve math is pluggable; the pipeline only evaluates it.
type FadeCurve func(progress float64) float64

// LinearCurve is a straight ramp.
func LinearCurve(progress float64) float64 {
	return progress
}

// EaseInOutCurve is a cosine S-curve, gentle at both ends.
func EaseInOutCurve(progress float64) float64 {
	return 0.5 - math.Cos(math.Pi*progress)/2
}

// EaseInCurve starts slowly.
func EaseInCurve(progress float64) float64 {
	return progress * progress
}

// EaseOutCurve ends slowly.
func EaseOutCurve(progress float64) float64 {
	return 1 - (1-progress)*(1-progress)
}

// fader is one active volume ramp. It is owned by the pipeline and
// replaced wholesale when a new fade starts.
type fader struct {
	duration  time.Duration
	direction FadeDirection
	curve     FadeCurve
	start     time.Time

	cancel     chan struct{}
	cancelOnce sync.Once
}

func (f *fader) stop() {
	f.cancelOnce.Do(func() {
		close(f.cancel)
	})
}

// multiplierAt evaluates the fade at the given elapsed time.
func (f *fader) multiplierAt(elapsed time.Duration) float64 {
	progress := 1.0
	if f.duration > 0 {
		progress = float64(elapsed) / float64(f.duration)
	}
	if progress < 0 {
		progress = 0
	} else if progress > 1 {
		progress = 1
	}
	if f.direction == FadeOut {
		progress = 1 - progress
	}
	return f.curve(progress)
}

// StartFader begins a volume ramp over duration. A fader already in
// progress is canceled without a FaderFinished notification; there is
// no queueing. The fade multiplier combines with the user volume and
// modifier on every tick.
func (p *Pipeline) StartFader(duration time.Duration, direction FadeDirection, curve FadeCurve) {
	if curve == nil {
		curve = LinearCurve
	}

	f := &fader{
		duration:  duration,
		direction: direction,
		curve:     curve,
		start:     time.Now(),
		cancel:    make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.fader != nil {
		p.fader.stop()
	}
	p.fader = f
	p.faderVolume = f.multiplierAt(0)
	p.updateVolumeLocked()
	tick := p.config.Timing.FaderTickInterval
	p.mu.Unlock()

	p.logger.Debug("Fader started",
		Duration("duration", duration),
		String("direction", direction.String()),
	)

	go p.runFader(f, tick)
}

// runFader drives the fade on the control-side timer, not the audio
// thread. It exits when the fade completes, is superseded, or the
// pipeline closes.
func (p *Pipeline) runFader(f *fader, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-f.cancel:
			return

		case now := <-ticker.C:
			elapsed := now.Sub(f.start)
			done := elapsed >= f.duration
			if done {
				elapsed = f.duration
			}

			p.mu.Lock()
			if p.fader != f {
				p.mu.Unlock()
				return
			}
			p.faderVolume = f.multiplierAt(elapsed)
			p.updateVolumeLocked()
			p.mu.Unlock()

			if done {
				// The timeline can run slightly ahead of actual audio
				// delivery; re-check completion after a short grace
				// period before reporting.
				time.AfterFunc(faderFudgeInterval, func() {
					p.finishFader(f)
				})
				return
			}
		}
	}
}

// finishFader reports natural completion, unless the fader was
// superseded or the pipeline closed during the fudge window.
func (p *Pipeline) finishFader(f *fader) {
	p.mu.Lock()
	if p.fader != f || p.closed {
		p.mu.Unlock()
		return
	}
	p.fader = nil
	notify := p.events.FaderFinished
	p.mu.Unlock()

	p.logger.Debug("Fader finished")
	if notify != nil {
		notify()
	}
}
