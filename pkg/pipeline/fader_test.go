package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFadeCurves(t *testing.T) {
	curves := []FadeCurve{LinearCurve, EaseInOutCurve, EaseInCurve, EaseOutCurve}
	for _, curve := range curves {
		assert.InDelta(t, 0.0, curve(0), 1e-9)
		assert.InDelta(t, 1.0, curve(1), 1e-9)
	}

	assert.InDelta(t, 0.5, LinearCurve(0.5), 1e-9)
	assert.InDelta(t, 0.5, EaseInOutCurve(0.5), 1e-9)
	assert.InDelta(t, 0.25, EaseInCurve(0.5), 1e-9)
	assert.InDelta(t, 0.75, EaseOutCurve(0.5), 1e-9)
}

func TestFaderMultiplier(t *testing.T) {
	in := &fader{duration: 100 * time.Millisecond, direction: FadeIn, curve: LinearCurve}
	assert.InDelta(t, 0.0, in.multiplierAt(0), 1e-9)
	assert.InDelta(t, 0.5, in.multiplierAt(50*time.Millisecond), 1e-9)
	assert.InDelta(t, 1.0, in.multiplierAt(100*time.Millisecond), 1e-9)
	assert.InDelta(t, 1.0, in.multiplierAt(250*time.Millisecond), 1e-9)

	out := &fader{duration: 100 * time.Millisecond, direction: FadeOut, curve: LinearCurve}
	assert.InDelta(t, 1.0, out.multiplierAt(0), 1e-9)
	assert.InDelta(t, 0.0, out.multiplierAt(100*time.Millisecond), 1e-9)

	// A zero-duration fade jumps straight to the terminal value.
	instant := &fader{direction: FadeIn, curve: LinearCurve}
	assert.InDelta(t, 1.0, instant.multiplierAt(0), 1e-9)
}

func TestStartFader_FadeInFinishes(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)

	finished := make(chan struct{}, 1)
	p.SetEvents(Events{FaderFinished: func() { finished <- struct{}{} }})

	p.StartFader(30*time.Millisecond, FadeIn, nil)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("fader did not finish")
	}

	vol := g.ElementByName("volume")
	require.NotNil(t, vol)
	v, ok := vol.Property("volume")
	require.True(t, ok)
	assert.InDelta(t, 1.0, v.(float64), 1e-9)
}

func TestStartFader_FadeInStartsSilent(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)

	// A long fade so the first ticks barely move the multiplier.
	p.StartFader(time.Minute, FadeIn, nil)

	vol := g.ElementByName("volume")
	require.NotNil(t, vol)
	v, ok := vol.Property("volume")
	require.True(t, ok)
	assert.Less(t, v.(float64), 0.05)
}

func TestStartFader_ReplaceCancelsWithoutNotification(t *testing.T) {
	p, _, _ := buildPipeline(t, "file:///music/a.flac", 0)

	finished := make(chan struct{}, 2)
	p.SetEvents(Events{FaderFinished: func() { finished <- struct{}{} }})

	// A long fade superseded immediately must never report completion.
	p.StartFader(10*time.Second, FadeOut, nil)
	p.StartFader(30*time.Millisecond, FadeIn, nil)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement fader did not finish")
	}

	select {
	case <-finished:
		t.Fatal("superseded fader reported completion")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStartFader_CustomCurve(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)

	finished := make(chan struct{}, 1)
	p.SetEvents(Events{FaderFinished: func() { finished <- struct{}{} }})

	p.StartFader(30*time.Millisecond, FadeOut, EaseInOutCurve)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("fader did not finish")
	}

	// A completed fade-out leaves the effective volume at zero.
	vol := g.ElementByName("volume")
	require.NotNil(t, vol)
	v, _ := vol.Property("volume")
	assert.InDelta(t, 0.0, v.(float64), 1e-9)
}

func TestStartFader_IgnoredAfterClose(t *testing.T) {
	p, _, _ := buildPipeline(t, "file:///music/a.flac", 0)

	finished := make(chan struct{}, 1)
	p.SetEvents(Events{FaderFinished: func() { finished <- struct{}{} }})

	p.Close()
	p.StartFader(10*time.Millisecond, FadeIn, nil)

	select {
	case <-finished:
		t.Fatal("fader ran on a closed pipeline")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFadeDirectionString(t *testing.T) {
	assert.Equal(t, "fade-in", FadeIn.String())
	assert.Equal(t, "fade-out", FadeOut.String())
}
