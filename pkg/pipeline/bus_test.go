package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/Kanade/pkg/engine"
	"github.com/latoulicious/Kanade/pkg/engine/enginetest"
)

func TestTagMessage(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)

	var seen []Metadata
	p.SetEvents(Events{MetadataFound: func(m Metadata) { seen = append(seen, m) }})

	g.PostTags(map[string]string{
		engine.TagTitle:  "Song",
		engine.TagArtist: "Band",
		engine.TagAlbum:  "",
		"custom-key":     "kept",
	})

	require.Len(t, seen, 1)
	assert.Equal(t, "Song", seen[0].Title())
	assert.Equal(t, "Band", seen[0].Artist())
	assert.Equal(t, "kept", seen[0]["custom-key"])

	// Empty values are dropped rather than passed through.
	_, hasAlbum := seen[0][engine.TagAlbum]
	assert.False(t, hasAlbum)
}

func TestTagMessage_AllEmpty(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)

	var calls int
	p.SetEvents(Events{MetadataFound: func(Metadata) { calls++ }})

	g.PostTags(map[string]string{engine.TagTitle: ""})
	g.PostTags(nil)
	assert.Zero(t, calls)
}

func TestErrorMessage(t *testing.T) {
	p, _, g := buildPipeline(t, "file:///music/a.flac", 0)

	type report struct {
		message      string
		domain, code int
	}
	var reports []report
	p.SetEvents(Events{Error: func(message string, domain, code int) {
		reports = append(reports, report{message, domain, code})
	}})

	g.PostError("could not decode stream", 3, 7)

	require.Len(t, reports, 1)
	assert.Equal(t, report{"could not decode stream", 3, 7}, reports[0])

	lastErr := p.LastError()
	require.NotNil(t, lastErr)
	assert.Equal(t, "could not decode stream", lastErr.Message)
	assert.Equal(t, 3, lastErr.Domain)
	assert.Equal(t, 7, lastErr.Code)

	// An engine error does not stop playback on its own.
	assert.Empty(t, g.Targets())
}

func TestElementMessage(t *testing.T) {
	_, _, g := buildPipeline(t, "file:///music/a.flac", 0)

	// Element messages are informational only; delivery must not blow up.
	bus := g.Bus().(*enginetest.Bus)
	bus.Post(&engine.Message{
		Type:      engine.MessageElement,
		Origin:    "sink",
		Structure: map[string]interface{}{"underrun": true},
	})
}

func TestStateChangedTracksInitialisation(t *testing.T) {
	p, eng, g := buildPipeline(t, "file:///music/a.flac", 0)
	eng.DecodeBins()[0].TriggerPadAdded()

	// A deferred seek replays once the pipeline reports paused or
	// playing, and is dropped again when the graph returns to null.
	require.NoError(t, p.Seek(5*time.Second))
	g.CompleteStateChange(engine.StatePaused)
	assert.Len(t, g.Seeks(), 1)

	g.CompleteStateChange(engine.StateNull)
	require.NoError(t, p.Seek(7*time.Second))
	assert.Len(t, g.Seeks(), 1)
}
