package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrdering(t *testing.T) {
	q := New()
	q.Add(&Item{URL: "file:///a.flac", Title: "A"})
	q.Add(&Item{URL: "file:///b.flac", Title: "B"})
	q.Add(nil)

	assert.Equal(t, 2, q.Size())
	assert.Nil(t, q.Current())

	peeked := q.Peek()
	require.NotNil(t, peeked)
	assert.Equal(t, "A", peeked.Title)
	assert.Equal(t, 2, q.Size())

	first := q.Next()
	require.NotNil(t, first)
	assert.Equal(t, "A", first.Title)
	assert.False(t, first.StartedAt.IsZero())
	assert.Same(t, first, q.Current())
	assert.Equal(t, 1, q.Size())

	second := q.Next()
	require.NotNil(t, second)
	assert.Equal(t, "B", second.Title)

	assert.Nil(t, q.Next())
	assert.Nil(t, q.Current())
}

func TestQueueRemove(t *testing.T) {
	q := New()
	q.Add(&Item{Title: "A"})
	q.Add(&Item{Title: "B"})
	q.Add(&Item{Title: "C"})

	require.NoError(t, q.Remove(1))
	list := q.List()
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Title)
	assert.Equal(t, "C", list[1].Title)

	assert.Error(t, q.Remove(-1))
	assert.Error(t, q.Remove(2))
}

func TestQueueClear(t *testing.T) {
	q := New()
	q.Add(&Item{Title: "A"})
	q.Next()
	q.Clear()

	assert.Zero(t, q.Size())
	assert.Nil(t, q.Current())
}

func TestSkippedFlag(t *testing.T) {
	q := New()
	q.Add(&Item{Title: "A"})
	q.Add(&Item{Title: "B"})

	q.Next()
	assert.False(t, q.WasSkipped())

	q.MarkSkipped()
	assert.True(t, q.WasSkipped())

	// The flag resets when the next track starts.
	q.Next()
	assert.False(t, q.WasSkipped())
}
