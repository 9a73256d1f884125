package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkdai/youtube/v2"
)

func TestIsYouTubeURL(t *testing.T) {
	assert.True(t, IsYouTubeURL("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.True(t, IsYouTubeURL("https://youtu.be/dQw4w9WgXcQ"))
	assert.False(t, IsYouTubeURL("https://example.com/track.mp3"))
	assert.False(t, IsYouTubeURL("/music/track.flac"))
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("http://example.com/a.mp3"))
	assert.True(t, IsURL("https://example.com/a.mp3"))
	assert.True(t, IsURL("www.example.com/a.mp3"))
	assert.False(t, IsURL("/music/a.mp3"))
	assert.False(t, IsURL("a.mp3"))
}

func TestResolvePassThrough(t *testing.T) {
	r := New(nil)

	track, err := r.Resolve(context.Background(), "file:///music/my%20song.flac")
	require.NoError(t, err)
	assert.Equal(t, "file:///music/my%20song.flac", track.URL)
	assert.Equal(t, "my song", track.Title)
	assert.Empty(t, track.VideoID)

	track, err = r.Resolve(context.Background(), "/music/album/track01.ogg")
	require.NoError(t, err)
	assert.Equal(t, "/music/album/track01.ogg", track.URL)
	assert.Equal(t, "track01", track.Title)
}

func TestResolveEmpty(t *testing.T) {
	r := New(nil)
	_, err := r.Resolve(context.Background(), "   ")
	assert.Error(t, err)
}

func TestPickAudioFormat(t *testing.T) {
	formats := youtube.FormatList{
		{MimeType: `video/mp4; codecs="avc1,mp4a"`, Bitrate: 2_000_000, AudioChannels: 2},
		{MimeType: `audio/webm; codecs="opus"`, Bitrate: 160_000, AudioChannels: 2},
		{MimeType: `audio/mp4; codecs="mp4a"`, Bitrate: 128_000, AudioChannels: 2},
	}

	best := pickAudioFormat(formats)
	require.NotNil(t, best)
	// Audio-only wins over the higher-bitrate muxed stream, and the
	// higher-bitrate audio stream wins within audio-only.
	assert.Contains(t, best.MimeType, "audio/webm")
}

func TestPickAudioFormatNone(t *testing.T) {
	assert.Nil(t, pickAudioFormat(youtube.FormatList{}))
}

func TestThumbnailURL(t *testing.T) {
	assert.Equal(t,
		"https://img.youtube.com/vi/dQw4w9WgXcQ/maxresdefault.jpg",
		ThumbnailURL("dQw4w9WgXcQ"))
	assert.Empty(t, ThumbnailURL(""))
}

func TestTitleFromPath(t *testing.T) {
	assert.Equal(t, "stream", titleFromPath("https://cdn.example/stream.mp3?sig=abc"))
	assert.Equal(t, "track01", titleFromPath("/music/track01.flac"))
}
