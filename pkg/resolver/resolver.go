// Package resolver turns user-supplied track references into URLs the
// playback engine can open. YouTube links are resolved to direct audio
// stream URLs; files and plain HTTP resources pass through untouched.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/pkg/errors"

	"github.com/latoulicious/Kanade/pkg/pipeline"
)

// Track is a resolved, playable reference.
type Track struct {
	// URL is what the engine opens.
	URL string

	// OriginalURL is the reference the user supplied, when it differs
	// from URL.
	OriginalURL string

	// VideoID is set for YouTube tracks.
	VideoID string

	Title    string
	Artist   string
	Duration time.Duration
}

// Resolver resolves track references.
type Resolver struct {
	client *youtube.Client
	logger pipeline.Logger
}

// New creates a resolver.
func New(logger pipeline.Logger) *Resolver {
	if logger == nil {
		logger = pipeline.NullLogger()
	}
	return &Resolver{
		client: &youtube.Client{},
		logger: logger.With(pipeline.String("component", "resolver")),
	}
}

// Resolve turns input into a playable track. Non-YouTube references
// resolve locally without network access.
func (r *Resolver) Resolve(ctx context.Context, input string) (*Track, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("empty track reference")
	}

	if IsYouTubeURL(input) {
		return r.resolveYouTube(ctx, input)
	}

	return &Track{
		URL:   input,
		Title: titleFromPath(input),
	}, nil
}

// resolveYouTube fetches video metadata and picks the best audio-only
// stream.
func (r *Resolver) resolveYouTube(ctx context.Context, rawURL string) (*Track, error) {
	videoID, err := youtube.ExtractVideoID(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "extracting video id from %q", rawURL)
	}

	video, err := r.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching video %q", videoID)
	}

	format := pickAudioFormat(video.Formats)
	if format == nil {
		return nil, errors.Errorf("video %q has no audio stream", videoID)
	}

	streamURL, err := r.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving stream url for %q", videoID)
	}

	r.logger.Info("Resolved YouTube track",
		pipeline.String("video_id", videoID),
		pipeline.String("title", video.Title),
		pipeline.Duration("duration", video.Duration),
	)

	return &Track{
		URL:         streamURL,
		OriginalURL: rawURL,
		VideoID:     videoID,
		Title:       video.Title,
		Artist:      video.Author,
		Duration:    video.Duration,
	}, nil
}

// pickAudioFormat prefers audio-only streams by bitrate, falling back
// to any stream carrying audio channels.
func pickAudioFormat(formats youtube.FormatList) *youtube.Format {
	candidates := formats.WithAudioChannels()
	if len(candidates) == 0 {
		return nil
	}

	var best *youtube.Format
	bestScore := -1
	for i := range candidates {
		f := &candidates[i]
		score := f.Bitrate
		if strings.HasPrefix(f.MimeType, "audio/") {
			// Audio-only beats any muxed stream regardless of bitrate.
			score += 1 << 30
		}
		if score > bestScore {
			best = f
			bestScore = score
		}
	}
	return best
}

// IsYouTubeURL reports whether a reference points at YouTube.
func IsYouTubeURL(raw string) bool {
	return strings.Contains(raw, "youtube.com") || strings.Contains(raw, "youtu.be")
}

// IsURL reports whether a reference looks like a remote URL rather
// than a local path.
func IsURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") ||
		strings.HasPrefix(raw, "https://") ||
		strings.HasPrefix(raw, "www.") ||
		IsYouTubeURL(raw)
}

// ThumbnailURL builds the standard thumbnail location for a video ID.
func ThumbnailURL(videoID string) string {
	if videoID == "" {
		return ""
	}
	return fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", videoID)
}

// titleFromPath derives a display title for pass-through references.
func titleFromPath(ref string) string {
	trimmed := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		trimmed = u.Path
	}
	base := path.Base(trimmed)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "." || base == "/" || base == "" {
		return ref
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		return unescaped
	}
	return base
}
