// Command kanade is a small demonstration player built on the playback
// pipeline. It resolves a list of track references, plays them back to
// back with gapless hand-off, and records playback history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/latoulicious/Kanade/internal/config"
	"github.com/latoulicious/Kanade/pkg/engine"
	beepengine "github.com/latoulicious/Kanade/pkg/engine/beep"
	"github.com/latoulicious/Kanade/pkg/history"
	"github.com/latoulicious/Kanade/pkg/pipeline"
	"github.com/latoulicious/Kanade/pkg/playlist"
	"github.com/latoulicious/Kanade/pkg/resolver"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading configuration:", err)
		os.Exit(1)
	}

	logger := pipeline.NewStructuredLogger(cfg.Pipeline.Logging)

	if len(cfg.Tracks) == 0 {
		logger.Error("No tracks configured, set PLAYER_TRACKS")
		os.Exit(1)
	}

	p, err := newPlayer(cfg, logger)
	if err != nil {
		logger.Error("Player setup failed", pipeline.Error(err))
		os.Exit(1)
	}
	defer p.shutdown()

	if err := p.start(); err != nil {
		logger.Error("Playback failed to start", pipeline.Error(err))
		os.Exit(1)
	}

	logger.Info("Player is running. Press CTRL-C to exit.")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	select {
	case <-sc:
		logger.Info("Shutting down on signal")
	case <-p.done:
		logger.Info("Playlist finished")
	}
}

// player wires the pipeline, queue and history store together and
// advances the queue as tracks finish.
type player struct {
	cfg     *config.Config
	logger  pipeline.Logger
	eng     *beepengine.Engine
	queue   *playlist.Queue
	store   *history.Store
	sweeper *history.Sweeper

	// mu guards pipe, current and started, which the bus-event
	// goroutine mutates while the main goroutine shuts down.
	mu      sync.Mutex
	pipe    *pipeline.Pipeline
	current *playlist.Item
	started time.Time

	done chan struct{}
}

func newPlayer(cfg *config.Config, logger pipeline.Logger) (*player, error) {
	p := &player{
		cfg:    cfg,
		logger: logger.With(pipeline.String("component", "player")),
		queue:  playlist.New(),
		done:   make(chan struct{}),
	}

	p.eng = beepengine.New()
	p.eng.Silent = cfg.Silent

	res := resolver.New(logger)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, ref := range cfg.Tracks {
		track, err := res.Resolve(ctx, ref)
		if err != nil {
			p.logger.Warn("Skipping unresolvable track",
				pipeline.String("track", ref),
				pipeline.Error(err),
			)
			continue
		}
		p.queue.Add(&playlist.Item{
			URL:         track.URL,
			OriginalURL: track.OriginalURL,
			Title:       track.Title,
			Artist:      track.Artist,
			Duration:    track.Duration,
		})
	}
	if p.queue.Size() == 0 {
		return nil, fmt.Errorf("none of the configured tracks resolved")
	}

	if cfg.HistoryPath != "" {
		store, err := history.Open(cfg.HistoryPath, logger)
		if err != nil {
			return nil, err
		}
		p.store = store

		sweeper, err := history.NewSweeper(store, cfg.RetentionAge, history.DefaultRetentionSchedule, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		p.sweeper = sweeper
	}

	return p, nil
}

// start builds a pipeline for the head of the queue and begins
// playback.
func (p *player) start() error {
	item := p.queue.Next()
	if item == nil {
		return fmt.Errorf("queue is empty")
	}
	return p.play(item)
}

func (p *player) play(item *playlist.Item) error {
	pipe, err := pipeline.New(p.eng, p.cfg.Pipeline, p.logger)
	if err != nil {
		return err
	}
	pipe.SetEvents(pipeline.Events{
		EndOfStream:   p.onEndOfStream,
		MetadataFound: p.onMetadata,
		Error:         p.onError,
	})

	if err := pipe.InitFromURL(item.URL, 0); err != nil {
		pipe.Close()
		return err
	}

	p.mu.Lock()
	p.pipe = pipe
	p.current = item
	p.started = time.Now()
	p.mu.Unlock()
	p.armNext()

	p.logger.Info("Playing",
		pipeline.String("title", item.Title),
		pipeline.String("url", item.OriginalURL),
	)

	outcome := pipe.RequestState(engine.StatePlaying).Wait()
	if !outcome.Succeeded {
		if redirect := pipe.RedirectURL(); redirect != "" {
			// The engine resolved the reference to a different
			// location. Rebuild against it once.
			p.logger.Info("Following redirect", pipeline.String("url", redirect))
			pipe.Close()
			item.URL = redirect
			return p.play(item)
		}
		pipe.Close()
		return fmt.Errorf("track did not reach playing state: %s", item.URL)
	}
	return nil
}

// armNext preloads the next queue entry for gapless hand-off.
func (p *player) armNext() {
	p.mu.Lock()
	pipe := p.pipe
	p.mu.Unlock()
	if next := p.queue.Peek(); next != nil && pipe != nil {
		pipe.SetNextURL(next.URL, 0, 0)
	}
}

// onEndOfStream runs on the engine's bus thread. When hasNext is true
// the pipeline already swapped the armed track in and keeps rendering;
// otherwise playback stopped and the next track needs a fresh pipeline.
func (p *player) onEndOfStream(hasNext bool) {
	p.recordFinished("")

	if hasNext {
		next := p.queue.Next()
		p.mu.Lock()
		p.current = next
		p.started = time.Now()
		p.mu.Unlock()
		p.armNext()
		if next != nil {
			p.logger.Info("Continuing gapless",
				pipeline.String("title", next.Title),
			)
		}
		return
	}

	p.mu.Lock()
	pipe := p.pipe
	p.pipe = nil
	p.mu.Unlock()
	if pipe != nil {
		pipe.Close()
	}
	item := p.queue.Next()
	if item == nil {
		close(p.done)
		return
	}
	if err := p.play(item); err != nil {
		p.logger.Error("Failed to start next track", pipeline.Error(err))
		close(p.done)
	}
}

func (p *player) onMetadata(meta pipeline.Metadata) {
	p.logger.Info("Now playing",
		pipeline.String("title", meta.Title()),
		pipeline.String("artist", meta.Artist()),
	)
}

func (p *player) onError(message string, domain, code int) {
	p.logger.Error("Engine error",
		pipeline.String("message", message),
		pipeline.Int("domain", domain),
		pipeline.Int("code", code),
	)
	p.recordFinished(message)
}

// recordFinished persists the playback record and a metrics snapshot
// for the track that just ended.
func (p *player) recordFinished(errorText string) {
	p.mu.Lock()
	current := p.current
	started := p.started
	pipe := p.pipe
	p.mu.Unlock()

	if p.store == nil || current == nil {
		return
	}
	rec := &history.PlaybackRecord{
		URL:        current.OriginalURL,
		Title:      current.Title,
		Artist:     current.Artist,
		StartedAt:  started,
		FinishedAt: time.Now(),
		ErrorText:  errorText,
	}
	if rec.URL == "" {
		rec.URL = current.URL
	}
	if err := p.store.RecordPlayback(rec); err != nil {
		p.logger.Warn("Failed to record playback", pipeline.Error(err))
	}
	if pipe != nil {
		if err := p.store.RecordMetrics(pipe.ID(), pipe.Metrics().Snapshot()); err != nil {
			p.logger.Warn("Failed to record metrics", pipeline.Error(err))
		}
	}
}

func (p *player) shutdown() {
	p.mu.Lock()
	pipe := p.pipe
	p.pipe = nil
	p.mu.Unlock()
	if pipe != nil {
		pipe.Close()
	}
	if p.sweeper != nil {
		p.sweeper.Stop()
	}
	if p.store != nil {
		p.store.Close()
	}
}
