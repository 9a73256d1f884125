// Package pipeline implements the playback core: one Pipeline per
// track, built on an abstract audio engine (see pkg/engine).
//
// A pipeline owns a decode→process→render graph and the control state
// around it. The processing chain is fixed; the decode stage is
// per-track and can be hot-swapped for gapless transitions. Decoded
// buffers fan out to registered BufferConsumers, state transitions are
// asynchronous and observed through PendingStateChange futures, and
// out-of-band engine events (tags, errors, end of stream, redirects)
// surface through the Events callbacks.
//
// Basic usage:
//
//	p, err := pipeline.New(eng, pipeline.DefaultConfig(), logger)
//	if err != nil { ... }
//	defer p.Close()
//
//	p.SetEvents(pipeline.Events{
//		EndOfStream: func(hasNext bool) { ... },
//	})
//	if err := p.InitFromURL("file:///music/track.flac", 0); err != nil { ... }
//
//	outcome := p.RequestState(engine.StatePlaying).Wait()
//	if !outcome.Succeeded { ... }
//
// All control methods are safe for concurrent use. Engine callbacks
// are routed through a live-pipeline table keyed by an opaque token,
// so a callback firing after Close resolves to nothing instead of a
// dangling pipeline.
package pipeline
