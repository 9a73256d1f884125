// Package discordsink is a buffer consumer that encodes decoded audio
// to Opus and feeds a Discord voice connection. It attaches to a
// pipeline like any other consumer; playback out the local speaker and
// streaming to a voice channel can run off the same decode.
package discordsink

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"layeh.com/gopus"

	"github.com/latoulicious/Kanade/pkg/engine"
	"github.com/latoulicious/Kanade/pkg/pipeline"
)

const (
	// sampleRate and channels are what Discord voice expects.
	sampleRate = 48000
	channels   = 2

	// frameSamples is samples per channel in one 20 ms Opus frame.
	frameSamples = 960

	// frameLength is frameSamples * channels.
	frameLength = frameSamples * channels

	bitrate = 128000

	// sendTimeout bounds how long a frame waits for the voice
	// connection before being dropped. The consumer runs on the
	// engine's buffer path and must not stall it.
	sendTimeout = 100 * time.Millisecond
)

// Sink encodes pipeline buffers to Opus frames.
type Sink struct {
	send    chan<- []byte
	encoder *gopus.Encoder
	logger  pipeline.Logger

	mu      sync.Mutex
	pcm     []int16
	frames  int64
	dropped int64
	badRate bool
}

// New creates a sink feeding the given voice connection. The caller
// owns the connection lifecycle, including Speaking state.
func New(vc *discordgo.VoiceConnection, logger pipeline.Logger) (*Sink, error) {
	if vc == nil {
		return nil, errors.New("voice connection must not be nil")
	}
	return NewWithChannel(vc.OpusSend, logger)
}

// NewWithChannel creates a sink feeding an arbitrary Opus frame
// channel.
func NewWithChannel(send chan<- []byte, logger pipeline.Logger) (*Sink, error) {
	if send == nil {
		return nil, errors.New("send channel must not be nil")
	}
	if logger == nil {
		logger = pipeline.NullLogger()
	}

	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, errors.Wrap(err, "creating opus encoder")
	}
	encoder.SetBitrate(bitrate)

	return &Sink{
		send:    send,
		encoder: encoder,
		logger:  logger.With(pipeline.String("component", "discord-sink")),
	}, nil
}

// ConsumeBuffer implements pipeline.BufferConsumer. Buffers accumulate
// until a full 20 ms frame is available; the remainder carries over to
// the next call.
func (s *Sink) ConsumeBuffer(buf *engine.Buffer, pipelineID string) {
	if buf == nil || len(buf.Data) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if buf.SampleRate != 0 && buf.SampleRate != sampleRate {
		if !s.badRate {
			s.badRate = true
			s.logger.Warn("Dropping buffers at unsupported sample rate",
				pipeline.Int("sample_rate", buf.SampleRate),
				pipeline.String("pipeline_id", pipelineID),
			)
		}
		return
	}

	s.pcm = append(s.pcm, bytesToInt16(buf.Data)...)
	for len(s.pcm) >= frameLength {
		frame := s.pcm[:frameLength]
		s.pcm = s.pcm[frameLength:]
		s.encodeAndSendLocked(frame)
	}
}

// Flush pads any buffered remainder with silence and sends it as a
// final frame. Call at end of stream.
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pcm) == 0 {
		return
	}
	frame := make([]int16, frameLength)
	copy(frame, s.pcm)
	s.pcm = s.pcm[:0]
	s.encodeAndSendLocked(frame)
}

func (s *Sink) encodeAndSendLocked(frame []int16) {
	opusData, err := s.encoder.Encode(frame, frameSamples, frameLength*2)
	if err != nil {
		s.logger.Error("Opus encoding failed", pipeline.Error(err))
		return
	}

	select {
	case s.send <- opusData:
		s.frames++
	case <-time.After(sendTimeout):
		// A stalled voice connection must not back up into the engine.
		s.dropped++
	}
}

// Frames returns how many Opus frames were sent.
func (s *Sink) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Dropped returns how many frames were discarded on a stalled
// connection.
func (s *Sink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func bytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

var _ pipeline.BufferConsumer = (*Sink)(nil)
