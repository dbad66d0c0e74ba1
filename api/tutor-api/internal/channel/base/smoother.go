// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

// Package channel_base carries the shared output-channel plumbing: pacing of
// synthesized audio toward the client to minimize audible gaps on a mobile
// player.
package channel_base

import (
	"bytes"
	"sync"
	"time"

	internal_audio "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/audio"
	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
)

const (
	DefaultMinFlush = 100 * time.Millisecond
	DefaultMaxWait  = 100 * time.Millisecond
	DefaultHardCap  = 500 * time.Millisecond
)

// FlushSink receives one complete WAV frame per flush.
type FlushSink func(wav []byte) error

// Smoother buffers raw PCM chunks and flushes them as self-contained WAV
// frames. Flush decisions happen under the mutex; the WAV wrap and the sink
// call happen after it is released.
type Smoother struct {
	logger     commons.Logger
	sampleRate int
	sink       FlushSink
	clock      func() time.Time

	minFlushBytes int
	hardCapBytes  int
	maxWait       time.Duration

	mu        sync.Mutex
	buffer    bytes.Buffer
	lastFlush time.Time
}

type SmootherOption func(*Smoother)

// WithThresholds applies the configured smoothing windows.
func WithThresholds(cfg *config.SmootherConfig) SmootherOption {
	return func(s *Smoother) {
		if cfg == nil {
			return
		}
		if cfg.MinFlushMs > 0 {
			s.minFlushBytes = internal_audio.DurationBytes(time.Duration(cfg.MinFlushMs)*time.Millisecond, s.sampleRate)
		}
		if cfg.MaxWaitMs > 0 {
			s.maxWait = time.Duration(cfg.MaxWaitMs) * time.Millisecond
		}
		if cfg.HardCapMs > 0 {
			s.hardCapBytes = internal_audio.DurationBytes(time.Duration(cfg.HardCapMs)*time.Millisecond, s.sampleRate)
		}
	}
}

// WithClock swaps the time source.
func WithClock(clock func() time.Time) SmootherOption {
	return func(s *Smoother) { s.clock = clock }
}

// NewSmoother builds a smoother for PCM16 mono audio at the given rate.
func NewSmoother(logger commons.Logger, sampleRate int, sink FlushSink, opts ...SmootherOption) *Smoother {
	s := &Smoother{
		logger:     logger,
		sampleRate: sampleRate,
		sink:       sink,
		clock:      time.Now,
		maxWait:    DefaultMaxWait,
	}
	s.minFlushBytes = internal_audio.DurationBytes(DefaultMinFlush, sampleRate)
	s.hardCapBytes = internal_audio.DurationBytes(DefaultHardCap, sampleRate)
	for _, opt := range opts {
		opt(s)
	}
	s.lastFlush = s.clock()
	return s
}

// Push appends a PCM chunk and flushes when a threshold is crossed: enough
// buffered audio, too long since the last flush, or the hard cap on buffered
// latency.
func (s *Smoother) Push(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	s.mu.Lock()
	var capped []byte
	if s.buffer.Len()+len(pcm) > s.hardCapBytes && s.buffer.Len() > 0 {
		capped = s.takeLocked()
	}
	s.buffer.Write(pcm)

	now := s.clock()
	var due []byte
	if s.buffer.Len() >= s.minFlushBytes || (now.Sub(s.lastFlush) >= s.maxWait && s.buffer.Len() > 0) {
		due = s.takeLocked()
	}
	s.mu.Unlock()

	if err := s.deliver(capped); err != nil {
		return err
	}
	return s.deliver(due)
}

// Tick applies the time-based flush rule. Callers run it on a short ticker so
// a trailing sub-threshold chunk never sits in the buffer.
func (s *Smoother) Tick() error {
	s.mu.Lock()
	var due []byte
	if s.buffer.Len() > 0 && s.clock().Sub(s.lastFlush) >= s.maxWait {
		due = s.takeLocked()
	}
	s.mu.Unlock()
	return s.deliver(due)
}

// ForceFlush drains whatever is buffered, used at response boundaries and on
// session end so audio from different responses never mixes.
func (s *Smoother) ForceFlush() error {
	s.mu.Lock()
	due := s.takeLocked()
	s.mu.Unlock()
	return s.deliver(due)
}

// Reset discards buffered audio without sending it.
func (s *Smoother) Reset() {
	s.mu.Lock()
	s.buffer.Reset()
	s.lastFlush = s.clock()
	s.mu.Unlock()
}

// MaxWait returns the time-based flush window.
func (s *Smoother) MaxWait() time.Duration {
	return s.maxWait
}

// Buffered returns the pending PCM byte count.
func (s *Smoother) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Len()
}

func (s *Smoother) takeLocked() []byte {
	if s.buffer.Len() == 0 {
		return nil
	}
	out := make([]byte, s.buffer.Len())
	copy(out, s.buffer.Bytes())
	s.buffer.Reset()
	s.lastFlush = s.clock()
	return out
}

func (s *Smoother) deliver(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	wav := internal_audio.PCMToWAV(pcm, s.sampleRate)
	if err := s.sink(wav); err != nil {
		s.logger.Warnf("smoother: flush dropped: %v", err)
		return err
	}
	return nil
}
