// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.
package internal_transformer

import (
	"context"

	internal_type "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/type"
)

// =============================================================================
// Speech model (LLM realtime) transformer
// =============================================================================

// SpeechModelCallbacks are invoked from the model receive loop, in wire
// order. TextDone always follows the last TextDelta of a response and
// ResponseDone always follows TextDone.
type SpeechModelCallbacks struct {
	OnSessionCreated func()
	OnSessionUpdated func()
	OnSpeechStarted  func()
	OnSpeechStopped  func()
	OnTextDelta      func(delta string)
	// OnTextDone delivers the full response text when the upstream provides
	// one; ok is false when only deltas were available.
	OnTextDone     func(fullText string, ok bool)
	OnResponseDone func()
	OnError        func(code internal_type.ErrorCode, message string)
	// OnClosed fires when the upstream socket dies outside Close().
	OnClosed func(err error)
}

// SpeechModelTransformer is one live realtime connection to an LLM upstream.
// Implementations own the response lifecycle flag and the mirrored input
// audio byte counter.
type SpeechModelTransformer interface {
	Name() string

	// Connect opens the socket and pushes the session configuration with the
	// given system instructions. Must be called exactly once.
	Connect(ctx context.Context, instructions string) error

	// UpdateInstructions replaces the system prompt mid-session without
	// reconnecting.
	UpdateInstructions(ctx context.Context, instructions string) error

	// SendAudio appends PCM16 mono audio at InputSampleRate to the model's
	// input buffer. Blocks until the session is ready (bounded) and reserves
	// a short window for the upstream to reject the append.
	SendAudio(ctx context.Context, pcm []byte) error

	// CommitAndRespond commits the input buffer and requests a text-only
	// response. Rejected while a response is in flight or when less than the
	// minimum commit window of audio has been appended.
	CommitAndRespond(ctx context.Context) error

	// ResponseState reports whether a response is currently in flight.
	ResponseState() internal_type.ResponseState

	// PendingAudioBytes is the mirrored count of PCM bytes appended since the
	// last commit.
	PendingAudioBytes() int

	InputSampleRate() int

	Close(ctx context.Context) error
}

// =============================================================================
// Text-to-speech transformer
// =============================================================================

// TextToSpeechCallbacks deliver decoded speech audio and stream terminations.
type TextToSpeechCallbacks struct {
	// OnSpeech receives raw PCM16 mono chunks at OutputSampleRate.
	OnSpeech func(pcm []byte)
	// OnClosed fires exactly once when the receive loop exits; err is nil on
	// a clean drain and non-nil when the stream died early.
	OnClosed func(err error)
}

// TextToSpeechTransformer is one incremental synthesis stream. At most one
// exists per session at a time; a new response opens a fresh stream.
type TextToSpeechTransformer interface {
	Name() string

	// Start opens the socket and sends the voice/generation configuration.
	Start(ctx context.Context) error

	// SendText pushes incremental text. Only legal in the open state. Callers
	// hand in text ending with a space so the upstream can word-split across
	// frames.
	SendText(ctx context.Context, text string) error

	// Finalize sends the end-of-input sentinel, drains remaining audio and
	// closes. Idempotent.
	Finalize(ctx context.Context) error

	// Abort cancels the receive loop and closes immediately, regardless of
	// state.
	Abort() error

	State() internal_type.TTSState

	OutputSampleRate() int
}
