// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.
package internal_audio

import "time"

const (
	AudioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	AudioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	AudioPCMFormat      = 1  // WAV PCM format tag

	// Upstream input rates. The OpenAI realtime variant consumes 24 kHz PCM,
	// the Gemini variant 16 kHz. The TTS output is always 24 kHz.
	OpenAIInputRate = 24000
	GeminiInputRate = 16000
	SpeakerRate     = 24000

	// MinCommitWindow is the least audio the model accepts per commit.
	MinCommitWindow = 100 * time.Millisecond
)

// BytesPerSecond returns the PCM16 mono byte rate at the given sample rate.
func BytesPerSecond(sampleRate int) int {
	return sampleRate * AudioBytesPerSample
}

// DurationBytes converts a duration of mono PCM16 audio to a sample-aligned
// byte count at the given rate.
func DurationBytes(d time.Duration, sampleRate int) int {
	raw := int(d.Seconds() * float64(BytesPerSecond(sampleRate)))
	return (raw / AudioBytesPerSample) * AudioBytesPerSample
}

// MinCommitBytes is the minimum-audio threshold for a commit at the given
// rate: 3200 bytes at 16 kHz, 4800 bytes at 24 kHz.
func MinCommitBytes(sampleRate int) int {
	return DurationBytes(MinCommitWindow, sampleRate)
}
