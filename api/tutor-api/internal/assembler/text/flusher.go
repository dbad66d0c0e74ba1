// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

// Package internal_sentence_assembler turns a streaming text channel into
// speech-friendly segments.
package internal_sentence_assembler

import (
	"strings"
	"sync"
)

const (
	// MinSegmentLength is the least buffered text an unforced flush requires.
	MinSegmentLength = 60
)

// terminal punctuation that ends a speakable segment
const terminators = ".!?"

// SegmentFlusher accumulates text deltas and cuts them into segments on
// sentence boundaries. Safe for concurrent use.
type SegmentFlusher struct {
	mu     sync.Mutex
	buffer strings.Builder
}

func NewSegmentFlusher() *SegmentFlusher {
	return &SegmentFlusher{}
}

// Append adds a delta to the pending buffer.
func (f *SegmentFlusher) Append(delta string) {
	f.mu.Lock()
	f.buffer.WriteString(delta)
	f.mu.Unlock()
}

// Pending returns the buffered text length.
func (f *SegmentFlusher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffer.Len()
}

// Flush returns the next speakable segment, with a trailing space so the
// speech upstream can word-split across frames, and ok=false when nothing
// should be spoken yet.
//
// Unforced flushes wait for enough text and a sentence terminator, then cut
// through the last terminator and retain the remainder. A forced flush (at
// text_done or response_done) empties the whole buffer.
func (f *SegmentFlusher) Flush(forced bool) (segment string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	text := f.buffer.String()
	if forced {
		f.buffer.Reset()
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return "", false
		}
		return trimmed + " ", true
	}

	if len(text) < MinSegmentLength {
		return "", false
	}
	cut := strings.LastIndexAny(text, terminators)
	if cut < 0 {
		return "", false
	}

	head, rest := text[:cut+1], text[cut+1:]
	f.buffer.Reset()
	f.buffer.WriteString(rest)

	trimmed := strings.TrimSpace(head)
	if trimmed == "" {
		return "", false
	}
	return trimmed + " ", true
}

// Reset discards any buffered text.
func (f *SegmentFlusher) Reset() {
	f.mu.Lock()
	f.buffer.Reset()
	f.mu.Unlock()
}
