// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.
package internal_adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_audio "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/audio"
	internal_enforcer "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/enforcer"
	internal_transformer "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/transformer"
	internal_type "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/type"
	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
)

func newTestLogger() commons.Logger {
	l, _ := commons.NewApplicationLogger()
	return l
}

// =============================================================================
// Fakes
// =============================================================================

type clientMessage struct {
	messageType int
	payload     []byte
}

// fakeClient feeds scripted inbound messages and records everything the
// bridge writes back.
type fakeClient struct {
	in chan clientMessage

	mu       sync.Mutex
	frames   []internal_type.ClientFrame
	binaries [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		in:     make(chan clientMessage, 32),
		closed: make(chan struct{}),
	}
}

func (c *fakeClient) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.in:
		return msg.messageType, msg.payload, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeClient) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch messageType {
	case websocket.TextMessage:
		var frame internal_type.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return err
		}
		c.frames = append(c.frames, frame)
	case websocket.BinaryMessage:
		payload := make([]byte, len(data))
		copy(payload, data)
		c.binaries = append(c.binaries, payload)
	}
	return nil
}

func (c *fakeClient) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeClient) sendText(t *testing.T, frame internal_type.ClientFrame) {
	payload, err := json.Marshal(frame)
	require.NoError(t, err)
	c.in <- clientMessage{websocket.TextMessage, payload}
}

func (c *fakeClient) sendBinary(blob []byte) {
	c.in <- clientMessage{websocket.BinaryMessage, blob}
}

func (c *fakeClient) snapshotFrames() []internal_type.ClientFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]internal_type.ClientFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeClient) binaryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.binaries)
}

func (c *fakeClient) countType(frameType internal_type.ClientFrameType) int {
	n := 0
	for _, frame := range c.snapshotFrames() {
		if frame.Type == frameType {
			n++
		}
	}
	return n
}

// waitFor polls until the predicate holds or the deadline passes.
func waitFor(t *testing.T, what string, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeModel satisfies the speech model contract with local state; tests drive
// its callbacks directly to simulate upstream traffic.
type fakeModel struct {
	callbacks internal_transformer.SpeechModelCallbacks

	mu           sync.Mutex
	instructions []string
	connectCount int
	commitCount  int
	inFlight     bool
	pending      int
	closed       bool
	// when set, the commit delivers this delta before returning, the way a
	// fast upstream can race its first delta ahead of the acknowledgement
	deltaOnCommit string
}

func (m *fakeModel) Name() string         { return "fake-model" }
func (m *fakeModel) InputSampleRate() int { return internal_audio.OpenAIInputRate }

func (m *fakeModel) Connect(ctx context.Context, instructions string) error {
	m.mu.Lock()
	m.connectCount++
	m.instructions = append(m.instructions, instructions)
	m.mu.Unlock()
	// session becomes ready immediately
	if m.callbacks.OnSessionCreated != nil {
		m.callbacks.OnSessionCreated()
	}
	if m.callbacks.OnSessionUpdated != nil {
		m.callbacks.OnSessionUpdated()
	}
	return nil
}

func (m *fakeModel) UpdateInstructions(ctx context.Context, instructions string) error {
	m.mu.Lock()
	m.instructions = append(m.instructions, instructions)
	m.mu.Unlock()
	return nil
}

func (m *fakeModel) SendAudio(ctx context.Context, pcm []byte) error {
	m.mu.Lock()
	m.pending += len(pcm)
	m.mu.Unlock()
	return nil
}

func (m *fakeModel) CommitAndRespond(ctx context.Context) error {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return internal_type.NewGatewayError(internal_type.ErrCodeResponseInProgress, "a response is already being generated", nil)
	}
	if m.pending < internal_audio.MinCommitBytes(internal_audio.OpenAIInputRate) {
		m.pending = 0
		m.mu.Unlock()
		return internal_type.NewGatewayError(internal_type.ErrCodeInsufficientAudio, "not enough audio", nil)
	}
	m.inFlight = true
	m.pending = 0
	m.commitCount++
	delta := m.deltaOnCommit
	m.mu.Unlock()

	if delta != "" && m.callbacks.OnTextDelta != nil {
		m.callbacks.OnTextDelta(delta)
	}
	return nil
}

func (m *fakeModel) ResponseState() internal_type.ResponseState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight {
		return internal_type.ResponseInFlight
	}
	return internal_type.ResponseIdle
}

func (m *fakeModel) PendingAudioBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

func (m *fakeModel) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// streamResponse plays a full upstream response through the callbacks.
func (m *fakeModel) streamResponse(deltas []string, fullText string) {
	for _, delta := range deltas {
		m.callbacks.OnTextDelta(delta)
	}
	m.callbacks.OnTextDone(fullText, fullText != "")
	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()
	m.callbacks.OnResponseDone()
}

// fakeSpeaker emits a fixed PCM chunk per pushed text segment.
type fakeSpeaker struct {
	callbacks internal_transformer.TextToSpeechCallbacks

	chunk []byte
	// fail after this many segments, 0 means never
	failAfter int

	mu        sync.Mutex
	texts     []string
	state     internal_type.TTSState
	finalized int
	aborted   int
}

func (s *fakeSpeaker) Name() string          { return "fake-speaker" }
func (s *fakeSpeaker) OutputSampleRate() int { return internal_audio.SpeakerRate }

func (s *fakeSpeaker) State() internal_type.TTSState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSpeaker) Start(ctx context.Context) error {
	s.mu.Lock()
	s.state = internal_type.TTSOpen
	s.mu.Unlock()
	return nil
}

func (s *fakeSpeaker) SendText(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.state != internal_type.TTSOpen {
		s.mu.Unlock()
		return fmt.Errorf("fake-speaker: send in state %s", s.state)
	}
	s.texts = append(s.texts, text)
	count := len(s.texts)
	fail := s.failAfter > 0 && count == s.failAfter
	if fail {
		s.state = internal_type.TTSClosed
	}
	s.mu.Unlock()

	if fail {
		if s.callbacks.OnClosed != nil {
			s.callbacks.OnClosed(errors.New("fake-speaker: stream died"))
		}
		return nil
	}
	if s.callbacks.OnSpeech != nil {
		s.callbacks.OnSpeech(s.chunk)
	}
	return nil
}

func (s *fakeSpeaker) Finalize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != internal_type.TTSOpen {
		s.mu.Unlock()
		return nil
	}
	s.state = internal_type.TTSClosed
	s.finalized++
	s.mu.Unlock()
	if s.callbacks.OnClosed != nil {
		s.callbacks.OnClosed(nil)
	}
	return nil
}

func (s *fakeSpeaker) Abort() error {
	s.mu.Lock()
	s.state = internal_type.TTSClosed
	s.aborted++
	s.mu.Unlock()
	return nil
}

func (s *fakeSpeaker) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	client   *fakeClient
	model    *fakeModel
	speakers []*fakeSpeaker
	bridge   *Bridge
	done     chan struct{}

	mu          sync.Mutex
	speakerFail int
}

func newHarness(t *testing.T, enforcerURL string) *harness {
	h := &harness{
		client: newFakeClient(),
		model:  &fakeModel{},
		done:   make(chan struct{}),
	}

	logger := newTestLogger()
	codec := internal_audio.NewCodec(logger, internal_audio.OpenAIInputRate)
	enforcer := internal_enforcer.NewEnforcer(logger, &config.EnforcerConfig{
		Url:    enforcerURL,
		Model:  "gpt-4o-mini",
		ApiKey: "test-api-key",
	})
	smootherCfg := &config.SmootherConfig{MinFlushMs: 100, MaxWaitMs: 100, HardCapMs: 500}

	newModel := func(callbacks internal_transformer.SpeechModelCallbacks) (internal_transformer.SpeechModelTransformer, error) {
		h.model.callbacks = callbacks
		return h.model, nil
	}
	newSpeaker := func(callbacks internal_transformer.TextToSpeechCallbacks) (internal_transformer.TextToSpeechTransformer, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		speaker := &fakeSpeaker{
			callbacks: callbacks,
			chunk:     make([]byte, internal_audio.MinCommitBytes(internal_audio.SpeakerRate)),
			failAfter: h.speakerFail,
		}
		h.speakers = append(h.speakers, speaker)
		return speaker, nil
	}

	h.bridge = NewBridge(logger, codec, enforcer, smootherCfg, newModel, newSpeaker)

	go func() {
		defer close(h.done)
		h.bridge.Serve(context.Background(), h.client)
	}()
	t.Cleanup(func() {
		h.client.Close()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("bridge serve loop never exited")
		}
	})

	waitFor(t, "connected frame", func() bool {
		return h.client.countType(internal_type.FrameConnected) == 1
	})
	return h
}

func (h *harness) greet(t *testing.T, name, mode string) {
	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FrameGreeting, UserName: name, Mode: mode})
	waitFor(t, "greeting cycle", func() bool {
		return h.client.countType(internal_type.FrameGreetingDone) >= 1 &&
			h.client.countType(internal_type.FrameResponseDone) >= 1
	})
}

func (h *harness) speaker(i int) *fakeSpeaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.speakers[i]
}

func (h *harness) speakerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.speakers)
}

func audioBlob(d time.Duration) []byte {
	return make([]byte, internal_audio.DurationBytes(d, internal_audio.OpenAIInputRate))
}

// =============================================================================
// Scenarios
// =============================================================================

func TestServe_GreetingHappyPath(t *testing.T) {
	h := newHarness(t, "")
	h.greet(t, "Ali", "general")

	frames := h.client.snapshotFrames()
	require.GreaterOrEqual(t, len(frames), 3)
	assert.Equal(t, internal_type.FrameConnected, frames[0].Type)
	assert.Equal(t, internal_type.FrameGreetingDone, frames[1].Type)
	assert.Equal(t, "Hi Ali, I'm your AI English tutor. How can I help you today?", frames[1].Text)
	assert.Equal(t, internal_type.FrameResponseDone, frames[len(frames)-1].Type)

	assert.GreaterOrEqual(t, h.client.binaryCount(), 1, "the greeting is spoken")
	assert.Equal(t, "RIFF", string(h.client.binaries[0][0:4]))

	// greeting went through a short-lived speech stream as one turn
	require.Equal(t, 1, h.speakerCount())
	speaker := h.speaker(0)
	assert.Equal(t, []string{"Hi Ali, I'm your AI English tutor. How can I help you today? "}, speaker.sentTexts())
	assert.Equal(t, 1, speaker.finalized)
}

func TestServe_AudioBeforeGreeting(t *testing.T) {
	h := newHarness(t, "")

	h.client.sendBinary(audioBlob(200 * time.Millisecond))
	waitFor(t, "not_initialized error", func() bool {
		for _, frame := range h.client.snapshotFrames() {
			if frame.Type == internal_type.FrameError && frame.Code == string(internal_type.ErrCodeNotInitialized) {
				return true
			}
		}
		return false
	})
	assert.Equal(t, 0, h.model.PendingAudioBytes(), "dropped audio never reaches the model")
}

func TestServe_FullUtterance(t *testing.T) {
	h := newHarness(t, "")
	h.greet(t, "Ali", "general")

	h.client.sendBinary(audioBlob(1200 * time.Millisecond))
	waitFor(t, "audio forwarded", func() bool { return h.model.PendingAudioBytes() > 0 })

	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FrameAudioCommit})
	waitFor(t, "commit", func() bool {
		h.model.mu.Lock()
		defer h.model.mu.Unlock()
		return h.model.commitCount == 1
	})

	h.model.streamResponse(
		[]string{"That's a great sentence! ", "Can you tell me more about your weekend plans today?"},
		"That's a great sentence! Can you tell me more about your weekend plans today?",
	)

	waitFor(t, "response cycle", func() bool {
		return h.client.countType(internal_type.FrameResponseDone) == 2
	})

	frames := h.client.snapshotFrames()
	var deltas []string
	var doneText string
	for _, frame := range frames {
		switch frame.Type {
		case internal_type.FrameTranscriptDelta:
			deltas = append(deltas, frame.Text)
		case internal_type.FrameTranscriptDone:
			doneText = frame.Text
		}
	}
	require.GreaterOrEqual(t, len(deltas), 1)
	assert.Equal(t, "That's a great sentence! ", deltas[0], "delta frames carry the cumulative transcript")
	assert.Equal(t, "That's a great sentence! Can you tell me more about your weekend plans today?", deltas[len(deltas)-1])
	assert.Equal(t, "That's a great sentence! Can you tell me more about your weekend plans today?", doneText)
	assert.Equal(t, 1, h.client.countType(internal_type.FrameTranscriptDone))

	// response_done is the last frame of the session so far
	assert.Equal(t, internal_type.FrameResponseDone, frames[len(frames)-1].Type)
}

func TestServe_CommitWithTooLittleAudio(t *testing.T) {
	h := newHarness(t, "")
	h.greet(t, "Ali", "general")

	h.client.sendBinary(audioBlob(50 * time.Millisecond))
	waitFor(t, "audio forwarded", func() bool { return h.model.PendingAudioBytes() > 0 })

	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FrameAudioCommit})
	waitFor(t, "insufficient_audio error", func() bool {
		for _, frame := range h.client.snapshotFrames() {
			if frame.Type == internal_type.FrameError && frame.Code == string(internal_type.ErrCodeInsufficientAudio) {
				return true
			}
		}
		return false
	})
	h.model.mu.Lock()
	defer h.model.mu.Unlock()
	assert.Equal(t, 0, h.model.commitCount, "no response may be created")
	assert.Equal(t, 0, h.model.pending, "the rejected audio is not retained")
}

func TestServe_DeltaRacingCommit(t *testing.T) {
	h := newHarness(t, "")
	h.greet(t, "Ali", "general")

	h.model.mu.Lock()
	h.model.deltaOnCommit = "That's "
	h.model.mu.Unlock()

	h.client.sendBinary(audioBlob(500 * time.Millisecond))
	waitFor(t, "audio forwarded", func() bool { return h.model.PendingAudioBytes() > 0 })
	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FrameAudioCommit})
	waitFor(t, "commit", func() bool {
		h.model.mu.Lock()
		defer h.model.mu.Unlock()
		return h.model.commitCount == 1
	})

	h.model.streamResponse(
		[]string{"a wonderful answer, and a very encouraging sign of real progress!"},
		"That's a wonderful answer, and a very encouraging sign of real progress!",
	)
	waitFor(t, "response cycle", func() bool {
		return h.client.countType(internal_type.FrameResponseDone) == 2
	})

	// a delta delivered before the commit call returned is part of the
	// response, it must survive into the cumulative transcript and the speech
	var deltas []string
	for _, frame := range h.client.snapshotFrames() {
		if frame.Type == internal_type.FrameTranscriptDelta {
			deltas = append(deltas, frame.Text)
		}
	}
	require.GreaterOrEqual(t, len(deltas), 2)
	assert.Equal(t, "That's ", deltas[0])
	assert.Equal(t, "That's a wonderful answer, and a very encouraging sign of real progress!", deltas[len(deltas)-1])

	require.Equal(t, 2, h.speakerCount())
	spoken := strings.Join(h.speaker(1).sentTexts(), "")
	assert.Contains(t, spoken, "That's a wonderful answer")
}

func TestServe_DoubleCommit(t *testing.T) {
	h := newHarness(t, "")
	h.greet(t, "Ali", "general")

	h.client.sendBinary(audioBlob(500 * time.Millisecond))
	waitFor(t, "audio forwarded", func() bool { return h.model.PendingAudioBytes() > 0 })

	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FrameAudioCommit})
	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FrameAudioCommit})

	waitFor(t, "response_in_progress error", func() bool {
		for _, frame := range h.client.snapshotFrames() {
			if frame.Type == internal_type.FrameError && frame.Code == string(internal_type.ErrCodeResponseInProgress) {
				return true
			}
		}
		return false
	})

	h.model.streamResponse([]string{"ok"}, "ok")
	waitFor(t, "single response cycle", func() bool {
		return h.client.countType(internal_type.FrameResponseDone) == 2
	})

	h.model.mu.Lock()
	commits := h.model.commitCount
	h.model.mu.Unlock()
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, h.client.countType(internal_type.FrameTranscriptDone))
}

func TestServe_TrailingAudioFlushedByTimer(t *testing.T) {
	h := newHarness(t, "")
	h.greet(t, "Ali", "general")

	h.client.sendBinary(audioBlob(500 * time.Millisecond))
	waitFor(t, "audio forwarded", func() bool { return h.model.PendingAudioBytes() > 0 })
	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FrameAudioCommit})
	waitFor(t, "commit", func() bool {
		h.model.mu.Lock()
		defer h.model.mu.Unlock()
		return h.model.commitCount == 1
	})

	// first segment: a full-size chunk flushes straight through
	base := h.client.binaryCount()
	h.model.callbacks.OnTextDelta("This first sentence is comfortably long enough to reach the speaker!")
	waitFor(t, "first flush", func() bool { return h.client.binaryCount() > base })

	// second segment: a chunk well under the size threshold, pushed right
	// after the previous flush
	speaker := h.speaker(1)
	speaker.mu.Lock()
	speaker.chunk = make([]byte, 256)
	speaker.mu.Unlock()

	before := h.client.binaryCount()
	h.model.callbacks.OnTextDelta("And this second sentence is also long enough to reach the speaker!")

	// nothing else arrives: the pacing timer alone must drain the buffer
	waitFor(t, "timer flush of the trailing chunk", func() bool { return h.client.binaryCount() > before })
	assert.Equal(t, 1, h.client.countType(internal_type.FrameResponseDone), "the response is still open")
}

func TestServe_NonEnglishReply(t *testing.T) {
	// unreachable rewrite endpoint: enforcement falls back to the fixed text
	h := newHarness(t, "http://127.0.0.1:1/v1/chat/completions")
	h.greet(t, "Ali", "general")

	h.client.sendBinary(audioBlob(500 * time.Millisecond))
	waitFor(t, "audio forwarded", func() bool { return h.model.PendingAudioBytes() > 0 })
	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FrameAudioCommit})
	waitFor(t, "commit", func() bool {
		h.model.mu.Lock()
		defer h.model.mu.Unlock()
		return h.model.commitCount == 1
	})

	h.model.streamResponse([]string{"Great! ", "ممتاز جداً ", "keep going"}, "Great! ممتاز جداً keep going")

	waitFor(t, "response cycle", func() bool {
		return h.client.countType(internal_type.FrameResponseDone) == 2
	})

	for _, frame := range h.client.snapshotFrames() {
		if frame.Type == internal_type.FrameTranscriptDelta || frame.Type == internal_type.FrameTranscriptDone {
			assert.False(t, internal_enforcer.ContainsNonEnglishScript(frame.Text),
				"no monitored script may reach the client: %q", frame.Text)
		}
	}

	var doneText string
	for _, frame := range h.client.snapshotFrames() {
		if frame.Type == internal_type.FrameTranscriptDone {
			doneText = frame.Text
		}
	}
	assert.Equal(t, internal_enforcer.FallbackText, doneText)

	// only the enforced English text was spoken for this response
	require.Equal(t, 2, h.speakerCount(), "greeting stream plus one response stream")
	for _, text := range h.speaker(1).sentTexts() {
		assert.False(t, internal_enforcer.ContainsNonEnglishScript(text))
		assert.Contains(t, internal_enforcer.FallbackText, strings.TrimSpace(text))
	}
}

func TestServe_SpeakerOutageMidResponse(t *testing.T) {
	h := newHarness(t, "")
	h.greet(t, "Ali", "general")
	h.mu.Lock()
	h.speakerFail = 2 // second pushed segment kills the stream
	h.mu.Unlock()

	h.client.sendBinary(audioBlob(500 * time.Millisecond))
	waitFor(t, "audio forwarded", func() bool { return h.model.PendingAudioBytes() > 0 })
	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FrameAudioCommit})
	waitFor(t, "commit", func() bool {
		h.model.mu.Lock()
		defer h.model.mu.Unlock()
		return h.model.commitCount == 1
	})

	// two long sentences force two unforced segment flushes
	first := "This is a very long opening sentence that easily crosses the segment threshold for speech."
	second := " And here is another long sentence that will be pushed into the dying speech stream now."
	h.model.streamResponse([]string{first, second}, first+second)

	waitFor(t, "synthesized response_done", func() bool {
		return h.client.countType(internal_type.FrameResponseDone) == 2
	})

	// exactly one response_done for the utterance despite the outage, and the
	// session survives for the next turn
	assert.Equal(t, 2, h.client.countType(internal_type.FrameResponseDone))
	assert.Equal(t, 1, h.client.countType(internal_type.FrameTranscriptDone))

	h.client.sendBinary(audioBlob(500 * time.Millisecond))
	waitFor(t, "audio still flows", func() bool { return h.model.PendingAudioBytes() > 0 })
}

func TestServe_ModeSwitchMidSession(t *testing.T) {
	h := newHarness(t, "")
	h.greet(t, "Ali", "general")

	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FrameGreeting, UserName: "Ali", Mode: "vocabulary_builder"})
	waitFor(t, "mode switch", func() bool {
		h.model.mu.Lock()
		defer h.model.mu.Unlock()
		return len(h.model.instructions) == 2
	})

	h.model.mu.Lock()
	defer h.model.mu.Unlock()
	assert.Equal(t, 1, h.model.connectCount, "no reconnect on mode switch")
	assert.Equal(t, internal_type.ModeVocabularyBuilder.Instructions(), h.model.instructions[1])
}

func TestServe_PingPong(t *testing.T) {
	h := newHarness(t, "")

	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FramePing})
	waitFor(t, "pong", func() bool {
		return h.client.countType(internal_type.FramePong) == 1
	})
}

func TestServe_CloseFrameShutsDown(t *testing.T) {
	h := newHarness(t, "")
	h.greet(t, "Ali", "general")

	h.client.sendText(t, internal_type.ClientFrame{Type: internal_type.FrameClose})
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve loop did not exit on close frame")
	}

	h.model.mu.Lock()
	defer h.model.mu.Unlock()
	assert.True(t, h.model.closed, "the model socket is closed on shutdown")
}
