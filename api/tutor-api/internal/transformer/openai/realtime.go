// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

package internal_transformer_openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	internal_audio "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/audio"
	internal_transformer "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/transformer"
	internal_type "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/type"
	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
	"github.com/speaklab-ai/voice-gateway/pkg/utils"
)

// =============================================================================
// Wire frames (realtime protocol)
// =============================================================================

type sessionPayload struct {
	Modalities        []string    `json:"modalities"`
	InputAudioFormat  string      `json:"input_audio_format"`
	OutputAudioFormat string      `json:"output_audio_format"`
	Instructions      string      `json:"instructions"`
	Temperature       float64     `json:"temperature"`
	TurnDetection     interface{} `json:"turn_detection"`
}

type responsePayload struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions"`
}

type realtimeRequest struct {
	Type     string           `json:"type"`
	Session  *sessionPayload  `json:"session,omitempty"`
	Audio    string           `json:"audio,omitempty"`
	Response *responsePayload `json:"response,omitempty"`
}

type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type realtimeEvent struct {
	Type  string          `json:"type"`
	Delta json.RawMessage `json:"delta,omitempty"`
	Text  string          `json:"text,omitempty"`
	Error *wireError      `json:"error,omitempty"`
}

const (
	sessionReadyTimeout = 5 * time.Second
	appendErrorWindow   = 100 * time.Millisecond
	handshakeTimeout    = 10 * time.Second

	responseCreateInstructions = "Respond naturally and conversationally."
)

// upstreamErrorCodes maps the realtime endpoint's error codes onto the
// gateway taxonomy. Matching is exact; unknown codes become upstream_rejected.
var upstreamErrorCodes = map[string]internal_type.ErrorCode{
	"input_audio_buffer_commit_empty":          internal_type.ErrCodeInsufficientAudio,
	"input_audio_buffer_empty":                 internal_type.ErrCodeBufferEmpty,
	"conversation_already_has_active_response": internal_type.ErrCodeResponseInProgress,
}

type openAIRealtime struct {
	*openAIOption
	logger    commons.Logger
	callbacks internal_transformer.SpeechModelCallbacks

	writeMu    sync.Mutex
	connection *websocket.Conn

	ready     chan struct{}
	readyOnce sync.Once

	stateMu      sync.Mutex
	state        internal_type.ResponseState
	pendingBytes int

	// appendErr catches upstream rejections of the most recent audio append.
	appendErr chan *wireError

	closing atomic.Bool
}

// NewOpenAIRealtime builds a realtime speech model transformer. The socket is
// not opened until Connect.
func NewOpenAIRealtime(
	logger commons.Logger,
	cfg *config.RealtimeConfig,
	opts utils.Option,
	callbacks internal_transformer.SpeechModelCallbacks,
) (internal_transformer.SpeechModelTransformer, error) {
	option, err := NewOpenAIOption(logger, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &openAIRealtime{
		openAIOption: option,
		logger:       logger,
		callbacks:    callbacks,
		ready:        make(chan struct{}),
		appendErr:    make(chan *wireError, 4),
	}, nil
}

// Name implements internal_transformer.SpeechModelTransformer.
func (*openAIRealtime) Name() string {
	return "openai-realtime"
}

func (rt *openAIRealtime) InputSampleRate() int {
	return OPENAI_INPUT_RATE
}

func (rt *openAIRealtime) ResponseState() internal_type.ResponseState {
	rt.stateMu.Lock()
	defer rt.stateMu.Unlock()
	return rt.state
}

func (rt *openAIRealtime) PendingAudioBytes() int {
	rt.stateMu.Lock()
	defer rt.stateMu.Unlock()
	return rt.pendingBytes
}

// Connect implements internal_transformer.SpeechModelTransformer. Commits stay
// client-driven: server-side voice activity detection is disabled by sending a
// null turn_detection.
func (rt *openAIRealtime) Connect(ctx context.Context, instructions string) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, rt.GetConnectionString(), rt.GetHeaders())
	if err != nil {
		return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamConnect, "unable to reach realtime endpoint", err)
	}
	rt.connection = conn

	if err := rt.send(rt.sessionRequest(instructions)); err != nil {
		conn.Close()
		return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamConnect, "session configuration failed", err)
	}

	utils.Go(ctx, func() { rt.modelListener() })
	return nil
}

// UpdateInstructions implements internal_transformer.SpeechModelTransformer.
func (rt *openAIRealtime) UpdateInstructions(ctx context.Context, instructions string) error {
	return rt.send(rt.sessionRequest(instructions))
}

func (rt *openAIRealtime) sessionRequest(instructions string) realtimeRequest {
	return realtimeRequest{
		Type: "session.update",
		Session: &sessionPayload{
			Modalities:        []string{"audio", "text"},
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			Instructions:      instructions,
			Temperature:       rt.temperature,
			TurnDetection:     nil,
		},
	}
}

// SendAudio implements internal_transformer.SpeechModelTransformer. It blocks
// until the session is ready (bounded at 5s), then reserves a short window for
// the upstream to reject the append before counting the bytes as landed.
func (rt *openAIRealtime) SendAudio(ctx context.Context, pcm []byte) error {
	if err := rt.waitReady(ctx); err != nil {
		return err
	}

	// stale rejections belong to a previous append
	for {
		select {
		case <-rt.appendErr:
			continue
		default:
		}
		break
	}

	if err := rt.send(realtimeRequest{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}); err != nil {
		return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamClosed, "audio append failed", err)
	}

	timer := time.NewTimer(appendErrorWindow)
	defer timer.Stop()
	select {
	case werr := <-rt.appendErr:
		return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamRejected, werr.Message, nil)
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	rt.stateMu.Lock()
	rt.pendingBytes += len(pcm)
	rt.stateMu.Unlock()
	return nil
}

// CommitAndRespond implements internal_transformer.SpeechModelTransformer.
func (rt *openAIRealtime) CommitAndRespond(ctx context.Context) error {
	rt.stateMu.Lock()
	if rt.state == internal_type.ResponseInFlight {
		rt.stateMu.Unlock()
		return internal_type.NewGatewayError(internal_type.ErrCodeResponseInProgress, "a response is already being generated", nil)
	}
	if rt.pendingBytes < internal_audio.MinCommitBytes(OPENAI_INPUT_RATE) {
		pending := rt.pendingBytes
		// the rejected audio is not kept, the client re-records from silence
		rt.pendingBytes = 0
		rt.stateMu.Unlock()
		return internal_type.NewGatewayError(internal_type.ErrCodeInsufficientAudio,
			fmt.Sprintf("need at least %dms of audio, have %d bytes", internal_audio.MinCommitWindow.Milliseconds(), pending), nil)
	}
	rt.state = internal_type.ResponseInFlight
	rt.pendingBytes = 0
	rt.stateMu.Unlock()

	if err := rt.send(realtimeRequest{Type: "input_audio_buffer.commit"}); err != nil {
		rt.setIdle()
		return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamClosed, "commit failed", err)
	}
	if err := rt.send(realtimeRequest{
		Type: "response.create",
		Response: &responsePayload{
			Modalities:   []string{"text"},
			Instructions: responseCreateInstructions,
		},
	}); err != nil {
		rt.setIdle()
		return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamClosed, "response create failed", err)
	}
	return nil
}

// Close implements internal_transformer.SpeechModelTransformer.
func (rt *openAIRealtime) Close(ctx context.Context) error {
	rt.closing.Store(true)
	if rt.connection != nil {
		return rt.connection.Close()
	}
	return nil
}

func (rt *openAIRealtime) waitReady(ctx context.Context) error {
	timer := time.NewTimer(sessionReadyTimeout)
	defer timer.Stop()
	select {
	case <-rt.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return internal_type.NewGatewayError(internal_type.ErrCodeNotInitialized, "realtime session never became ready", nil)
	}
}

func (rt *openAIRealtime) signalReady() {
	rt.readyOnce.Do(func() { close(rt.ready) })
}

func (rt *openAIRealtime) setIdle() {
	rt.stateMu.Lock()
	rt.state = internal_type.ResponseIdle
	rt.stateMu.Unlock()
}

func (rt *openAIRealtime) send(frame realtimeRequest) error {
	rt.writeMu.Lock()
	defer rt.writeMu.Unlock()
	if rt.connection == nil {
		return fmt.Errorf("openai-realtime: connection is nil")
	}
	return rt.connection.WriteJSON(frame)
}

// modelListener drains realtime events until the socket dies.
func (rt *openAIRealtime) modelListener() {
	for {
		_, payload, err := rt.connection.ReadMessage()
		if err != nil {
			if rt.closing.Load() {
				return
			}
			rt.logger.Errorf("openai-realtime: read error: %v", err)
			if rt.callbacks.OnClosed != nil {
				rt.callbacks.OnClosed(err)
			}
			return
		}

		var event realtimeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			rt.logger.Errorf("openai-realtime: malformed event: %v", err)
			continue
		}
		rt.dispatch(&event)
	}
}

func (rt *openAIRealtime) dispatch(event *realtimeEvent) {
	switch event.Type {
	case "session.created":
		rt.signalReady()
		if rt.callbacks.OnSessionCreated != nil {
			rt.callbacks.OnSessionCreated()
		}
	case "session.updated":
		rt.signalReady()
		if rt.callbacks.OnSessionUpdated != nil {
			rt.callbacks.OnSessionUpdated()
		}
	case "input_audio_buffer.speech_started":
		if rt.callbacks.OnSpeechStarted != nil {
			rt.callbacks.OnSpeechStarted()
		}
	case "input_audio_buffer.speech_stopped":
		if rt.callbacks.OnSpeechStopped != nil {
			rt.callbacks.OnSpeechStopped()
		}
	case "response.text.delta", "response.audio_transcript.delta":
		if delta := normalizeDelta(event.Delta); delta != "" && rt.callbacks.OnTextDelta != nil {
			rt.callbacks.OnTextDelta(delta)
		}
	case "response.text.done", "response.audio_transcript.done":
		if rt.callbacks.OnTextDone != nil {
			rt.callbacks.OnTextDone(event.Text, event.Text != "")
		}
	case "response.done":
		rt.setIdle()
		if rt.callbacks.OnResponseDone != nil {
			rt.callbacks.OnResponseDone()
		}
	case "error":
		rt.handleUpstreamError(event.Error)
	}
}

// handleUpstreamError owns the recovery rules: buffer errors zero the
// mirrored counter, an active-response rejection pins the lifecycle to
// in_flight until the upstream reports response.done.
func (rt *openAIRealtime) handleUpstreamError(werr *wireError) {
	if werr == nil {
		return
	}
	rt.logger.Warnf("openai-realtime: upstream error %s: %s", werr.Code, werr.Message)

	code, known := upstreamErrorCodes[werr.Code]
	if !known {
		code = internal_type.ErrCodeUpstreamRejected
	}

	rt.stateMu.Lock()
	switch code {
	case internal_type.ErrCodeInsufficientAudio, internal_type.ErrCodeBufferEmpty:
		rt.pendingBytes = 0
	case internal_type.ErrCodeResponseInProgress:
		rt.state = internal_type.ResponseInFlight
	}
	rt.stateMu.Unlock()

	select {
	case rt.appendErr <- werr:
	default:
	}

	if rt.callbacks.OnError != nil {
		rt.callbacks.OnError(code, werr.Message)
	}
}

// normalizeDelta flattens the delta payload shapes the endpoint has been seen
// to emit: a bare string, an object carrying text/content, or a list of
// segments of either shape.
func normalizeDelta(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Text != "" || obj.Content != "") {
		if obj.Text != "" {
			return obj.Text
		}
		return obj.Content
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		out := ""
		for _, item := range list {
			out += normalizeDelta(item)
		}
		return out
	}

	return ""
}
