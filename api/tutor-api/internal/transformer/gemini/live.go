// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

package internal_transformer_gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
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
// Wire frames (BidiGenerateContent protocol)
// =============================================================================

type livePart struct {
	Text string `json:"text,omitempty"`
}

type liveContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []livePart `json:"parts"`
}

type liveSetup struct {
	Model               string           `json:"model"`
	GenerationConfig    *liveGenConfig   `json:"generation_config,omitempty"`
	SystemInstruction   *liveContent     `json:"system_instruction,omitempty"`
	RealtimeInputConfig *liveInputConfig `json:"realtime_input_config,omitempty"`
}

type liveGenConfig struct {
	ResponseModalities []string `json:"response_modalities"`
	Temperature        float64  `json:"temperature"`
}

type liveInputConfig struct {
	AutomaticActivityDetection struct {
		Disabled bool `json:"disabled"`
	} `json:"automatic_activity_detection"`
}

type liveMediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type liveRealtimeInput struct {
	MediaChunks   []liveMediaChunk `json:"media_chunks,omitempty"`
	ActivityStart *struct{}        `json:"activity_start,omitempty"`
	ActivityEnd   *struct{}        `json:"activity_end,omitempty"`
}

type liveClientContent struct {
	Turns        []liveContent `json:"turns,omitempty"`
	TurnComplete bool          `json:"turn_complete"`
}

type liveRequest struct {
	Setup         *liveSetup         `json:"setup,omitempty"`
	RealtimeInput *liveRealtimeInput `json:"realtime_input,omitempty"`
	ClientContent *liveClientContent `json:"client_content,omitempty"`
}

// server frames arrive camelCased
type liveServerContent struct {
	ModelTurn    *struct {
		Parts []livePart `json:"parts"`
	} `json:"modelTurn"`
	TurnComplete bool `json:"turnComplete"`
	Interrupted  bool `json:"interrupted"`
}

type liveEvent struct {
	SetupComplete *struct{}          `json:"setupComplete"`
	ServerContent *liveServerContent `json:"serverContent"`
}

const (
	sessionReadyTimeout = 5 * time.Second
	handshakeTimeout    = 10 * time.Second
)

type geminiLive struct {
	*geminiOption
	logger    commons.Logger
	callbacks internal_transformer.SpeechModelCallbacks

	writeMu    sync.Mutex
	connection *websocket.Conn

	ready     chan struct{}
	readyOnce sync.Once

	stateMu      sync.Mutex
	state        internal_type.ResponseState
	pendingBytes int
	activityOpen bool
	turnText     strings.Builder

	closing atomic.Bool
}

// NewGeminiLive builds a live speech model transformer. The socket is not
// opened until Connect.
func NewGeminiLive(
	logger commons.Logger,
	cfg *config.RealtimeConfig,
	opts utils.Option,
	callbacks internal_transformer.SpeechModelCallbacks,
) (internal_transformer.SpeechModelTransformer, error) {
	option, err := NewGeminiOption(logger, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &geminiLive{
		geminiOption: option,
		logger:       logger,
		callbacks:    callbacks,
		ready:        make(chan struct{}),
	}, nil
}

// Name implements internal_transformer.SpeechModelTransformer.
func (*geminiLive) Name() string {
	return "gemini-live"
}

func (gl *geminiLive) InputSampleRate() int {
	return GEMINI_INPUT_RATE
}

func (gl *geminiLive) ResponseState() internal_type.ResponseState {
	gl.stateMu.Lock()
	defer gl.stateMu.Unlock()
	return gl.state
}

func (gl *geminiLive) PendingAudioBytes() int {
	gl.stateMu.Lock()
	defer gl.stateMu.Unlock()
	return gl.pendingBytes
}

// Connect implements internal_transformer.SpeechModelTransformer. Text-only
// output is pinned at setup time and automatic activity detection is disabled
// so turn boundaries stay client-driven.
func (gl *geminiLive) Connect(ctx context.Context, instructions string) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, gl.GetConnectionString(), nil)
	if err != nil {
		return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamConnect, "unable to reach live endpoint", err)
	}
	gl.connection = conn

	setup := &liveSetup{
		Model: gl.GetModelResource(),
		GenerationConfig: &liveGenConfig{
			ResponseModalities: []string{"TEXT"},
			Temperature:        gl.temperature,
		},
		SystemInstruction:   &liveContent{Parts: []livePart{{Text: instructions}}},
		RealtimeInputConfig: &liveInputConfig{},
	}
	setup.RealtimeInputConfig.AutomaticActivityDetection.Disabled = true

	if err := gl.send(liveRequest{Setup: setup}); err != nil {
		conn.Close()
		return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamConnect, "setup frame failed", err)
	}

	utils.Go(ctx, func() { gl.modelListener() })
	return nil
}

// UpdateInstructions implements internal_transformer.SpeechModelTransformer.
// The live API pins the system instruction at setup, so a mid-session mode
// switch is injected as an incomplete user turn that steers the next response.
func (gl *geminiLive) UpdateInstructions(ctx context.Context, instructions string) error {
	return gl.send(liveRequest{
		ClientContent: &liveClientContent{
			Turns: []liveContent{
				{Role: "user", Parts: []livePart{{Text: instructions}}},
			},
			TurnComplete: false,
		},
	})
}

// SendAudio implements internal_transformer.SpeechModelTransformer. The first
// chunk after a commit opens a new activity window.
func (gl *geminiLive) SendAudio(ctx context.Context, pcm []byte) error {
	if err := gl.waitReady(ctx); err != nil {
		return err
	}

	gl.stateMu.Lock()
	openActivity := !gl.activityOpen
	gl.activityOpen = true
	gl.stateMu.Unlock()

	if openActivity {
		if err := gl.send(liveRequest{RealtimeInput: &liveRealtimeInput{ActivityStart: &struct{}{}}}); err != nil {
			return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamClosed, "activity start failed", err)
		}
	}

	if err := gl.send(liveRequest{
		RealtimeInput: &liveRealtimeInput{
			MediaChunks: []liveMediaChunk{{
				MimeType: gl.GetAudioMimeType(),
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}},
		},
	}); err != nil {
		return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamClosed, "audio chunk failed", err)
	}

	gl.stateMu.Lock()
	gl.pendingBytes += len(pcm)
	gl.stateMu.Unlock()
	return nil
}

// CommitAndRespond implements internal_transformer.SpeechModelTransformer.
// Closing the activity window is what triggers the model turn.
func (gl *geminiLive) CommitAndRespond(ctx context.Context) error {
	gl.stateMu.Lock()
	if gl.state == internal_type.ResponseInFlight {
		gl.stateMu.Unlock()
		return internal_type.NewGatewayError(internal_type.ErrCodeResponseInProgress, "a response is already being generated", nil)
	}
	if gl.pendingBytes < internal_audio.MinCommitBytes(GEMINI_INPUT_RATE) {
		pending := gl.pendingBytes
		// the rejected audio is not kept, the client re-records from silence
		gl.pendingBytes = 0
		gl.stateMu.Unlock()
		return internal_type.NewGatewayError(internal_type.ErrCodeInsufficientAudio,
			fmt.Sprintf("need at least %dms of audio, have %d bytes", internal_audio.MinCommitWindow.Milliseconds(), pending), nil)
	}
	gl.state = internal_type.ResponseInFlight
	gl.pendingBytes = 0
	gl.activityOpen = false
	gl.turnText.Reset()
	gl.stateMu.Unlock()

	if err := gl.send(liveRequest{RealtimeInput: &liveRealtimeInput{ActivityEnd: &struct{}{}}}); err != nil {
		gl.setIdle()
		return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamClosed, "activity end failed", err)
	}
	return nil
}

// Close implements internal_transformer.SpeechModelTransformer.
func (gl *geminiLive) Close(ctx context.Context) error {
	gl.closing.Store(true)
	if gl.connection != nil {
		return gl.connection.Close()
	}
	return nil
}

func (gl *geminiLive) waitReady(ctx context.Context) error {
	timer := time.NewTimer(sessionReadyTimeout)
	defer timer.Stop()
	select {
	case <-gl.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return internal_type.NewGatewayError(internal_type.ErrCodeNotInitialized, "live session never became ready", nil)
	}
}

func (gl *geminiLive) setIdle() {
	gl.stateMu.Lock()
	gl.state = internal_type.ResponseIdle
	gl.stateMu.Unlock()
}

func (gl *geminiLive) send(frame liveRequest) error {
	gl.writeMu.Lock()
	defer gl.writeMu.Unlock()
	if gl.connection == nil {
		return fmt.Errorf("gemini-live: connection is nil")
	}
	return gl.connection.WriteJSON(frame)
}

// modelListener drains live events until the socket dies.
func (gl *geminiLive) modelListener() {
	for {
		_, payload, err := gl.connection.ReadMessage()
		if err != nil {
			if gl.closing.Load() {
				return
			}
			gl.logger.Errorf("gemini-live: read error: %v", err)
			if gl.callbacks.OnClosed != nil {
				gl.callbacks.OnClosed(err)
			}
			return
		}

		var event liveEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			gl.logger.Errorf("gemini-live: malformed event: %v", err)
			continue
		}
		gl.dispatch(&event)
	}
}

func (gl *geminiLive) dispatch(event *liveEvent) {
	if event.SetupComplete != nil {
		gl.readyOnce.Do(func() { close(gl.ready) })
		if gl.callbacks.OnSessionCreated != nil {
			gl.callbacks.OnSessionCreated()
		}
		if gl.callbacks.OnSessionUpdated != nil {
			gl.callbacks.OnSessionUpdated()
		}
		return
	}

	content := event.ServerContent
	if content == nil {
		return
	}

	// audio parts are discarded even when offered; only text flows onward
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.Text == "" {
				continue
			}
			gl.stateMu.Lock()
			gl.turnText.WriteString(part.Text)
			gl.stateMu.Unlock()
			if gl.callbacks.OnTextDelta != nil {
				gl.callbacks.OnTextDelta(part.Text)
			}
		}
	}

	if content.TurnComplete || content.Interrupted {
		gl.stateMu.Lock()
		full := gl.turnText.String()
		gl.turnText.Reset()
		gl.state = internal_type.ResponseIdle
		gl.stateMu.Unlock()

		if gl.callbacks.OnTextDone != nil {
			gl.callbacks.OnTextDone(full, full != "")
		}
		if gl.callbacks.OnResponseDone != nil {
			gl.callbacks.OnResponseDone()
		}
	}
}
