// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

package internal_transformer_elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_transformer "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/transformer"
	internal_type "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/type"
	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
	"github.com/speaklab-ai/voice-gateway/pkg/utils"
)

// =============================================================================
// Wire frames (stream-input protocol)
// =============================================================================

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Speed           float64 `json:"speed"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type generationConfig struct {
	ChunkLengthSchedule      []int `json:"chunk_length_schedule"`
	OptimizeStreamingLatency int   `json:"optimize_streaming_latency"`
}

type speakRequest struct {
	Text                 string            `json:"text"`
	VoiceSettings        *voiceSettings    `json:"voice_settings,omitempty"`
	GenerationConfig     *generationConfig `json:"generation_config,omitempty"`
	TryTriggerGeneration bool              `json:"try_trigger_generation,omitempty"`
}

type speakResponse struct {
	Audio   string `json:"audio,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	finalizeDrainTimeout = 10 * time.Second
	handshakeTimeout     = 10 * time.Second
)

// lowLatencyChunkSchedule asks the upstream to start generating after very
// little buffered text, trading per-chunk quality for first-audio latency.
var lowLatencyChunkSchedule = []int{50}

type elevenLabsTextToSpeech struct {
	*elevenLabsOption
	logger    commons.Logger
	callbacks internal_transformer.TextToSpeechCallbacks

	writeMu    sync.Mutex
	connection *websocket.Conn

	stateMu sync.Mutex
	state   internal_type.TTSState

	recvDone   chan struct{}
	closedOnce sync.Once
}

// NewElevenLabsTextToSpeech builds a streaming synthesis transformer. The
// socket is not opened until Start.
func NewElevenLabsTextToSpeech(
	logger commons.Logger,
	cfg *config.SpeakerConfig,
	opts utils.Option,
	callbacks internal_transformer.TextToSpeechCallbacks,
) (internal_transformer.TextToSpeechTransformer, error) {
	option, err := NewElevenLabsOption(logger, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &elevenLabsTextToSpeech{
		elevenLabsOption: option,
		logger:           logger,
		callbacks:        callbacks,
		recvDone:         make(chan struct{}),
	}, nil
}

// Name implements internal_transformer.TextToSpeechTransformer.
func (*elevenLabsTextToSpeech) Name() string {
	return "elevenlabs-text-to-speech"
}

func (tts *elevenLabsTextToSpeech) OutputSampleRate() int {
	return ELEVENLABS_OUTPUT_RATE
}

func (tts *elevenLabsTextToSpeech) State() internal_type.TTSState {
	tts.stateMu.Lock()
	defer tts.stateMu.Unlock()
	return tts.state
}

func (tts *elevenLabsTextToSpeech) setState(s internal_type.TTSState) {
	tts.stateMu.Lock()
	tts.state = s
	tts.stateMu.Unlock()
}

// Start implements internal_transformer.TextToSpeechTransformer.
func (tts *elevenLabsTextToSpeech) Start(ctx context.Context) error {
	tts.stateMu.Lock()
	if tts.state != internal_type.TTSNone {
		state := tts.state
		tts.stateMu.Unlock()
		return fmt.Errorf("elevenlabs-tts: start in state %s", state)
	}
	tts.state = internal_type.TTSStarting
	tts.stateMu.Unlock()

	headers := http.Header{}
	headers.Set("xi-api-key", tts.GetKey())

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, tts.GetTextToSpeechConnectionString(), headers)
	if err != nil {
		tts.setState(internal_type.TTSClosed)
		return fmt.Errorf("elevenlabs-tts: unable to connect: %w", err)
	}
	tts.connection = conn

	settings := tts.GetVoiceSettings()
	init := speakRequest{
		Text:          " ",
		VoiceSettings: &settings,
		GenerationConfig: &generationConfig{
			ChunkLengthSchedule:      lowLatencyChunkSchedule,
			OptimizeStreamingLatency: 4,
		},
		TryTriggerGeneration: true,
	}
	if err := tts.send(init); err != nil {
		conn.Close()
		tts.setState(internal_type.TTSClosed)
		return fmt.Errorf("elevenlabs-tts: init frame failed: %w", err)
	}

	tts.setState(internal_type.TTSOpen)
	utils.Go(ctx, func() { tts.speechListener() })
	return nil
}

// SendText implements internal_transformer.TextToSpeechTransformer.
func (tts *elevenLabsTextToSpeech) SendText(ctx context.Context, text string) error {
	if state := tts.State(); state != internal_type.TTSOpen {
		return fmt.Errorf("elevenlabs-tts: send in state %s", state)
	}
	if text == "" {
		return nil
	}
	return tts.send(speakRequest{Text: text, TryTriggerGeneration: true})
}

// Finalize implements internal_transformer.TextToSpeechTransformer. It sends
// the protocol's end-of-input sentinel (an empty text frame), waits for the
// receive loop to drain the remaining audio, then closes the socket.
func (tts *elevenLabsTextToSpeech) Finalize(ctx context.Context) error {
	tts.stateMu.Lock()
	switch tts.state {
	case internal_type.TTSFinalizing, internal_type.TTSClosed, internal_type.TTSNone:
		tts.stateMu.Unlock()
		return nil
	}
	tts.state = internal_type.TTSFinalizing
	tts.stateMu.Unlock()

	if err := tts.send(speakRequest{Text: ""}); err != nil {
		tts.logger.Warnf("elevenlabs-tts: finalize frame failed: %v", err)
	}

	timer := time.NewTimer(finalizeDrainTimeout)
	defer timer.Stop()
	select {
	case <-tts.recvDone:
	case <-ctx.Done():
	case <-timer.C:
		tts.logger.Warnf("elevenlabs-tts: finalize drain timed out")
	}

	tts.setState(internal_type.TTSClosed)
	if tts.connection != nil {
		tts.connection.Close()
	}
	tts.deliverClosed(nil)
	return nil
}

// Abort implements internal_transformer.TextToSpeechTransformer. Closing the
// socket forces the receive loop out of its blocking read.
func (tts *elevenLabsTextToSpeech) Abort() error {
	tts.setState(internal_type.TTSClosed)
	if tts.connection != nil {
		tts.connection.Close()
	}
	tts.deliverClosed(fmt.Errorf("elevenlabs-tts: aborted"))
	return nil
}

func (tts *elevenLabsTextToSpeech) send(frame speakRequest) error {
	tts.writeMu.Lock()
	defer tts.writeMu.Unlock()
	if tts.connection == nil {
		return fmt.Errorf("elevenlabs-tts: connection is nil")
	}
	return tts.connection.WriteJSON(frame)
}

// speechListener drains synthesis results until the upstream reports the
// final chunk, an error payload, or the socket dies.
func (tts *elevenLabsTextToSpeech) speechListener() {
	defer close(tts.recvDone)

	for {
		_, payload, err := tts.connection.ReadMessage()
		if err != nil {
			if tts.State() == internal_type.TTSFinalizing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				tts.deliverClosed(nil)
				return
			}
			tts.logger.Errorf("elevenlabs-tts: read error: %v", err)
			tts.setState(internal_type.TTSClosed)
			tts.deliverClosed(err)
			return
		}

		var resp speakResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			tts.logger.Errorf("elevenlabs-tts: malformed frame: %v", err)
			continue
		}

		if resp.Error != "" {
			tts.logger.Errorf("elevenlabs-tts: upstream error: %s %s", resp.Error, resp.Message)
			tts.setState(internal_type.TTSClosed)
			tts.deliverClosed(fmt.Errorf("elevenlabs-tts: %s", resp.Error))
			return
		}

		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				tts.logger.Errorf("elevenlabs-tts: bad audio payload: %v", err)
				continue
			}
			if len(pcm) > 0 && tts.callbacks.OnSpeech != nil {
				tts.callbacks.OnSpeech(pcm)
			}
		}

		if resp.IsFinal {
			// the stream is spent, it must not be handed out again
			tts.setState(internal_type.TTSClosed)
			tts.deliverClosed(nil)
			return
		}
	}
}

func (tts *elevenLabsTextToSpeech) deliverClosed(err error) {
	tts.closedOnce.Do(func() {
		if tts.callbacks.OnClosed != nil {
			tts.callbacks.OnClosed(err)
		}
	})
}
