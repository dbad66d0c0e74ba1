// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

package tutor_talk_api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	internal_adapter "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/adapters"
	internal_audio "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/audio"
	internal_enforcer "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/enforcer"
	internal_transformer "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/transformer"
	internal_transformer_elevenlabs "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/transformer/elevenlabs"
	internal_transformer_gemini "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/transformer/gemini"
	internal_transformer_openai "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/transformer/openai"
	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
	"github.com/speaklab-ai/voice-gateway/pkg/utils"
)

var clientUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TalkApi exposes the realtime tutoring endpoints, one per speech model
// variant.
type TalkApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
}

func NewTalkApi(cfg *config.AppConfig, logger commons.Logger) *TalkApi {
	return &TalkApi{cfg: cfg, logger: logger}
}

// OpenAIRealtime bridges a client against the 24kHz realtime variant.
//
// @Router /ws/openai-realtime [get]
// @Success 101 "Switching Protocols"
func (api *TalkApi) OpenAIRealtime(c *gin.Context) {
	newModel := func(callbacks internal_transformer.SpeechModelCallbacks) (internal_transformer.SpeechModelTransformer, error) {
		return internal_transformer_openai.NewOpenAIRealtime(api.logger, &api.cfg.OpenAIRealtime, utils.Option{}, callbacks)
	}
	api.serve(c, internal_audio.OpenAIInputRate, newModel)
}

// GeminiRealtime bridges a client against the 16kHz live variant.
//
// @Router /ws/gemini-realtime [get]
// @Success 101 "Switching Protocols"
func (api *TalkApi) GeminiRealtime(c *gin.Context) {
	newModel := func(callbacks internal_transformer.SpeechModelCallbacks) (internal_transformer.SpeechModelTransformer, error) {
		return internal_transformer_gemini.NewGeminiLive(api.logger, &api.cfg.GeminiRealtime, utils.Option{}, callbacks)
	}
	api.serve(c, internal_audio.GeminiInputRate, newModel)
}

func (api *TalkApi) serve(c *gin.Context, inputRate int, newModel internal_adapter.SpeechModelFactory) {
	client, err := clientUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Errorf("talk: websocket upgrade failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to upgrade to websocket"})
		return
	}
	defer client.Close()

	newSpeaker := func(callbacks internal_transformer.TextToSpeechCallbacks) (internal_transformer.TextToSpeechTransformer, error) {
		return internal_transformer_elevenlabs.NewElevenLabsTextToSpeech(api.logger, &api.cfg.Speaker, utils.Option{}, callbacks)
	}

	bridge := internal_adapter.NewBridge(
		api.logger,
		internal_audio.NewCodec(api.logger, inputRate),
		internal_enforcer.NewEnforcer(api.logger, &api.cfg.Enforcer),
		&api.cfg.Smoother,
		newModel,
		newSpeaker,
	)
	if err := bridge.Serve(c.Request.Context(), client); err != nil {
		api.logger.Warnf("talk: session ended with error: %v", err)
	}
}
