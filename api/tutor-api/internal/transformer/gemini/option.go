// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

package internal_transformer_gemini

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
	"github.com/speaklab-ai/voice-gateway/pkg/utils"
)

const (
	GEMINI_LIVE_URL   = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"
	GEMINI_LIVE_MODEL = "gemini-2.0-flash-live-001"

	// PCM16 mono at 16kHz on the input leg. Output is text only.
	GEMINI_INPUT_RATE = 16000
)

// geminiOption resolves connection parameters from the service config plus
// per-session overrides.
type geminiOption struct {
	logger commons.Logger

	baseUrl     string
	model       string
	key         string
	temperature float64
}

// NewGeminiOption validates the realtime credentials and applies per-session
// overrides from opts.
func NewGeminiOption(logger commons.Logger, cfg *config.RealtimeConfig, opts utils.Option) (*geminiOption, error) {
	if cfg == nil || cfg.ApiKey == "" {
		return nil, fmt.Errorf("illegal realtime config: missing gemini api key")
	}

	option := &geminiOption{
		logger:      logger,
		baseUrl:     cfg.Url,
		model:       cfg.Model,
		key:         cfg.ApiKey,
		temperature: cfg.Temperature,
	}
	if option.baseUrl == "" {
		option.baseUrl = GEMINI_LIVE_URL
	}
	if option.model == "" {
		option.model = GEMINI_LIVE_MODEL
	}
	if option.temperature == 0 {
		option.temperature = 0.8
	}

	if model, err := opts.GetString("realtime.model"); err == nil && model != "" {
		option.model = model
	}
	if temperature, err := opts.GetFloat64("realtime.temperature"); err == nil {
		option.temperature = temperature
	}

	return option, nil
}

func (o *geminiOption) GetKey() string {
	return o.key
}

// GetModelResource returns the fully qualified model name the live API wants.
func (o *geminiOption) GetModelResource() string {
	if strings.HasPrefix(o.model, "models/") {
		return o.model
	}
	return "models/" + o.model
}

// GetConnectionString builds the live websocket URL. Authentication rides on
// the key query parameter.
func (o *geminiOption) GetConnectionString() string {
	query := url.Values{}
	query.Set("key", o.key)
	return fmt.Sprintf("%s?%s", o.baseUrl, query.Encode())
}

// GetAudioMimeType describes the realtime input chunks.
func (o *geminiOption) GetAudioMimeType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", GEMINI_INPUT_RATE)
}
