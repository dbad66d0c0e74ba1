// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

package internal_transformer_openai

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
	"github.com/speaklab-ai/voice-gateway/pkg/utils"
)

const (
	OPENAI_REALTIME_URL   = "wss://api.openai.com/v1/realtime"
	OPENAI_REALTIME_MODEL = "gpt-4o-realtime-preview"

	// PCM16 mono at 24kHz on the input leg. Output is text only.
	OPENAI_INPUT_RATE = 24000
)

// openAIOption resolves connection parameters from the service config plus
// per-session overrides.
type openAIOption struct {
	logger commons.Logger

	baseUrl     string
	model       string
	key         string
	temperature float64
}

// NewOpenAIOption validates the realtime credentials and applies per-session
// overrides from opts.
func NewOpenAIOption(logger commons.Logger, cfg *config.RealtimeConfig, opts utils.Option) (*openAIOption, error) {
	if cfg == nil || cfg.ApiKey == "" {
		return nil, fmt.Errorf("illegal realtime config: missing openai api key")
	}

	option := &openAIOption{
		logger:      logger,
		baseUrl:     cfg.Url,
		model:       cfg.Model,
		key:         cfg.ApiKey,
		temperature: cfg.Temperature,
	}
	if option.baseUrl == "" {
		option.baseUrl = OPENAI_REALTIME_URL
	}
	if option.model == "" {
		option.model = OPENAI_REALTIME_MODEL
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

func (o *openAIOption) GetKey() string {
	return o.key
}

// GetConnectionString builds the realtime websocket URL for the configured
// model.
func (o *openAIOption) GetConnectionString() string {
	query := url.Values{}
	query.Set("model", o.model)
	return fmt.Sprintf("%s?%s", o.baseUrl, query.Encode())
}

// GetHeaders returns the dial headers the realtime endpoint requires.
func (o *openAIOption) GetHeaders() http.Header {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+o.key)
	headers.Set("OpenAI-Beta", "realtime=v1")
	return headers
}
