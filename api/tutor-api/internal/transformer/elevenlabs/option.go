// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

package internal_transformer_elevenlabs

import (
	"fmt"
	"net/url"

	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
	"github.com/speaklab-ai/voice-gateway/pkg/utils"
)

const (
	ELEVENLABS_BASE_URL = "wss://api.elevenlabs.io"
	ELEVENLABS_VOICE_ID = "21m00Tcm4TlvDq8ikWAM"
	ELEVENLABS_MODEL_ID = "eleven_turbo_v2_5"

	// PCM16 mono at 24kHz; the gateway always speaks at this rate.
	ELEVENLABS_OUTPUT_FORMAT = "pcm_24000"
	ELEVENLABS_OUTPUT_RATE   = 24000
)

// elevenLabsOption resolves connection and voice parameters from the service
// config plus per-session overrides.
type elevenLabsOption struct {
	logger commons.Logger

	baseUrl string
	key     string
	voiceId string
	modelId string

	stability       float64
	similarityBoost float64
	style           float64
	speed           float64
	useSpeakerBoost bool
}

// NewElevenLabsOption validates the speaker credentials and applies
// per-session voice overrides from opts.
func NewElevenLabsOption(logger commons.Logger, cfg *config.SpeakerConfig, opts utils.Option) (*elevenLabsOption, error) {
	if cfg == nil || cfg.ApiKey == "" {
		return nil, fmt.Errorf("illegal speaker config: missing elevenlabs api key")
	}

	option := &elevenLabsOption{
		logger:          logger,
		baseUrl:         cfg.Url,
		key:             cfg.ApiKey,
		voiceId:         cfg.VoiceId,
		modelId:         cfg.ModelId,
		stability:       0.5,
		similarityBoost: 0.8,
		style:           0.0,
		speed:           1.0,
		useSpeakerBoost: true,
	}
	if option.baseUrl == "" {
		option.baseUrl = ELEVENLABS_BASE_URL
	}
	if option.voiceId == "" {
		option.voiceId = ELEVENLABS_VOICE_ID
	}
	if option.modelId == "" {
		option.modelId = ELEVENLABS_MODEL_ID
	}

	if voice, err := opts.GetString("speak.voice.id"); err == nil && voice != "" {
		option.voiceId = voice
	}
	if model, err := opts.GetString("speak.model"); err == nil && model != "" {
		option.modelId = model
	}
	if stability, err := opts.GetFloat64("speak.stability"); err == nil {
		option.stability = stability
	}
	if boost, err := opts.GetFloat64("speak.similarity.boost"); err == nil {
		option.similarityBoost = boost
	}
	if style, err := opts.GetFloat64("speak.style"); err == nil {
		option.style = style
	}
	if speed, err := opts.GetFloat64("speak.speed"); err == nil {
		option.speed = speed
	}

	return option, nil
}

func (o *elevenLabsOption) GetKey() string {
	return o.key
}

func (o *elevenLabsOption) GetEncoding() string {
	return ELEVENLABS_OUTPUT_FORMAT
}

// GetTextToSpeechConnectionString builds the stream-input websocket URL.
func (o *elevenLabsOption) GetTextToSpeechConnectionString() string {
	query := url.Values{}
	query.Set("model_id", o.modelId)
	query.Set("output_format", ELEVENLABS_OUTPUT_FORMAT)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", o.baseUrl, o.voiceId, query.Encode())
}

// GetVoiceSettings returns the voice settings block of the init frame.
func (o *elevenLabsOption) GetVoiceSettings() voiceSettings {
	return voiceSettings{
		Stability:       o.stability,
		SimilarityBoost: o.similarityBoost,
		Style:           o.style,
		Speed:           o.speed,
		UseSpeakerBoost: o.useSpeakerBoost,
	}
}
