// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.
package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// RealtimeConfig holds the LLM realtime upstream settings for one variant.
type RealtimeConfig struct {
	Url         string  `mapstructure:"url" validate:"required"`
	Model       string  `mapstructure:"model" validate:"required"`
	ApiKey      string  `mapstructure:"api_key"`
	Temperature float64 `mapstructure:"temperature"`
}

// SpeakerConfig holds the streaming TTS upstream settings.
type SpeakerConfig struct {
	Url     string `mapstructure:"url" validate:"required"`
	ApiKey  string `mapstructure:"api_key"`
	VoiceId string `mapstructure:"voice_id" validate:"required"`
	ModelId string `mapstructure:"model_id" validate:"required"`
}

// EnforcerConfig holds the English-rewrite REST endpoint settings.
type EnforcerConfig struct {
	Url    string `mapstructure:"url" validate:"required"`
	Model  string `mapstructure:"model" validate:"required"`
	ApiKey string `mapstructure:"api_key"`
}

// SmootherConfig holds the output audio smoothing thresholds, in milliseconds
// of audio at the TTS output rate.
type SmootherConfig struct {
	MinFlushMs int `mapstructure:"min_flush_ms" validate:"gt=0"`
	MaxWaitMs  int `mapstructure:"max_wait_ms" validate:"gt=0"`
	HardCapMs  int `mapstructure:"hard_cap_ms" validate:"gt=0"`
}

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`

	OpenAIRealtime RealtimeConfig `mapstructure:"openai_realtime" validate:"required"`
	GeminiRealtime RealtimeConfig `mapstructure:"gemini_realtime" validate:"required"`
	Speaker        SpeakerConfig  `mapstructure:"speaker" validate:"required"`
	Enforcer       EnforcerConfig `mapstructure:"enforcer" validate:"required"`
	Smoother       SmootherConfig `mapstructure:"smoother" validate:"required"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "voice-gateway")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9090)
	v.SetDefault("LOG_LEVEL", "debug")

	v.SetDefault("OPENAI_REALTIME__URL", "wss://api.openai.com/v1/realtime")
	v.SetDefault("OPENAI_REALTIME__MODEL", "gpt-4o-realtime-preview")
	v.SetDefault("OPENAI_REALTIME__API_KEY", "")
	v.SetDefault("OPENAI_REALTIME__TEMPERATURE", 0.8)

	v.SetDefault("GEMINI_REALTIME__URL", "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent")
	v.SetDefault("GEMINI_REALTIME__MODEL", "gemini-2.0-flash-live-001")
	v.SetDefault("GEMINI_REALTIME__API_KEY", "")
	v.SetDefault("GEMINI_REALTIME__TEMPERATURE", 0.8)

	v.SetDefault("SPEAKER__URL", "wss://api.elevenlabs.io")
	v.SetDefault("SPEAKER__API_KEY", "")
	v.SetDefault("SPEAKER__VOICE_ID", "21m00Tcm4TlvDq8ikWAM")
	v.SetDefault("SPEAKER__MODEL_ID", "eleven_turbo_v2_5")

	v.SetDefault("ENFORCER__URL", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("ENFORCER__MODEL", "gpt-4o-mini")
	v.SetDefault("ENFORCER__API_KEY", "")

	v.SetDefault("SMOOTHER__MIN_FLUSH_MS", 100)
	v.SetDefault("SMOOTHER__MAX_WAIT_MS", 100)
	v.SetDefault("SMOOTHER__HARD_CAP_MS", 500)
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
