// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

package tutor_routers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	tutorTalkApi "github.com/speaklab-ai/voice-gateway/api/tutor-api/api/talk"
	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
)

// TalkRoutes mounts the realtime tutoring websocket endpoints, one path per
// speech model variant.
func TalkRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger) {
	ws := engine.Group("ws")
	talkApi := tutorTalkApi.NewTalkApi(cfg, logger)
	{
		ws.GET("/openai-realtime", talkApi.OpenAIRealtime)
		ws.GET("/gemini-realtime", talkApi.GeminiRealtime)
	}
}

// HealthCheckRoutes mounts liveness endpoints for the load balancer.
func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger) {
	status := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": cfg.Name,
			"version": cfg.Version,
			"status":  "ok",
		})
	}
	engine.GET("/healthz", status)
	engine.GET("/readiness", status)
}
