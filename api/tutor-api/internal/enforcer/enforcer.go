// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

// Package internal_enforcer keeps tutor replies in English. Replies that
// drift into a non-Latin script are rewritten through a chat-completions
// endpoint before they reach the client or the speech upstream.
package internal_enforcer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	internal_type "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/type"
	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
)

const (
	enforcementTimeout = 20 * time.Second
	connectTimeout     = 5 * time.Second

	rewriteTemperature = 0.2

	// FallbackText replaces the reply when the rewrite call fails or returns
	// nothing usable.
	FallbackText = "Let's keep practicing in English. Could you say that again in English, please?"

	rewriteSystemPrompt = "You are an English tutor's output filter. The tutor accidentally replied " +
		"in another language. Rewrite the reply as English tutoring feedback with exactly this structure: " +
		"start with \"In English you say this: \" followed by the English version of the reply, " +
		"then add one short grammar reminder, and finish by asking the learner to repeat the sentence in English. " +
		"Output only the rewritten feedback."
)

// scriptRanges are the unicode blocks that trigger enforcement: Arabic,
// Arabic Supplement, Arabic Extended-A, the two Arabic presentation-forms
// blocks, and Devanagari.
var scriptRanges = [][2]rune{
	{0x0600, 0x06FF},
	{0x0750, 0x077F},
	{0x08A0, 0x08FF},
	{0xFB50, 0xFDFF},
	{0xFE70, 0xFEFF},
	{0x0900, 0x097F},
}

// ContainsNonEnglishScript reports whether any rune falls in a monitored
// script range.
func ContainsNonEnglishScript(text string) bool {
	for _, r := range text {
		for _, rng := range scriptRanges {
			if r >= rng[0] && r <= rng[1] {
				return true
			}
		}
	}
	return false
}

// one long-lived HTTP client for all sessions
var (
	clientOnce sync.Once
	restClient *resty.Client
)

func sharedClient() *resty.Client {
	clientOnce.Do(func() {
		restClient = resty.New().
			SetTimeout(enforcementTimeout).
			SetTransport(transportWithConnectTimeout(connectTimeout))
	})
	return restClient
}

// =============================================================================
// Wire frames (chat completions)
// =============================================================================

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Enforcer is a per-session filter stage over the LLM text channel. Once a
// monitored script is seen, deltas are suppressed until Finalize rewrites the
// full reply.
type Enforcer struct {
	logger commons.Logger
	cfg    *config.EnforcerConfig

	mu        sync.Mutex
	triggered bool
	raw       strings.Builder
}

func NewEnforcer(logger commons.Logger, cfg *config.EnforcerConfig) *Enforcer {
	return &Enforcer{logger: logger, cfg: cfg}
}

// OnDelta accumulates the raw reply and reports whether the delta may flow
// onward. After the first monitored-script hit, everything is suppressed.
func (e *Enforcer) OnDelta(delta string) (pass bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.raw.WriteString(delta)
	if !e.triggered && ContainsNonEnglishScript(e.raw.String()) {
		e.triggered = true
		e.logger.Infof("enforcer: non-english script detected, suppressing deltas")
	}
	return !e.triggered
}

// Triggered reports whether enforcement has fired for the current reply.
func (e *Enforcer) Triggered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggered
}

// Reset prepares the filter for the next reply.
func (e *Enforcer) Reset() {
	e.mu.Lock()
	e.triggered = false
	e.raw.Reset()
	e.mu.Unlock()
}

// Finalize returns the text the client and the speech upstream should see for
// the completed reply. When enforcement fired it rewrites the reply, falling
// back to FallbackText if the rewrite cannot be obtained. The returned error
// reports a failed rewrite; the text is always usable.
func (e *Enforcer) Finalize(ctx context.Context, fullText string) (string, error) {
	e.mu.Lock()
	if fullText == "" {
		fullText = e.raw.String()
	}
	triggered := e.triggered || ContainsNonEnglishScript(fullText)
	e.mu.Unlock()

	if !triggered {
		return fullText, nil
	}

	rewritten, err := e.rewrite(ctx, fullText)
	if err != nil || strings.TrimSpace(rewritten) == "" {
		e.logger.Warnf("enforcer: rewrite failed, using fallback: %v", err)
		return FallbackText, internal_type.NewGatewayError(internal_type.ErrCodeEnforcementFailed, "english rewrite failed", err)
	}
	return rewritten, nil
}

func (e *Enforcer) rewrite(ctx context.Context, text string) (string, error) {
	request := chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: rewriteSystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: rewriteTemperature,
	}

	var response chatResponse
	resp, err := sharedClient().R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+e.cfg.ApiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(&request).
		SetResult(&response).
		Post(e.cfg.Url)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("enforcer: rewrite endpoint returned %s", resp.Status())
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("enforcer: rewrite endpoint returned no choices")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}
