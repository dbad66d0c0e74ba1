// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.
package internal_enforcer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
)

func newTestLogger() commons.Logger {
	l, _ := commons.NewApplicationLogger()
	return l
}

func testEnforcerConfig(url string) *config.EnforcerConfig {
	return &config.EnforcerConfig{
		Url:    url,
		Model:  "gpt-4o-mini",
		ApiKey: "test-api-key",
	}
}

func TestContainsNonEnglishScript(t *testing.T) {
	cases := []struct {
		name string
		text string
		want bool
	}{
		{"plain english", "Great job! Let's try another sentence.", false},
		{"empty", "", false},
		{"latin punctuation and digits", "You scored 9/10 — well done!", false},
		{"arabic", "ممتاز! جملة رائعة", true},
		{"arabic mixed into english", "Great! In Arabic that's ممتاز", true},
		{"devanagari", "बहुत अच्छा!", true},
		{"arabic presentation forms", "ﭐ", true},
		{"arabic supplement", "ݐ", true},
		{"cjk is not monitored", "你好", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ContainsNonEnglishScript(tc.text))
		})
	}
}

func TestOnDelta_SuppressesAfterTrigger(t *testing.T) {
	e := NewEnforcer(newTestLogger(), testEnforcerConfig(""))

	assert.True(t, e.OnDelta("Good morning! "))
	assert.False(t, e.Triggered())

	// the script character flips the gate; this delta and everything after
	// stays suppressed
	assert.False(t, e.OnDelta("صباح الخير"))
	assert.True(t, e.Triggered())
	assert.False(t, e.OnDelta(" how are you?"))

	e.Reset()
	assert.False(t, e.Triggered())
	assert.True(t, e.OnDelta("Back to English."))
}

func TestFinalize_PassThroughWhenEnglish(t *testing.T) {
	e := NewEnforcer(newTestLogger(), testEnforcerConfig(""))
	e.OnDelta("All good here.")

	out, err := e.Finalize(context.Background(), "All good here.")
	require.NoError(t, err)
	assert.Equal(t, "All good here.", out)
}

func TestFinalize_RewritesThroughEndpoint(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"role": "assistant", "content": "In English you say this: Excellent sentence! Remember to keep your verbs in the past tense. Can you repeat it in English?"}},
			},
		})
	}))
	defer server.Close()

	e := NewEnforcer(newTestLogger(), testEnforcerConfig(server.URL))
	e.OnDelta("جملة ممتازة")

	out, err := e.Finalize(context.Background(), "جملة ممتازة")
	require.NoError(t, err)
	assert.Contains(t, out, "In English you say this:")

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[0].Content, "In English you say this:")
	assert.Equal(t, "جملة ممتازة", captured.Messages[1].Content)
	assert.InDelta(t, rewriteTemperature, captured.Temperature, 1e-9, "rewrites run at low temperature")
}

func TestFinalize_FallbackOnEndpointError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	e := NewEnforcer(newTestLogger(), testEnforcerConfig(server.URL))
	e.OnDelta("नमस्ते")

	out, err := e.Finalize(context.Background(), "नमस्ते")
	assert.Error(t, err)
	assert.Equal(t, FallbackText, out, "the client still gets a usable English reply")
}

func TestFinalize_FallbackOnEmptyRewrite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"role": "assistant", "content": "   "}},
			},
		})
	}))
	defer server.Close()

	e := NewEnforcer(newTestLogger(), testEnforcerConfig(server.URL))

	out, err := e.Finalize(context.Background(), "नमस्ते")
	assert.Error(t, err)
	assert.Equal(t, FallbackText, out)
}

func TestFinalize_UsesAccumulatedTextWhenDoneIsEmpty(t *testing.T) {
	e := NewEnforcer(newTestLogger(), testEnforcerConfig(""))
	e.OnDelta("Only ")
	e.OnDelta("deltas arrived.")

	out, err := e.Finalize(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Only deltas arrived.", out)
}
